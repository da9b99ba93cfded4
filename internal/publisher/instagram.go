package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/pkg/utils"
)

const instagramGraphURL = "https://graph.instagram.com/v21.0"

// InstagramPublisher uses the two-step container flow: create a media
// container for the asset, then publish the container.
type InstagramPublisher struct {
	cfg    config.Config
	client *http.Client
}

func NewInstagramPublisher(cfg config.Config) *InstagramPublisher {
	return &InstagramPublisher{cfg: cfg, client: &http.Client{}}
}

type instagramIDResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *InstagramPublisher) Publish(ctx context.Context, conn *models.Connection, content Content) (string, error) {
	// Instagram has no text-only post type.
	if content.MediaURL == "" {
		return "", ErrMediaRequired
	}

	accessToken, err := utils.Decrypt(conn.AccessToken, []byte(p.cfg.SecretKey))
	if err != nil {
		slog.Info(err.Error())
		return "", ErrTokenUnusable
	}

	containerID, err := p.createContainer(ctx, conn.ExternalID, accessToken, content)
	if err != nil {
		return "", err
	}

	return p.publishContainer(ctx, conn.ExternalID, accessToken, containerID)
}

func (p *InstagramPublisher) createContainer(ctx context.Context, igUserID, accessToken string, content Content) (string, error) {
	data := url.Values{}
	data.Set("caption", content.Text)
	data.Set("access_token", accessToken)
	if strings.HasPrefix(content.MediaType, "video/") {
		data.Set("media_type", "REELS")
		data.Set("video_url", content.MediaURL)
	} else {
		data.Set("image_url", content.MediaURL)
	}

	result, err := p.post(ctx, fmt.Sprintf("%s/%s/media", instagramGraphURL, igUserID), data)
	if err != nil {
		return "", fmt.Errorf("failed to create media container: %w", err)
	}
	return result, nil
}

func (p *InstagramPublisher) publishContainer(ctx context.Context, igUserID, accessToken, containerID string) (string, error) {
	data := url.Values{}
	data.Set("creation_id", containerID)
	data.Set("access_token", accessToken)

	result, err := p.post(ctx, fmt.Sprintf("%s/%s/media_publish", instagramGraphURL, igUserID), data)
	if err != nil {
		return "", fmt.Errorf("failed to publish media container: %w", err)
	}
	return result, nil
}

func (p *InstagramPublisher) post(ctx context.Context, endpoint string, data url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	var result instagramIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrRemoteRejection, result.Error.Message)
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: empty id", ErrRemoteRejection)
	}
	return result.ID, nil
}
