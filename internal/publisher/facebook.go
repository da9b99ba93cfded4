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

const facebookGraphURL = "https://graph.facebook.com/v19.0"

type FacebookPublisher struct {
	cfg    config.Config
	client *http.Client
}

func NewFacebookPublisher(cfg config.Config) *FacebookPublisher {
	return &FacebookPublisher{cfg: cfg, client: &http.Client{}}
}

type facebookPostResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *FacebookPublisher) Publish(ctx context.Context, conn *models.Connection, content Content) (string, error) {
	if content.Text == "" && content.MediaURL == "" {
		return "", ErrEmptyContent
	}

	accessToken, err := utils.Decrypt(conn.AccessToken, []byte(p.cfg.SecretKey))
	if err != nil {
		slog.Info(err.Error())
		return "", ErrTokenUnusable
	}

	// Photo posts go to /photos, plain text to /feed.
	endpoint := fmt.Sprintf("%s/%s/feed", facebookGraphURL, conn.ExternalID)
	data := url.Values{}
	data.Set("message", content.Text)
	data.Set("access_token", accessToken)
	if content.MediaURL != "" {
		endpoint = fmt.Sprintf("%s/%s/photos", facebookGraphURL, conn.ExternalID)
		data.Set("url", content.MediaURL)
		data.Set("caption", content.Text)
	}

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

	var result facebookPostResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("failed to decode facebook response: %w", err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrRemoteRejection, result.Error.Message)
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: empty post id", ErrRemoteRejection)
	}

	return result.ID, nil
}
