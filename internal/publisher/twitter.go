package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/pkg/utils"
)

const twitterTweetsURL = "https://api.twitter.com/2/tweets"

type TwitterPublisher struct {
	cfg    config.Config
	client *http.Client
}

func NewTwitterPublisher(cfg config.Config) *TwitterPublisher {
	return &TwitterPublisher{cfg: cfg, client: &http.Client{}}
}

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetResponse struct {
	Data *struct {
		ID string `json:"id"`
	} `json:"data"`
	Detail string `json:"detail"`
}

func (p *TwitterPublisher) Publish(ctx context.Context, conn *models.Connection, content Content) (string, error) {
	text := content.Text
	// Media upload is a separate v1.1 flow; the media URL rides in the tweet
	// body instead, which X unfurls into a card.
	if content.MediaURL != "" {
		text = text + "\n" + content.MediaURL
	}
	if text == "" {
		return "", ErrEmptyContent
	}

	accessToken, err := utils.Decrypt(conn.AccessToken, []byte(p.cfg.SecretKey))
	if err != nil {
		slog.Info(err.Error())
		return "", ErrTokenUnusable
	}

	body, err := json.Marshal(tweetRequest{Text: text})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, twitterTweetsURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	var result tweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("failed to decode tweet response: %w", err)
	}

	if result.Data == nil || result.Data.ID == "" {
		if result.Detail != "" {
			return "", fmt.Errorf("%w: %s", ErrRemoteRejection, result.Detail)
		}
		return "", fmt.Errorf("%w: status %d", ErrRemoteRejection, resp.StatusCode)
	}

	return result.Data.ID, nil
}
