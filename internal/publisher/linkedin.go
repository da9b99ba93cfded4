package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/pkg/utils"
)

const linkedinPostsURL = "https://api.linkedin.com/rest/posts"

type LinkedinPublisher struct {
	cfg    config.Config
	client *http.Client
}

func NewLinkedinPublisher(cfg config.Config) *LinkedinPublisher {
	return &LinkedinPublisher{cfg: cfg, client: &http.Client{}}
}

type linkedinDistribution struct {
	FeedDistribution string `json:"feedDistribution"`
}

type linkedinArticle struct {
	Source string `json:"source"`
}

type linkedinContent struct {
	Article linkedinArticle `json:"article"`
}

type linkedinPost struct {
	Author         string               `json:"author"`
	Commentary     string               `json:"commentary"`
	Visibility     string               `json:"visibility"`
	Distribution   linkedinDistribution `json:"distribution"`
	Content        *linkedinContent     `json:"content,omitempty"`
	LifecycleState string               `json:"lifecycleState"`
}

func (p *LinkedinPublisher) Publish(ctx context.Context, conn *models.Connection, content Content) (string, error) {
	if content.Text == "" {
		return "", ErrEmptyContent
	}

	accessToken, err := utils.Decrypt(conn.AccessToken, []byte(p.cfg.SecretKey))
	if err != nil {
		slog.Info(err.Error())
		return "", ErrTokenUnusable
	}

	post := linkedinPost{
		Author:         fmt.Sprintf("urn:li:person:%s", conn.ExternalID),
		Commentary:     content.Text,
		Visibility:     "PUBLIC",
		LifecycleState: "PUBLISHED",
	}
	post.Distribution.FeedDistribution = "MAIN_FEED"
	if content.MediaURL != "" {
		post.Content = &linkedinContent{Article: linkedinArticle{Source: content.MediaURL}}
	}

	body, err := json.Marshal(post)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, linkedinPostsURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("LinkedIn-Version", "202401")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: status %d: %s", ErrRemoteRejection, resp.StatusCode, string(respBody))
	}

	// LinkedIn returns the post URN in a response header, not the body.
	postID := resp.Header.Get("x-restli-id")
	if postID == "" {
		return "", fmt.Errorf("%w: missing x-restli-id header", ErrRemoteRejection)
	}

	return postID, nil
}
