package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/pkg/utils"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YoutubePublisher uploads video content. YouTube has no text-only post, so
// a job without a video asset is a typed per-platform failure.
type YoutubePublisher struct {
	cfg config.Config
}

func NewYoutubePublisher(cfg config.Config) *YoutubePublisher {
	return &YoutubePublisher{cfg: cfg}
}

func (p *YoutubePublisher) Publish(ctx context.Context, conn *models.Connection, content Content) (string, error) {
	if content.MediaURL == "" || !strings.HasPrefix(content.MediaType, "video/") {
		return "", ErrMediaRequired
	}

	accessToken, err := utils.Decrypt(conn.AccessToken, []byte(p.cfg.SecretKey))
	if err != nil {
		slog.Info(err.Error())
		return "", ErrTokenUnusable
	}

	token := &oauth2.Token{AccessToken: accessToken}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	service, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	resp, err := http.Get(content.MediaURL)
	if err != nil {
		return "", fmt.Errorf("error fetching video: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected response status fetching video: %d", resp.StatusCode)
	}

	title := content.Text
	if idx := strings.IndexByte(title, '\n'); idx > 0 {
		title = title[:idx]
	}
	if len(title) > 100 {
		title = title[:100]
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       title,
			Description: content.Text,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video)
	uploaded, err := call.Media(resp.Body).Do()
	if err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("%w: %v", ErrRemoteRejection, err)
	}

	return uploaded.Id, nil
}
