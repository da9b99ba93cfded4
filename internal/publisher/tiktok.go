package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/pkg/utils"
)

const tiktokOpenAPIURL = "https://open.tiktokapis.com/v2"

// TiktokPublisher posts through the content publishing API using the
// PULL_FROM_URL source, so TikTok fetches the asset itself. There is no
// text-only post type; a job without media is a typed per-platform failure.
type TiktokPublisher struct {
	cfg    config.Config
	client *http.Client
}

func NewTiktokPublisher(cfg config.Config) *TiktokPublisher {
	return &TiktokPublisher{cfg: cfg, client: &http.Client{}}
}

type tiktokVideoPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type tiktokVideoSourceInfo struct {
	Source   string `json:"source"`
	VideoURL string `json:"video_url"`
}

type tiktokVideoInitRequest struct {
	PostInfo   tiktokVideoPostInfo   `json:"post_info"`
	SourceInfo tiktokVideoSourceInfo `json:"source_info"`
}

type tiktokPhotoPostInfo struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	PrivacyLevel   string `json:"privacy_level"`
	AutoAddMusic   bool   `json:"auto_add_music"`
	DisableComment bool   `json:"disable_comment"`
}

type tiktokPhotoSourceInfo struct {
	Source          string   `json:"source"`
	PhotoCoverIndex int      `json:"photo_cover_index"`
	PhotoImages     []string `json:"photo_images"`
}

type tiktokPhotoInitRequest struct {
	PostInfo   tiktokPhotoPostInfo   `json:"post_info"`
	SourceInfo tiktokPhotoSourceInfo `json:"source_info"`
	PostMode   string                `json:"post_mode"`
	MediaType  string                `json:"media_type"`
}

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *TiktokPublisher) Publish(ctx context.Context, conn *models.Connection, content Content) (string, error) {
	if content.MediaURL == "" {
		return "", ErrMediaRequired
	}

	accessToken, err := utils.Decrypt(conn.AccessToken, []byte(p.cfg.SecretKey))
	if err != nil {
		slog.Info(err.Error())
		return "", ErrTokenUnusable
	}

	title := content.Text
	if idx := strings.IndexByte(title, '\n'); idx > 0 {
		title = title[:idx]
	}

	var endpoint string
	var payload any
	if strings.HasPrefix(content.MediaType, "video/") {
		endpoint = tiktokOpenAPIURL + "/post/publish/video/init/"
		payload = tiktokVideoInitRequest{
			PostInfo: tiktokVideoPostInfo{
				Title:                 title,
				PrivacyLevel:          "PUBLIC_TO_EVERYONE",
				VideoCoverTimestampMs: 1000,
			},
			SourceInfo: tiktokVideoSourceInfo{
				Source:   "PULL_FROM_URL",
				VideoURL: content.MediaURL,
			},
		}
	} else {
		endpoint = tiktokOpenAPIURL + "/post/publish/content/init/"
		payload = tiktokPhotoInitRequest{
			PostInfo: tiktokPhotoPostInfo{
				Title:        title,
				Description:  content.Text,
				PrivacyLevel: "PUBLIC_TO_EVERYONE",
				AutoAddMusic: true,
			},
			SourceInfo: tiktokPhotoSourceInfo{
				Source:          "PULL_FROM_URL",
				PhotoCoverIndex: 1,
				PhotoImages:     []string{content.MediaURL},
			},
			PostMode:  "DIRECT_POST",
			MediaType: "PHOTO",
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	var result tiktokInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("failed to decode tiktok response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrRemoteRejection, result.Error.Message)
	}
	if result.Data.PublishID == "" {
		return "", fmt.Errorf("%w: empty publish id", ErrRemoteRejection)
	}

	return result.Data.PublishID, nil
}
