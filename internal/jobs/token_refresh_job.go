package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/pkg/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// TokenRefreshJob rotates connection tokens that expire soon. It runs on the
// housekeeping cron schedule, well apart from the publish loop; the pipeline
// itself never writes connections.
type TokenRefreshJob struct {
	cfg config.Config
	cr  repository.ConnectionRepository
}

func NewTokenRefreshJob(cfg config.Config, cr repository.ConnectionRepository) *TokenRefreshJob {
	return &TokenRefreshJob{cfg: cfg, cr: cr}
}

func (j *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	now := time.Now()
	soon := now.Add(30 * time.Minute)

	conns, err := j.cr.ListExpiringBetween(ctx, now, soon)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 10)

	for _, conn := range conns {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(conn *models.Connection) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := j.refresh(ctx, conn); err != nil {
				slog.Info(fmt.Sprintf("Unable to refresh token for %s connection %d: %v", conn.Platform, conn.ID, err))
			}
		}(conn)
	}
	wg.Wait()
}

func (j *TokenRefreshJob) refresh(ctx context.Context, conn *models.Connection) error {
	switch conn.Platform {
	case models.PlatformYoutube:
		return j.refreshGoogle(ctx, conn)
	case models.PlatformFacebook, models.PlatformInstagram:
		return j.refreshMeta(ctx, conn)
	case models.PlatformTiktok:
		return j.refreshTiktok(ctx, conn)
	default:
		// Twitter and LinkedIn tokens are rotated by the integrations
		// subsystem that issued them.
		return nil
	}
}

func (j *TokenRefreshJob) refreshGoogle(ctx context.Context, conn *models.Connection) error {
	refreshToken, err := utils.Decrypt(conn.RefreshToken, []byte(j.cfg.SecretKey))
	if err != nil {
		return err
	}

	oauth2Config := &oauth2.Config{
		ClientID:     j.cfg.GoogleClientID,
		ClientSecret: j.cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
	}

	token, err := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return err
	}

	encryptedAccess, err := utils.Encrypt([]byte(token.AccessToken), []byte(j.cfg.SecretKey))
	if err != nil {
		return err
	}

	return j.cr.UpdateTokens(ctx, conn.ID, encryptedAccess, conn.RefreshToken, token.Expiry)
}

type tiktokTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (j *TokenRefreshJob) refreshTiktok(ctx context.Context, conn *models.Connection) error {
	refreshToken, err := utils.Decrypt(conn.RefreshToken, []byte(j.cfg.SecretKey))
	if err != nil {
		return err
	}

	data := url.Values{}
	data.Set("client_key", j.cfg.TiktokClientKey)
	data.Set("client_secret", j.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://open.tiktokapis.com/v2/oauth/token/", strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh returned status %d", resp.StatusCode)
	}

	var token tiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return err
	}

	encryptedAccess, err := utils.Encrypt([]byte(token.AccessToken), []byte(j.cfg.SecretKey))
	if err != nil {
		return err
	}
	// TikTok rotates the refresh token on every exchange.
	encryptedRefresh, err := utils.Encrypt([]byte(token.RefreshToken), []byte(j.cfg.SecretKey))
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return j.cr.UpdateTokens(ctx, conn.ID, encryptedAccess, encryptedRefresh, expiresAt)
}

type metaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (j *TokenRefreshJob) refreshMeta(ctx context.Context, conn *models.Connection) error {
	accessToken, err := utils.Decrypt(conn.AccessToken, []byte(j.cfg.SecretKey))
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", j.cfg.FacebookAppID)
	params.Set("client_secret", j.cfg.FacebookAppSecret)
	params.Set("fb_exchange_token", accessToken)

	endpoint := "https://graph.facebook.com/v19.0/oauth/access_token?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token exchange returned status %d", resp.StatusCode)
	}

	var token metaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return err
	}

	encryptedAccess, err := utils.Encrypt([]byte(token.AccessToken), []byte(j.cfg.SecretKey))
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return j.cr.UpdateTokens(ctx, conn.ID, encryptedAccess, conn.RefreshToken, expiresAt)
}
