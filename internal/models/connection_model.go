package models

import "time"

// Connection is a linked platform account. Token material is stored
// encrypted; the publishing pipeline reads connections, it never writes them
// (the token refresh job is the integrations side of the house).
type Connection struct {
	ID             int64     `db:"id" json:"id"`
	AccountID      int64     `db:"account_id" json:"account_id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Platform       string    `db:"platform" json:"platform"`
	ExternalID     string    `db:"external_id" json:"external_id"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	AccessToken    string    `db:"access_token" json:"-"`
	RefreshToken   string    `db:"refresh_token" json:"-"`
	TokenExpiresAt time.Time `db:"token_expires_at" json:"token_expires_at"`
	Connected      bool      `db:"connected" json:"connected"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

const (
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformLinkedin  = "linkedin"
	PlatformTiktok    = "tiktok"
	PlatformTwitter   = "twitter"
	PlatformYoutube   = "youtube"
)
