package models

import "time"

// Job is one scheduled or immediate social post awaiting dispatch. The
// dispatcher is the only writer that moves a job out of "pending".
type Job struct {
	ID            int64      `db:"id" json:"id"`
	AccountID     int64      `db:"account_id" json:"account_id"`
	UserID        int64      `db:"user_id" json:"user_id"`
	Body          string     `db:"body" json:"body"`
	Hashtags      string     `db:"hashtags" json:"hashtags"`
	CallToAction  string     `db:"call_to_action" json:"call_to_action"`
	MediaAssetID  int64      `db:"media_asset_id" json:"media_asset_id,omitempty"`
	Platforms     []string   `db:"platforms" json:"platforms"`
	ScheduledTime time.Time  `db:"scheduled_time" json:"scheduled_time"`
	Status        string     `db:"status" json:"status"`
	ErrorDetail   string     `db:"error_detail" json:"error_detail,omitempty"`
	Recurrence    string     `db:"recurrence" json:"recurrence,omitempty"`
	PublishedAt   *time.Time `db:"published_at" json:"published_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	JobStatusPending    = "pending"
	JobStatusPublishing = "publishing"
	JobStatusPublished  = "published"
	JobStatusFailed     = "failed"
)

// MediaAsset is either a fetchable reference (FileURL set) or an embedded
// payload (Data set, FileURL empty) that must be externalized before publish.
type MediaAsset struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	FileName  string    `db:"file_name"`
	FileType  string    `db:"file_type"`
	FileSize  int64     `db:"file_size"`
	FileURL   string    `db:"file_url"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
}

// PublishAttempt records the outcome of one adapter call for one platform.
// Append-only; the per-job error detail is a summary of these rows.
type PublishAttempt struct {
	ID             int64     `db:"id" json:"id"`
	JobID          int64     `db:"job_id" json:"job_id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Platform       string    `db:"platform" json:"platform"`
	ExternalPostID string    `db:"external_post_id" json:"external_post_id"`
	ErrorMessage   string    `db:"error_message" json:"error_message"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
