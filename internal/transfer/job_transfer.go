package transfer

// JobCreation is the boundary payload for schedule-for-later and
// publish-now. When Prompt is set the body is produced by the generation
// collaborator, gated by the admission check.
type JobCreation struct {
	AccountID     int64    `json:"account_id"`
	Body          string   `json:"body"`
	Hashtags      string   `json:"hashtags"`
	CallToAction  string   `json:"call_to_action"`
	Platforms     []string `json:"platforms"`
	ScheduledTime string   `json:"scheduled_time"`
	Recurrence    string   `json:"recurrence"`
	Prompt        string   `json:"prompt"`
	PublishNow    bool     `json:"publish_now"`
}

// GeneratedContent is what the generation collaborator returns; its prompt
// construction and model choice are opaque to this system.
type GeneratedContent struct {
	Body         string `json:"body"`
	Hashtags     string `json:"hashtags"`
	CallToAction string `json:"call_to_action"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}
