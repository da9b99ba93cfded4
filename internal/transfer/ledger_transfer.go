package transfer

// BalanceCheck is the answer to an admission-control query. Allowed does not
// reserve funds; the caller is expected to record usage after the work.
type BalanceCheck struct {
	Allowed   bool    `json:"allowed"`
	Remaining float64 `json:"remaining"`
	Required  float64 `json:"required"`
}

type UsageRecord struct {
	Service      string            `json:"service"`
	InputUnits   int64             `json:"input_units"`
	OutputUnits  int64             `json:"output_units"`
	DurationSecs float64           `json:"duration_secs"`
	WithAudio    bool              `json:"with_audio"`
	Metadata     map[string]string `json:"metadata"`
}

// DubbingReconciliation carries the provider balance snapshots a dubbing
// worker reports once the real consumption is known.
type DubbingReconciliation struct {
	Estimated     float64           `json:"estimated"`
	BalanceBefore float64           `json:"balance_before"`
	BalanceAfter  float64           `json:"balance_after"`
	Metadata      map[string]string `json:"metadata"`
}
