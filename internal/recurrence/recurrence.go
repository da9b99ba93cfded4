package recurrence

import (
	"context"
	"fmt"
	"time"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/repository"
)

// Recurrence patterns. The enumeration is closed; anything else is rejected
// at the boundary.
const (
	PatternDaily    = "daily"
	PatternWeekly   = "weekly"
	PatternBiweekly = "biweekly"
	PatternMonthly  = "monthly"
)

// Offsets are flat day counts. "monthly" is a fixed +30 days and will drift
// against calendar months; the source system behaves this way and clients
// depend on the anchor arithmetic staying put.
var patternOffsets = map[string]time.Duration{
	PatternDaily:    24 * time.Hour,
	PatternWeekly:   7 * 24 * time.Hour,
	PatternBiweekly: 14 * 24 * time.Hour,
	PatternMonthly:  30 * 24 * time.Hour,
}

// Valid reports whether pattern is a member of the closed enumeration.
func Valid(pattern string) bool {
	_, ok := patternOffsets[pattern]
	return ok
}

// NextOccurrence computes the successor schedule time for a recurring job.
func NextOccurrence(current time.Time, pattern string) (time.Time, error) {
	offset, ok := patternOffsets[pattern]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown recurrence pattern %q", pattern)
	}
	return current.Add(offset), nil
}

// Planner enqueues the next occurrence of a recurring job once the current
// one reaches a terminal state.
type Planner struct {
	jr repository.JobRepository
}

func NewPlanner(jr repository.JobRepository) *Planner {
	return &Planner{jr: jr}
}

// Plan creates a fresh pending job copying the completed job's content
// fields and platform set verbatim. The completed job is left untouched as
// the historical record.
func (p *Planner) Plan(ctx context.Context, job *models.Job) (int64, error) {
	next, err := NextOccurrence(job.ScheduledTime, job.Recurrence)
	if err != nil {
		return 0, err
	}

	successor := &models.Job{
		AccountID:     job.AccountID,
		UserID:        job.UserID,
		Body:          job.Body,
		Hashtags:      job.Hashtags,
		CallToAction:  job.CallToAction,
		MediaAssetID:  job.MediaAssetID,
		Platforms:     job.Platforms,
		ScheduledTime: next,
		Status:        models.JobStatusPending,
		Recurrence:    job.Recurrence,
	}

	return p.jr.Create(ctx, nil, successor)
}
