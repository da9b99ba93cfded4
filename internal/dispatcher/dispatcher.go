package dispatcher

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/publisher"
	"github.com/postloom/postloom/internal/recurrence"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/internal/storage"
)

// Dispatcher fans one due job out to its platform adapters and aggregates
// per-platform outcomes into a single job outcome. It never lets one
// platform's failure abort the siblings, and it never panics past its own
// boundary.
type Dispatcher struct {
	jr             repository.JobRepository
	cr             repository.ConnectionRepository
	ar             repository.PublishAttemptRepository
	ma             repository.MediaAssetRepository
	registry       *publisher.Registry
	uploader       storage.Uploader
	planner        *recurrence.Planner
	publishTimeout time.Duration
}

func New(
	jr repository.JobRepository,
	cr repository.ConnectionRepository,
	ar repository.PublishAttemptRepository,
	ma repository.MediaAssetRepository,
	registry *publisher.Registry,
	uploader storage.Uploader,
	planner *recurrence.Planner,
	publishTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		jr:             jr,
		cr:             cr,
		ar:             ar,
		ma:             ma,
		registry:       registry,
		uploader:       uploader,
		planner:        planner,
		publishTimeout: publishTimeout,
	}
}

type platformResult struct {
	platform       string
	externalPostID string
	err            error
}

// Dispatch drives one pending job to a terminal state. It is safe to call
// from both the scheduler loop and the queue worker for the same job: the
// conditional claim lets exactly one caller through.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	claimed, err := d.jr.Claim(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to claim job %d: %w", job.ID, err)
	}
	if !claimed {
		// Already publishing, terminal, or cancelled. Nothing to do.
		return nil
	}

	conns, err := d.cr.ListActive(ctx, job.AccountID, job.Platforms)
	if err != nil {
		detail := fmt.Sprintf("failed to resolve connections: %v", err)
		if uerr := d.jr.UpdateOutcome(ctx, job.ID, models.JobStatusFailed, detail, job.Platforms, nil); uerr != nil {
			slog.Error(uerr.Error())
		}
		d.planSuccessor(ctx, job)
		return err
	}
	if len(conns) == 0 {
		detail := fmt.Sprintf("no active connections for platforms %s", strings.Join(job.Platforms, ", "))
		if err := d.jr.UpdateOutcome(ctx, job.ID, models.JobStatusFailed, detail, job.Platforms, nil); err != nil {
			return err
		}
		d.planSuccessor(ctx, job)
		return nil
	}

	content := d.buildContent(ctx, job)

	results := make([]platformResult, len(conns))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 10)

	for i, conn := range conns {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int, conn *models.Connection) {
			defer wg.Done()
			defer func() { <-semaphore }()
			results[i] = d.publishTo(ctx, conn, content)
		}(i, conn)
	}
	wg.Wait()

	for _, res := range results {
		attempt := &models.PublishAttempt{
			JobID:          job.ID,
			UserID:         job.UserID,
			Platform:       res.platform,
			ExternalPostID: res.externalPostID,
		}
		if res.err != nil {
			attempt.ErrorMessage = res.err.Error()
			log.Printf("Error publishing job %d to %s: %v", job.ID, res.platform, res.err)
		}
		if _, err := d.ar.Create(ctx, attempt); err != nil {
			log.Printf("Error saving publish attempt for job %d: %v", job.ID, err)
		}
	}

	if err := d.recordOutcome(ctx, job, results); err != nil {
		return err
	}

	d.planSuccessor(ctx, job)

	return nil
}

// planSuccessor keeps a recurring job's cadence. Every terminal state plans
// the next occurrence, a failed run included: missing the window once (an
// expired connection, a platform outage) should not silently end the series.
func (d *Dispatcher) planSuccessor(ctx context.Context, job *models.Job) {
	if job.Recurrence == "" {
		return
	}
	if _, err := d.planner.Plan(ctx, job); err != nil {
		log.Printf("Error planning next occurrence for job %d: %v", job.ID, err)
	}
}

// publishTo invokes one adapter with a per-call deadline so a hung remote
// API cannot stall the whole tick. A recovered panic is attributed to the
// platform like any other error.
func (d *Dispatcher) publishTo(ctx context.Context, conn *models.Connection, content publisher.Content) (res platformResult) {
	res.platform = conn.Platform

	defer func() {
		if p := recover(); p != nil {
			res.err = fmt.Errorf("publisher panic: %v", p)
		}
	}()

	pub, err := d.registry.Get(conn.Platform)
	if err != nil {
		res.err = err
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()

	res.externalPostID, res.err = pub.Publish(callCtx, conn, content)
	return res
}

// buildContent renders the post text and resolves the media reference. An
// embedded payload is externalized to durable storage first because adapters
// assume a fetchable URL; if externalization fails the job degrades to a
// text-only publish rather than aborting.
func (d *Dispatcher) buildContent(ctx context.Context, job *models.Job) publisher.Content {
	content := publisher.Content{Text: RenderText(job)}

	if job.MediaAssetID == 0 {
		return content
	}

	asset, err := d.ma.GetByID(ctx, job.MediaAssetID)
	if err != nil || asset == nil {
		log.Printf("Error loading media asset %d for job %d: %v", job.MediaAssetID, job.ID, err)
		return content
	}

	if asset.FileURL != "" {
		content.MediaURL = asset.FileURL
		content.MediaType = asset.FileType
		return content
	}

	if len(asset.Data) == 0 {
		return content
	}

	key, err := gonanoid.New()
	if err != nil {
		log.Printf("Error generating storage key for job %d: %v", job.ID, err)
		return content
	}

	fileURL, err := d.uploader.Upload(ctx, key, asset.Data, asset.FileType)
	if err != nil {
		log.Printf("Error externalizing media for job %d, publishing text only: %v", job.ID, err)
		return content
	}

	if err := d.ma.SetFileURL(ctx, asset.ID, fileURL); err != nil {
		log.Printf("Error saving externalized media URL for asset %d: %v", asset.ID, err)
	}

	content.MediaURL = fileURL
	content.MediaType = asset.FileType
	return content
}

// recordOutcome applies the partial-failure policy: every platform
// succeeding or only some succeeding both land on "published" (the platform
// list is narrowed to the winners and the error detail names the losers);
// zero successes is a job-level failure.
func (d *Dispatcher) recordOutcome(ctx context.Context, job *models.Job, results []platformResult) error {
	var succeeded []string
	var failures []string
	for _, res := range results {
		if res.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", res.platform, res.err))
		} else {
			succeeded = append(succeeded, res.platform)
		}
	}
	sort.Strings(succeeded)

	detail := strings.Join(failures, "; ")

	if len(succeeded) == 0 {
		return d.jr.UpdateOutcome(ctx, job.ID, models.JobStatusFailed, detail, job.Platforms, nil)
	}

	now := time.Now()
	return d.jr.UpdateOutcome(ctx, job.ID, models.JobStatusPublished, detail, succeeded, &now)
}
