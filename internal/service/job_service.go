package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/postloom/postloom/internal/ledger"
	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/recurrence"
	"github.com/postloom/postloom/internal/repository"
	"github.com/postloom/postloom/internal/transfer"
)

// Tokens assumed for an admission estimate before the collaborator reports
// real counts. Roughly one token per four prompt bytes plus a full response.
const estimatedOutputTokens = 800

type JobService interface {
	CreateJob(ctx context.Context, userID int64, jc *transfer.JobCreation, file *multipart.FileHeader) (int64, time.Duration, error)
	List(ctx context.Context, userID int64) ([]*models.Job, error)
	JobInfo(ctx context.Context, jobID, userID int64) (*models.Job, error)
	Attempts(ctx context.Context, jobID, userID int64) ([]*models.PublishAttempt, error)
	Cancel(ctx context.Context, userID, jobID int64) error
}

type jobService struct {
	db  *sql.DB
	jr  repository.JobRepository
	ar  repository.PublishAttemptRepository
	ma  repository.MediaAssetRepository
	ls  ledger.Service
	gen Generator
}

func NewJobService(
	db *sql.DB,
	jr repository.JobRepository,
	ar repository.PublishAttemptRepository,
	ma repository.MediaAssetRepository,
	ls ledger.Service,
	gen Generator) JobService {
	return &jobService{
		db:  db,
		jr:  jr,
		ar:  ar,
		ma:  ma,
		ls:  ls,
		gen: gen,
	}
}

// CreateJob validates and persists one job and returns its id together with
// the delay until it is due. Publish-now uses the current time as the
// schedule. When a prompt is supplied the body comes from the generation
// collaborator, admitted by the ledger first and billed after.
func (s *jobService) CreateJob(ctx context.Context, userID int64, jc *transfer.JobCreation, file *multipart.FileHeader) (int64, time.Duration, error) {
	if jc == nil {
		err := errors.New("job creation data is nil")
		slog.Error(err.Error())
		return 0, 0, err
	}
	if len(jc.Platforms) == 0 {
		err := errors.New("target platform set cannot be empty")
		slog.Info(err.Error())
		return 0, 0, err
	}
	if jc.Recurrence != "" && !recurrence.Valid(jc.Recurrence) {
		err := fmt.Errorf("unknown recurrence pattern %q", jc.Recurrence)
		slog.Info(err.Error())
		return 0, 0, err
	}

	scheduledTime := time.Now()
	if !jc.PublishNow {
		var err error
		scheduledTime, err = time.Parse(time.RFC3339, jc.ScheduledTime)
		if err != nil {
			err = fmt.Errorf("invalid scheduled time format: %w", err)
			slog.Error(err.Error())
			return 0, 0, err
		}
		if !scheduledTime.After(time.Now()) {
			err = errors.New("scheduled time must be in the future")
			slog.Info(err.Error())
			return 0, 0, err
		}
	}

	body := jc.Body
	hashtags := jc.Hashtags
	callToAction := jc.CallToAction

	if jc.Prompt != "" {
		generated, err := s.generateBody(ctx, userID, jc.Prompt)
		if err != nil {
			return 0, 0, err
		}
		body = generated.Body
		hashtags = generated.Hashtags
		callToAction = generated.CallToAction
	}

	if body == "" {
		err := errors.New("job body cannot be empty")
		slog.Info(err.Error())
		return 0, 0, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	var assetID int64
	if file != nil {
		assetID, err = s.saveMedia(ctx, tx, userID, file)
		if err != nil {
			return 0, 0, fmt.Errorf("error processing media: %w", err)
		}
	}

	job := models.Job{
		AccountID:     jc.AccountID,
		UserID:        userID,
		Body:          body,
		Hashtags:      hashtags,
		CallToAction:  callToAction,
		MediaAssetID:  assetID,
		Platforms:     jc.Platforms,
		ScheduledTime: scheduledTime,
		Status:        models.JobStatusPending,
		Recurrence:    jc.Recurrence,
	}

	jobID, err := s.jr.Create(ctx, tx, &job)
	if err != nil {
		return 0, 0, fmt.Errorf("error creating job: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	delay := time.Until(scheduledTime)
	if delay < 0 {
		delay = 0
	}

	return jobID, delay, nil
}

// generateBody runs the admission check, calls the collaborator and records
// usage from the real token counts afterwards. The check is check-then-act
// on purpose: admission is evaluated once, before the expensive work.
func (s *jobService) generateBody(ctx context.Context, userID int64, prompt string) (*transfer.GeneratedContent, error) {
	estimate := ledger.Cost(models.ServiceTextGeneration, ledger.Magnitude{
		InputUnits:  int64(len(prompt) / 4),
		OutputUnits: estimatedOutputTokens,
	})

	check := s.ls.CheckBalance(ctx, userID, estimate)
	if !check.Allowed {
		slog.Info(fmt.Sprintf("generation denied for user %d: remaining %.2f, required %.2f", userID, check.Remaining, check.Required))
		return nil, ledger.ErrInsufficientCredits
	}

	generated, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	_, err = s.ls.RecordUsage(ctx, userID, models.ServiceTextGeneration, ledger.Magnitude{
		InputUnits:  generated.InputTokens,
		OutputUnits: generated.OutputTokens,
	}, map[string]string{"source": "job-creation"})
	if err != nil {
		// The content exists but the charge did not land; surface it so the
		// caller can decide, instead of losing the revenue silently.
		return nil, err
	}

	return generated, nil
}

func (s *jobService) saveMedia(ctx context.Context, tx *sql.Tx, userID int64, file *multipart.FileHeader) (int64, error) {
	allowedTypes := map[string]struct{}{
		"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
	}

	fileContent, err := file.Open()
	if err != nil {
		return 0, fmt.Errorf("error opening file: %w", err)
	}
	defer fileContent.Close()

	fileBytes, err := io.ReadAll(fileContent)
	if err != nil {
		return 0, fmt.Errorf("error reading file content: %w", err)
	}

	fileType, err := filetype.Match(fileBytes)
	if err != nil || fileType == types.Unknown {
		return 0, fmt.Errorf("unsupported file type: %w", err)
	}
	if _, ok := allowedTypes[fileType.Extension]; !ok {
		return 0, fmt.Errorf("file type %s is not allowed", fileType.Extension)
	}

	name, err := gonanoid.New()
	if err != nil {
		return 0, err
	}

	// Stored as an embedded payload; the dispatcher externalizes it to a
	// fetchable URL right before the first publish.
	asset := models.MediaAsset{
		UserID:   userID,
		FileName: name,
		FileType: fileType.MIME.Value,
		FileSize: int64(len(fileBytes)),
		Data:     fileBytes,
	}

	return s.ma.Create(ctx, tx, &asset)
}

func (s *jobService) List(ctx context.Context, userID int64) ([]*models.Job, error) {
	jobs, err := s.jr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing jobs")
	}
	return jobs, nil
}

func (s *jobService) JobInfo(ctx context.Context, jobID, userID int64) (*models.Job, error) {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	if jobID == 0 {
		err = errors.New("job id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isValid, err := s.jr.CheckByUserID(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if !isValid {
		err = errors.New("job doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	return s.jr.GetByID(ctx, jobID)
}

func (s *jobService) Attempts(ctx context.Context, jobID, userID int64) ([]*models.PublishAttempt, error) {
	if _, err := s.JobInfo(ctx, jobID, userID); err != nil {
		return nil, err
	}
	return s.ar.ListByJobID(ctx, jobID)
}

// Cancel removes a job only while it is still pending. A claimed job runs to
// a terminal state uninterruptibly.
func (s *jobService) Cancel(ctx context.Context, userID, jobID int64) error {
	isValid, err := s.jr.CheckByUserID(ctx, jobID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		err = errors.New("job doesn't exist")
		slog.Info(err.Error())
		return err
	}

	removed, err := s.jr.RemovePending(ctx, jobID)
	if err != nil {
		return err
	}
	if !removed {
		err = errors.New("job is already publishing or finished")
		slog.Info(err.Error())
		return err
	}
	return nil
}
