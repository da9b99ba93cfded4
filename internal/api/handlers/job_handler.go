package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/postloom/postloom/internal/ledger"
	"github.com/postloom/postloom/internal/queue"
	"github.com/postloom/postloom/internal/service"
	"github.com/postloom/postloom/internal/transfer"
)

type JobHandler struct {
	s           service.JobService
	AsynqClient *asynq.Client
}

func NewJobHandler(s service.JobService, asynqClient *asynq.Client) *JobHandler {
	return &JobHandler{s: s, AsynqClient: asynqClient}
}

func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var platforms []string
	if err := json.Unmarshal([]byte(c.FormValue("platforms")), &platforms); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid platforms format",
		})
	}

	jc := transfer.JobCreation{
		AccountID:     int64(c.QueryInt("account_id", 0)),
		Body:          c.FormValue("body"),
		Hashtags:      c.FormValue("hashtags"),
		CallToAction:  c.FormValue("call_to_action"),
		Platforms:     platforms,
		ScheduledTime: c.FormValue("scheduled_time"),
		Recurrence:    c.FormValue("recurrence"),
		Prompt:        c.FormValue("prompt"),
		PublishNow:    c.FormValue("publish_now") == "true",
	}

	var file *multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil {
		if files := form.File["media"]; len(files) > 0 {
			file = files[0]
		}
	}

	jobID, delay, err := h.s.CreateJob(c.Context(), userID, &jc, file)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	err = queue.EnqueueJob(h.AsynqClient, queue.PublishJobPayload{JobID: jobID}, delay)
	if err != nil {
		// The polling loop still picks the job up when it is due.
		slog.Error(err.Error())
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Job scheduled successfully",
		"job_id":  jobID,
	})
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	userID := GetUserID(c)
	jobID := c.QueryInt("id", 0)

	if jobID != 0 {
		job, err := h.s.JobInfo(c.Context(), int64(jobID), userID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to get job",
			})
		}
		return c.Status(fiber.StatusOK).JSON(job)
	}

	jobs, err := h.s.List(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list jobs",
		})
	}

	return c.Status(fiber.StatusOK).JSON(jobs)
}

func (h *JobHandler) ListAttempts(c *fiber.Ctx) error {
	userID := GetUserID(c)
	jobID := c.QueryInt("id", 0)

	attempts, err := h.s.Attempts(c.Context(), int64(jobID), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list publish attempts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(attempts)
}

func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	userID := GetUserID(c)
	jobID := c.QueryInt("id", 0)

	err := h.s.Cancel(c.Context(), userID, int64(jobID))
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
