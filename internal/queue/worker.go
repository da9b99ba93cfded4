package queue

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"
	"github.com/postloom/postloom/internal/dispatcher"
	"github.com/postloom/postloom/internal/repository"
)

type Worker struct {
	jr repository.JobRepository
	d  *dispatcher.Dispatcher
}

func NewWorker(jr repository.JobRepository, d *dispatcher.Dispatcher) *Worker {
	return &Worker{jr: jr, d: d}
}

func (w *Worker) HandlePublishJobTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	job, err := w.jr.GetByID(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		// Cancelled while still pending; nothing to publish.
		log.Printf("Job %d no longer exists, skipping", payload.JobID)
		return nil
	}

	return w.d.Dispatch(ctx, job)
}
