package queue

import (
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

const TaskTypePublishJob = "publish:job"

type PublishJobPayload struct {
	JobID int64 `json:"job_id"`
}

// EnqueueJob schedules an asynq task for the job's publish time. This is the
// fast path: the polling loop would pick the job up anyway, but the queue
// fires closer to the scheduled second. Both paths funnel through the
// dispatcher's conditional claim, so a job is never published twice.
func EnqueueJob(asynqClient *asynq.Client, payload PublishJobPayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishJob, taskPayload)

	_, err = asynqClient.Enqueue(task, asynq.ProcessIn(delay))
	if err != nil {
		return err
	}

	log.Printf("Publish task scheduled: %+v", payload)
	return nil
}
