package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/repository"
)

// JobDispatcher drives one due job to a terminal state.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
}

// Loop polls for due jobs on a fixed period and drives them through the
// dispatcher with bounded fan-out. It is an explicit lifecycle object: the
// composition root constructs it with its dependencies, starts it once, and
// stops it during shutdown. There is no package-level state.
type Loop struct {
	jr       repository.JobRepository
	d        JobDispatcher
	interval time.Duration
	fanout   int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewLoop(jr repository.JobRepository, d JobDispatcher, interval time.Duration, fanout int) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	if fanout <= 0 {
		fanout = 1
	}
	return &Loop{
		jr:       jr,
		d:        d,
		interval: interval,
		fanout:   fanout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the loop until Stop is called or ctx is cancelled. It blocks;
// callers run it in its own goroutine.
func (l *Loop) Start(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	log.Printf("Scheduler loop started, polling every %s", l.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for the in-flight tick to finish.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

// Tick processes every currently due job once. Jobs are independent; they
// are dispatched oldest first with at most fanout in flight so a burst of
// due jobs cannot flood downstream rate limits.
func (l *Loop) Tick(ctx context.Context) {
	due, err := l.jr.Due(ctx, time.Now())
	if err != nil {
		log.Printf("Error querying due jobs: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	log.Printf("Dispatching %d due job(s)", len(due))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, l.fanout)

	for _, job := range due {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(job *models.Job) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := l.d.Dispatch(ctx, job); err != nil {
				log.Printf("Error dispatching job %d: %v", job.ID, err)
			}
		}(job)
	}
	wg.Wait()
}
