package scheduler

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/postloom/postloom/internal/models"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[int64]*models.Job
}

func newFakeJobStore(jobs ...*models.Job) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[int64]*models.Job)}
	for _, j := range jobs {
		cp := *j
		s.jobs[j.ID] = &cp
	}
	return s
}

func (s *fakeJobStore) Due(_ context.Context, now time.Time) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.Job
	for _, j := range s.jobs {
		if j.Status == models.JobStatusPending && !j.ScheduledTime.After(now) {
			cp := *j
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (s *fakeJobStore) GetByID(_ context.Context, id int64) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) Create(_ context.Context, _ *sql.Tx, job *models.Job) (int64, error) {
	return job.ID, nil
}
func (s *fakeJobStore) GetByUserID(context.Context, int64) ([]*models.Job, error) { return nil, nil }
func (s *fakeJobStore) Claim(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusPending {
		return false, nil
	}
	j.Status = models.JobStatusPublishing
	return true, nil
}
func (s *fakeJobStore) UpdateOutcome(_ context.Context, id int64, status, detail string, platforms []string, publishedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = status
	}
	return nil
}
func (s *fakeJobStore) CheckByUserID(context.Context, int64, int64) (bool, error) {
	return false, nil
}
func (s *fakeJobStore) RemovePending(context.Context, int64) (bool, error) { return false, nil }

// claimingDispatcher mimics the real dispatcher's claim-first behavior and
// counts how many times each job was actually processed.
type claimingDispatcher struct {
	store *fakeJobStore

	mu        sync.Mutex
	processed map[int64]int
}

func (d *claimingDispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	claimed, err := d.store.Claim(ctx, job.ID)
	if err != nil || !claimed {
		return err
	}
	d.mu.Lock()
	d.processed[job.ID]++
	d.mu.Unlock()
	return d.store.UpdateOutcome(ctx, job.ID, models.JobStatusPublished, "", job.Platforms, nil)
}

func pending(id int64, scheduled time.Time) *models.Job {
	return &models.Job{
		ID:            id,
		Platforms:     []string{"facebook"},
		ScheduledTime: scheduled,
		Status:        models.JobStatusPending,
	}
}

func TestTickDispatchesOnlyDueJobs(t *testing.T) {
	now := time.Now()
	store := newFakeJobStore(
		pending(1, now.Add(-time.Minute)),
		pending(2, now.Add(-time.Second)),
		pending(3, now.Add(time.Hour)), // not due yet
	)
	d := &claimingDispatcher{store: store, processed: make(map[int64]int)}

	loop := NewLoop(store, d, time.Minute, 2)
	loop.Tick(context.Background())

	if d.processed[1] != 1 || d.processed[2] != 1 {
		t.Errorf("due jobs not processed exactly once: %v", d.processed)
	}
	if d.processed[3] != 0 {
		t.Errorf("job 3 is not due yet but was processed")
	}
}

func TestTickNeverReclaimsClaimedJobs(t *testing.T) {
	now := time.Now()
	store := newFakeJobStore(pending(1, now.Add(-time.Minute)))
	d := &claimingDispatcher{store: store, processed: make(map[int64]int)}

	loop := NewLoop(store, d, time.Minute, 2)
	loop.Tick(context.Background())
	loop.Tick(context.Background())
	loop.Tick(context.Background())

	if d.processed[1] != 1 {
		t.Errorf("job processed %d times across ticks, want exactly 1", d.processed[1])
	}
}

func TestTickWithNothingDueIsNoOp(t *testing.T) {
	store := newFakeJobStore(pending(1, time.Now().Add(time.Hour)))
	d := &claimingDispatcher{store: store, processed: make(map[int64]int)}

	loop := NewLoop(store, d, time.Minute, 2)
	loop.Tick(context.Background())

	if len(d.processed) != 0 {
		t.Errorf("nothing was due but %v was processed", d.processed)
	}
}

func TestLoopStartStop(t *testing.T) {
	now := time.Now()
	store := newFakeJobStore(pending(1, now.Add(-time.Minute)))
	d := &claimingDispatcher{store: store, processed: make(map[int64]int)}

	loop := NewLoop(store, d, 10*time.Millisecond, 2)
	go loop.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		d.mu.Lock()
		done := d.processed[1] == 1
		d.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("loop never dispatched the due job")
		case <-time.After(5 * time.Millisecond):
		}
	}

	loop.Stop()

	if d.processed[1] != 1 {
		t.Errorf("job processed %d times, want exactly 1", d.processed[1])
	}
}
