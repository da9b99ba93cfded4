package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/postloom/postloom/internal/models"
	"github.com/postloom/postloom/internal/publisher"
	"github.com/postloom/postloom/internal/recurrence"
)

// ---------------------------------------------------------------------------
// In-memory mocks. These let us exercise the real dispatch logic without a
// database or network.
// ---------------------------------------------------------------------------

type memJobRepo struct {
	mu     sync.Mutex
	jobs   map[int64]*models.Job
	nextID int64
}

func newMemJobRepo(jobs ...*models.Job) *memJobRepo {
	m := &memJobRepo{jobs: make(map[int64]*models.Job), nextID: 1000}
	for _, j := range jobs {
		cp := *j
		m.jobs[j.ID] = &cp
	}
	return m
}

func (m *memJobRepo) GetByID(_ context.Context, id int64) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) Create(_ context.Context, _ *sql.Tx, job *models.Job) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *job
	cp.ID = m.nextID
	m.jobs[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memJobRepo) GetByUserID(context.Context, int64) ([]*models.Job, error) { return nil, nil }

func (m *memJobRepo) Due(_ context.Context, now time.Time) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*models.Job
	for _, j := range m.jobs {
		if j.Status == models.JobStatusPending && !j.ScheduledTime.After(now) {
			cp := *j
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (m *memJobRepo) Claim(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusPending {
		return false, nil
	}
	j.Status = models.JobStatusPublishing
	return true, nil
}

func (m *memJobRepo) UpdateOutcome(_ context.Context, id int64, status, errorDetail string, platforms []string, publishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d not found", id)
	}
	j.Status = status
	j.ErrorDetail = errorDetail
	j.Platforms = platforms
	j.PublishedAt = publishedAt
	return nil
}

func (m *memJobRepo) CheckByUserID(context.Context, int64, int64) (bool, error) { return true, nil }
func (m *memJobRepo) RemovePending(context.Context, int64) (bool, error)        { return false, nil }

func (m *memJobRepo) successors() []*models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.ID > 1000 {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out
}

type memConnRepo struct {
	conns []*models.Connection
}

func (m *memConnRepo) GetByID(_ context.Context, id int64) (*models.Connection, error) {
	for _, c := range m.conns {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memConnRepo) ListActive(_ context.Context, accountID int64, platforms []string) ([]*models.Connection, error) {
	wanted := make(map[string]bool, len(platforms))
	for _, p := range platforms {
		wanted[p] = true
	}
	var out []*models.Connection
	for _, c := range m.conns {
		if c.AccountID == accountID && c.Connected && wanted[c.Platform] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memConnRepo) ListByUserID(context.Context, int64) ([]*models.Connection, error) {
	return nil, nil
}
func (m *memConnRepo) ListExpiringBetween(context.Context, time.Time, time.Time) ([]*models.Connection, error) {
	return nil, nil
}
func (m *memConnRepo) UpdateTokens(context.Context, int64, string, string, time.Time) error {
	return nil
}

type memAttemptRepo struct {
	mu       sync.Mutex
	attempts []*models.PublishAttempt
}

func (m *memAttemptRepo) Create(_ context.Context, attempt *models.PublishAttempt) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *attempt
	m.attempts = append(m.attempts, &cp)
	return int64(len(m.attempts)), nil
}

func (m *memAttemptRepo) ListByJobID(_ context.Context, jobID int64) ([]*models.PublishAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PublishAttempt
	for _, a := range m.attempts {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memAssetRepo struct {
	mu     sync.Mutex
	assets map[int64]*models.MediaAsset
}

func (m *memAssetRepo) GetByID(_ context.Context, id int64) (*models.MediaAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memAssetRepo) Create(_ context.Context, _ *sql.Tx, asset *models.MediaAsset) (int64, error) {
	return asset.ID, nil
}

func (m *memAssetRepo) SetFileURL(_ context.Context, id int64, fileURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.assets[id]; ok {
		a.FileURL = fileURL
	}
	return nil
}

type fakeUploader struct {
	fail bool
}

func (f *fakeUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.fail {
		return "", errors.New("bucket unavailable")
	}
	return "https://media.test/" + key, nil
}

// fakePublisher is a scriptable adapter that records what it was handed.
type fakePublisher struct {
	mu      sync.Mutex
	id      string
	err     error
	block   bool
	panics  bool
	calls   int
	content publisher.Content
}

func (f *fakePublisher) Publish(ctx context.Context, _ *models.Connection, content publisher.Content) (string, error) {
	f.mu.Lock()
	f.calls++
	f.content = content
	f.mu.Unlock()
	if f.panics {
		panic("adapter exploded")
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.id, f.err
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---------------------------------------------------------------------------

func pendingJob(platforms ...string) *models.Job {
	return &models.Job{
		ID:            1,
		AccountID:     10,
		UserID:        20,
		Body:          "new espresso blend",
		Hashtags:      "#coffee",
		CallToAction:  "Taste it today",
		Platforms:     platforms,
		ScheduledTime: time.Now().Add(-time.Second),
		Status:        models.JobStatusPending,
	}
}

func connectionsFor(platforms ...string) *memConnRepo {
	repo := &memConnRepo{}
	for i, p := range platforms {
		repo.conns = append(repo.conns, &models.Connection{
			ID:        int64(i + 1),
			AccountID: 10,
			UserID:    20,
			Platform:  p,
			Connected: true,
		})
	}
	return repo
}

type fixture struct {
	jobs     *memJobRepo
	conns    *memConnRepo
	attempts *memAttemptRepo
	assets   *memAssetRepo
	uploader *fakeUploader
	registry *publisher.Registry
	d        *Dispatcher
}

func newFixture(jobs *memJobRepo, conns *memConnRepo, timeout time.Duration) *fixture {
	f := &fixture{
		jobs:     jobs,
		conns:    conns,
		attempts: &memAttemptRepo{},
		assets:   &memAssetRepo{assets: make(map[int64]*models.MediaAsset)},
		uploader: &fakeUploader{},
		registry: publisher.NewRegistry(),
	}
	planner := recurrence.NewPlanner(jobs)
	f.d = New(jobs, conns, f.attempts, f.assets, f.registry, f.uploader, planner, timeout)
	return f
}

func TestDispatchPartialFailure(t *testing.T) {
	job := pendingJob("facebook", "instagram")
	f := newFixture(newMemJobRepo(job), connectionsFor("facebook", "instagram"), time.Second)

	fb := &fakePublisher{id: "123"}
	ig := &fakePublisher{err: errors.New("token expired")}
	f.registry.Register("facebook", fb)
	f.registry.Register("instagram", ig)

	if err := f.d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != models.JobStatusPublished {
		t.Fatalf("status = %s, want published", got.Status)
	}
	if !reflect.DeepEqual(got.Platforms, []string{"facebook"}) {
		t.Errorf("platforms = %v, want [facebook]", got.Platforms)
	}
	if got.PublishedAt == nil {
		t.Errorf("published job must carry a published timestamp")
	}
	if !strings.Contains(got.ErrorDetail, "instagram") || !strings.Contains(got.ErrorDetail, "token expired") {
		t.Errorf("error detail %q must name the failed platform and reason", got.ErrorDetail)
	}

	attempts, _ := f.attempts.ListByJobID(context.Background(), job.ID)
	if len(attempts) != 2 {
		t.Fatalf("expected one attempt per platform, got %d", len(attempts))
	}
	for _, a := range attempts {
		switch a.Platform {
		case "facebook":
			if a.ExternalPostID != "123" || a.ErrorMessage != "" {
				t.Errorf("facebook attempt = %+v", a)
			}
		case "instagram":
			if !strings.Contains(a.ErrorMessage, "token expired") {
				t.Errorf("instagram attempt = %+v", a)
			}
		}
	}
}

func TestDispatchAllPlatformsFail(t *testing.T) {
	job := pendingJob("facebook", "twitter")
	f := newFixture(newMemJobRepo(job), connectionsFor("facebook", "twitter"), time.Second)

	f.registry.Register("facebook", &fakePublisher{err: errors.New("rate limited")})
	f.registry.Register("twitter", &fakePublisher{err: errors.New("bad credentials")})

	if err := f.d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.PublishedAt != nil {
		t.Errorf("failed job must not carry a published timestamp")
	}
	for _, want := range []string{"rate limited", "bad credentials"} {
		if !strings.Contains(got.ErrorDetail, want) {
			t.Errorf("error detail %q missing %q", got.ErrorDetail, want)
		}
	}
}

func TestDispatchNoConnectionsIsJobLevelFailure(t *testing.T) {
	job := pendingJob("linkedin")
	f := newFixture(newMemJobRepo(job), &memConnRepo{}, time.Second)

	lk := &fakePublisher{id: "urn:li:share:1"}
	f.registry.Register("linkedin", lk)

	if err := f.d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorDetail == "" {
		t.Errorf("job-level failure must carry a descriptive error")
	}
	if lk.callCount() != 0 {
		t.Errorf("no adapter should be invoked without a connection")
	}
}

func TestDispatchDoesNotReclaimNonPending(t *testing.T) {
	for _, status := range []string{models.JobStatusPublishing, models.JobStatusPublished, models.JobStatusFailed} {
		job := pendingJob("facebook")
		job.Status = status
		f := newFixture(newMemJobRepo(job), connectionsFor("facebook"), time.Second)

		fb := &fakePublisher{id: "1"}
		f.registry.Register("facebook", fb)

		if err := f.d.Dispatch(context.Background(), job); err != nil {
			t.Fatalf("Dispatch(%s): %v", status, err)
		}
		if fb.callCount() != 0 {
			t.Errorf("job in %s state was re-dispatched", status)
		}
		got, _ := f.jobs.GetByID(context.Background(), job.ID)
		if got.Status != status {
			t.Errorf("status changed from %s to %s", status, got.Status)
		}
	}
}

func TestDispatchPlansRecurringSuccessor(t *testing.T) {
	job := pendingJob("facebook")
	job.Recurrence = recurrence.PatternWeekly
	jobs := newMemJobRepo(job)
	f := newFixture(jobs, connectionsFor("facebook"), time.Second)
	f.registry.Register("facebook", &fakePublisher{id: "1"})

	if err := f.d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	successors := jobs.successors()
	if len(successors) != 1 {
		t.Fatalf("expected exactly one successor, got %d", len(successors))
	}
	next := successors[0]
	want := job.ScheduledTime.Add(7 * 24 * time.Hour)
	if !next.ScheduledTime.Equal(want) {
		t.Errorf("successor scheduled at %v, want %v", next.ScheduledTime, want)
	}
	if next.Status != models.JobStatusPending {
		t.Errorf("successor status = %s, want pending", next.Status)
	}
	if next.Body != job.Body {
		t.Errorf("successor body = %q, want %q", next.Body, job.Body)
	}
}

func TestDispatchPlansSuccessorAfterFailedRun(t *testing.T) {
	// A recurring job must keep its cadence even when a run fails: here the
	// account has no active connections at all, and separately every
	// platform call fails. Both terminal failures still plan the successor.
	t.Run("no connections", func(t *testing.T) {
		job := pendingJob("linkedin")
		job.Recurrence = recurrence.PatternWeekly
		jobs := newMemJobRepo(job)
		f := newFixture(jobs, &memConnRepo{}, time.Second)
		f.registry.Register("linkedin", &fakePublisher{id: "1"})

		if err := f.d.Dispatch(context.Background(), job); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}

		got, _ := jobs.GetByID(context.Background(), job.ID)
		if got.Status != models.JobStatusFailed {
			t.Fatalf("status = %s, want failed", got.Status)
		}
		successors := jobs.successors()
		if len(successors) != 1 {
			t.Fatalf("expected exactly one successor, got %d", len(successors))
		}
		want := job.ScheduledTime.Add(7 * 24 * time.Hour)
		if !successors[0].ScheduledTime.Equal(want) {
			t.Errorf("successor scheduled at %v, want %v", successors[0].ScheduledTime, want)
		}
	})

	t.Run("all platforms fail", func(t *testing.T) {
		job := pendingJob("facebook")
		job.Recurrence = recurrence.PatternDaily
		jobs := newMemJobRepo(job)
		f := newFixture(jobs, connectionsFor("facebook"), time.Second)
		f.registry.Register("facebook", &fakePublisher{err: errors.New("rate limited")})

		if err := f.d.Dispatch(context.Background(), job); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}

		got, _ := jobs.GetByID(context.Background(), job.ID)
		if got.Status != models.JobStatusFailed {
			t.Fatalf("status = %s, want failed", got.Status)
		}
		if len(jobs.successors()) != 1 {
			t.Fatalf("expected exactly one successor, got %d", len(jobs.successors()))
		}
	})
}

func TestDispatchExternalizesEmbeddedMedia(t *testing.T) {
	job := pendingJob("facebook")
	job.MediaAssetID = 5
	f := newFixture(newMemJobRepo(job), connectionsFor("facebook"), time.Second)
	f.assets.assets[5] = &models.MediaAsset{ID: 5, FileType: "image/png", Data: []byte{0x89, 0x50}}

	fb := &fakePublisher{id: "1"}
	f.registry.Register("facebook", fb)

	if err := f.d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if !strings.HasPrefix(fb.content.MediaURL, "https://media.test/") {
		t.Errorf("adapter received MediaURL %q, want an externalized URL", fb.content.MediaURL)
	}
	asset, _ := f.assets.GetByID(context.Background(), 5)
	if asset.FileURL != fb.content.MediaURL {
		t.Errorf("externalized URL was not persisted on the asset")
	}
}

func TestDispatchDegradesToTextOnUploadFailure(t *testing.T) {
	job := pendingJob("facebook")
	job.MediaAssetID = 5
	f := newFixture(newMemJobRepo(job), connectionsFor("facebook"), time.Second)
	f.assets.assets[5] = &models.MediaAsset{ID: 5, FileType: "image/png", Data: []byte{0x89, 0x50}}
	f.uploader.fail = true

	fb := &fakePublisher{id: "1"}
	f.registry.Register("facebook", fb)

	if err := f.d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if fb.content.MediaURL != "" {
		t.Errorf("upload failure must degrade to text-only, got MediaURL %q", fb.content.MediaURL)
	}
	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != models.JobStatusPublished {
		t.Errorf("status = %s, want published (text-only)", got.Status)
	}
}

func TestDispatchTimesOutHungAdapter(t *testing.T) {
	job := pendingJob("facebook", "twitter")
	f := newFixture(newMemJobRepo(job), connectionsFor("facebook", "twitter"), 50*time.Millisecond)

	f.registry.Register("facebook", &fakePublisher{id: "1"})
	f.registry.Register("twitter", &fakePublisher{block: true})

	start := time.Now()
	if err := f.d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("dispatch blocked for %v despite per-call timeout", elapsed)
	}

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != models.JobStatusPublished {
		t.Fatalf("status = %s, want published", got.Status)
	}
	if !reflect.DeepEqual(got.Platforms, []string{"facebook"}) {
		t.Errorf("platforms = %v, want [facebook]", got.Platforms)
	}
	if !strings.Contains(got.ErrorDetail, "twitter") {
		t.Errorf("error detail %q must attribute the timeout to twitter", got.ErrorDetail)
	}
}

func TestDispatchIsolatesAdapterPanic(t *testing.T) {
	job := pendingJob("facebook", "twitter")
	f := newFixture(newMemJobRepo(job), connectionsFor("facebook", "twitter"), time.Second)

	f.registry.Register("facebook", &fakePublisher{id: "1"})
	f.registry.Register("twitter", &fakePublisher{panics: true})

	if err := f.d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got, _ := f.jobs.GetByID(context.Background(), job.ID)
	if got.Status != models.JobStatusPublished {
		t.Fatalf("status = %s, want published despite sibling panic", got.Status)
	}
	if !strings.Contains(got.ErrorDetail, "twitter") {
		t.Errorf("error detail %q must attribute the panic to twitter", got.ErrorDetail)
	}
}
