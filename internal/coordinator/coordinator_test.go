package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/events"
	"github.com/JakeFAU/crawl-registry/internal/jobs"
	"github.com/JakeFAU/crawl-registry/internal/options"
	pubmemory "github.com/JakeFAU/crawl-registry/internal/publisher/memory"
	"github.com/JakeFAU/crawl-registry/internal/storage/memory"
	"github.com/JakeFAU/crawl-registry/internal/storage/redisstore"
)

func TestSubmitCreatesQueuedOngoingJob(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")

	job, err := h.coord.Submit(context.Background(), crawlSubmission("team-a"))
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, jobs.StatusQueued, job.Status)
	require.Equal(t, h.clock.Now(), job.CreatedAt)

	ongoing, err := h.index.ListOngoing(context.Background(), "team-a")
	require.NoError(t, err)
	require.Equal(t, []string{"job-1"}, ongoing)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "jobs-test", msgs[0].Topic)
	msg, ok := msgs[0].Payload.(DispatchMessage)
	require.True(t, ok)
	require.Equal(t, "job-1", msg.JobID)
	require.Equal(t, "https://example.com", msg.OriginURL)
}

func TestSubmitRejectsInvalidSubmission(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")

	cases := []Submission{
		{Kind: jobs.KindCrawl, OriginURL: "https://example.com"},
		{Kind: jobs.KindCrawl, TeamID: "team-a"},
		{Kind: jobs.KindBatchScrape, TeamID: "team-a"},
		{Kind: jobs.KindBatchScrape, TeamID: "team-a", URLs: []string{" "}},
		{Kind: jobs.KindResearch, TeamID: "team-a"},
		{Kind: "other", TeamID: "team-a"},
	}
	for i, sub := range cases {
		_, err := h.coord.Submit(context.Background(), sub)
		require.ErrorIs(t, err, ErrInvalidSubmission, "case %d", i)
	}
	require.Equal(t, 0, h.store.Len())
}

func TestSubmitDispatchFailureMarksJobFailed(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	h.coord.publisher = failingPublisher{err: errors.New("broker down")}

	job, err := h.coord.Submit(context.Background(), crawlSubmission("team-a"))
	require.Error(t, err)
	require.Equal(t, jobs.StatusFailed, job.Status)
	require.Contains(t, job.Error, "broker down")

	completed, err := h.index.ListCompleted(context.Background(), "team-a")
	require.NoError(t, err)
	require.Equal(t, []string{"job-1"}, completed)
}

func TestTransitionCompletedMovesToCompletedGroup(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)

	job, err := h.coord.Transition(ctx, "job-1", jobs.StatusRunning)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusRunning, job.Status)
	require.Nil(t, job.FinishedAt)

	h.clock.Advance(time.Minute)
	job, err = h.coord.Transition(ctx, "job-1", jobs.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, job.Status)
	require.NotNil(t, job.FinishedAt)
	require.Equal(t, h.clock.Now(), *job.FinishedAt)

	ongoing, _ := h.index.ListOngoing(ctx, "team-a")
	completed, _ := h.index.ListCompleted(ctx, "team-a")
	require.Empty(t, ongoing)
	require.Equal(t, []string{"job-1"}, completed)
}

func TestTransitionQueuedStraightToCompleted(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)

	job, err := h.coord.Transition(ctx, "job-1", jobs.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, job.Status)
	require.Equal(t, int32(1), h.index.moves.Load())
}

func TestTransitionIllegalIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)
	done, err := h.coord.Transition(ctx, "job-1", jobs.StatusCompleted)
	require.NoError(t, err)

	job, err := h.coord.Transition(ctx, "job-1", jobs.StatusRunning)
	require.NoError(t, err)
	require.Equal(t, done, job)

	job, err = h.coord.Fail(ctx, "job-1", "late failure")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, job.Status)
	require.Empty(t, job.Error)
	require.Equal(t, int32(1), h.index.moves.Load())
}

func TestTransitionRejectsUnwritableStatus(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)

	_, err = h.coord.Transition(ctx, "job-1", jobs.StatusCancelled)
	require.ErrorIs(t, err, ErrInvalidStatus)
	_, err = h.coord.Transition(ctx, "job-1", "paused")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestFailRecordsReason(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)

	job, err := h.coord.Fail(ctx, "job-1", "robots.txt disallowed")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, job.Status)
	require.Equal(t, "robots.txt disallowed", job.Error)

	completed, _ := h.index.ListCompleted(ctx, "team-a")
	require.Equal(t, []string{"job-1"}, completed)
}

func TestConcurrentDuplicateCompletionMovesOnce(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)
	_, err = h.coord.Transition(ctx, "job-1", jobs.StatusRunning)
	require.NoError(t, err)

	const deliveries = 32
	var wg sync.WaitGroup
	wg.Add(deliveries)
	for range deliveries {
		go func() {
			defer wg.Done()
			job, err := h.coord.Transition(ctx, "job-1", jobs.StatusCompleted)
			assert.NoError(t, err)
			assert.Equal(t, jobs.StatusCompleted, job.Status)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), h.index.moves.Load())
	completed, _ := h.index.ListCompleted(ctx, "team-a")
	require.Equal(t, []string{"job-1"}, completed)
}

func TestConcurrentCompletionAndCancelOnRedisMovesOnce(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// Contended WATCH transactions rerun the mutation; the retry budget
	// covers every writer below.
	store := redisstore.NewJobStore(client, redisstore.JobStoreConfig{Prefix: "coord:", MaxRetries: 1000})
	index := &countingIndex{OwnerIndex: redisstore.NewOwnerIndex(client, "coord:")}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	coord := New(store, index, pubmemory.New(), &fakeIDGen{ids: []string{"job-1"}}, clock,
		Config{Topic: "jobs-test"}, zap.NewNop())
	ctx := context.Background()

	_, err := coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)
	_, err = coord.Transition(ctx, "job-1", jobs.StatusRunning)
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(2 * writers)
	for range writers {
		go func() {
			defer wg.Done()
			job, err := coord.Transition(ctx, "job-1", jobs.StatusCompleted)
			assert.NoError(t, err)
			assert.Equal(t, jobs.StatusCompleted, job.Status)
		}()
		go func() {
			defer wg.Done()
			_, err := coord.Cancel(ctx, "job-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), index.moves.Load())
	ongoing, err := index.ListOngoing(ctx, "team-a")
	require.NoError(t, err)
	require.Empty(t, ongoing)
	completed, err := index.ListCompleted(ctx, "team-a")
	require.NoError(t, err)
	require.Equal(t, []string{"job-1"}, completed)

	job, err := coord.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, job.Status)
	require.True(t, job.Cancelled)
}

func TestCancelAfterCompletionKeepsRecord(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)
	_, err = h.coord.Transition(ctx, "job-1", jobs.StatusCompleted)
	require.NoError(t, err)

	job, err := h.coord.Cancel(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, job.Cancelled)
	require.NotNil(t, job.CancelledAt)

	got, err := h.coord.Get(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, got.Cancelled)
	require.Equal(t, jobs.StatusCompleted, got.Status)

	completed, _ := h.index.ListCompleted(ctx, "team-a")
	require.Equal(t, []string{"job-1"}, completed)
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)

	first, err := h.coord.Cancel(ctx, "job-1")
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	second, err := h.coord.Cancel(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, first.CancelledAt, second.CancelledAt)

	// A cancelled job still accepts worker reports.
	job, err := h.coord.Transition(ctx, "job-1", jobs.StatusRunning)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusRunning, job.Status)
	require.True(t, job.Cancelled)
}

func TestCancelOwnedHidesForeignJobs(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)

	_, err = h.coord.CancelOwned(ctx, "team-b", "job-1")
	require.ErrorIs(t, err, jobs.ErrNotFound)
	got, err := h.coord.Get(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, got.Cancelled)

	_, err = h.coord.GetOwned(ctx, "team-b", "job-1")
	require.ErrorIs(t, err, jobs.ErrNotFound)

	job, err := h.coord.CancelOwned(ctx, "team-a", "job-1")
	require.NoError(t, err)
	require.True(t, job.Cancelled)
}

func TestUnknownJobReportsNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness()
	ctx := context.Background()

	_, err := h.coord.Get(ctx, "missing")
	require.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = h.coord.Transition(ctx, "missing", jobs.StatusRunning)
	require.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = h.coord.Cancel(ctx, "missing")
	require.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = h.coord.ReportProgress(ctx, "missing", 1, nil)
	require.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestReportProgressIsMonotonic(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)

	job, err := h.coord.ReportProgress(ctx, "job-1", 3, nil)
	require.NoError(t, err)
	require.Equal(t, 3, job.CompletedCount)
	require.Nil(t, job.TotalCount)

	job, err = h.coord.ReportProgress(ctx, "job-1", 2, intPtr(10))
	require.NoError(t, err)
	require.Equal(t, 3, job.CompletedCount)
	require.Equal(t, 10, *job.TotalCount)

	job, err = h.coord.ReportProgress(ctx, "job-1", 12, intPtr(5))
	require.NoError(t, err)
	require.Equal(t, 12, job.CompletedCount)
	require.Equal(t, 12, *job.TotalCount)

	_, err = h.coord.ReportProgress(ctx, "job-1", -1, nil)
	require.ErrorIs(t, err, ErrInvalidProgress)
}

func TestReconcileRepairsSkew(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1", "job-2")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)
	_, err = h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)

	// job-2 finished but the index move was lost.
	_, err = h.store.Mutate(ctx, "job-2", func(j *jobs.Job) error {
		j.Status = jobs.StatusCompleted
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.index.AddOngoing(ctx, "team-a", "ghost"))
	require.NoError(t, h.index.AddOngoing(ctx, "team-a", "ghost-2"))
	require.NoError(t, h.index.MoveToCompleted(ctx, "team-a", "ghost-2"))

	report, err := h.coord.Reconcile(ctx, "team-a")
	require.NoError(t, err)
	require.Equal(t, 4, report.Checked, "a moved job is checked once")
	require.Equal(t, 2, report.Removed)
	require.Equal(t, 1, report.Moved)

	ongoing, _ := h.index.ListOngoing(ctx, "team-a")
	completed, _ := h.index.ListCompleted(ctx, "team-a")
	require.Equal(t, []string{"job-1"}, ongoing)
	require.Equal(t, []string{"job-2"}, completed)

	again, err := h.coord.Reconcile(ctx, "team-a")
	require.NoError(t, err)
	require.Equal(t, 2, again.Checked)
	require.Zero(t, again.Removed)
	require.Zero(t, again.Moved)
}

func TestTransitionSurfacesIndexFailure(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	ctx := context.Background()
	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)
	h.index.moveErr = jobs.ErrStoreUnavailable

	job, err := h.coord.Transition(ctx, "job-1", jobs.StatusCompleted)
	require.ErrorIs(t, err, jobs.ErrStoreUnavailable)
	require.Equal(t, jobs.StatusCompleted, job.Status)

	h.index.moveErr = nil
	report, err := h.coord.Reconcile(ctx, "team-a")
	require.NoError(t, err)
	require.Equal(t, 1, report.Moved)
}

// --- helpers/fakes ---

type harness struct {
	coord *Coordinator
	store *memory.JobStore
	index *countingIndex
	pub   *pubmemory.Publisher
	clock *fakeClock
}

func TestLifecycleEventsFollowAppliedChanges(t *testing.T) {
	t.Parallel()
	h := newHarness("job-1")
	rec := &recordingEmitter{}
	h.coord.cfg.Events = rec
	ctx := context.Background()

	_, err := h.coord.Submit(ctx, crawlSubmission("team-a"))
	require.NoError(t, err)
	_, err = h.coord.Transition(ctx, "job-1", jobs.StatusRunning)
	require.NoError(t, err)
	_, err = h.coord.Transition(ctx, "job-1", jobs.StatusRunning)
	require.NoError(t, err)
	_, err = h.coord.ReportProgress(ctx, "job-1", 2, intPtr(5))
	require.NoError(t, err)
	_, err = h.coord.ReportProgress(ctx, "job-1", 1, nil)
	require.NoError(t, err)
	_, err = h.coord.Cancel(ctx, "job-1")
	require.NoError(t, err)
	_, err = h.coord.Cancel(ctx, "job-1")
	require.NoError(t, err)
	_, err = h.coord.Transition(ctx, "job-1", jobs.StatusCompleted)
	require.NoError(t, err)

	got := rec.Events()
	require.Len(t, got, 5, "no-op writes must not emit")
	require.Equal(t, events.TypeSubmitted, got[0].Type)
	require.Equal(t, events.TypeStatus, got[1].Type)
	require.Equal(t, jobs.StatusQueued, got[1].From)
	require.Equal(t, jobs.StatusRunning, got[1].Status)
	require.Equal(t, events.TypeProgress, got[2].Type)
	require.Equal(t, 2, got[2].Completed)
	require.Equal(t, 5, *got[2].Total)
	require.Equal(t, events.TypeCancelled, got[3].Type)
	require.True(t, got[3].Cancelled)
	require.Equal(t, events.TypeStatus, got[4].Type)
	require.Equal(t, jobs.StatusCompleted, got[4].Status)
	for _, evt := range got {
		require.Equal(t, "job-1", evt.JobID)
		require.Equal(t, "team-a", evt.TeamID)
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func newHarness(ids ...string) *harness {
	store := memory.NewJobStore()
	index := &countingIndex{OwnerIndex: memory.NewOwnerIndex()}
	pub := pubmemory.New()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	coord := New(store, index, pub, &fakeIDGen{ids: ids}, clock, Config{Topic: "jobs-test"}, zap.NewNop())
	return &harness{coord: coord, store: store, index: index, pub: pub, clock: clock}
}

func crawlSubmission(team string) Submission {
	return Submission{
		Kind:      jobs.KindCrawl,
		TeamID:    team,
		OriginURL: "https://example.com",
		Options:   options.Canonical{Crawler: &options.CrawlerOptions{Limit: 10}},
	}
}

func intPtr(n int) *int { return &n }

type countingIndex struct {
	jobs.OwnerIndex
	moves   atomic.Int32
	moveErr error
}

func (c *countingIndex) MoveToCompleted(ctx context.Context, teamID, jobID string) error {
	if c.moveErr != nil {
		return c.moveErr
	}
	c.moves.Add(1)
	return c.OwnerIndex.MoveToCompleted(ctx, teamID, jobID)
}

type failingPublisher struct {
	err error
}

func (f failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", f.err
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	n   int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		f.n++
		return fmt.Sprintf("id-%d", f.n), nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
