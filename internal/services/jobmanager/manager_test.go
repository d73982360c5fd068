package jobmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/models"
)

// stubSnapshot counts executions per job type.
type stubSnapshot struct {
	mu        sync.Mutex
	dates     int
	backfills int
	fills     int
	fail      int // fail this many executions before succeeding
}

func (s *stubSnapshot) CreateForDate(ctx context.Context, date time.Time) (int, error) {
	return 1, s.record(&s.dates)
}

func (s *stubSnapshot) Backfill(ctx context.Context, start, end time.Time) (int, error) {
	return 1, s.record(&s.backfills)
}

func (s *stubSnapshot) FillMissing(ctx context.Context) (int, error) {
	return 1, s.record(&s.fills)
}

func (s *stubSnapshot) InvalidateFrom(ctx context.Context, date time.Time) error { return nil }

func (s *stubSnapshot) record(counter *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*counter++
	if s.fail > 0 {
		s.fail--
		return errors.New("transient failure")
	}
	return nil
}

func (s *stubSnapshot) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dates, s.backfills, s.fills
}

func newTestManager(snap *stubSnapshot) *Manager {
	return NewManager(snap, common.NewSilentLogger(), common.JobsConfig{MaxConcurrent: 2, MaxRetries: 3})
}

func backfillJob(id string) *models.Job {
	return &models.Job{
		ID:        id,
		Type:      models.JobTypeSnapshotBackfill,
		StartDate: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC),
		CreatedAt: time.Now(),
	}
}

func TestSubmit_DedupsEquivalentJobs(t *testing.T) {
	m := newTestManager(&stubSnapshot{})

	require.True(t, m.Submit(backfillJob("a")))
	require.False(t, m.Submit(backfillJob("b")), "same type and range must coalesce")
	require.Equal(t, 1, m.queue.size())

	// A different range is a different job.
	other := backfillJob("c")
	other.EndDate = other.EndDate.AddDate(0, 0, 1)
	require.True(t, m.Submit(other))
	require.Equal(t, 2, m.queue.size())
}

func TestSubmit_AcceptsAgainAfterDequeue(t *testing.T) {
	m := newTestManager(&stubSnapshot{})

	require.True(t, m.Submit(backfillJob("a")))
	require.NotNil(t, m.queue.pop())
	require.True(t, m.Submit(backfillJob("b")), "dedup applies only while pending")
}

func TestRunJob_Dispatch(t *testing.T) {
	snap := &stubSnapshot{}
	m := newTestManager(snap)
	ctx := context.Background()

	m.runJob(ctx, backfillJob("a"))
	m.runJob(ctx, &models.Job{ID: "b", Type: models.JobTypeFillMissing})
	m.runJob(ctx, &models.Job{ID: "c", Type: models.JobTypeSnapshotDate, StartDate: time.Now()})

	dates, backfills, fills := snap.counts()
	require.Equal(t, 1, dates)
	require.Equal(t, 1, backfills)
	require.Equal(t, 1, fills)
}

func TestRunJob_CompletedJobCarriesTiming(t *testing.T) {
	m := newTestManager(&stubSnapshot{})

	job := backfillJob("a")
	job.MaxAttempts = 1
	m.runJob(context.Background(), job)

	require.Equal(t, models.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.False(t, job.StartedAt.IsZero())
	require.False(t, job.CompletedAt.IsZero())
}

func TestRunJob_RequeuesUntilAttemptsExhausted(t *testing.T) {
	snap := &stubSnapshot{fail: 10}
	m := newTestManager(snap)
	ctx := context.Background()

	job := backfillJob("a")
	job.MaxAttempts = 3
	m.runJob(ctx, job)

	// Failed but attempts remain: job went back on the queue.
	requeued := m.queue.pop()
	require.NotNil(t, requeued)
	require.Equal(t, 1, requeued.Attempts)

	m.runJob(ctx, requeued)
	m.runJob(ctx, m.queue.pop())

	require.Equal(t, models.JobStatusFailed, requeued.Status)
	require.Nil(t, m.queue.pop(), "no requeue after the attempt limit")
}

func TestRunJob_RecoversAfterTransientFailure(t *testing.T) {
	snap := &stubSnapshot{fail: 1}
	m := newTestManager(snap)
	ctx := context.Background()

	job := backfillJob("a")
	job.MaxAttempts = 3
	m.runJob(ctx, job)
	retried := m.queue.pop()
	require.NotNil(t, retried)

	m.runJob(ctx, retried)
	require.Equal(t, models.JobStatusCompleted, retried.Status)
	require.Equal(t, 2, retried.Attempts)
}

func TestRunJob_UnknownType(t *testing.T) {
	m := newTestManager(&stubSnapshot{})

	job := &models.Job{ID: "x", Type: "mystery", MaxAttempts: 1}
	m.runJob(context.Background(), job)

	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, "unknown job type")
}

func TestStartStop_ProcessesQueuedJobs(t *testing.T) {
	snap := &stubSnapshot{}
	m := newTestManager(snap)

	require.True(t, m.Submit(backfillJob("a")))
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		_, backfills, _ := snap.counts()
		return backfills == 1
	}, 5*time.Second, 10*time.Millisecond)
}
