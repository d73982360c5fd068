// Package jobmanager runs background snapshot work through an in-memory
// queue and a small processor pool.
package jobmanager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sgrimes/folio/internal/common"
	"github.com/sgrimes/folio/internal/interfaces"
	"github.com/sgrimes/folio/internal/models"
)

// Ensure Manager implements JobManager
var _ interfaces.JobManager = (*Manager)(nil)

// pollInterval is how long an idle processor sleeps between queue checks.
const pollInterval = 1 * time.Second

// Manager dequeues snapshot jobs and executes them against the snapshot
// service. Failed jobs are re-attempted up to their attempt limit.
type Manager struct {
	snapshot interfaces.SnapshotService
	logger   *common.Logger
	config   common.JobsConfig

	queue  *queue
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new job manager.
func NewManager(snapshot interfaces.SnapshotService, logger *common.Logger, config common.JobsConfig) *Manager {
	return &Manager{
		snapshot: snapshot,
		logger:   logger,
		config:   config,
		queue:    newQueue(),
	}
}

// safeGo launches a goroutine with panic recovery and logging.
func (m *Manager) safeGo(name string, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job manager goroutine")
			}
		}()
		fn()
	}()
}

// Submit enqueues a job unless an equivalent one is already pending.
func (m *Manager) Submit(job *models.Job) bool {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = m.config.GetMaxRetries()
	}
	accepted := m.queue.push(job)
	if accepted {
		m.logger.Debug().
			Str("type", job.Type).
			Str("start", models.DateString(job.StartDate)).
			Str("end", models.DateString(job.EndDate)).
			Int("queue_size", m.queue.size()).
			Msg("Job queued")
	}
	return accepted
}

// Start launches the processor pool. Safe to call multiple times; stops any
// existing pool first.
func (m *Manager) Start() {
	if m.cancel != nil {
		m.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	maxConc := m.config.GetMaxConcurrent()
	for i := 0; i < maxConc; i++ {
		name := fmt.Sprintf("processor-%d", i)
		m.safeGo(name, func() { m.processLoop(ctx) })
	}

	m.logger.Info().Int("max_concurrent", maxConc).Msg("Job manager started")
}

// Stop cancels the pool and waits for in-flight jobs to finish.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.wg.Wait()
	m.logger.Info().Msg("Job manager stopped")
}

// processLoop continuously dequeues and executes jobs.
func (m *Manager) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job := m.queue.pop()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		m.runJob(ctx, job)
	}
}

// runJob executes one job, requeueing it while attempts remain.
func (m *Manager) runJob(ctx context.Context, job *models.Job) {
	job.Status = models.JobStatusRunning
	job.Attempts++
	job.StartedAt = time.Now()

	err := m.execute(ctx, job)

	job.CompletedAt = time.Now()
	job.DurationMS = job.CompletedAt.Sub(job.StartedAt).Milliseconds()

	if err == nil {
		job.Status = models.JobStatusCompleted
		m.logger.Info().
			Str("type", job.Type).
			Int64("duration_ms", job.DurationMS).
			Msg("Job completed")
		return
	}

	if ctx.Err() != nil {
		job.Status = models.JobStatusCancelled
		return
	}

	job.Error = err.Error()
	if job.Attempts < job.MaxAttempts {
		m.logger.Warn().
			Err(err).
			Str("type", job.Type).
			Int("attempt", job.Attempts).
			Int("max_attempts", job.MaxAttempts).
			Msg("Job failed, requeueing")
		m.queue.push(job)
		return
	}

	job.Status = models.JobStatusFailed
	m.logger.Error().
		Err(err).
		Str("type", job.Type).
		Int("attempts", job.Attempts).
		Msg("Job failed permanently")
}

// execute dispatches a job to the snapshot service.
func (m *Manager) execute(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobTypeSnapshotDate:
		_, err := m.snapshot.CreateForDate(ctx, job.StartDate)
		return err
	case models.JobTypeSnapshotBackfill:
		_, err := m.snapshot.Backfill(ctx, job.StartDate, job.EndDate)
		return err
	case models.JobTypeFillMissing:
		_, err := m.snapshot.FillMissing(ctx)
		return err
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}
