package jobmanager

import (
	"sync"

	"github.com/sgrimes/folio/internal/models"
)

// queue is an in-memory FIFO of pending jobs with dedup on the job key, so
// repeated ledger mutations over the same range collapse into one rebuild.
type queue struct {
	mu      sync.Mutex
	jobs    []*models.Job
	pending map[string]bool
}

func newQueue() *queue {
	return &queue{pending: make(map[string]bool)}
}

// push enqueues the job unless an equivalent one is already pending.
// Reports whether the job was accepted.
func (q *queue) push(job *models.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := job.Key()
	if q.pending[key] {
		return false
	}
	q.pending[key] = true
	job.Status = models.JobStatusPending
	q.jobs = append(q.jobs, job)
	return true
}

// pop removes and returns the oldest pending job, or nil.
func (q *queue) pop() *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	delete(q.pending, job.Key())
	return job
}

func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
