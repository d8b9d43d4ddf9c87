package scheduler

import (
	"sort"
	"sync"
	"time"

	"SendWave/internal/metrics"
	"SendWave/internal/models"
)

// ActiveJob is a point-in-time view of a job this instance is working on.
type ActiveJob struct {
	ID         int64     `json:"id"`
	OwnerID    int64     `json:"owner_id"`
	Recipients int       `json:"recipients"`
	StartIndex int       `json:"start_index"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// ActiveJobs is a process-local, best-effort view of in-flight jobs for
// observability. It is never consulted for correctness; the persisted
// processing lock is the source of truth.
type ActiveJobs struct {
	mu   sync.RWMutex
	jobs map[int64]ActiveJob
}

func NewActiveJobs() *ActiveJobs {
	return &ActiveJobs{jobs: make(map[int64]ActiveJob)}
}

func (a *ActiveJobs) Add(job *models.Job) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs[job.ID] = ActiveJob{
		ID:         job.ID,
		OwnerID:    job.OwnerID,
		Recipients: len(job.Recipients),
		StartIndex: job.Current,
		ClaimedAt:  time.Now(),
	}
	metrics.ActiveJobs.Set(float64(len(a.jobs)))
}

func (a *ActiveJobs) Remove(jobID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.jobs, jobID)
	metrics.ActiveJobs.Set(float64(len(a.jobs)))
}

func (a *ActiveJobs) Contains(jobID int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.jobs[jobID]
	return ok
}

func (a *ActiveJobs) Snapshot() []ActiveJob {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ActiveJob, 0, len(a.jobs))
	for _, j := range a.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}
