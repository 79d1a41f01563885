package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/target/soc-core/internal/domain/model"
)

// Repository defines the persistence contract a Runner needs for
// ParsingJob rows: reservation with a lease, heartbeat renewal, and
// terminal-state transitions. InMemoryRepository is the only
// implementation; there is no Postgres-backed one.
type Repository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.ParsingJob, error)
	GetByID(ctx context.Context, id string) (*model.ParsingJob, error)
	ReserveNext(ctx context.Context, jobType model.JobType, lease time.Duration) (*model.ParsingJob, error)
	WaitForNotification(ctx context.Context, jobType model.JobType) error
	Heartbeat(ctx context.Context, id string, lease time.Duration) (bool, error)
	Complete(ctx context.Context, id string, eventsParsed int) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error)
}

// InMemoryRepository is a Repository backed by a priority Queue, used by
// tests and by any deployment mode that runs without Postgres wired up.
type InMemoryRepository struct {
	queue *Queue

	mu   sync.Mutex
	byID map[string]*model.ParsingJob
	seq  int
	now  func() time.Time
}

// NewInMemoryRepository builds a Repository over an internal Queue.
func NewInMemoryRepository(now func() time.Time) *InMemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &InMemoryRepository{
		queue: NewQueue(),
		byID:  make(map[string]*model.ParsingJob),
		now:   now,
	}
}

func (r *InMemoryRepository) Create(_ context.Context, req *model.CreateJobRequest) (*model.ParsingJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.seq++
	id := fmt.Sprintf("job-%d", r.seq)
	r.mu.Unlock()

	priority := req.Priority
	if priority == "" {
		priority = model.JobPriorityDefault
	}
	scheduledAt := r.now()
	if req.ScheduledAt != nil {
		scheduledAt = *req.ScheduledAt
	}
	job := &model.ParsingJob{
		ID:          id,
		Type:        req.Type,
		Status:      model.JobStatusQueued,
		Priority:    priority,
		Payload:     req.Payload,
		Metadata:    req.Metadata,
		SourceURI:   req.SourceURI,
		IsTest:      req.IsTest,
		ScheduledAt: scheduledAt,
		MaxRetries:  req.MaxRetries,
		CreatedAt:   r.now(),
		UpdatedAt:   r.now(),
	}

	r.mu.Lock()
	r.byID[id] = job
	r.mu.Unlock()
	r.queue.Push(job)
	return job, nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*model.ParsingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return job, nil
}

func (r *InMemoryRepository) ReserveNext(_ context.Context, jobType model.JobType, lease time.Duration) (*model.ParsingJob, error) {
	for {
		job, ok := r.queue.Pop()
		if !ok {
			return nil, model.ErrNoJobsAvailable
		}
		if job.Type != jobType {
			// Not our lane's job type; put it back and report unavailable
			// rather than spin, since a single-type Runner only wants its own.
			r.queue.Push(job)
			return nil, model.ErrNoJobsAvailable
		}
		r.mu.Lock()
		now := r.now()
		expires := now.Add(lease)
		job.Status = model.JobStatusRunning
		job.StartedAt = &now
		job.LeaseExpiresAt = &expires
		job.UpdatedAt = now
		r.mu.Unlock()
		return job, nil
	}
}

func (r *InMemoryRepository) WaitForNotification(ctx context.Context, _ model.JobType) error {
	return r.queue.Wait(ctx)
}

func (r *InMemoryRepository) Heartbeat(_ context.Context, id string, lease time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok {
		return false, fmt.Errorf("job %s not found", id)
	}
	expires := r.now().Add(lease)
	job.LeaseExpiresAt = &expires
	return true, nil
}

func (r *InMemoryRepository) Complete(_ context.Context, id string, eventsParsed int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok {
		return false, fmt.Errorf("job %s not found", id)
	}
	if job.Status.Terminal() {
		return false, nil
	}
	now := r.now()
	job.Status = model.JobStatusCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now
	job.EventsParsed = eventsParsed
	return true, nil
}

func (r *InMemoryRepository) Fail(_ context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[id]
	if !ok {
		return false, fmt.Errorf("job %s not found", id)
	}
	if job.Status.Terminal() {
		return false, nil
	}
	now := r.now()
	job.UpdatedAt = now
	job.LastError = &errMsg
	job.RetryCount++
	if job.RetryCount > job.MaxRetries {
		job.Status = model.JobStatusFailed
		job.CompletedAt = &now
		return true, nil
	}
	job.Status = model.JobStatusQueued
	job.StartedAt = nil
	job.LeaseExpiresAt = nil
	r.queue.Push(job)
	return true, nil
}

func (r *InMemoryRepository) Stats(_ context.Context, jobType model.JobType) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.JobStats{}
	for _, job := range r.byID {
		if job.Type != jobType {
			continue
		}
		switch job.Status {
		case model.JobStatusPending:
			stats.Pending++
		case model.JobStatusQueued:
			stats.Queued++
		case model.JobStatusRunning:
			stats.Running++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}
