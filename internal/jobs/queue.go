// Package jobs implements the priority-laned work queue and handlers that
// turn ParsingJob rows into parsed, normalized, and indexed evidence.
package jobs

import (
	"context"
	"sync"

	"github.com/target/soc-core/internal/domain/model"
)

var priorityOrder = []model.JobPriority{model.JobPriorityHigh, model.JobPriorityDefault, model.JobPriorityLow}

// Queue is an in-memory, priority-laned FIFO backing InMemoryRepository,
// which the parsing and index workers use; lanes are drained in strict
// high/default/low precedence.
type Queue struct {
	mu     sync.Mutex
	notify chan struct{}
	lanes  map[model.JobPriority][]*model.ParsingJob
}

// NewQueue builds an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		lanes:  make(map[model.JobPriority][]*model.ParsingJob, len(priorityOrder)),
	}
}

// Push enqueues a job into its priority lane.
func (q *Queue) Push(job *model.ParsingJob) {
	priority := job.Priority
	if !priority.Valid() {
		priority = model.JobPriorityDefault
	}
	q.mu.Lock()
	q.lanes[priority] = append(q.lanes[priority], job)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop returns the next job across lanes in high/default/low precedence,
// or (nil, false) if every lane is empty.
func (q *Queue) Pop() (*model.ParsingJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, priority := range priorityOrder {
		lane := q.lanes[priority]
		if len(lane) == 0 {
			continue
		}
		job := lane[0]
		q.lanes[priority] = lane[1:]
		return job, true
	}
	return nil, false
}

// Wait blocks until a job is pushed or ctx is canceled.
func (q *Queue) Wait(ctx context.Context) error {
	select {
	case <-q.notify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the total number of queued jobs across all lanes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, lane := range q.lanes {
		total += len(lane)
	}
	return total
}
