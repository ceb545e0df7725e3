package async

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned when submitting to a closed Queue.
var ErrQueueClosed = errors.New("queue is closed")

// Queue is a long-lived set of workers consuming submitted jobs in order.
type Queue struct {
	jobs   chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewQueue starts workers goroutines with room for backlog pending jobs.
func NewQueue(workers, backlog int) *Queue {
	if workers < 1 {
		workers = 1
	}
	q := &Queue{jobs: make(chan func(), backlog)}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				job()
			}
		}()
	}
	return q
}

// Submit enqueues job, blocking while the backlog is full.
func (q *Queue) Submit(job func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.jobs <- job
	return nil
}

// Close stops accepting jobs and waits for the pending ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
