// Package async runs work on bounded sets of goroutines.
package async

import (
	"context"
	"sync"
)

// Task is a named unit of work run by a Pool.
type Task struct {
	Name    string
	Execute func(ctx context.Context) (any, error)
}

// Result is the outcome of a Task.
type Result struct {
	Name string
	Data any
	Err  error
}

// Pool fans a batch of tasks out to a fixed number of workers.
type Pool struct {
	workerCount int
}

// NewPool creates a pool running at most workerCount tasks at once.
func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

// Execute runs tasks and returns their results keyed by task name. Tasks not
// started before ctx is done are missing from the result.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	queue := make(chan Task)
	results := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				data, err := task.Execute(ctx)
				results <- Result{Name: task.Name, Data: data, Err: err}
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, task := range tasks {
			select {
			case queue <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)

	out := make(map[string]Result, len(tasks))
	for result := range results {
		out[result.Name] = result
	}
	return out
}
