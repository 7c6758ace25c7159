// Package worker provides a generic worker pool for concurrent task execution.
package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed by a worker.
type Job struct {
	// ID is an optional identifier for the job, used in logging
	ID string
	// Execute is the function to run
	Execute func(ctx context.Context) (interface{}, error)
}

// Result represents the outcome of a job execution.
type Result struct {
	JobID string
	Value interface{}
	Err   error
}

// Pool is a worker pool that processes jobs concurrently. It maintains a
// fixed number of worker goroutines pulling jobs from a queue.
type Pool struct {
	workers  int
	jobQueue chan Job
	results  chan Result
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewPool creates a new worker pool with the specified number of workers.
// Workers start immediately and wait for jobs.
func NewPool(ctx context.Context, workers int, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:  workers,
		jobQueue: make(chan Job, queueSize),
		results:  make(chan Result, queueSize),
		ctx:      poolCtx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// worker is the main worker goroutine loop.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			value, err := job.Execute(p.ctx)
			// Drop the result if nobody is reading
			select {
			case p.results <- Result{JobID: job.ID, Value: value, Err: err}:
			default:
			}
		}
	}
}

// Submit adds a job to the pool's queue. It blocks while the queue is full,
// until space frees up or the pool context is cancelled.
func (p *Pool) Submit(job Job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		return nil
	}
}

// SubmitAndWait submits multiple jobs and waits for all results.
// Results come back in completion order, not submission order.
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	for _, job := range jobs {
		if err := p.Submit(job); err != nil {
			break
		}
	}

	results := make([]Result, 0, len(jobs))
	for i := 0; i < len(jobs); i++ {
		select {
		case <-p.ctx.Done():
			return results
		case result := <-p.results:
			results = append(results, result)
		}
	}

	return results
}

// Results returns the results channel for consuming job outcomes.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close gracefully shuts down the pool: stops accepting new jobs and waits
// for all workers to finish.
func (p *Pool) Close() {
	p.cancel()
	close(p.jobQueue)
	p.wg.Wait()
	close(p.results)
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}
