package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Job is one unit of work. Jobs sharing a Key never run concurrently and are never
// queued twice; a second Submit for a busy key is refused.
type Job struct {
	Key string
	Run func(ctx context.Context) error
}

type Pool struct {
	jobs   chan Job
	logger *slog.Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

func NewPool(bufferSize int, logger *slog.Logger) *Pool {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		jobs:   make(chan Job, bufferSize),
		logger: logger,
		active: make(map[string]struct{}),
	}
}

func (p *Pool) Start(ctx context.Context, workerCount int) {
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		if ctx.Err() == nil {
			if err := job.Run(ctx); err != nil {
				p.logger.Error("worker job failed",
					"module", "worker.pool",
					"layer", "worker",
					"job_key", job.Key,
					"error", err,
				)
			}
		}
		p.mu.Lock()
		delete(p.active, job.Key)
		p.mu.Unlock()
	}
}

// Submit enqueues without blocking. It reports false when the buffer is full or
// a job with the same key is already queued or running.
func (p *Pool) Submit(job Job) bool {
	p.mu.Lock()
	if _, busy := p.active[job.Key]; busy {
		p.mu.Unlock()
		return false
	}
	p.active[job.Key] = struct{}{}
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return true
	default:
		p.mu.Lock()
		delete(p.active, job.Key)
		p.mu.Unlock()
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued ones to drain.
func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
}
