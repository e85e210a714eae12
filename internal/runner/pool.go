package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Pool runs a fixed set of workers draining a job queue. Dispatch never
// blocks the caller: the HTTP handler hands off the job id and returns.
type Pool struct {
	runner    *Runner
	queue     chan uuid.UUID
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPool creates a Pool and starts its workers.
func NewPool(r *Runner, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	p := &Pool{
		runner: r,
		queue:  make(chan uuid.UUID, queueSize),
		done:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Dispatch enqueues a job for execution without blocking. If the queue is
// momentarily full the handoff moves to a goroutine, so the caller still
// returns immediately.
func (p *Pool) Dispatch(jobID uuid.UUID) {
	select {
	case p.queue <- jobID:
	default:
		go func() {
			select {
			case p.queue <- jobID:
			case <-p.done:
				slog.Warn("job dropped during shutdown", "job_id", jobID)
			}
		}()
	}
}

// Shutdown stops intake and waits for in-flight jobs to reach a terminal
// state. Jobs still queued are dropped; there is no durability guarantee
// across restarts.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case jobID := <-p.queue:
			p.runner.Run(context.Background(), jobID)
		}
	}
}
