package adaptive

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// WorkerPool drains a FairQueue with up to concurrency tasks in
// flight at once. It polls the queue at pollInterval rather than
// busy-looping, since Redis has no blocking multi-key pop primitive
// that preserves the round-robin cursor FairQueue keeps client-side.
type WorkerPool struct {
	queue        *FairQueue
	concurrency  int64
	pollInterval time.Duration
	handle       func(ctx context.Context, task Task)
}

// NewWorkerPool builds a WorkerPool over queue. concurrency <= 0
// defaults to 1; pollInterval <= 0 defaults to 50ms.
func NewWorkerPool(queue *FairQueue, concurrency int, pollInterval time.Duration, handle func(ctx context.Context, task Task)) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &WorkerPool{queue: queue, concurrency: int64(concurrency), pollInterval: pollInterval, handle: handle}
}

// Run drains the queue until ctx is cancelled. On cancellation,
// in-flight tasks are given up to drainTimeout to finish on their own
// context before that context is cancelled too, so a task blocked on
// I/O is only cut off cooperatively and only after the drain window
// (spec 4.7's T_drain).
func (p *WorkerPool) Run(ctx context.Context, drainTimeout time.Duration) {
	sem := semaphore.NewWeighted(p.concurrency)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	var inFlight sync.WaitGroup

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			for sem.TryAcquire(1) {
				task, ok, err := p.queue.Pop(ctx)
				if err != nil || !ok {
					sem.Release(1)
					break
				}
				inFlight.Add(1)
				go func(t Task) {
					defer sem.Release(1)
					defer inFlight.Done()
					p.handle(workCtx, t)
				}(task)
			}
		}
	}

	drainTimer := time.AfterFunc(drainTimeout, cancelWork)
	defer drainTimer.Stop()

	done := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(done)
	}()
	<-done
}
