package bootstrap

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is a process-local Queue for tests and single-node dev.
type MemoryQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     func() time.Time
	ready   []Job
	delayed []delayedJob
	seen    map[string]struct{}
}

type delayedJob struct {
	job     Job
	readyAt time.Time
}

func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{
		now:  time.Now,
		seen: make(map[string]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetClock overrides the time source. Test hook.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
	q.cond.Broadcast()
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := seenKey(job)
	if _, dup := q.seen[key]; dup {
		return nil
	}
	q.seen[key] = struct{}{}
	q.ready = append(q.ready, job)
	q.cond.Broadcast()
	return nil
}

func (q *MemoryQueue) promote() {
	now := q.now()
	kept := q.delayed[:0]
	for _, d := range q.delayed {
		if !d.readyAt.After(now) {
			q.ready = append(q.ready, d.job)
		} else {
			kept = append(kept, d)
		}
	}
	q.delayed = kept
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (Job, bool, error) {
	deadline := time.Now().Add(wait)
	timer := time.AfterFunc(wait, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		q.promote()
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			return job, true, nil
		}
		if ctx.Err() != nil {
			return Job{}, false, ctx.Err()
		}
		if !time.Now().Before(deadline) {
			return Job{}, false, nil
		}
		q.cond.Wait()
	}
}

func (q *MemoryQueue) RequeueAfter(_ context.Context, job Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if delay <= 0 {
		q.ready = append(q.ready, job)
	} else {
		q.delayed = append(q.delayed, delayedJob{job: job, readyAt: q.now().Add(delay)})
	}
	q.cond.Broadcast()
	return nil
}

// Pending returns the number of queued jobs. Test hook.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.delayed)
}
