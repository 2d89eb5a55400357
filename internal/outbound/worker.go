package outbound

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/events"
	"github.com/sofrahq/sofra-gateway/internal/metrics"
	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/provider"
	"github.com/sofrahq/sofra-gateway/internal/ratelimit"
	"github.com/sofrahq/sofra-gateway/internal/store"
	"github.com/sofrahq/sofra-gateway/internal/tenant"
)

const (
	// PoolSize is the global number of concurrent sends.
	PoolSize = 10

	// TenantCap bounds concurrent sends per tenant so one noisy tenant
	// cannot drain the pool.
	TenantCap = 5

	// MaxAttempts is the total number of send attempts per job.
	MaxAttempts = 3

	baseBackoff  = 5 * time.Second
	dequeueWait  = time.Second
	requeueDelay = 10 * time.Second
)

// Worker drains the queue and delivers jobs. A conversation has at most one
// job in flight, so queue order is delivery order per conversation; jobs that
// cannot run yet wait in an in-process buffer in arrival order.
type Worker struct {
	queue   Queue
	tenants *tenant.Registry
	sender  provider.Sender
	store   store.Store
	limiter ratelimit.Limiter
	bus     events.Bus

	poolSize  int
	tenantCap int

	// sleep and jitter are swapped out in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64

	mu       sync.Mutex
	busyConv map[uuid.UUID]bool
	inFlight map[uuid.UUID]int
	waiting  []Job
	// waitingConv counts buffered jobs per conversation. A conversation with
	// a buffered job must never have a later job admitted ahead of it, even
	// when the buffered one is only waiting on the tenant cap.
	waitingConv map[uuid.UUID]int

	jobs chan Job
}

func NewWorker(q Queue, tenants *tenant.Registry, sender provider.Sender, st store.Store, limiter ratelimit.Limiter, bus events.Bus) *Worker {
	return &Worker{
		queue:       q,
		tenants:     tenants,
		sender:      sender,
		store:       st,
		limiter:     limiter,
		bus:         bus,
		poolSize:    PoolSize,
		tenantCap:   TenantCap,
		sleep:       sleepCtx,
		jitter:      rand.Float64,
		busyConv:    make(map[uuid.UUID]bool),
		inFlight:    make(map[uuid.UUID]int),
		waitingConv: make(map[uuid.UUID]int),
		jobs:        make(chan Job),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the wait before the next attempt: 5s doubled per attempt,
// with a ±20% jitter so retries from many jobs spread out.
func (w *Worker) backoff(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	scale := 0.8 + 0.4*w.jitter()
	return time.Duration(float64(d) * scale)
}

// Run blocks until ctx is cancelled, then drains in-flight sends and
// requeues anything still buffered.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range w.jobs {
				w.deliver(ctx, job)
				w.release(ctx, job)
			}
		}()
	}

	w.dispatch(ctx)
	close(w.jobs)
	wg.Wait()
	w.requeueWaiting()
}

func (w *Worker) dispatch(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok, err := w.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("outbound dequeue failed")
			if w.sleep(ctx, time.Second) != nil {
				return
			}
			continue
		}
		if !ok {
			continue
		}
		if depth, err := w.queue.Depth(ctx); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}
		w.admit(ctx, job)
	}
}

// admit reserves slots for the job or buffers it. A job runs only when its
// conversation has nothing in flight AND nothing buffered; otherwise it joins
// the buffer in arrival order, which is what preserves per-conversation FIFO.
func (w *Worker) admit(ctx context.Context, job Job) {
	w.mu.Lock()
	if w.waitingConv[job.ConversationID] == 0 && w.canRun(job) {
		w.reserve(job)
		w.mu.Unlock()
		select {
		case w.jobs <- job:
		case <-ctx.Done():
			w.releaseSlots(job)
			_ = w.queue.RequeueAfter(context.Background(), job, 0)
		}
		return
	}
	w.waiting = append(w.waiting, job)
	w.waitingConv[job.ConversationID]++
	w.mu.Unlock()
}

func (w *Worker) canRun(job Job) bool {
	return !w.busyConv[job.ConversationID] && w.inFlight[job.TenantID] < w.tenantCap
}

func (w *Worker) reserve(job Job) {
	w.busyConv[job.ConversationID] = true
	w.inFlight[job.TenantID]++
	metrics.TenantInFlight.WithLabelValues(job.TenantID.String()).Inc()
}

func (w *Worker) freeLocked(job Job) {
	delete(w.busyConv, job.ConversationID)
	if w.inFlight[job.TenantID]--; w.inFlight[job.TenantID] <= 0 {
		delete(w.inFlight, job.TenantID)
	}
	metrics.TenantInFlight.WithLabelValues(job.TenantID.String()).Dec()
}

func (w *Worker) releaseSlots(job Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.freeLocked(job)
}

// release frees the job's slots and promotes the first buffered job that can
// now run. Freeing and promoting share one critical section so a concurrent
// admit can never slip a later job in between.
func (w *Worker) release(ctx context.Context, done Job) {
	w.mu.Lock()
	w.freeLocked(done)
	var next *Job
	for i, j := range w.waiting {
		if w.canRun(j) {
			job := j
			next = &job
			w.waiting = append(w.waiting[:i], w.waiting[i+1:]...)
			if w.waitingConv[job.ConversationID]--; w.waitingConv[job.ConversationID] <= 0 {
				delete(w.waitingConv, job.ConversationID)
			}
			w.reserve(job)
			break
		}
	}
	w.mu.Unlock()

	if next != nil {
		select {
		case w.jobs <- *next:
		case <-ctx.Done():
			w.releaseSlots(*next)
			_ = w.queue.RequeueAfter(context.Background(), *next, 0)
		}
	}
}

func (w *Worker) requeueWaiting() {
	w.mu.Lock()
	waiting := w.waiting
	w.waiting = nil
	w.waitingConv = make(map[uuid.UUID]int)
	w.mu.Unlock()
	for _, job := range waiting {
		if err := w.queue.RequeueAfter(context.Background(), job, 0); err != nil {
			log.Error().Err(err).Str("requestId", job.RequestID).Msg("failed to requeue on shutdown")
		}
	}
}

// deliver runs the full attempt loop for one job: pacing, send, retry with
// backoff, dead-letter. Pacing denials wait out the window without counting
// as attempts.
func (w *Worker) deliver(ctx context.Context, job Job) {
	// Retry tenant loads in place. The job keeps its conversation slot while
	// it waits, so later jobs of the conversation cannot overtake it the way
	// a requeue through the shared delayed set would let them.
	t, err := w.tenants.Load(ctx, job.TenantID)
	for err != nil {
		log.Error().Err(err).Str("tenantId", job.TenantID.String()).Msg("cannot load tenant for send")
		if w.sleep(ctx, requeueDelay) != nil {
			_ = w.queue.RequeueAfter(context.Background(), job, 0)
			return
		}
		t, err = w.tenants.Load(ctx, job.TenantID)
	}
	if !t.Active {
		w.bury(ctx, job, "tenant inactive")
		return
	}

	for {
		res, err := w.limiter.Check(ctx, ratelimit.TenantOutboundBucket(t.ID.String()), t.Limits.PerMinute)
		if err != nil {
			// Fail open: a limiter outage must not stop deliveries.
			log.Warn().Err(err).Msg("outbound pacing check failed")
			res = ratelimit.Result{Allowed: true}
		}
		if !res.Allowed {
			wait := res.RetryIn + time.Duration(float64(time.Second)*w.jitter())
			if w.sleep(ctx, wait) != nil {
				_ = w.queue.RequeueAfter(context.Background(), job, 0)
				return
			}
			continue
		}

		job.Attempt++
		metrics.OutboundAttempts.WithLabelValues(t.ID.String(), string(job.Channel)).Inc()

		result, err := w.sender.Send(ctx, t.ProviderAccount, t.ProviderSecret, provider.SendRequest{
			From:     t.SenderAddress,
			To:       job.Customer,
			Channel:  job.Channel,
			Body:     job.Body,
			MediaURL: job.MediaURL,
			Template: job.Template,
		})
		if err == nil {
			w.persistSent(ctx, t, job, result)
			return
		}

		if !provider.IsTransient(err) {
			log.Warn().Err(err).Str("requestId", job.RequestID).Msg("terminal send failure")
			w.bury(ctx, job, err.Error())
			return
		}
		if job.Attempt >= MaxAttempts {
			log.Error().Err(err).Str("requestId", job.RequestID).Int("attempts", job.Attempt).Msg("retries exhausted")
			w.bury(ctx, job, "retries exhausted: "+err.Error())
			return
		}

		metrics.OutboundRetries.Inc()
		if w.sleep(ctx, w.backoff(job.Attempt)) != nil {
			// Shutting down mid-retry: hand the job back with its attempt
			// count so the next process picks up where we left off.
			_ = w.queue.RequeueAfter(context.Background(), job, 0)
			return
		}
	}
}

func (w *Worker) persistSent(ctx context.Context, t *model.Tenant, job Job, result provider.SendResult) {
	msg, _, err := w.store.CreateOutbound(ctx, store.OutboundMessage{
		TenantID:       job.TenantID,
		ConversationID: job.ConversationID,
		ProviderID:     result.ProviderID,
		Channel:        job.Channel,
		Kind:           job.Kind,
		Body:           job.Body,
		MediaURL:       job.MediaURL,
		Template:       job.Template,
	})
	if err != nil {
		// The provider accepted the message; losing the row is worse than a
		// duplicate event, so log loudly and move on.
		log.Error().Err(err).Str("providerId", result.ProviderID).Msg("failed to persist sent message")
		return
	}

	evt := events.NewEvent(events.TypeMessageSent, t.ID.String(), map[string]any{
		"messageId":  msg.ID.String(),
		"providerId": result.ProviderID,
		"customer":   job.Customer,
		"channel":    job.Channel,
	})
	if err := w.bus.Publish(ctx, events.MessageChannel(t.ID.String()), evt); err != nil {
		log.Warn().Err(err).Msg("failed to publish message.sent")
	}
}

func (w *Worker) bury(ctx context.Context, job Job, reason string) {
	metrics.OutboundDeadLetters.WithLabelValues(job.TenantID.String()).Inc()
	if err := w.queue.Bury(ctx, job, reason); err != nil {
		log.Error().Err(err).Str("requestId", job.RequestID).Msg("failed to dead-letter job")
	}
	evt := events.NewEvent(events.TypeMessageFailed, job.TenantID.String(), map[string]any{
		"requestId": job.RequestID,
		"customer":  job.Customer,
		"reason":    reason,
	})
	if err := w.bus.Publish(ctx, events.MessageChannel(job.TenantID.String()), evt); err != nil {
		log.Warn().Err(err).Msg("failed to publish message.failed")
	}
}
