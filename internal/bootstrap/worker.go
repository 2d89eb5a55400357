package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/bot"
	"github.com/sofrahq/sofra-gateway/internal/ratelimit"
	"github.com/sofrahq/sofra-gateway/internal/tenant"
)

const (
	// Parallelism bounds concurrent warm-ups.
	Parallelism = 5

	// TenantJobsPerMinute paces warm-ups so a burst of first contacts does
	// not hammer the merchant platform.
	TenantJobsPerMinute = 20

	// MaxAttempts per job; exhaustion is logged and dropped, never surfaced.
	MaxAttempts = 3

	baseBackoff = 2 * time.Second
	dequeueWait = time.Second
)

func tenantBucket(tenantID string) string {
	return "bootstrap:tenant:" + tenantID
}

// Worker drains the bootstrap queue and prefetches catalog data.
type Worker struct {
	queue   Queue
	tenants *tenant.Registry
	catalog bot.Catalog
	limiter ratelimit.Limiter

	parallel int
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewWorker(q Queue, tenants *tenant.Registry, catalog bot.Catalog, limiter ratelimit.Limiter) *Worker {
	return &Worker{
		queue:    q,
		tenants:  tenants,
		catalog:  catalog,
		limiter:  limiter,
		parallel: Parallelism,
		sleep:    sleepCtx,
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

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		job, ok, err := w.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("bootstrap dequeue failed")
			if w.sleep(ctx, time.Second) != nil {
				return
			}
			continue
		}
		if !ok {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	res, err := w.limiter.Check(ctx, tenantBucket(job.TenantID.String()), TenantJobsPerMinute)
	if err == nil && !res.Allowed {
		_ = w.queue.RequeueAfter(ctx, job, res.RetryIn)
		return
	}

	if err := w.warm(ctx, job); err != nil {
		job.Attempt++
		if job.Attempt >= MaxAttempts {
			log.Warn().Err(err).
				Str("tenantId", job.TenantID.String()).
				Msg("bootstrap gave up after retries")
			return
		}
		_ = w.queue.RequeueAfter(ctx, job, baseBackoff<<(job.Attempt-1))
	}
}

// warm prefetches the tenant's menu and branches. Fetching is the warming:
// catalog implementations cache what they return.
func (w *Worker) warm(ctx context.Context, job Job) error {
	t, err := w.tenants.Load(ctx, job.TenantID)
	if err != nil {
		return err
	}

	cats, err := w.catalog.Categories(ctx, t.MerchantID)
	if err != nil {
		return err
	}
	for _, c := range cats {
		if _, err := w.catalog.Items(ctx, t.MerchantID, c.ID); err != nil {
			return err
		}
	}
	if _, err := w.catalog.Branches(ctx, t.MerchantID); err != nil {
		return err
	}

	log.Debug().
		Str("tenantId", job.TenantID.String()).
		Str("customer", job.Customer).
		Int("categories", len(cats)).
		Msg("bootstrap warm-up complete")
	return nil
}
