// Package bootstrap pre-warms tenant data on a customer's first contact:
// menu categories, items and branches are fetched in the background so the
// first real browse hits warm caches. Failures retry quietly and never reach
// the customer.
package bootstrap

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job is one first-contact prefetch request.
type Job struct {
	TenantID       uuid.UUID `json:"tenantId"`
	ConversationID uuid.UUID `json:"conversationId"`
	Customer       string    `json:"customer"`
	Attempt        int       `json:"attempt"`
}

// Queue carries bootstrap jobs between processes. Enqueue dedupes per
// (tenant, customer) for a day; repeat warm-ups are cheap but pointless.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context, wait time.Duration) (Job, bool, error)
	RequeueAfter(ctx context.Context, job Job, delay time.Duration) error
}

// Trigger adapts the queue to the state machine's warm-up hook.
type Trigger struct {
	q Queue
}

func NewTrigger(q Queue) *Trigger {
	return &Trigger{q: q}
}

func (t *Trigger) WarmUp(ctx context.Context, tenantID, conversationID uuid.UUID, customer string) error {
	return t.q.Enqueue(ctx, Job{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Customer:       customer,
	})
}
