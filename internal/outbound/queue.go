// Package outbound queues and delivers tenant-to-customer messages: FIFO per
// conversation, capped per tenant, retried with backoff and dead-lettered
// when the provider gives up.
package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

// Job is one outbound message waiting to be delivered.
type Job struct {
	RequestID      string                    `json:"requestId"` // caller-supplied idempotency key
	TenantID       uuid.UUID                 `json:"tenantId"`
	ConversationID uuid.UUID                 `json:"conversationId"`
	Customer       string                    `json:"customer"` // canonical +E164
	Channel        model.Channel             `json:"channel"`
	Kind           model.Kind                `json:"kind"`
	Body           string                    `json:"body,omitempty"`
	MediaURL       string                    `json:"mediaUrl,omitempty"`
	Template       *model.TemplateDescriptor `json:"template,omitempty"`
	Attempt        int                       `json:"attempt"`
	EnqueuedAt     time.Time                 `json:"enqueuedAt"`
}

// DeadLetter is a job that exhausted its retries, kept for inspection.
type DeadLetter struct {
	Job      Job       `json:"job"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failedAt"`
}

// Queue is the durable outbound job queue. Enqueue is idempotent on
// RequestID: a repeat enqueue of the same request id is a no-op with
// enqueued=false. Dequeue blocks up to wait and returns ok=false on timeout.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (enqueued bool, err error)
	Dequeue(ctx context.Context, wait time.Duration) (Job, bool, error)
	// RequeueAfter puts the job back for redelivery no sooner than delay.
	RequeueAfter(ctx context.Context, job Job, delay time.Duration) error
	Bury(ctx context.Context, job Job, reason string) error
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	Depth(ctx context.Context) (int64, error)
}
