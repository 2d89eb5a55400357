// Package events fans out gateway events to per-tenant pub/sub channels.
// The core only publishes; dashboard consumers subscribe out of process.
// Delivery is at-least-once, ordered per channel per publisher.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Event types on the wire.
const (
	TypeMessageReceived     = "message.received"
	TypeMessageSent         = "message.sent"
	TypeMessageFailed       = "message.failed"
	TypeConversationUpdated = "conversation.updated"
	TypeOrderUpdated        = "order.updated"
	TypeBotStatus           = "bot.status"
	TypeQuotaExceeded       = "quota.exceeded"
	TypeAdminInvalidate     = "admin.invalidate"
)

// Channel names. Tenant-scoped channels carry the tenant id suffix.

func MessageChannel(tenantID string) string      { return "msg:" + tenantID }
func OrderChannel(tenantID string) string        { return "order:" + tenantID }
func ConversationChannel(tenantID string) string { return "conv:" + tenantID }

const (
	BotStatusChannel = "bot.status"
	AdminChannel     = "admin.invalidate"
)

// Event is the JSON envelope published to every channel.
type Event struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenantId,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// Bus publishes events and hands out subscriptions.
type Bus interface {
	Publish(ctx context.Context, channel string, evt Event) error
	Subscribe(ctx context.Context, channel string) (<-chan Event, func())
}

// NewEvent marshals data into an envelope. Marshal failures are logged and
// produce an empty data payload rather than dropping the event.
func NewEvent(typ, tenantID string, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("failed to marshal event data")
		raw = []byte("{}")
	}
	return Event{Type: typ, TenantID: tenantID, Data: raw}
}

// RedisBus implements Bus over Redis PUBLISH/SUBSCRIBE.
type RedisBus struct {
	rdb *redis.Client
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan Event, func()) {
	sub := b.rdb.Subscribe(ctx, channel)
	out := make(chan Event, 64)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("dropping malformed event")
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}

// MemoryBus is a process-local Bus for tests and single-node dev. Published
// events are also retained per channel so tests can assert on them.
type MemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	published map[string][]Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:      make(map[string][]chan Event),
		published: make(map[string][]Event),
	}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, evt Event) error {
	b.mu.Lock()
	b.published[channel] = append(b.published[channel], evt)
	subs := append([]chan Event(nil), b.subs[channel]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber; at-least-once is to the transport, not to a
			// stalled consumer.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, c := range list {
			if c == ch {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Published returns the events published to channel, in order. Test hook.
func (b *MemoryBus) Published(channel string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.published[channel]...)
}
