// Package send is the single entry point for outbound messages. It picks the
// delivery channel from the messaging window, parks freeform payloads behind
// template fallbacks, and enqueues the job for the worker.
package send

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/outbound"
	"github.com/sofrahq/sofra-gateway/internal/window"
)

// Templates are the pre-approved descriptors the service falls back to.
// Notify carries two variables: the tenant display name and a short teaser.
type Templates struct {
	Welcome model.TemplateDescriptor
	Notify  model.TemplateDescriptor
}

// Request is one outbound message from the bot or the send API.
type Request struct {
	Tenant         *model.Tenant
	ConversationID uuid.UUID
	Customer       string // canonical +E164
	Body           string
	MediaURL       string
	// ForceFreeform bypasses channel selection. Button-response handlers set
	// it: the click itself reopened the window.
	ForceFreeform bool
	// RequestID makes the enqueue idempotent when the caller retries.
	// Empty means generate one.
	RequestID         string
	TemplateVariables map[string]string
}

// Receipt reports how the message left.
type Receipt struct {
	RequestID string
	Channel   model.Channel
	Enqueued  bool
}

type Service struct {
	queue     outbound.Queue
	keeper    *window.Keeper
	templates Templates
}

func NewService(q outbound.Queue, keeper *window.Keeper, templates Templates) *Service {
	return &Service{queue: q, keeper: keeper, templates: templates}
}

// Send enqueues the message on the channel the window allows. Outside the
// window the body is parked in the cache and a notify template goes out in
// its place; the customer gets the parked body when they tap the template's
// button.
func (s *Service) Send(ctx context.Context, req Request) (Receipt, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	channel := model.ChannelFreeform
	if !req.ForceFreeform {
		var err error
		channel, err = s.keeper.PickChannel(ctx, req.Tenant.ID, req.Customer)
		if err != nil {
			return Receipt{}, err
		}
	}

	job := outbound.Job{
		RequestID:      req.RequestID,
		TenantID:       req.Tenant.ID,
		ConversationID: req.ConversationID,
		Customer:       req.Customer,
		Channel:        channel,
		Kind:           model.KindText,
		Body:           req.Body,
		MediaURL:       req.MediaURL,
		EnqueuedAt:     time.Now().UTC(),
	}

	if channel == model.ChannelTemplate {
		if err := s.keeper.Park(ctx, req.Tenant.ID, req.Customer, req.Body, req.MediaURL); err != nil {
			return Receipt{}, err
		}
		desc := s.templates.Notify
		desc.Variables = map[string]string{"1": req.Tenant.Name}
		for k, v := range req.TemplateVariables {
			desc.Variables[k] = v
		}
		job.Kind = model.KindTemplate
		job.Body = ""
		job.MediaURL = ""
		job.Template = &desc
	}

	enqueued, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return Receipt{}, err
	}
	if !enqueued {
		log.Debug().Str("requestId", req.RequestID).Msg("duplicate send request ignored")
	}
	return Receipt{RequestID: req.RequestID, Channel: channel, Enqueued: enqueued}, nil
}

// WelcomeTemplate returns the welcome descriptor with its variables filled:
// the customer display name and the tenant name.
func (s *Service) WelcomeTemplate(tenantName, customerName string) *model.TemplateDescriptor {
	desc := s.templates.Welcome
	desc.Variables = map[string]string{"1": customerName, "2": tenantName}
	return &desc
}
