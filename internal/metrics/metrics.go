// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InboundAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_inbound_accepted_total",
		Help: "Inbound webhook messages accepted and persisted.",
	}, []string{"tenant"})

	InboundDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_inbound_deduped_total",
		Help: "Inbound webhook messages dropped as duplicates.",
	})

	InboundDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_inbound_denied_total",
		Help: "Inbound webhook requests rejected before persistence.",
	}, []string{"reason"}) // signature, tenant, rate_limit, payload

	OutboundAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_outbound_attempts_total",
		Help: "Outbound send attempts, including retries.",
	}, []string{"tenant", "channel"})

	OutboundRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_outbound_retries_total",
		Help: "Outbound attempts that failed transiently and were retried.",
	})

	OutboundDeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_outbound_dead_letters_total",
		Help: "Outbound jobs abandoned after exhausting retries.",
	}, []string{"tenant"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_outbound_queue_depth",
		Help: "Jobs waiting in the outbound queue.",
	})

	TenantInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_outbound_in_flight",
		Help: "Outbound sends currently in flight per tenant.",
	}, []string{"tenant"})

	QuotaSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_quota_suppressed_total",
		Help: "Inbound messages accepted with bot automation suppressed by quota.",
	}, []string{"tenant"})
)
