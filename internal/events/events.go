package events

import (
	"context"
	"time"
)

const (
	ExchangeName      = "ex.leads"
	RoutingAssigned   = "lead.assigned"
	RoutingUnassigned = "lead.unassigned"
	exchangeKindTopic = "topic"
	contentTypeJSON   = "application/json"
)

type LeadEvent struct {
	LeadID       string    `json:"lead_id"`
	TelecallerID string    `json:"telecaller_id"`
	Mode         string    `json:"mode"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher announces committed assignment changes. Delivery is best-effort.
type Publisher interface {
	LeadsAssigned(ctx context.Context, events []LeadEvent) error
	LeadsUnassigned(ctx context.Context, events []LeadEvent) error
	Close() error
}

type Nop struct{}

func (Nop) LeadsAssigned(context.Context, []LeadEvent) error { return nil }

func (Nop) LeadsUnassigned(context.Context, []LeadEvent) error { return nil }

func (Nop) Close() error { return nil }
