package events

import (
	"context"

	"github.com/rs/zerolog"
)

// OpsAuditor records operator-visible actions on the event bus and in
// the structured log. Audit failures are never propagated to callers.
type OpsAuditor struct {
	bus    *EventBus
	logger zerolog.Logger
}

// NewOpsAuditor creates an auditor backed by the given bus
func NewOpsAuditor(bus *EventBus, logger zerolog.Logger) *OpsAuditor {
	return &OpsAuditor{
		bus:    bus,
		logger: logger.With().Str("component", "ops_audit").Logger(),
	}
}

// RecordOpsAudit publishes an audit event for an operator-relevant action
func (a *OpsAuditor) RecordOpsAudit(ctx context.Context, actor, action, resourceType, resourceID string, metadata map[string]interface{}) {
	data := map[string]interface{}{
		"actor":         actor,
		"action":        action,
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	for k, v := range metadata {
		data[k] = v
	}
	a.bus.Publish(Event{
		Type: EventOpsAudit,
		Data: data,
	})

	a.logger.Info().
		Str("actor", actor).
		Str("action", action).
		Str("resource_type", resourceType).
		Str("resource_id", resourceID).
		Msg("Ops audit recorded")
}

// Alerter surfaces high-severity conditions that need operator attention
type Alerter struct {
	bus    *EventBus
	logger zerolog.Logger
}

// NewAlerter creates an alerter backed by the given bus
func NewAlerter(bus *EventBus, logger zerolog.Logger) *Alerter {
	return &Alerter{
		bus:    bus,
		logger: logger.With().Str("component", "alerter").Logger(),
	}
}

// Alert publishes a high-severity alert. Best-effort: subscribers run
// asynchronously and a missing subscriber loses nothing but the fan-out.
func (a *Alerter) Alert(ctx context.Context, source, message string, details map[string]interface{}) {
	data := map[string]interface{}{
		"source":   source,
		"message":  message,
		"severity": "high",
	}
	for k, v := range details {
		data[k] = v
	}
	a.bus.Publish(Event{
		Type: EventReconcileAlert,
		Data: data,
	})

	a.logger.Warn().
		Str("source", source).
		Interface("details", details).
		Msg(message)
}
