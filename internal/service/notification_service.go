package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/events"
)

// UpdateSink receives ticket updates for subscribers.
type UpdateSink interface {
	Notify(ticketID int64, update domain.TicketUpdate)
	CloseAll(ticketID int64, final domain.TicketUpdate)
}

// NotificationService turns domain events into subscriber updates.
type NotificationService struct {
	dispatcher events.Dispatcher
	sink       UpdateSink
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, sink UpdateSink, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		sink:       sink,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventTicketResponded, n.handleTicketResponded)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	n.logger.Debug("TicketCreated", zap.Int64("ticket_id", event.TicketID), zap.Int64("display_id", payload.DisplayID))
	n.sink.Notify(event.TicketID, payload.Update)
	return nil
}

// handleTicketStatusChanged ends every subscription once the ticket is terminal;
// the final update is delivered by CloseAll itself.
func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	n.logger.Debug("TicketStatusChanged", zap.Int64("ticket_id", event.TicketID),
		zap.String("old_status", string(payload.OldStatus)), zap.String("new_status", string(payload.NewStatus)))
	if payload.NewStatus.IsTerminal() {
		n.sink.CloseAll(event.TicketID, payload.Update)
		return nil
	}
	n.sink.Notify(event.TicketID, payload.Update)
	return nil
}

func (n *NotificationService) handleTicketResponded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketRespondedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	n.logger.Debug("TicketResponded", zap.Int64("ticket_id", event.TicketID),
		zap.String("direction", string(payload.Direction)), zap.Bool("delivered", payload.Delivered))
	n.sink.Notify(event.TicketID, payload.Update)
	return nil
}

func unexpectedPayload(event events.Event) error {
	return fmt.Errorf("%s: unexpected payload %T", event.Type, event.Payload)
}
