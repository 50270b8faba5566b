package handlers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/api/dto"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/service"
	"github.com/spec-kit/support-relay/internal/updates"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

// UpdatesHandler serves ticket updates by long-poll and WebSocket.
type UpdatesHandler struct {
	tickets        *service.TicketService
	router         *service.Router
	bus            *updates.Bus
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	logger         *zap.Logger
}

// NewUpdatesHandler constructs handler.
func NewUpdatesHandler(tickets *service.TicketService, router *service.Router, bus *updates.Bus, defaultTimeout, maxTimeout time.Duration, logger *zap.Logger) *UpdatesHandler {
	return &UpdatesHandler{
		tickets:        tickets,
		router:         router,
		bus:            bus,
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		logger:         logger,
	}
}

// LongPoll GET /tickets/:id/updates?timeout=N waits for the next update.
func (h *UpdatesHandler) LongPoll(c *fiber.Ctx) error {
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	if ticket.Status.IsTerminal() {
		final := domain.NewTicketUpdate(ticket.ID, ticket.Status, "Ticket is "+string(ticket.Status))
		return c.JSON(dto.UpdatesResponse{Updates: []domain.TicketUpdate{final}})
	}

	update, ok, err := h.bus.WaitForUpdate(c.UserContext(), id, h.timeout(c.Query("timeout")))
	switch {
	case errors.Is(err, updates.ErrBusClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, "shutting down")
	case err != nil:
		return apperrors.NewInternalError(err)
	case !ok:
		return c.JSON(dto.UpdatesResponse{Updates: []domain.TicketUpdate{}})
	}
	return c.JSON(dto.UpdatesResponse{Updates: []domain.TicketUpdate{update}})
}

// timeout clamps the caller's wait to (0, max].
func (h *UpdatesHandler) timeout(raw string) time.Duration {
	seconds, err := strconv.Atoi(raw)
	if raw == "" || err != nil || seconds <= 0 {
		return h.defaultTimeout
	}
	d := time.Duration(seconds) * time.Second
	if d > h.maxTimeout {
		return h.maxTimeout
	}
	return d
}

// RequireUpgrade rejects plain HTTP requests on the stream endpoint.
func (h *UpdatesHandler) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream runs one WebSocket connection on /tickets/:id/ws. The client first
// sends a subscribe frame, then receives update frames until the ticket ends.
func (h *UpdatesHandler) Stream(conn *websocket.Conn) {
	connID := uuid.NewString()
	logger := h.logger.With(zap.String("connection_id", connID))
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(frame dto.ServerFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(frame)
	}
	fail := func(ticketID int64, msg string) {
		_ = write(dto.ServerFrame{Type: dto.FrameError, TicketID: ticketID, Error: msg})
	}

	ticketID, err := strconv.ParseInt(conn.Params("id"), 10, 64)
	if err != nil || ticketID <= 0 {
		fail(0, "invalid ticket id")
		return
	}
	var hello dto.ClientFrame
	if err := conn.ReadJSON(&hello); err != nil {
		return
	}
	if hello.Type != dto.FrameSubscribe || (hello.TicketID != 0 && hello.TicketID != ticketID) {
		fail(ticketID, "expected subscribe frame for this ticket")
		return
	}

	ctx := context.Background()
	ticket, err := h.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		fail(ticketID, apperrors.ToDomainError(err).Message)
		return
	}
	if hello.UserID != "" && hello.UserID != ticket.UserID {
		fail(ticketID, "ticket belongs to another user")
		return
	}
	sub, err := h.bus.Subscribe(ticketID)
	if err != nil {
		fail(ticketID, "shutting down")
		return
	}
	defer sub.Close()

	if err := write(dto.ServerFrame{Type: dto.FrameConnected, ConnectionID: connID, TicketID: ticketID}); err != nil {
		return
	}
	logger.Debug("stream subscribed", zap.Int64("ticket_id", ticketID))
	if ticket.Status.IsTerminal() {
		final := domain.NewTicketUpdate(ticket.ID, ticket.Status, "Ticket is "+string(ticket.Status))
		_ = write(dto.ServerFrame{Type: dto.FrameTicketClosed, TicketID: ticketID, Data: &final})
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame dto.ClientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			switch frame.Type {
			case dto.FramePing:
				err = write(dto.ServerFrame{Type: dto.FramePong})
			case dto.FrameMessage:
				result, routeErr := h.router.HandleUserMessageForTicket(ctx, ticketID, domain.Content{Text: frame.Message})
				if routeErr != nil {
					fail(ticketID, apperrors.ToDomainError(routeErr).Message)
					continue
				}
				err = write(dto.ServerFrame{Type: dto.FrameMessage, TicketID: ticketID, Disposition: string(result.Disposition)})
			default:
				fail(ticketID, "unknown frame type")
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-sub.Updates():
			if !ok {
				logger.Debug("stream ended", zap.Int64("ticket_id", ticketID))
				return
			}
			frameType := dto.FrameUpdate
			if update.Status.IsTerminal() {
				frameType = dto.FrameTicketClosed
			}
			if err := write(dto.ServerFrame{Type: frameType, TicketID: ticketID, Data: &update}); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
