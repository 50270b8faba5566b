package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/api/http/handlers"
	"github.com/spec-kit/support-relay/internal/auth"
	"github.com/spec-kit/support-relay/internal/config"
	"github.com/spec-kit/support-relay/internal/events"
	"github.com/spec-kit/support-relay/internal/observability"
	"github.com/spec-kit/support-relay/internal/pending"
	"github.com/spec-kit/support-relay/internal/registry"
	"github.com/spec-kit/support-relay/internal/repository"
	"github.com/spec-kit/support-relay/internal/service"
	"github.com/spec-kit/support-relay/internal/telegram"
	"github.com/spec-kit/support-relay/internal/updates"
)

type testServer struct {
	app   *fiber.App
	bus   *updates.Bus
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	reg := registry.New()
	bus := updates.NewBus(updates.Options{Logger: logger, Metrics: metrics})
	t.Cleanup(bus.Shutdown)

	ticketRepo := repository.NewMemoryTicketRepository()
	agentRepo := repository.NewMemoryAgentRepository()
	transport := telegram.NewLoopback(logger)
	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(dispatcher, bus, logger).RegisterHandlers()

	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: repository.NewMemoryTicketMessageRepository(),
		HistoryRepo: repository.NewMemoryTicketHistoryRepository(),
		BalanceRepo: repository.NewMemoryBalanceRepository(),
		Registry:    reg,
		Transport:   transport,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		CloseReward: 50,
	})
	ratings := service.NewRatingService(repository.NewMemoryRatingRepository(), ticketRepo, transport, logger)
	router := service.NewRouter(service.RouterDependencies{
		Tickets:    tickets,
		Ratings:    ratings,
		Registry:   reg,
		TicketRepo: ticketRepo,
		Prompts:    pending.NewMemoryStore(),
		PromptTTL:  time.Minute,
		Transport:  transport,
		Logger:     logger,
	})
	authService := service.NewAuthService(config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTLMinutes: 60, BcryptCost: 4}, agentRepo)
	if _, err := authService.EnsureAgent(context.Background(), "alice", "s3cret", "Alice"); err != nil {
		t.Fatalf("ensure agent: %v", err)
	}

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("support-relay", "test", nil, nil, reg, metrics),
		Agents:         handlers.NewAgentsHandler(authService),
		Tickets:        handlers.NewTicketsHandler(tickets, ratings, router),
		AgentTickets:   handlers.NewAgentTicketsHandler(tickets, router),
		Updates:        handlers.NewUpdatesHandler(tickets, router, bus, 2*time.Second, 5*time.Second, logger),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), agentRepo),
	})

	s := &testServer{app: app, bus: bus}
	var login struct {
		Data struct {
			Auth struct {
				Token string `json:"token"`
			} `json:"auth"`
		} `json:"data"`
	}
	s.do(t, nethttp.MethodPost, "/auth/agents/login", map[string]string{"login": "alice", "password": "s3cret"}, false, nethttp.StatusOK, &login)
	s.token = login.Data.Auth.Token
	return s
}

// do sends a JSON request, checks the status and decodes the body into out.
func (s *testServer) do(t *testing.T, method, path string, body any, asAgent bool, wantStatus int, out any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if asAgent {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, wantStatus, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
}

type ticketEnvelope struct {
	Data struct {
		ID              int64   `json:"id"`
		DisplayID       int64   `json:"display_id"`
		Status          string  `json:"status"`
		AssignedAgentID *string `json:"assigned_agent_id"`
	} `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (s *testServer) createTicket(t *testing.T, userID string) int64 {
	t.Helper()
	var created ticketEnvelope
	s.do(t, nethttp.MethodPost, "/api/v1/tickets", map[string]string{"user_id": userID, "message": "VPN is down"}, false, nethttp.StatusCreated, &created)
	return created.Data.ID
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.createTicket(t, "web-1")
	path := "/api/v1/tickets/" + itoa(id)

	var dup errorEnvelope
	s.do(t, nethttp.MethodPost, "/api/v1/tickets", map[string]string{"user_id": "web-1", "message": "again"}, false, nethttp.StatusConflict, &dup)
	if dup.Error.Code != "ACTIVE_TICKET_EXISTS" {
		t.Fatalf("unexpected code %q", dup.Error.Code)
	}

	var routed struct {
		Data struct {
			Disposition string `json:"disposition"`
		} `json:"data"`
	}
	s.do(t, nethttp.MethodPost, path+"/messages", map[string]string{"message": "any news?"}, false, nethttp.StatusAccepted, &routed)
	if routed.Data.Disposition != "buffered" {
		t.Fatalf("expected buffered, got %q", routed.Data.Disposition)
	}

	var taken ticketEnvelope
	s.do(t, nethttp.MethodPost, "/api/v1/agent/tickets/"+itoa(id)+"/take", nil, true, nethttp.StatusOK, &taken)
	if taken.Data.Status != "in_progress" || taken.Data.AssignedAgentID == nil {
		t.Fatalf("unexpected take response: %+v", taken.Data)
	}
	var again errorEnvelope
	s.do(t, nethttp.MethodPost, "/api/v1/agent/tickets/"+itoa(id)+"/take", nil, true, nethttp.StatusConflict, &again)
	if again.Error.Code != "TICKET_ALREADY_TAKEN" {
		t.Fatalf("unexpected code %q", again.Error.Code)
	}

	s.do(t, nethttp.MethodPost, "/api/v1/agent/tickets/"+itoa(id)+"/reply", map[string]string{"message": "restart the router"}, true, nethttp.StatusOK, &routed)
	if routed.Data.Disposition != "forwarded" {
		t.Fatalf("expected forwarded, got %q", routed.Data.Disposition)
	}

	var rateEarly errorEnvelope
	s.do(t, nethttp.MethodPost, path+"/rating", map[string]any{"rating": 5}, false, nethttp.StatusConflict, &rateEarly)

	s.do(t, nethttp.MethodPost, "/api/v1/agent/tickets/"+itoa(id)+"/close", nil, true, nethttp.StatusOK, nil)

	var got ticketEnvelope
	s.do(t, nethttp.MethodGet, path, nil, false, nethttp.StatusOK, &got)
	if got.Data.Status != "closed" {
		t.Fatalf("expected closed, got %q", got.Data.Status)
	}

	var rated struct {
		Data struct {
			Rating int `json:"rating"`
		} `json:"data"`
	}
	s.do(t, nethttp.MethodPost, path+"/rating", map[string]any{"rating": 4, "comment": "ok"}, false, nethttp.StatusOK, &rated)
	if rated.Data.Rating != 4 {
		t.Fatalf("unexpected rating %+v", rated.Data)
	}
	s.do(t, nethttp.MethodPost, path+"/rating", map[string]any{"rating": 9}, false, nethttp.StatusBadRequest, nil)

	var history struct {
		Data []struct {
			NewStatus string `json:"new_status"`
		} `json:"data"`
	}
	s.do(t, nethttp.MethodGet, "/api/v1/agent/tickets/"+itoa(id)+"/history", nil, true, nethttp.StatusOK, &history)
	if len(history.Data) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(history.Data))
	}

	var stats struct {
		Data struct {
			ClosedToday int     `json:"closed_today"`
			Balance     float64 `json:"balance"`
		} `json:"data"`
	}
	s.do(t, nethttp.MethodGet, "/api/v1/agent/me/stats", nil, true, nethttp.StatusOK, &stats)
	if stats.Data.ClosedToday != 1 || stats.Data.Balance != 50 {
		t.Fatalf("unexpected stats %+v", stats.Data)
	}
}

func TestLongPollDeliversUpdate(t *testing.T) {
	s := newTestServer(t)
	id := s.createTicket(t, "web-2")

	type result struct {
		status int
		body   []byte
	}
	done := make(chan result, 1)
	go func() {
		req := httptest.NewRequest(nethttp.MethodGet, "/api/v1/tickets/"+itoa(id)+"/updates?timeout=5", nil)
		resp, err := s.app.Test(req, -1)
		if err != nil {
			done <- result{}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		done <- result{status: resp.StatusCode, body: body}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.bus.Count(id) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("long-poll never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.do(t, nethttp.MethodPost, "/api/v1/agent/tickets/"+itoa(id)+"/take", nil, true, nethttp.StatusOK, nil)

	select {
	case r := <-done:
		if r.status != nethttp.StatusOK {
			t.Fatalf("unexpected status %d: %s", r.status, r.body)
		}
		var payload struct {
			Updates []struct {
				TicketID int64  `json:"ticket_id"`
				Status   string `json:"status"`
			} `json:"updates"`
		}
		if err := json.Unmarshal(r.body, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(payload.Updates) != 1 || payload.Updates[0].Status != "in_progress" || payload.Updates[0].TicketID != id {
			t.Fatalf("unexpected updates: %s", r.body)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("long-poll did not return")
	}
}

func TestLongPollTimeoutAndTerminal(t *testing.T) {
	s := newTestServer(t)
	id := s.createTicket(t, "web-3")

	var empty struct {
		Updates []json.RawMessage `json:"updates"`
	}
	s.do(t, nethttp.MethodGet, "/api/v1/tickets/"+itoa(id)+"/updates?timeout=1", nil, false, nethttp.StatusOK, &empty)
	if empty.Updates == nil || len(empty.Updates) != 0 {
		t.Fatalf("expected empty update list, got %v", empty.Updates)
	}
	if n := s.bus.Count(id); n != 0 {
		t.Fatalf("listener leaked: %d", n)
	}

	s.do(t, nethttp.MethodPost, "/api/v1/tickets/"+itoa(id)+"/cancel", map[string]string{"user_id": "web-3"}, false, nethttp.StatusOK, nil)
	var final struct {
		Updates []struct {
			Status string `json:"status"`
		} `json:"updates"`
	}
	start := time.Now()
	s.do(t, nethttp.MethodGet, "/api/v1/tickets/"+itoa(id)+"/updates?timeout=5", nil, false, nethttp.StatusOK, &final)
	if time.Since(start) > time.Second {
		t.Fatal("terminal ticket must answer immediately")
	}
	if len(final.Updates) != 1 || final.Updates[0].Status != "cancelled" {
		t.Fatalf("unexpected final update: %+v", final.Updates)
	}
}

func TestErrorsAndAuth(t *testing.T) {
	s := newTestServer(t)

	var e errorEnvelope
	s.do(t, nethttp.MethodGet, "/api/v1/tickets/abc", nil, false, nethttp.StatusBadRequest, &e)
	if e.Error.Code != "VALIDATION_FAILED" {
		t.Fatalf("unexpected code %q", e.Error.Code)
	}
	s.do(t, nethttp.MethodGet, "/api/v1/tickets/999", nil, false, nethttp.StatusNotFound, &e)
	if e.Error.Code != "NOT_FOUND" {
		t.Fatalf("unexpected code %q", e.Error.Code)
	}
	s.do(t, nethttp.MethodGet, "/api/v1/agent/queue", nil, false, nethttp.StatusUnauthorized, &e)
	s.do(t, nethttp.MethodPost, "/auth/agents/login", map[string]string{"login": "alice", "password": "wrong"}, false, nethttp.StatusUnauthorized, nil)
	s.do(t, nethttp.MethodGet, "/api/v1/tickets/1/ws", nil, false, nethttp.StatusUpgradeRequired, nil)
	s.do(t, nethttp.MethodGet, "/nope", nil, false, nethttp.StatusNotFound, nil)

	id := s.createTicket(t, "web-4")
	s.do(t, nethttp.MethodPost, "/api/v1/tickets/"+itoa(id)+"/cancel", map[string]string{"user_id": "intruder"}, false, nethttp.StatusForbidden, nil)
	s.do(t, nethttp.MethodPost, "/api/v1/tickets/"+itoa(id)+"/messages", map[string]string{"message": ""}, false, nethttp.StatusBadRequest, nil)

	var queue struct {
		Data []json.RawMessage `json:"data"`
	}
	s.do(t, nethttp.MethodGet, "/api/v1/agent/queue", nil, true, nethttp.StatusOK, &queue)
	if len(queue.Data) != 1 {
		t.Fatalf("expected one queued ticket, got %d", len(queue.Data))
	}
}

func TestListTicketsOfUser(t *testing.T) {
	s := newTestServer(t)
	first := s.createTicket(t, "web-5")
	s.do(t, nethttp.MethodPost, "/api/v1/tickets/"+itoa(first)+"/cancel", map[string]string{"user_id": "web-5"}, false, nethttp.StatusOK, nil)
	second := s.createTicket(t, "web-5")
	s.createTicket(t, "web-6")

	var list struct {
		Data []struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	s.do(t, nethttp.MethodGet, "/api/v1/tickets?user_id=web-5", nil, false, nethttp.StatusOK, &list)
	if len(list.Data) != 2 || list.Data[0].ID != second || list.Data[1].Status != "cancelled" {
		t.Fatalf("unexpected list: %+v", list.Data)
	}
	s.do(t, nethttp.MethodGet, "/api/v1/tickets?user_id=web-5&limit=1&offset=1", nil, false, nethttp.StatusOK, &list)
	if len(list.Data) != 1 || list.Data[0].ID != first {
		t.Fatalf("unexpected page: %+v", list.Data)
	}
	s.do(t, nethttp.MethodGet, "/api/v1/tickets?user_id=nobody", nil, false, nethttp.StatusOK, &list)
	if list.Data == nil || len(list.Data) != 0 {
		t.Fatalf("expected empty list, got %+v", list.Data)
	}
	s.do(t, nethttp.MethodGet, "/api/v1/tickets", nil, false, nethttp.StatusBadRequest, nil)
}

type streamFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	TicketID     int64  `json:"ticket_id"`
	Data         *struct {
		Status string `json:"status"`
	} `json:"data"`
}

func dialStream(t *testing.T, addr string, ticketID int64) *fastws.Conn {
	t.Helper()
	conn, _, err := fastws.DefaultDialer.Dial("ws://"+addr+"/api/v1/tickets/"+itoa(ticketID)+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "ticket_id": ticketID}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if f := readFrame(t, conn); f.Type != "connected" || f.ConnectionID == "" || f.TicketID != ticketID {
		t.Fatalf("unexpected handshake: %+v", f)
	}
	return conn
}

func readFrame(t *testing.T, conn *fastws.Conn) streamFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f streamFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func waitForCount(t *testing.T, bus *updates.Bus, ticketID int64, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for bus.Count(ticketID) != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count = %d, want %d", bus.Count(ticketID), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamDeliversUpdatesAndCleansUp(t *testing.T) {
	s := newTestServer(t)
	id := s.createTicket(t, "web-7")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = s.app.Listener(ln) }()
	t.Cleanup(func() { _ = s.app.Shutdown() })
	addr := ln.Addr().String()

	conn := dialStream(t, addr, id)
	defer conn.Close()
	dropped := dialStream(t, addr, id)
	waitForCount(t, s.bus, id, 2)

	dropped.Close()
	waitForCount(t, s.bus, id, 1)

	s.do(t, nethttp.MethodPost, "/api/v1/agent/tickets/"+itoa(id)+"/take", nil, true, nethttp.StatusOK, nil)
	if f := readFrame(t, conn); f.Type != "update" || f.Data == nil || f.Data.Status != "in_progress" {
		t.Fatalf("unexpected frame after take: %+v", f)
	}

	s.do(t, nethttp.MethodPost, "/api/v1/agent/tickets/"+itoa(id)+"/close", nil, true, nethttp.StatusOK, nil)
	if f := readFrame(t, conn); f.Type != "ticket_closed" || f.Data == nil || f.Data.Status != "closed" {
		t.Fatalf("unexpected frame after close: %+v", f)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var extra streamFrame
	if err := conn.ReadJSON(&extra); err == nil {
		t.Fatalf("expected the server to end the stream, got %+v", extra)
	}
	waitForCount(t, s.bus, id, 0)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	var ready struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	s.do(t, nethttp.MethodGet, "/health/ready", nil, false, nethttp.StatusOK, &ready)
	if ready.Status != "ready" || ready.Dependencies["postgres"] != "memory" {
		t.Fatalf("unexpected readiness: %+v", ready)
	}
	var snapshot struct {
		Requests map[string]int64 `json:"requests"`
	}
	s.do(t, nethttp.MethodGet, "/metrics", nil, false, nethttp.StatusOK, &snapshot)
	if len(snapshot.Requests) == 0 {
		t.Fatal("expected request counters")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
