package chat

import (
	"context"
	"encoding/json"
	"errors"
	myMiddleware "go-dm/internal/middleware"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Browser clients are served from other origins.
	},
}

type HandlerConfig struct {
	// RequireAuthenticatedJoin restricts `join` to the identity carried by
	// the upgrade request's token.
	RequireAuthenticatedJoin bool
	SendBuffer               int
}

type Handler struct {
	gateway *Gateway
	history *HistoryService
	log     *slog.Logger
	cfg     HandlerConfig

	// Live websocket clients. http.Server.Shutdown does not track hijacked
	// connections, so the handler does.
	mu       sync.Mutex
	clients  map[*Client]struct{}
	draining bool
	running  sync.WaitGroup
}

func NewHandler(gateway *Gateway, history *HistoryService, log *slog.Logger, cfg HandlerConfig) *Handler {
	return &Handler{
		gateway: gateway,
		history: history,
		log:     log,
		cfg:     cfg,
		clients: make(map[*Client]struct{}),
	}
}

func (h *Handler) track(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.clients[c] = struct{}{}
	h.running.Add(1)
	return true
}

func (h *Handler) untrack(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.running.Done()
}

// CloseConnections closes every live websocket and refuses new ones. Each
// connection's read loop then deregisters its session. Suitable for
// http.Server.RegisterOnShutdown.
func (h *Handler) CloseConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.draining = true
	for c := range h.clients {
		c.conn.Close()
	}
	h.log.Info("Closing live connections", "count", len(h.clients))
}

// Wait blocks until every connection's read loop has returned, so no send is
// still appending to the store, or until ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWs upgrades the request and runs the connection until it closes.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	principal, ok := myMiddleware.UserID(r.Context())
	if h.cfg.RequireAuthenticatedJoin && !ok {
		writeJSON(w, http.StatusUnauthorized, Response{Message: "Unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade", "error", err)
		return
	}

	client := NewClient(conn, h.gateway, h.log, h.cfg.SendBuffer)
	if !h.track(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	defer h.untrack(client)
	client.session = h.gateway.OnConnect(client, principal)

	go client.WritePump()
	client.ReadPump(r.Context())
}

// GetConversation returns the caller's conversation with {id}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	caller, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Response{Message: "Unauthorized"})
		return
	}
	other := chi.URLParam(r, "id")

	msgs, err := h.history.Conversation(r.Context(), caller, other)
	if err != nil {
		h.log.Error("Retrieve conversation", "caller", caller, "other", other, "error", err)
		writeJSON(w, http.StatusInternalServerError, Response{Message: "Error retrieving messages"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Messages retrieved successfully", Data: msgs})
}

// GetAllForAdmin returns every message the calling admin took part in.
func (h *Handler) GetAllForAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Response{Message: "Unauthorized"})
		return
	}

	msgs, err := h.history.AllFor(r.Context(), caller)
	if err != nil {
		h.log.Error("Retrieve all messages", "caller", caller, "error", err)
		writeJSON(w, http.StatusInternalServerError, Response{Message: "Error retrieving all messages"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "All messages retrieved successfully", Data: msgs})
}

// SendMessage is the request/response send path for clients without a live connection.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Response{Message: "Unauthorized"})
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Invalid request body"})
		return
	}

	msg, err := h.gateway.Send(r.Context(), caller, chi.URLParam(r, "id"), req.MessageContent)
	switch {
	case errors.Is(err, ErrInvalidMessage):
		writeJSON(w, http.StatusBadRequest, Response{Message: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, Response{Message: "Error sending message"})
	default:
		writeJSON(w, http.StatusOK, Response{Message: "Message sent successfully", Data: msg})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
