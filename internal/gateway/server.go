// Package gateway is the HTTP surface: provider webhooks in, dashboard
// websocket and lifecycle actions out.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/storechat/storechat/internal/channels"
	"github.com/storechat/storechat/internal/channels/webchat"
	"github.com/storechat/storechat/internal/config"
	"github.com/storechat/storechat/internal/dispatch"
	"github.com/storechat/storechat/internal/realtime"
	"github.com/storechat/storechat/internal/store"
)

// maxWebhookBody caps webhook payload reads. Meta batches stay well under
// this.
const maxWebhookBody = 1 << 20

// Server routes webhooks into the dispatch coordinator and serves the
// dashboard.
type Server struct {
	cfg     *config.Config
	coord   *dispatch.Coordinator
	hub     *realtime.Hub
	widget  *webchat.Adapter // nil when the webchat channel is disabled
	store   store.ConversationStore
	logger  *slog.Logger
	limiter *WebhookRateLimiter

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the HTTP surface.
func NewServer(cfg *config.Config, coord *dispatch.Coordinator, hub *realtime.Hub, widget *webchat.Adapter, st store.ConversationStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		coord:   coord,
		hub:     hub,
		widget:  widget,
		store:   st,
		logger:  logger,
		limiter: NewWebhookRateLimiter(cfg.Gateway.RateLimitRPM),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates websocket origins against the configured allowlist.
// No configuration allows everything; an empty Origin header (non-browser
// clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	s.logger.Warn("websocket origin rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the route table.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/{channel}", s.handleWebhook)
	mux.HandleFunc("GET /webhooks/{channel}", s.handleWebhookVerify)

	mux.HandleFunc("GET /ws", s.handleDashboardSocket)
	if s.widget != nil {
		mux.HandleFunc("GET /webchat", s.handleWebchatSocket)
	}

	mux.HandleFunc("POST /conversations/{id}/takeover", s.authed(s.handleTakeover))
	mux.HandleFunc("POST /conversations/{id}/return", s.authed(s.handleReturn))
	mux.HandleFunc("POST /conversations/{id}/close", s.authed(s.handleClose))
	mux.HandleFunc("GET /conversations/undelivered", s.authed(s.handleUndelivered))
	mux.HandleFunc("GET /config", s.authed(s.handleConfig))

	mux.HandleFunc("GET /health", s.handleHealth)

	s.mux = mux
	return mux
}

// Start listens until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebhook feeds one provider delivery into the pipeline and answers
// with the network-level ack the provider expects.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	if !s.limiter.Allow(channel + ":" + clientIP(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	res := s.coord.HandleInbound(r.Context(), channel, body, r.Header)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Ack)
	json.NewEncoder(w).Encode(res)
}

// handleWebhookVerify answers the Meta subscription handshake for the
// Meta-family channels.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	var verifyToken string
	switch r.PathValue("channel") {
	case "whatsapp":
		verifyToken = s.cfg.Channels.WhatsApp.VerifyToken
	case "messenger":
		verifyToken = s.cfg.Channels.Messenger.VerifyToken
	default:
		http.NotFound(w, r)
		return
	}

	challenge, err := channels.MetaChallenge(r.URL.Query(), verifyToken)
	if err != nil {
		s.logger.Warn("webhook verification failed", "channel", r.PathValue("channel"), "error", err)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	io.WriteString(w, challenge)
}

// handleDashboardSocket upgrades a dashboard client and streams events.
func (s *Server) handleDashboardSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := s.hub.Register(conn)
	defer s.hub.Unregister(client)
	client.ReadUntilClose()
}

// handleWebchatSocket runs one widget session: frames read off the socket
// go through the same pipeline as webhooks, replies come back through the
// adapter's session registry.
func (s *Server) handleWebchatSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.widget.VerifySignature(nil, r.Header); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("webchat upgrade failed", "error", err)
		return
	}

	var sessionID string
	defer func() {
		if sessionID != "" {
			s.widget.Unregister(sessionID, conn)
		}
		conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msgs, err := s.widget.Normalize(frame)
		if err != nil {
			s.logger.Warn("webchat frame rejected", "error", err)
			continue
		}
		for _, msg := range msgs {
			if sessionID == "" {
				sessionID = msg.ExternalCustomerID
				s.widget.Register(sessionID, conn)
			}
			s.coord.Process(r.Context(), msg)
		}
	}
}

func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	s.lifecycle(w, s.coord.Takeover(r.Context(), id, body.Reason))
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	s.lifecycle(w, s.coord.ReturnToBot(r.Context(), id))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	s.lifecycle(w, s.coord.CloseConversation(r.Context(), id))
}

// handleUndelivered lists outbound messages whose provider send failed, for
// external reconciliation.
func (s *Server) handleUndelivered(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.UndeliveredMessages(r.Context(), 100)
	if err != nil {
		s.logger.Error("list undelivered failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
}

// handleConfig returns the running config with secrets masked.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.cfg.MaskedCopy())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"status":"ok"}`)
}

// lifecycle translates store sentinel errors to HTTP statuses.
func (s *Server) lifecycle(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "conversation not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidTransition):
		http.Error(w, "invalid state transition", http.StatusConflict)
	default:
		s.logger.Error("lifecycle action failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) conversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// authed guards dashboard endpoints with the gateway token.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	token := s.cfg.Gateway.Token
	if token == "" {
		return true // no token configured: open, dev mode
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if got == "" {
		got = r.URL.Query().Get("token") // websocket clients can't set headers
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
