// Package webchat is the website widget channel. Widget clients hold a
// websocket open to the gateway; inbound frames run through the same
// pipeline as webhook channels and replies are pushed down the socket.
package webchat

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/storechat/storechat/internal/bus"
	"github.com/storechat/storechat/internal/channels"
	"github.com/storechat/storechat/internal/config"
)

const (
	// ChannelName identifies this adapter in webhook paths and storage.
	ChannelName = "webchat"

	// TokenHeader carries the widget token on the websocket upgrade.
	TokenHeader = "X-Widget-Token"
)

// Frame is one widget message in either direction.
type Frame struct {
	SessionID    string          `json:"session_id"`
	MessageID    string          `json:"message_id,omitempty"`
	Text         string          `json:"text"`
	DisplayName  string          `json:"display_name,omitempty"`
	QuickReplies []string        `json:"quick_replies,omitempty"`
	Components   []bus.Component `json:"components,omitempty"` // outbound only
	Sender       string          `json:"sender,omitempty"`     // outbound only
}

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

// Adapter is the widget channel. Sessions register when their socket
// upgrades and unregister when it closes.
type Adapter struct {
	cfg      config.WebChatConfig
	mu       sync.RWMutex
	sessions map[string]*session
}

// New builds the adapter.
func New(cfg config.WebChatConfig) *Adapter {
	return &Adapter{cfg: cfg, sessions: make(map[string]*session)}
}

func (a *Adapter) Name() string { return ChannelName }

// VerifySignature checks the widget token header. With no token configured
// the widget is open, which is the common case for a public storefront.
func (a *Adapter) VerifySignature(_ []byte, header http.Header) error {
	if a.cfg.WidgetToken == "" {
		return nil
	}
	got := header.Get(TokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.WidgetToken)) != 1 {
		return channels.ErrBadSignature
	}
	return nil
}

// Normalize parses one widget frame.
func (a *Adapter) Normalize(body []byte) ([]bus.InboundMessage, error) {
	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("parse webchat frame: %w", err)
	}
	if f.SessionID == "" {
		return nil, fmt.Errorf("webchat frame without session_id")
	}
	if f.Text == "" {
		return nil, nil
	}
	return []bus.InboundMessage{{
		Channel:             ChannelName,
		ExternalCustomerID:  f.SessionID,
		ExternalMessageID:   f.MessageID,
		Text:                f.Text,
		ContentType:         "text",
		CustomerDisplayName: f.DisplayName,
	}}, nil
}

// Send pushes a reply down the session's socket. A closed or never-opened
// session is a failed delivery, not an error in the payload.
func (a *Adapter) Send(_ context.Context, msg bus.OutboundMessage) (channels.SendResult, error) {
	a.mu.RLock()
	s := a.sessions[msg.ExternalCustomerID]
	a.mu.RUnlock()
	if s == nil {
		return channels.SendResult{}, fmt.Errorf("webchat session %s not connected", msg.ExternalCustomerID)
	}

	frame := Frame{
		SessionID:  msg.ExternalCustomerID,
		Text:       msg.Text,
		Components: msg.Components,
		Sender:     "bot",
	}
	for _, qr := range msg.QuickReplies {
		frame.QuickReplies = append(frame.QuickReplies, qr.Title)
	}

	s.mu.Lock()
	err := s.conn.WriteJSON(frame)
	s.mu.Unlock()
	if err != nil {
		return channels.SendResult{}, fmt.Errorf("webchat write: %w", err)
	}
	return channels.SendResult{Delivered: true}, nil
}

// Register attaches a connected widget socket to its session, replacing any
// previous socket for the same session.
func (a *Adapter) Register(sessionID string, conn *websocket.Conn) {
	a.mu.Lock()
	old := a.sessions[sessionID]
	a.sessions[sessionID] = &session{conn: conn}
	a.mu.Unlock()
	if old != nil {
		old.conn.Close()
	}
}

// Unregister drops the session if conn is still its socket.
func (a *Adapter) Unregister(sessionID string, conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s := a.sessions[sessionID]; s != nil && s.conn == conn {
		delete(a.sessions, sessionID)
	}
}
