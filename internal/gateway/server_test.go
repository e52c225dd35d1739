package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/storechat/storechat/internal/ai"
	"github.com/storechat/storechat/internal/bus"
	"github.com/storechat/storechat/internal/channels"
	"github.com/storechat/storechat/internal/config"
	"github.com/storechat/storechat/internal/dedupe"
	"github.com/storechat/storechat/internal/dispatch"
	"github.com/storechat/storechat/internal/providers"
	"github.com/storechat/storechat/internal/realtime"
	"github.com/storechat/storechat/internal/store/memory"
)

type echoProvider struct{}

func (echoProvider) Name() string         { return "echo" }
func (echoProvider) DefaultModel() string { return "m" }
func (echoProvider) Generate(_ context.Context, _ providers.Request) (*providers.Response, error) {
	return &providers.Response{Text: `{"reply": "hello!"}`}, nil
}

type stubAdapter struct{}

func (stubAdapter) Name() string { return "telegram" }
func (stubAdapter) VerifySignature(_ []byte, h http.Header) error {
	if h.Get("X-Telegram-Bot-Api-Secret-Token") != "hook-secret" {
		return channels.ErrBadSignature
	}
	return nil
}
func (stubAdapter) Normalize(body []byte) ([]bus.InboundMessage, error) {
	return []bus.InboundMessage{{
		Channel:            "telegram",
		ExternalCustomerID: "42",
		ExternalMessageID:  "42:" + string(body),
		Text:               string(body),
	}}, nil
}
func (stubAdapter) Send(_ context.Context, _ bus.OutboundMessage) (channels.SendResult, error) {
	return channels.SendResult{Delivered: true}, nil
}

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.Gateway.Token = "dash-token"
	cfg.Channels.WhatsApp.VerifyToken = "verify-me"

	st := memory.New()
	cache := dedupe.NewMemory()
	t.Cleanup(func() { cache.Close() })

	registry := channels.NewRegistry()
	registry.Register(stubAdapter{})

	bot := ai.New(echoProvider{}, cfg, nil, nil, nil)
	hub := realtime.NewHub(nil)
	coord := dispatch.New(st, cache, registry, bot, nil, cfg, hub, nil)

	return NewServer(cfg, coord, hub, nil, st, nil), cfg
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestWebhookAckMapping(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.BuildMux()

	tests := []struct {
		name   string
		path   string
		secret string
		want   int
	}{
		{"valid", "/webhooks/telegram", "hook-secret", http.StatusOK},
		{"bad secret", "/webhooks/telegram", "wrong", http.StatusUnauthorized},
		{"unknown channel", "/webhooks/carrier-pigeon", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader("hi"))
			if tt.secret != "" {
				req.Header.Set("X-Telegram-Bot-Api-Secret-Token", tt.secret)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestMetaHandshake(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.BuildMux()

	q := url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"verify-me"},
		"hub.challenge":    {"987654"},
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?"+q.Encode(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "987654" {
		t.Errorf("body = %q, want the raw challenge", rec.Body.String())
	}

	q.Set("hub.verify_token", "wrong")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?"+q.Encode(), nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong token status = %d, want 403", rec.Code)
	}
}

func TestLifecycleEndpointsRequireToken(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.BuildMux()

	id := "0191f5a0-0000-7000-8000-000000000000"
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/takeover", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/takeover", nil)
	req.Header.Set("Authorization", "Bearer dash-token")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	// Authenticated but the conversation does not exist.
	if rec.Code != http.StatusNotFound {
		t.Errorf("authed status = %d, want 404", rec.Code)
	}
}

func TestLifecycleInvalidID(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.BuildMux()

	req := httptest.NewRequest(http.MethodPost, "/conversations/not-a-uuid/close", nil)
	req.Header.Set("Authorization", "Bearer dash-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConfigEndpointMasksSecrets(t *testing.T) {
	s, cfg := newTestServer(t)
	cfg.Channels.Telegram.Token = "123:secret-bot-token"
	mux := s.BuildMux()

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	req.Header.Set("Authorization", "Bearer dash-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret-bot-token") {
		t.Error("config response leaked a secret")
	}
}

func TestWebhookRateLimiter(t *testing.T) {
	l := NewWebhookRateLimiter(3)
	for i := 0; i < 3; i++ {
		if !l.Allow("k") {
			t.Fatalf("request %d denied under limit", i)
		}
	}
	if l.Allow("k") {
		t.Error("request over limit allowed")
	}
	if !l.Allow("other") {
		t.Error("unrelated key blocked")
	}
}
