package telegram

import (
	"errors"
	"net/http"
	"testing"

	"github.com/storechat/storechat/internal/channels"
	"github.com/storechat/storechat/internal/config"
)

func newTestAdapter(t *testing.T, secret string) *Adapter {
	t.Helper()
	a, err := New(config.TelegramConfig{
		Token:         "12345:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		WebhookSecret: secret,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestVerifySignature(t *testing.T) {
	a := newTestAdapter(t, "hook-secret")

	h := http.Header{}
	h.Set("X-Telegram-Bot-Api-Secret-Token", "hook-secret")
	if err := a.VerifySignature(nil, h); err != nil {
		t.Errorf("valid secret rejected: %v", err)
	}

	h.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	if err := a.VerifySignature(nil, h); !errors.Is(err, channels.ErrBadSignature) {
		t.Errorf("wrong secret: err = %v, want ErrBadSignature", err)
	}

	if err := a.VerifySignature(nil, http.Header{}); !errors.Is(err, channels.ErrBadSignature) {
		t.Errorf("missing header: err = %v, want ErrBadSignature", err)
	}
}

func TestVerifySignatureNoSecretConfigured(t *testing.T) {
	a := newTestAdapter(t, "")
	h := http.Header{}
	h.Set("X-Telegram-Bot-Api-Secret-Token", "anything")
	if err := a.VerifySignature(nil, h); !errors.Is(err, channels.ErrBadSignature) {
		t.Errorf("unconfigured secret must reject: err = %v", err)
	}
}

func TestNormalize(t *testing.T) {
	a := newTestAdapter(t, "s")

	update := `{
		"update_id": 10,
		"message": {
			"message_id": 77,
			"from": {"id": 42, "first_name": "Omar", "last_name": "K"},
			"chat": {"id": 42, "type": "private"},
			"text": "وين طلبي؟"
		}
	}`
	msgs, err := a.Normalize([]byte(update))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ExternalCustomerID != "42" {
		t.Errorf("customer id = %q", m.ExternalCustomerID)
	}
	if m.ExternalMessageID != "42:77" {
		t.Errorf("message id = %q, want chat-scoped id", m.ExternalMessageID)
	}
	if m.CustomerDisplayName != "Omar K" {
		t.Errorf("display name = %q", m.CustomerDisplayName)
	}
}

func TestNormalizeNonMessageUpdate(t *testing.T) {
	a := newTestAdapter(t, "s")

	msgs, err := a.Normalize([]byte(`{"update_id": 11, "edited_message": {"message_id": 1}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("non-message update produced %d messages", len(msgs))
	}
}
