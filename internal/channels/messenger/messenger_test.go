package messenger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/storechat/storechat/internal/bus"
	"github.com/storechat/storechat/internal/config"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		check   func(t *testing.T, msgs []bus.InboundMessage)
		wantErr bool
	}{
		{
			name: "text message",
			body: `{"object":"page","entry":[{"messaging":[{"sender":{"id":"psid-1"},"message":{"mid":"m-1","text":"do you ship to Cairo?"}}]}]}`,
			want: 1,
			check: func(t *testing.T, msgs []bus.InboundMessage) {
				m := msgs[0]
				if m.Channel != "messenger" || m.ExternalCustomerID != "psid-1" || m.ExternalMessageID != "m-1" {
					t.Errorf("identity fields wrong: %+v", m)
				}
				if m.Text != "do you ship to Cairo?" || m.ContentType != "text" {
					t.Errorf("content fields wrong: %+v", m)
				}
			},
		},
		{
			name: "quick reply tap carries payload",
			body: `{"object":"page","entry":[{"messaging":[{"sender":{"id":"psid-1"},"message":{"mid":"m-2","text":"Track my order","quick_reply":{"payload":"ORDER_STATUS"}}}]}]}`,
			want: 1,
			check: func(t *testing.T, msgs []bus.InboundMessage) {
				if msgs[0].Metadata["quick_reply_payload"] != "ORDER_STATUS" {
					t.Errorf("quick reply payload not carried: %+v", msgs[0].Metadata)
				}
			},
		},
		{
			name: "echo of own send is dropped",
			body: `{"object":"page","entry":[{"messaging":[{"sender":{"id":"page-1"},"message":{"mid":"m-3","text":"hi","is_echo":true}}]}]}`,
			want: 0,
		},
		{
			name: "delivery receipt normalizes to nothing",
			body: `{"object":"page","entry":[{"messaging":[{"sender":{"id":"psid-1"},"delivery":{"mids":["m-1"]}}]}]}`,
			want: 0,
		},
		{
			name: "image attachment keeps its type",
			body: `{"object":"page","entry":[{"messaging":[{"sender":{"id":"psid-1"},"message":{"mid":"m-4","attachments":[{"type":"image"}]}}]}]}`,
			want: 1,
			check: func(t *testing.T, msgs []bus.InboundMessage) {
				if msgs[0].ContentType != "image" || msgs[0].Text != "" {
					t.Errorf("attachment message wrong: %+v", msgs[0])
				}
			},
		},
		{
			name:    "garbage payload",
			body:    `{"object":`,
			wantErr: true,
		},
	}

	a := New(config.MetaChannelConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := a.Normalize([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if len(msgs) != tt.want {
				t.Fatalf("got %d messages, want %d", len(msgs), tt.want)
			}
			if tt.check != nil {
				tt.check(t, msgs)
			}
		})
	}
}

func TestSendQuickReplies(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode send request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"message_id": "sent-1"})
	}))
	defer srv.Close()

	a := New(config.MetaChannelConfig{APIBase: srv.URL, AccessToken: "tok"})
	res, err := a.Send(context.Background(), bus.OutboundMessage{
		Channel:            ChannelName,
		ExternalCustomerID: "psid-1",
		Text:               "Anything else?",
		QuickReplies: []bus.QuickReply{
			{Title: "Track order", Payload: "ORDER_STATUS"},
			{Title: "Talk to a human"},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Delivered || res.ProviderMessageID != "sent-1" {
		t.Errorf("result = %+v", res)
	}
	if got.Recipient.ID != "psid-1" || got.MessagingType != "RESPONSE" {
		t.Errorf("request envelope wrong: %+v", got)
	}
	if len(got.Message.QuickReplies) != 2 {
		t.Fatalf("got %d quick replies, want 2", len(got.Message.QuickReplies))
	}
	// Payload falls back to the title when unset.
	if got.Message.QuickReplies[1].Payload != "Talk to a human" {
		t.Errorf("payload fallback = %q", got.Message.QuickReplies[1].Payload)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "invalid PSID"}})
	}))
	defer srv.Close()

	a := New(config.MetaChannelConfig{APIBase: srv.URL, AccessToken: "tok"})
	_, err := a.Send(context.Background(), bus.OutboundMessage{ExternalCustomerID: "nope", Text: "hi"})
	if err == nil {
		t.Fatal("expected error on API failure")
	}
}
