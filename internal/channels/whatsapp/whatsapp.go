// Package whatsapp adapts the WhatsApp Cloud API to the channel contract.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storechat/storechat/internal/bus"
	"github.com/storechat/storechat/internal/channels"
	"github.com/storechat/storechat/internal/config"
)

const (
	// ChannelName identifies this adapter in webhook paths and storage.
	ChannelName = "whatsapp"

	defaultAPIBase = "https://graph.facebook.com/v19.0"
	maxButtons     = 3 // Cloud API caps interactive reply buttons
)

// Adapter is the WhatsApp Cloud API channel.
type Adapter struct {
	cfg     config.MetaChannelConfig
	client  *http.Client
	limiter *channels.SendLimiter
}

// New builds the adapter from channel config.
func New(cfg config.MetaChannelConfig) *Adapter {
	return &Adapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: channels.NewSendLimiter(cfg.SendRatePerSec),
	}
}

func (a *Adapter) Name() string { return ChannelName }

func (a *Adapter) VerifySignature(body []byte, header http.Header) error {
	return channels.VerifyMetaSignature(body, header, a.cfg.AppSecret)
}

// Webhook payload shapes, trimmed to what the pipeline needs.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Type      string `json:"type"`
					Timestamp string `json:"timestamp"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Button struct {
						Text string `json:"text"`
					} `json:"button"`
					Interactive struct {
						ButtonReply struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
					} `json:"interactive"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Normalize extracts text messages. Delivery/read status callbacks arrive on
// the same webhook with no messages array and normalize to nothing.
func (a *Adapter) Normalize(body []byte) ([]bus.InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse whatsapp webhook: %w", err)
	}

	var out []bus.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				text, contentType := extractText(m.Type, m.Text.Body, m.Button.Text, m.Interactive.ButtonReply.Title)
				out = append(out, bus.InboundMessage{
					Channel:             ChannelName,
					ExternalCustomerID:  m.From,
					ExternalMessageID:   m.ID,
					Text:                text,
					ContentType:         contentType,
					CustomerDisplayName: names[m.From],
				})
			}
		}
	}
	return out, nil
}

func extractText(msgType, body, buttonText, replyTitle string) (string, string) {
	switch msgType {
	case "text":
		return body, "text"
	case "button":
		return buttonText, "text"
	case "interactive":
		return replyTitle, "text"
	default:
		// Media and location messages keep their type so the pipeline can
		// answer "I can only read text here" instead of dropping them.
		return "", msgType
	}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts one message to the Cloud API, as interactive buttons when quick
// replies are attached.
func (a *Adapter) Send(ctx context.Context, msg bus.OutboundMessage) (channels.SendResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.SendResult{}, err
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.ExternalCustomerID,
	}
	if len(msg.QuickReplies) > 0 {
		buttons := make([]map[string]any, 0, maxButtons)
		for i, qr := range msg.QuickReplies {
			if i == maxButtons {
				break
			}
			buttons = append(buttons, map[string]any{
				"type": "reply",
				"reply": map[string]string{
					"id":    qr.Payload,
					"title": truncateRunes(qr.Title, 20),
				},
			})
		}
		payload["type"] = "interactive"
		payload["interactive"] = map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": msg.Text},
			"action": map[string]any{"buttons": buttons},
		}
	} else {
		payload["type"] = "text"
		payload["text"] = map[string]string{"body": msg.Text}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return channels.SendResult{}, fmt.Errorf("marshal send payload: %w", err)
	}

	base := a.cfg.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	url := fmt.Sprintf("%s/%s/messages", base, a.cfg.PhoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return channels.SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return channels.SendResult{}, fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var parsed sendResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode != http.StatusOK {
		detail := ""
		if parsed.Error != nil {
			detail = ": " + parsed.Error.Message
		}
		return channels.SendResult{}, fmt.Errorf("whatsapp send status %d%s", resp.StatusCode, detail)
	}

	result := channels.SendResult{Delivered: true}
	if len(parsed.Messages) > 0 {
		result.ProviderMessageID = parsed.Messages[0].ID
	}
	return result, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
