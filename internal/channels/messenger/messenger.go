// Package messenger adapts Facebook Messenger's Send API and page webhooks
// to the channel contract.
package messenger

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
	ChannelName = "messenger"

	defaultAPIBase  = "https://graph.facebook.com/v19.0"
	maxQuickReplies = 13 // Send API cap
)

// Adapter is the Facebook Messenger channel.
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

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message struct {
				MID        string `json:"mid"`
				Text       string `json:"text"`
				IsEcho     bool   `json:"is_echo"`
				QuickReply struct {
					Payload string `json:"payload"`
				} `json:"quick_reply"`
				Attachments []struct {
					Type string `json:"type"`
				} `json:"attachments"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// Normalize extracts customer messages. Echoes of the page's own sends and
// delivery receipts normalize to nothing.
func (a *Adapter) Normalize(body []byte) ([]bus.InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse messenger webhook: %w", err)
	}

	var out []bus.InboundMessage
	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			m := ev.Message
			if m.MID == "" || m.IsEcho {
				continue
			}
			contentType := "text"
			if m.Text == "" && len(m.Attachments) > 0 {
				contentType = m.Attachments[0].Type
			}
			msg := bus.InboundMessage{
				Channel:            ChannelName,
				ExternalCustomerID: ev.Sender.ID,
				ExternalMessageID:  m.MID,
				Text:               m.Text,
				ContentType:        contentType,
			}
			if m.QuickReply.Payload != "" {
				msg.Metadata = map[string]string{"quick_reply_payload": m.QuickReply.Payload}
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text         string       `json:"text"`
		QuickReplies []quickReply `json:"quick_replies,omitempty"`
	} `json:"message"`
	MessagingType string `json:"messaging_type"`
}

type quickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Send posts one message through the Send API, carrying quick replies as
// native Messenger quick replies.
func (a *Adapter) Send(ctx context.Context, msg bus.OutboundMessage) (channels.SendResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.SendResult{}, err
	}

	var req sendRequest
	req.Recipient.ID = msg.ExternalCustomerID
	req.Message.Text = msg.Text
	req.MessagingType = "RESPONSE"
	for i, qr := range msg.QuickReplies {
		if i == maxQuickReplies {
			break
		}
		payload := qr.Payload
		if payload == "" {
			payload = qr.Title
		}
		req.Message.QuickReplies = append(req.Message.QuickReplies, quickReply{
			ContentType: "text",
			Title:       qr.Title,
			Payload:     payload,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return channels.SendResult{}, fmt.Errorf("marshal send payload: %w", err)
	}

	base := a.cfg.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	url := base + "/me/messages?access_token=" + a.cfg.AccessToken

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return channels.SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return channels.SendResult{}, fmt.Errorf("messenger send: %w", err)
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
		return channels.SendResult{}, fmt.Errorf("messenger send status %d%s", resp.StatusCode, detail)
	}
	return channels.SendResult{Delivered: true, ProviderMessageID: parsed.MessageID}, nil
}
