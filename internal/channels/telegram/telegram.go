// Package telegram adapts the Telegram Bot API to the channel contract.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/storechat/storechat/internal/bus"
	"github.com/storechat/storechat/internal/channels"
	"github.com/storechat/storechat/internal/config"
)

const (
	// ChannelName identifies this adapter in webhook paths and storage.
	ChannelName = "telegram"

	// secretTokenHeader is set by Telegram on every webhook call when a
	// secret_token was registered with setWebhook.
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// Adapter is the Telegram bot channel.
type Adapter struct {
	cfg     config.TelegramConfig
	bot     *telego.Bot
	limiter *channels.SendLimiter
}

// New builds the adapter and its Bot API client.
func New(cfg config.TelegramConfig) (*Adapter, error) {
	opts := []telego.BotOption{telego.WithDiscardLogger()}
	if cfg.APIBase != "" {
		opts = append(opts, telego.WithAPIServer(cfg.APIBase))
	}
	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	rate := cfg.SendRatePerSec
	if rate <= 0 {
		rate = 25 // Bot API allows ~30/s across all chats
	}
	return &Adapter{
		cfg:     cfg,
		bot:     bot,
		limiter: channels.NewSendLimiter(rate),
	}, nil
}

func (a *Adapter) Name() string { return ChannelName }

// VerifySignature checks the shared-secret header registered at setWebhook
// time. Telegram does not sign bodies; the secret header is the only
// authenticity signal.
func (a *Adapter) VerifySignature(_ []byte, header http.Header) error {
	if a.cfg.WebhookSecret == "" {
		return fmt.Errorf("%w: no webhook secret configured", channels.ErrBadSignature)
	}
	got := header.Get(secretTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.WebhookSecret)) != 1 {
		return channels.ErrBadSignature
	}
	return nil
}

// Normalize extracts the message from one Update. Edits, channel posts and
// other update kinds normalize to nothing.
func (a *Adapter) Normalize(body []byte) ([]bus.InboundMessage, error) {
	var update telego.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("parse telegram update: %w", err)
	}
	m := update.Message
	if m == nil || m.From == nil {
		return nil, nil
	}

	contentType := "text"
	if m.Text == "" {
		contentType = attachmentType(m)
	}
	return []bus.InboundMessage{{
		Channel: ChannelName,
		// Chat ID, not user ID: replies go back to the chat.
		ExternalCustomerID: strconv.FormatInt(m.Chat.ID, 10),
		// Message IDs are only unique per chat.
		ExternalMessageID:   fmt.Sprintf("%d:%d", m.Chat.ID, m.MessageID),
		Text:                m.Text,
		ContentType:         contentType,
		CustomerDisplayName: displayName(m.From),
	}}, nil
}

func attachmentType(m *telego.Message) string {
	switch {
	case len(m.Photo) > 0:
		return "image"
	case m.Voice != nil:
		return "audio"
	case m.Document != nil:
		return "document"
	case m.Location != nil:
		return "location"
	case m.Sticker != nil:
		return "sticker"
	default:
		return "unknown"
	}
}

func displayName(u *telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

// Send delivers one message, rendering quick replies as a one-time reply
// keyboard.
func (a *Adapter) Send(ctx context.Context, msg bus.OutboundMessage) (channels.SendResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.SendResult{}, err
	}

	chatID, err := strconv.ParseInt(msg.ExternalCustomerID, 10, 64)
	if err != nil {
		return channels.SendResult{}, fmt.Errorf("bad telegram chat id %q: %w", msg.ExternalCustomerID, err)
	}

	params := tu.Message(tu.ID(chatID), msg.Text)
	if len(msg.QuickReplies) > 0 {
		row := make([]telego.KeyboardButton, 0, len(msg.QuickReplies))
		for _, qr := range msg.QuickReplies {
			row = append(row, telego.KeyboardButton{Text: qr.Title})
		}
		params.ReplyMarkup = &telego.ReplyKeyboardMarkup{
			Keyboard:        [][]telego.KeyboardButton{row},
			ResizeKeyboard:  true,
			OneTimeKeyboard: true,
		}
	}

	sent, err := a.bot.SendMessage(ctx, params)
	if err != nil {
		return channels.SendResult{}, fmt.Errorf("telegram send: %w", err)
	}
	return channels.SendResult{
		Delivered:         true,
		ProviderMessageID: fmt.Sprintf("%d:%d", chatID, sent.MessageID),
	}, nil
}
