// Package dispatch routes inbound customer messages end to end: webhook
// authentication, normalization, idempotency, storage, analysis, escalation
// and reply delivery. It owns the ordering and idempotency guarantees of
// the whole pipeline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/storechat/storechat/internal/ai"
	"github.com/storechat/storechat/internal/analysis"
	"github.com/storechat/storechat/internal/bus"
	"github.com/storechat/storechat/internal/channels"
	"github.com/storechat/storechat/internal/config"
	"github.com/storechat/storechat/internal/decision"
	"github.com/storechat/storechat/internal/dedupe"
	"github.com/storechat/storechat/internal/store"
	"github.com/storechat/storechat/internal/telemetry"
)

// nonTextReply is sent when a customer sends media the bot cannot read.
const nonTextReply = "Sorry, I can only read text messages right now. Could you type it out?"

// Coordinator is the dispatch pipeline.
type Coordinator struct {
	store    store.ConversationStore
	cache    dedupe.Cache
	registry *channels.Registry
	bot      *ai.Orchestrator
	deep     *analysis.DeepAnalyzer
	cfg      *config.Config
	events   bus.EventPublisher
	logger   *slog.Logger
	locks    *keyLock
	flight   singleflight.Group
	tracer   trace.Tracer
}

// New wires the coordinator. deep may be nil to disable the deep sentiment
// pass; events may be nil when nothing subscribes.
func New(
	st store.ConversationStore,
	cache dedupe.Cache,
	registry *channels.Registry,
	bot *ai.Orchestrator,
	deep *analysis.DeepAnalyzer,
	cfg *config.Config,
	events bus.EventPublisher,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = bus.EventPublisherFunc(func(bus.Event) {})
	}
	return &Coordinator{
		store:    st,
		cache:    cache,
		registry: registry,
		bot:      bot,
		deep:     deep,
		cfg:      cfg,
		events:   events,
		logger:   logger,
		locks:    newKeyLock(),
		tracer:   telemetry.Tracer(),
	}
}

// HandleInbound runs one raw webhook delivery through the pipeline.
// The Ack field of the result is what the provider must see; everything
// past signature verification is acknowledged 200 so providers stop
// re-delivering, with the internal outcome carried in Status.
func (c *Coordinator) HandleInbound(ctx context.Context, channelName string, body []byte, header http.Header) Result {
	ctx, span := c.tracer.Start(ctx, "dispatch.handle_inbound",
		trace.WithAttributes(attribute.String("channel", channelName)))
	defer span.End()

	adapter := c.registry.Get(channelName)
	if adapter == nil {
		return dropped(http.StatusNotFound, "unknown channel "+channelName)
	}

	if err := adapter.VerifySignature(body, header); err != nil {
		c.logger.Warn("webhook rejected", "channel", channelName, "error", err)
		return dropped(http.StatusUnauthorized, "signature verification failed")
	}

	msgs, err := adapter.Normalize(body)
	if err != nil {
		c.logger.Warn("webhook payload unparseable", "channel", channelName, "error", err)
		return rejected("malformed payload")
	}
	if len(msgs) == 0 {
		return dropped(http.StatusOK, "no messages")
	}

	// Multi-message webhooks (Meta batches) process in payload order; the
	// delivery is acknowledged as a whole, the last outcome reported.
	var res Result
	for _, msg := range msgs {
		res = c.Process(ctx, msg)
	}
	return res
}

// Process runs one normalized message. Exposed separately for the webchat
// socket path, which has no webhook envelope.
func (c *Coordinator) Process(ctx context.Context, msg bus.InboundMessage) Result {
	if msg.ExternalMessageID == "" {
		return c.processLocked(ctx, msg)
	}

	// Coalesce concurrent deliveries of the same message: the losers wait
	// for the winner instead of racing to the store.
	key := dedupe.Key(msg.Channel, msg.ExternalMessageID)
	var executed bool
	v, _, _ := c.flight.Do(key, func() (any, error) {
		executed = true
		seen, err := c.cache.Seen(ctx, msg.Channel, msg.ExternalMessageID)
		if err != nil {
			c.logger.Warn("dedupe cache lookup failed", "error", err)
		}
		if seen {
			return c.duplicateResult(ctx, msg), nil
		}
		return c.processLocked(ctx, msg), nil
	})
	res := v.(Result)
	if !executed && res.Status == StatusAccepted {
		res.Status = StatusDuplicate
		res.Reason = "coalesced concurrent delivery"
	}
	return res
}

func (c *Coordinator) duplicateResult(ctx context.Context, msg bus.InboundMessage) Result {
	res := Result{Ack: http.StatusOK, Status: StatusDuplicate, Reason: "already processed"}
	if prev, err := c.store.FindMessageByExternalID(ctx, msg.Channel, msg.ExternalMessageID); err == nil {
		res.ConversationID = prev.ConversationID.String()
		res.MessageID = prev.ID.String()
	}
	return res
}

// processLocked holds the conversation key lock through storage, analysis
// and reply generation, then releases it before the provider send so a slow
// channel API never blocks the next message of another delivery wave.
func (c *Coordinator) processLocked(ctx context.Context, msg bus.InboundMessage) Result {
	unlock := c.locks.Lock(msg.Channel + ":" + msg.ExternalCustomerID)

	res, outbound, outboundID := c.processStored(ctx, msg)
	unlock()

	if outbound != nil {
		c.send(ctx, *outbound, outboundID)
	}
	return res
}

// processStored is the locked section. It returns the outbound message to
// deliver after the lock is released, if any.
func (c *Coordinator) processStored(ctx context.Context, msg bus.InboundMessage) (Result, *bus.OutboundMessage, uuid.UUID) {
	customer, err := c.store.ResolveCustomer(ctx, msg.Channel, msg.ExternalCustomerID, msg.CustomerDisplayName)
	if err != nil {
		c.logger.Error("resolve customer failed", "channel", msg.Channel, "error", err)
		return rejected("customer resolution failed"), nil, uuid.Nil
	}

	convo, err := c.store.OpenConversation(ctx, customer.ID, msg.Channel)
	if err != nil {
		c.logger.Error("open conversation failed", "customer", customer.ID, "error", err)
		return rejected("conversation open failed"), nil, uuid.Nil
	}
	newConversation := convo.MessageCount == 0

	_, analyzeSpan := c.tracer.Start(ctx, "dispatch.analyze")
	res := analysis.Analyze(msg.Text)
	th := c.thresholds()
	if c.deep != nil && msg.Text != "" && analysis.NeedsDeepPass(res, th) {
		res = c.deep.Refine(ctx, msg.Text, res)
	}
	analyzeSpan.End()

	score := res.Score
	inbound := &store.Message{
		ID:             store.NewID(),
		ConversationID: convo.ID,
		Direction:      store.DirectionInbound,
		Sender:         store.SenderCustomer,
		Content:        msg.Text,
		ContentType:    contentTypeOrText(msg.ContentType),
		Sentiment:      res.Sentiment,
		SentimentScore: &score,
		ExternalID:     msg.ExternalMessageID,
	}
	if err := c.store.AppendMessage(ctx, inbound); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateMessage):
			return c.duplicateResult(ctx, msg), nil, uuid.Nil
		case errors.Is(err, store.ErrConversationClosed):
			// Closed from the dashboard between open and append; a fresh
			// conversation takes the message.
			convo, err = c.store.OpenConversation(ctx, customer.ID, msg.Channel)
			if err == nil {
				newConversation = true
				inbound.ConversationID = convo.ID
				err = c.store.AppendMessage(ctx, inbound)
			}
			if err != nil {
				c.logger.Error("append after reopen failed", "error", err)
				return rejected("message append failed"), nil, uuid.Nil
			}
		default:
			c.logger.Error("append inbound failed", "conversation", convo.ID, "error", err)
			return rejected("message append failed"), nil, uuid.Nil
		}
	}
	c.markSeen(ctx, msg)

	if err := c.store.UpdateSnapshot(ctx, convo.ID, res.Sentiment, res.Score, res.Intent); err != nil {
		c.logger.Warn("snapshot update failed", "conversation", convo.ID, "error", err)
	}

	if newConversation {
		c.events.Publish(bus.Event{Topic: convo.ID.String(), Name: bus.EventConversationCreated, Payload: convo})
	}
	c.events.Publish(bus.Event{Topic: convo.ID.String(), Name: bus.EventMessageCreated, Payload: inbound})

	out := Result{
		Ack:            http.StatusOK,
		Status:         StatusAccepted,
		ConversationID: convo.ID.String(),
		MessageID:      inbound.ID.String(),
	}

	outcome := decision.Decide(res, convo, decision.Rules{
		Thresholds: th,
		HumanOnly:  c.cfg.Snapshot().BotMode == config.BotModeHumanOnly,
	})

	switch outcome.Action {
	case decision.StoreOnly:
		return out, nil, uuid.Nil

	case decision.HandOff:
		c.handoff(ctx, convo.ID, outcome.Reason)
		return out, nil, uuid.Nil
	}

	// Bot replies. Media the bot cannot read gets a canned answer instead
	// of an AI call over empty text.
	var reply ai.Reply
	if msg.Text == "" {
		reply = ai.Reply{Text: nonTextReply, Intent: "inquiry", Sentiment: "neutral", Confidence: 1}
	} else {
		genCtx, genSpan := c.tracer.Start(ctx, "dispatch.generate")
		reply = c.bot.Respond(genCtx, ai.Input{
			Customer:     customer,
			Conversation: convo,
			History:      c.history(ctx, convo.ID),
			Text:         msg.Text,
		})
		genSpan.End()
	}

	outMsg := &store.Message{
		ID:             store.NewID(),
		ConversationID: convo.ID,
		Direction:      store.DirectionOutbound,
		Sender:         store.SenderBot,
		Content:        reply.Text,
		ContentType:    "text",
		QuickReplies:   reply.QuickReplies,
		Components:     reply.Components,
	}
	if err := c.store.AppendMessage(ctx, outMsg); err != nil {
		c.logger.Error("append outbound failed", "conversation", convo.ID, "error", err)
		return out, nil, uuid.Nil
	}
	c.events.Publish(bus.Event{Topic: convo.ID.String(), Name: bus.EventMessageCreated, Payload: outMsg})

	if reply.ShouldHandoff {
		c.handoff(ctx, convo.ID, handoffReason(reply))
	}

	outbound := &bus.OutboundMessage{
		Channel:            msg.Channel,
		ExternalCustomerID: msg.ExternalCustomerID,
		Text:               reply.Text,
		SuggestedProducts:  reply.SuggestedProducts,
		Components:         reply.Components,
	}
	for _, qr := range reply.QuickReplies {
		outbound.QuickReplies = append(outbound.QuickReplies, bus.QuickReply{Title: qr, Payload: qr})
	}

	out.Reply = reply.Text
	return out, outbound, outMsg.ID
}

// send delivers the reply and records a failed delivery without retrying;
// reconciliation is external.
func (c *Coordinator) send(ctx context.Context, msg bus.OutboundMessage, messageID uuid.UUID) {
	adapter := c.registry.Get(msg.Channel)
	if adapter == nil {
		return
	}
	ctx, span := c.tracer.Start(ctx, "dispatch.send",
		trace.WithAttributes(attribute.String("channel", msg.Channel)))
	defer span.End()

	result, err := adapter.Send(ctx, msg)
	if err != nil || !result.Delivered {
		c.logger.Error("outbound delivery failed", "channel", msg.Channel, "message", messageID, "error", err)
		if markErr := c.store.MarkDeliveryFailed(ctx, messageID); markErr != nil {
			c.logger.Error("mark delivery failed", "message", messageID, "error", markErr)
		}
		c.events.Publish(bus.Event{
			Name:    bus.EventMessageDeliveryFail,
			Payload: map[string]string{"message_id": messageID.String(), "channel": msg.Channel},
		})
	}
}

func (c *Coordinator) handoff(ctx context.Context, conversationID uuid.UUID, reason string) {
	err := c.store.Handoff(ctx, conversationID, reason)
	if errors.Is(err, store.ErrInvalidTransition) {
		return // already with a human
	}
	if err != nil {
		c.logger.Error("handoff failed", "conversation", conversationID, "error", err)
		return
	}
	c.logger.Info("conversation handed off", "conversation", conversationID, "reason", reason)
	c.events.Publish(bus.Event{
		Topic:   conversationID.String(),
		Name:    bus.EventConversationHandoff,
		Payload: map[string]string{"conversation_id": conversationID.String(), "reason": reason},
	})
}

// Takeover moves the conversation to a human agent, on dashboard request.
func (c *Coordinator) Takeover(ctx context.Context, conversationID uuid.UUID, reason string) error {
	if reason == "" {
		reason = "agent takeover"
	}
	if err := c.store.Handoff(ctx, conversationID, reason); err != nil {
		return fmt.Errorf("takeover: %w", err)
	}
	c.events.Publish(bus.Event{
		Topic:   conversationID.String(),
		Name:    bus.EventConversationHandoff,
		Payload: map[string]string{"conversation_id": conversationID.String(), "reason": reason},
	})
	return nil
}

// ReturnToBot hands the conversation back to the bot.
func (c *Coordinator) ReturnToBot(ctx context.Context, conversationID uuid.UUID) error {
	if err := c.store.ReturnToBot(ctx, conversationID); err != nil {
		return fmt.Errorf("return to bot: %w", err)
	}
	c.events.Publish(bus.Event{
		Topic: conversationID.String(),
		Name:  bus.EventConversationReturned,
		Payload: map[string]string{"conversation_id": conversationID.String()},
	})
	return nil
}

// CloseConversation closes the conversation. Closed is terminal; the next
// inbound message opens a fresh one.
func (c *Coordinator) CloseConversation(ctx context.Context, conversationID uuid.UUID) error {
	if err := c.store.Close(ctx, conversationID); err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	c.events.Publish(bus.Event{
		Topic: conversationID.String(),
		Name:  bus.EventConversationClosed,
		Payload: map[string]string{"conversation_id": conversationID.String()},
	})
	return nil
}

func (c *Coordinator) thresholds() analysis.Thresholds {
	a := c.cfg.AnalysisSnapshot()
	th := analysis.Thresholds{
		EscalationScore: a.EscalationScoreThreshold,
		DeepPass:        a.DeepPassThreshold,
	}
	if th.EscalationScore == 0 {
		th.EscalationScore = -0.5
	}
	if th.DeepPass == 0 {
		th.DeepPass = -0.3
	}
	return th
}

func (c *Coordinator) history(ctx context.Context, conversationID uuid.UUID) []store.Message {
	window := c.cfg.Snapshot().HistoryWindow
	if window <= 0 {
		window = 10
	}
	msgs, err := c.store.RecentMessages(ctx, conversationID, window)
	if err != nil {
		c.logger.Warn("history load failed", "conversation", conversationID, "error", err)
		return nil
	}
	// The just-appended inbound message goes to the model as the current
	// turn, not as history.
	if n := len(msgs); n > 0 && msgs[n-1].Direction == store.DirectionInbound {
		msgs = msgs[:n-1]
	}
	return msgs
}

func (c *Coordinator) markSeen(ctx context.Context, msg bus.InboundMessage) {
	if msg.ExternalMessageID == "" {
		return
	}
	ttl := c.cfg.Dedupe.TTLDuration()
	if err := c.cache.Mark(ctx, msg.Channel, msg.ExternalMessageID, ttl); err != nil {
		c.logger.Warn("dedupe cache mark failed", "error", err)
	}
}

func handoffReason(r ai.Reply) string {
	if r.HandoffReason != "" {
		return r.HandoffReason
	}
	if r.Fallback {
		return "assistant unavailable"
	}
	return "model requested handoff"
}

func contentTypeOrText(ct string) string {
	if ct == "" {
		return "text"
	}
	return ct
}
