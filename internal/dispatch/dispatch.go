// Package dispatch routes inbound messages through the reply decision
// pipeline. Messages for the same chat are serialized through a single
// worker so they process in arrival order; different chats run in parallel.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openai/openai-go"

	"github.com/nrojasv/ventabot/internal/flow"
	"github.com/nrojasv/ventabot/internal/genai"
	"github.com/nrojasv/ventabot/internal/intent"
	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/orders"
	"github.com/nrojasv/ventabot/internal/persona"
	"github.com/nrojasv/ventabot/internal/store"
	"github.com/nrojasv/ventabot/internal/util"
)

// Constants for dispatcher configuration
const (
	// DefaultQueueSize is the per-chat worker queue capacity.
	DefaultQueueSize = 64
	// DefaultHistoryLimit is how many logged messages feed the fallback prompt.
	DefaultHistoryLimit = 10
	// workerIdleTimeout is how long an idle chat worker lingers before exiting.
	workerIdleTimeout = time.Minute
)

// ApologyReply is the last-resort reply when the pipeline itself failed.
const ApologyReply = "Disculpá, tuvimos un problema técnico. Te respondemos a la brevedad."

// Sender delivers outgoing messages to a chat.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Dispatcher resolves a reply for every inbound message.
type Dispatcher struct {
	store        store.Store
	engine       *flow.Engine
	orders       *orders.Service
	ai           genai.ClientInterface
	sender       Sender
	historyLimit int

	mu      sync.Mutex
	workers map[string]chan models.InboundMessage
	wg      sync.WaitGroup
	done    chan struct{}
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Dispatcher)

// WithHistoryLimit overrides how many logged messages feed the fallback prompt.
func WithHistoryLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.historyLimit = n
		}
	}
}

// NewDispatcher creates a dispatcher over the given pipeline components.
// ai may be nil when no completion service is configured; the fallback
// branch then records the message as unanswered.
func NewDispatcher(st store.Store, engine *flow.Engine, orderSvc *orders.Service, ai genai.ClientInterface, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        st,
		engine:       engine,
		orders:       orderSvc,
		ai:           ai,
		sender:       sender,
		historyLimit: DefaultHistoryLimit,
		workers:      make(map[string]chan models.InboundMessage),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start consumes inbound messages until the channel closes or ctx ends.
func (d *Dispatcher) Start(ctx context.Context, inbound <-chan models.InboundMessage) error {
	slog.Debug("Dispatcher Start invoked")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.done:
				return
			case msg, ok := <-inbound:
				if !ok {
					return
				}
				d.Enqueue(ctx, msg)
			}
		}
	}()
	return nil
}

// Stop signals all workers to exit and waits for them.
func (d *Dispatcher) Stop() {
	slog.Info("Dispatcher Stop invoked")
	close(d.done)
	d.wg.Wait()
}

// Enqueue hands a message to its chat's worker, creating the worker on
// first use. A full queue drops the message rather than block other chats;
// the drop is recorded as unanswered so the message still has an outcome.
func (d *Dispatcher) Enqueue(ctx context.Context, msg models.InboundMessage) {
	key := msg.BusinessID + "|" + msg.ChatID
	d.mu.Lock()
	q, ok := d.workers[key]
	if !ok {
		q = make(chan models.InboundMessage, DefaultQueueSize)
		d.workers[key] = q
		d.wg.Add(1)
		go d.runWorker(ctx, key, q)
	}
	dropped := false
	select {
	case q <- msg:
	default:
		dropped = true
	}
	d.mu.Unlock()
	if dropped {
		slog.Error("Dispatch queue full, dropping message", "business", msg.BusinessID, "chat", msg.ChatID, "message", msg.ID)
		d.recordUnanswered(msg, models.UnansweredReasonAPIError)
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, key string, q chan models.InboundMessage) {
	defer d.wg.Done()
	idle := time.NewTimer(workerIdleTimeout)
	defer idle.Stop()
	for {
		select {
		case msg := <-q:
			if err := d.Handle(ctx, msg); err != nil {
				slog.Error("Dispatch failed", "error", err, "business", msg.BusinessID, "chat", msg.ChatID, "message", msg.ID)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(workerIdleTimeout)
		case <-idle.C:
			d.mu.Lock()
			if len(q) == 0 {
				delete(d.workers, key)
				d.mu.Unlock()
				slog.Debug("Dispatch worker idle exit", "key", key)
				return
			}
			d.mu.Unlock()
			idle.Reset(workerIdleTimeout)
		case <-d.done:
			return
		}
	}
}

// Handle runs the decision pipeline for one message. It is synchronous and
// safe to call directly when per-chat ordering is already guaranteed.
func (d *Dispatcher) Handle(ctx context.Context, msg models.InboundMessage) error {
	newly, err := d.store.MarkMessageProcessed(msg.ID)
	if err != nil {
		return d.failWithApology(ctx, msg, fmt.Errorf("failed to mark message processed: %w", err))
	}
	if !newly {
		slog.Debug("Dispatch skipping already-processed message", "message", msg.ID)
		return nil
	}
	date := models.MetricsDate(time.Now())
	if err := d.store.IncrementDailyMetrics(msg.BusinessID, date, models.MetricsDelta{MessagesProcessed: 1}); err != nil {
		slog.Error("Dispatch metrics increment failed", "error", err, "business", msg.BusinessID)
	}

	business, err := d.store.GetBusiness(msg.BusinessID)
	if err != nil {
		return d.failWithApology(ctx, msg, fmt.Errorf("failed to load business: %w", err))
	}
	if business == nil {
		slog.Error("Dispatch message for unknown business", "business", msg.BusinessID, "message", msg.ID)
		return nil
	}

	if business.BotPaused {
		slog.Debug("Dispatch bot paused", "business", business.ID, "chat", msg.ChatID)
		d.recordUnanswered(msg, models.UnansweredReasonPaused)
		d.logMessage(msg, nil)
		return nil
	}

	reply, err := d.resolveReply(ctx, *business, msg)
	if err != nil {
		return d.failWithApology(ctx, msg, err)
	}
	if reply == "" {
		d.recordUnanswered(msg, models.UnansweredReasonNoMatch)
		d.notifyOperator(ctx, *business, msg)
		d.logMessage(msg, nil)
		return nil
	}

	if err := d.sender.SendMessage(ctx, msg.ChatID, reply); err != nil {
		d.recordUnanswered(msg, models.UnansweredReasonAPIError)
		d.logMessage(msg, nil)
		return fmt.Errorf("failed to send reply: %w", err)
	}
	d.logMessage(msg, &reply)
	if err := d.store.IncrementDailyMetrics(msg.BusinessID, date, models.MetricsDelta{RepliesSent: 1}); err != nil {
		slog.Error("Dispatch metrics increment failed", "error", err, "business", msg.BusinessID)
	}

	// The order pipeline runs after the reply and never alters it. Any order
	// confirmation goes out as its own message.
	d.wg.Add(1)
	go d.runOrderPipeline(ctx, *business, msg)
	return nil
}

// resolveReply walks the reply branches in priority order. An empty reply
// with a nil error means no branch matched.
func (d *Dispatcher) resolveReply(ctx context.Context, business models.Business, msg models.InboundMessage) (string, error) {
	conv, err := d.engine.ActiveConversation(business.ID, msg.ChatID)
	if err != nil {
		return "", err
	}
	if conv != nil {
		reply, err := d.engine.Advance(ctx, business, conv, msg.Body)
		if err != nil {
			return "", err
		}
		if reply != "" {
			return reply, nil
		}
		// The conversation was cancelled mid-advance; fall through.
	}

	flows, err := d.store.ListFlows(business.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list flows: %w", err)
	}
	if f := d.engine.DetectActivation(ctx, flows, msg.Body); f != nil {
		return d.engine.Start(business.ID, msg.ChatID, f)
	}

	autoReplies, err := d.store.ListAutoReplies(business.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list auto replies: %w", err)
	}
	for _, ar := range autoReplies {
		if ar.Active && intent.MatchKeywords(msg.Body, ar.Keywords) {
			slog.Debug("Dispatch canned reply matched", "business", business.ID, "reply", ar.ID, "priority", ar.Priority)
			return ar.Reply, nil
		}
	}

	return d.fallbackReply(ctx, business, msg)
}

// fallbackReply asks the completion service for a free-form reply using the
// business persona and recent chat history. It fails soft: any error leaves
// the message unanswered instead of surfacing to the customer.
func (d *Dispatcher) fallbackReply(ctx context.Context, business models.Business, msg models.InboundMessage) (string, error) {
	if d.ai == nil {
		return "", nil
	}
	history, err := d.store.RecentMessages(business.ID, msg.ChatID, d.historyLimit)
	if err != nil {
		slog.Error("Dispatch history load failed", "error", err, "business", business.ID, "chat", msg.ChatID)
		history = nil
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)*2+2)
	messages = append(messages, openai.SystemMessage(persona.BuildSystemPrompt(business)))
	for _, m := range history {
		messages = append(messages, openai.UserMessage(m.Body))
		if m.Reply != nil && *m.Reply != "" {
			messages = append(messages, openai.AssistantMessage(*m.Reply))
		}
	}
	messages = append(messages, openai.UserMessage(msg.Body))

	reply, err := d.ai.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Error("Dispatch fallback generation failed", "error", err, "business", business.ID, "chat", msg.ChatID)
		d.recordUnanswered(msg, models.UnansweredReasonAPIError)
		d.notifyOperator(ctx, business, msg)
		d.logMessage(msg, nil)
		// Resolved: nothing goes to the customer, nothing bubbles up.
		return "", errHandled
	}
	return reply, nil
}

// errHandled marks a branch that already recorded its own outcome.
var errHandled = fmt.Errorf("message handled without reply")

func (d *Dispatcher) runOrderPipeline(ctx context.Context, business models.Business, msg models.InboundMessage) {
	defer d.wg.Done()
	if d.orders == nil {
		return
	}
	history, err := d.store.RecentMessages(business.ID, msg.ChatID, d.historyLimit)
	if err != nil {
		slog.Error("Order pipeline history load failed", "error", err, "business", business.ID, "chat", msg.ChatID)
		history = nil
	}
	// The current message was already logged; keep it out of the history.
	if n := len(history); n > 0 && history[n-1].Body == msg.Body {
		history = history[:n-1]
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, m.Body)
	}
	reply, handled, err := d.orders.HandleMessage(ctx, business, msg.ChatID, msg.Body, lines)
	if err != nil {
		slog.Error("Order pipeline failed", "error", err, "business", business.ID, "chat", msg.ChatID)
		return
	}
	if !handled || reply == "" {
		return
	}
	if err := d.sender.SendMessage(ctx, msg.ChatID, reply); err != nil {
		slog.Error("Order pipeline reply failed", "error", err, "business", business.ID, "chat", msg.ChatID)
	}
}

// failWithApology records the failure and makes a best-effort apology to the
// customer before propagating the original error.
func (d *Dispatcher) failWithApology(ctx context.Context, msg models.InboundMessage, cause error) error {
	if cause == errHandled {
		return nil
	}
	d.recordUnanswered(msg, models.UnansweredReasonAPIError)
	d.logMessage(msg, nil)
	if err := d.sender.SendMessage(ctx, msg.ChatID, ApologyReply); err != nil {
		slog.Error("Dispatch apology send failed", "error", err, "chat", msg.ChatID)
	}
	return cause
}

func (d *Dispatcher) recordUnanswered(msg models.InboundMessage, reason models.UnansweredReason) {
	rec := models.UnansweredMessage{
		ID:         util.NewID("unans"),
		BusinessID: msg.BusinessID,
		ChatID:     msg.ChatID,
		Body:       msg.Body,
		Reason:     reason,
		Timestamp:  time.Now(),
	}
	if err := d.store.AddUnanswered(rec); err != nil {
		slog.Error("Dispatch unanswered record failed", "error", err, "business", msg.BusinessID, "message", msg.ID)
	}
}

func (d *Dispatcher) notifyOperator(ctx context.Context, business models.Business, msg models.InboundMessage) {
	if business.OperatorNumber == "" {
		return
	}
	body := fmt.Sprintf("Mensaje sin responder de %s: %s", msg.ChatID, msg.Body)
	if err := d.sender.SendMessage(ctx, business.OperatorNumber, body); err != nil {
		slog.Error("Dispatch operator notification failed", "error", err, "business", business.ID, "operator", business.OperatorNumber)
	}
}

func (d *Dispatcher) logMessage(msg models.InboundMessage, reply *string) {
	entry := models.MessageLog{
		ID:         util.NewMessageID(),
		BusinessID: msg.BusinessID,
		ChatID:     msg.ChatID,
		Sender:     msg.Sender,
		Body:       msg.Body,
		Reply:      reply,
		Timestamp:  time.Now(),
	}
	if err := d.store.LogMessage(entry); err != nil {
		slog.Error("Dispatch message log failed", "error", err, "business", msg.BusinessID, "message", msg.ID)
	}
}
