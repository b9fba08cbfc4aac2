// Package flow implements the multi-step conversation engine.
//
// This file executes final actions when a conversation completes.
package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/orders"
	"github.com/nrojasv/ventabot/internal/store"
)

// WebhookTimeout bounds the outbound webhook request.
const WebhookTimeout = 10 * time.Second

// ActionRunner executes a flow's final action exactly once per completion.
type ActionRunner struct {
	store     store.Store
	orders    *orders.Service
	extractor orders.OrderExtractor
	sender    orders.Sender
	webhook   *http.Client
	now       func() time.Time
}

// NewActionRunner creates a final action runner.
func NewActionRunner(st store.Store, orderSvc *orders.Service, extractor orders.OrderExtractor, sender orders.Sender) *ActionRunner {
	return &ActionRunner{
		store:     st,
		orders:    orderSvc,
		extractor: extractor,
		sender:    sender,
		webhook:   &http.Client{Timeout: WebhookTimeout},
		now:       time.Now,
	}
}

// Run executes the flow's final action and returns the customer-facing reply
// it produced, if any. Action failures are logged, never surfaced: the
// conversation itself completed and the customer still gets a closing reply.
func (r *ActionRunner) Run(ctx context.Context, business models.Business, f *models.FlowDefinition, conv *models.FlowConversation) string {
	slog.Debug("Final action run", "flow", f.ID, "conversation", conv.ID, "type", f.FinalAction.Type)
	switch f.FinalAction.Type {
	case models.FinalActionCreateOrder:
		return r.createOrder(ctx, business, f, conv)
	case models.FinalActionSendNotification:
		r.sendNotification(ctx, f, conv)
	case models.FinalActionSaveInfo:
		// Collected data is already persisted with the conversation.
	case models.FinalActionWebhook:
		r.postWebhook(ctx, f, conv)
	default:
		slog.Error("Unknown final action type", "flow", f.ID, "type", f.FinalAction.Type)
	}
	return ""
}

func (r *ActionRunner) createOrder(ctx context.Context, business models.Business, f *models.FlowDefinition, conv *models.FlowConversation) string {
	cfg, err := r.store.GetOrderConfig(business.ID)
	if err != nil {
		slog.Error("Final action order config load failed", "error", err, "conversation", conv.ID)
		return ""
	}
	if cfg == nil {
		cfg = &models.OrderConfig{BusinessID: business.ID}
	}

	// A re-run for the same conversation must not create a second order.
	if existing, err := r.store.GetOrderByConversation(conv.ID); err == nil && existing != nil {
		conv.OrderID = existing.ID
		slog.Debug("Final action order already exists", "conversation", conv.ID, "order", existing.ID)
		return r.orders.ConfirmationReply(existing, cfg)
	}

	transcript := Transcript(f, conv)
	extracted, err := r.extractor.ExtractOrder(ctx, transcript)
	if err != nil {
		slog.Error("Final action order extraction failed", "error", err, "conversation", conv.ID)
		return ""
	}
	order, err := r.orders.CreateFromExtraction(ctx, business, conv.ChatID, conv.ID, transcript, extracted, cfg)
	if err != nil {
		slog.Error("Final action order creation failed", "error", err, "conversation", conv.ID)
		return ""
	}
	conv.OrderID = order.ID
	return r.orders.ConfirmationReply(order, cfg)
}

func (r *ActionRunner) sendNotification(ctx context.Context, f *models.FlowDefinition, conv *models.FlowConversation) {
	if r.sender == nil {
		slog.Error("Final action notification without sender", "flow", f.ID)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Flujo completado: %s\nCliente: %s\n", f.Name, conv.ChatID)
	for _, step := range sortedSteps(conv) {
		ex := conv.Collected[step]
		label := ""
		if s := f.Step(step); s != nil && s.Description != "" {
			label = s.Description
		} else {
			label = fmt.Sprintf("Paso %d", step)
		}
		fmt.Fprintf(&b, "%s: %s\n", label, ex.UserMessage)
	}
	if err := r.sender.SendMessage(ctx, f.FinalAction.NotifyTo, b.String()); err != nil {
		slog.Error("Final action notification failed", "error", err, "flow", f.ID, "to", f.FinalAction.NotifyTo)
	}
}

// webhookPayload is the body posted to a flow's configured webhook URL.
type webhookPayload struct {
	FlowID        string                      `json:"flow_id"`
	FlowName      string                      `json:"flow_name"`
	CustomerRef   string                      `json:"customer_ref"`
	CollectedData map[int]models.StepExchange `json:"collected_data"`
	CompletedAt   time.Time                   `json:"completed_at"`
}

func (r *ActionRunner) postWebhook(ctx context.Context, f *models.FlowDefinition, conv *models.FlowConversation) {
	payload := webhookPayload{
		FlowID:        f.ID,
		FlowName:      f.Name,
		CustomerRef:   conv.ChatID,
		CollectedData: conv.Collected,
		CompletedAt:   r.now(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Final action webhook marshal failed", "error", err, "flow", f.ID)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.FinalAction.WebhookURL, bytes.NewReader(body))
	if err != nil {
		slog.Error("Final action webhook request failed", "error", err, "flow", f.ID)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.webhook.Do(req)
	if err != nil {
		slog.Error("Final action webhook post failed", "error", err, "flow", f.ID, "url", f.FinalAction.WebhookURL)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Error("Final action webhook rejected", "flow", f.ID, "url", f.FinalAction.WebhookURL, "status", resp.StatusCode)
		return
	}
	slog.Debug("Final action webhook delivered", "flow", f.ID, "url", f.FinalAction.WebhookURL)
}

// Transcript renders the conversation's collected exchanges in step order,
// as fed to the order extractor.
func Transcript(f *models.FlowDefinition, conv *models.FlowConversation) string {
	var b strings.Builder
	for _, step := range sortedSteps(conv) {
		ex := conv.Collected[step]
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Bot: %s\nCliente: %s", ex.BotReply, ex.UserMessage)
	}
	return b.String()
}

func sortedSteps(conv *models.FlowConversation) []int {
	steps := make([]int, 0, len(conv.Collected))
	for k := range conv.Collected {
		steps = append(steps, k)
	}
	sort.Ints(steps)
	return steps
}
