// Package flow implements the multi-step conversation engine: activation
// detection, step advancement, lazy expiry and final action execution.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nrojasv/ventabot/internal/intent"
	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/store"
	"github.com/nrojasv/ventabot/internal/util"
)

// DefaultCompletionReply is the completion marker appended to the final
// step's reply when the final action produces no customer-facing text of
// its own.
const DefaultCompletionReply = "¡Listo! Ya registramos tu información. Gracias."

// Classifier decides whether a message matches an intent description.
type Classifier interface {
	ClassifyIntent(ctx context.Context, message, description string) intent.Result
}

// Engine drives flow conversations against a Store.
type Engine struct {
	store      store.Store
	classifier Classifier
	actions    *ActionRunner
	now        func() time.Time
}

// NewEngine creates a flow engine.
func NewEngine(st store.Store, classifier Classifier, actions *ActionRunner) *Engine {
	return &Engine{
		store:      st,
		classifier: classifier,
		actions:    actions,
		now:        time.Now,
	}
}

// ActiveConversation returns the chat's in-progress conversation, cancelling
// it first when its deadline has passed. Expiry is only ever checked here, at
// read time; there is no background sweep.
func (e *Engine) ActiveConversation(businessID, chatID string) (*models.FlowConversation, error) {
	conv, err := e.store.GetActiveConversation(businessID, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active conversation: %w", err)
	}
	if conv == nil {
		return nil, nil
	}
	now := e.now()
	if conv.Expired(now) {
		conv.Status = models.ConversationCancelled
		conv.UpdatedAt = now
		if err := e.store.SaveConversation(*conv); err != nil {
			return nil, fmt.Errorf("failed to cancel expired conversation: %w", err)
		}
		slog.Info("Flow conversation expired", "business", businessID, "chat", chatID, "conversation", conv.ID)
		return nil, nil
	}
	return conv, nil
}

// DetectActivation returns the first active flow whose activation matches the
// message. Flows are checked in the order given; the store lists non-default
// flows before built-in ones.
func (e *Engine) DetectActivation(ctx context.Context, flows []models.FlowDefinition, message string) *models.FlowDefinition {
	for i := range flows {
		f := &flows[i]
		if !f.Active {
			continue
		}
		switch f.ActivationMode {
		case models.ActivationKeywords:
			if intent.MatchKeywords(message, f.Keywords) {
				slog.Debug("Flow activated by keyword", "flow", f.ID)
				return f
			}
		case models.ActivationIntent:
			if e.classifier == nil {
				continue
			}
			res := e.classifier.ClassifyIntent(ctx, message, f.IntentDescription)
			if res.Matches {
				slog.Debug("Flow activated by intent", "flow", f.ID, "confidence", res.Confidence)
				return f
			}
		}
	}
	return nil
}

// Start opens a conversation for the flow and returns the first step's reply.
// The caller must have verified there is no active conversation for the chat.
func (e *Engine) Start(businessID, chatID string, f *models.FlowDefinition) (string, error) {
	first := f.Step(1)
	if first == nil {
		return "", fmt.Errorf("flow %s has no steps", f.ID)
	}
	now := e.now()
	conv := models.FlowConversation{
		ID:          util.NewConversationID(),
		BusinessID:  businessID,
		ChatID:      chatID,
		FlowID:      f.ID,
		CurrentStep: 1,
		Collected:   make(map[int]models.StepExchange),
		ExpiresAt:   now.Add(time.Duration(f.TimeoutMinutes) * time.Minute),
		Status:      models.ConversationActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.SaveConversation(conv); err != nil {
		return "", fmt.Errorf("failed to start conversation: %w", err)
	}
	slog.Info("Flow conversation started", "business", businessID, "chat", chatID, "flow", f.ID, "conversation", conv.ID)
	return first.Reply, nil
}

// Advance feeds the user's message into an active conversation. It records
// the exchange for the current step and either moves the cursor forward or,
// on the last step, completes the conversation and runs its final action.
// An empty reply with a nil error means the conversation was cancelled and
// the caller should fall through to its other branches.
func (e *Engine) Advance(ctx context.Context, business models.Business, conv *models.FlowConversation, message string) (string, error) {
	f, err := e.store.GetFlow(conv.FlowID)
	if err != nil {
		return "", fmt.Errorf("failed to load flow %s: %w", conv.FlowID, err)
	}
	now := e.now()
	if f == nil || !f.Active {
		// The flow was deleted or deactivated mid-conversation.
		conv.Status = models.ConversationCancelled
		conv.UpdatedAt = now
		if err := e.store.SaveConversation(*conv); err != nil {
			return "", fmt.Errorf("failed to cancel orphaned conversation: %w", err)
		}
		slog.Info("Flow conversation cancelled, flow gone", "conversation", conv.ID, "flow", conv.FlowID)
		return "", nil
	}

	if f.AllowRestart && f.ActivationMode == models.ActivationKeywords && intent.MatchKeywords(message, f.Keywords) {
		conv.Status = models.ConversationCancelled
		conv.UpdatedAt = now
		if err := e.store.SaveConversation(*conv); err != nil {
			return "", fmt.Errorf("failed to cancel conversation for restart: %w", err)
		}
		slog.Info("Flow conversation restarted", "conversation", conv.ID, "flow", f.ID)
		return e.Start(business.ID, conv.ChatID, f)
	}

	step := f.Step(conv.CurrentStep)
	if step == nil {
		return "", fmt.Errorf("conversation %s step %d out of range for flow %s", conv.ID, conv.CurrentStep, f.ID)
	}
	if conv.Collected == nil {
		conv.Collected = make(map[int]models.StepExchange)
	}
	conv.Collected[conv.CurrentStep] = models.StepExchange{
		UserMessage: message,
		BotReply:    step.Reply,
	}
	conv.UpdatedAt = now

	if conv.CurrentStep >= f.StepCount() {
		conv.Status = models.ConversationCompleted
		actionReply := ""
		if e.actions != nil {
			actionReply = e.actions.Run(ctx, business, f, conv)
		}
		if err := e.store.SaveConversation(*conv); err != nil {
			return "", fmt.Errorf("failed to complete conversation: %w", err)
		}
		if err := e.store.IncrementDailyMetrics(business.ID, models.MetricsDate(now), models.MetricsDelta{FlowsCompleted: 1}); err != nil {
			slog.Error("Flow metrics increment failed", "error", err, "business", business.ID)
		}
		slog.Info("Flow conversation completed", "conversation", conv.ID, "flow", f.ID, "action", f.FinalAction.Type)
		// The outgoing reply is the final step's configured text, followed by
		// the action's confirmation or the generic completion marker.
		reply := step.Reply
		if actionReply == "" {
			actionReply = DefaultCompletionReply
		}
		if reply == "" {
			return actionReply, nil
		}
		return reply + "\n\n" + actionReply, nil
	}

	conv.CurrentStep++
	if err := e.store.SaveConversation(*conv); err != nil {
		return "", fmt.Errorf("failed to save conversation progress: %w", err)
	}
	next := f.Step(conv.CurrentStep)
	slog.Debug("Flow conversation advanced", "conversation", conv.ID, "step", conv.CurrentStep)
	return next.Reply, nil
}
