// Package models defines flow structures for VentaBot conversations.
package models

import (
	"errors"
	"time"
)

// FlowActivationMode defines how a flow decides to activate on a message.
type FlowActivationMode string

const (
	// ActivationKeywords activates on case-insensitive keyword containment.
	ActivationKeywords FlowActivationMode = "keywords"
	// ActivationIntent activates via completion-service intent classification.
	ActivationIntent FlowActivationMode = "intent"
)

// FinalActionType selects the side effect executed when a flow completes.
type FinalActionType string

const (
	// FinalActionCreateOrder extracts structured order data from the
	// conversation transcript and creates an order record.
	FinalActionCreateOrder FinalActionType = "create_order"
	// FinalActionSendNotification delivers a summary to a configured recipient.
	FinalActionSendNotification FinalActionType = "send_notification"
	// FinalActionSaveInfo keeps only the already-persisted collected data.
	FinalActionSaveInfo FinalActionType = "save_info"
	// FinalActionWebhook posts the collected data to a business-configured URL.
	FinalActionWebhook FinalActionType = "webhook"
)

// IsValidFinalActionType checks if the given final action type is supported.
func IsValidFinalActionType(t FinalActionType) bool {
	switch t {
	case FinalActionCreateOrder, FinalActionSendNotification, FinalActionSaveInfo, FinalActionWebhook:
		return true
	default:
		return false
	}
}

// Flow validation errors
var (
	ErrEmptyFlowName          = errors.New("flow name cannot be empty")
	ErrInvalidActivationMode  = errors.New("invalid activation mode")
	ErrMissingKeywords        = errors.New("keywords are required for keyword activation")
	ErrMissingIntent          = errors.New("intent description is required for intent activation")
	ErrConflictingActivation  = errors.New("exactly one of keywords or intent description must be set")
	ErrNoSteps                = errors.New("flow requires at least one step")
	ErrStepOrderGap           = errors.New("step order values must be a contiguous 1..N sequence")
	ErrEmptyStepReply         = errors.New("step reply text cannot be empty")
	ErrInvalidFinalAction     = errors.New("invalid final action type")
	ErrMissingWebhookURL      = errors.New("webhook final action requires a URL")
	ErrMissingNotifyRecipient = errors.New("notification final action requires a recipient")
	ErrInvalidTimeout         = errors.New("timeout minutes must be positive")
)

// FlowStep is one exchange within a flow: the bot sends Reply and waits for
// the user's answer. Description is internal and never shown to the end user.
type FlowStep struct {
	Order          int    `json:"order"` // 1-based position in the flow
	Description    string `json:"description,omitempty"`
	Reply          string `json:"reply"`
	ExpectedAnswer string `json:"expected_answer,omitempty"`
}

// FinalAction describes the side effect executed once when a flow completes.
type FinalAction struct {
	Type       FinalActionType `json:"type"`
	NotifyTo   string          `json:"notify_to,omitempty"`   // recipient for send_notification
	WebhookURL string          `json:"webhook_url,omitempty"` // target for webhook
}

// FlowDefinition is a business-authored multi-step scripted interaction.
type FlowDefinition struct {
	ID                string             `json:"id"`
	BusinessID        string             `json:"business_id"`
	Name              string             `json:"name"`
	ActivationMode    FlowActivationMode `json:"activation_mode"`
	Keywords          []string           `json:"keywords,omitempty"`
	IntentDescription string             `json:"intent_description,omitempty"`
	Steps             []FlowStep         `json:"steps"`
	FinalAction       FinalAction        `json:"final_action"`
	TimeoutMinutes    int                `json:"timeout_minutes"`
	AllowRestart      bool               `json:"allow_restart"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	Active            bool               `json:"active"`
	IsDefault         bool               `json:"is_default"` // built-in flows refuse deletion
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Validate performs comprehensive validation on a FlowDefinition.
func (f *FlowDefinition) Validate() error {
	if f.BusinessID == "" {
		return ErrEmptyBusinessID
	}
	if f.Name == "" {
		return ErrEmptyFlowName
	}
	switch f.ActivationMode {
	case ActivationKeywords:
		if len(f.Keywords) == 0 {
			return ErrMissingKeywords
		}
		if f.IntentDescription != "" {
			return ErrConflictingActivation
		}
	case ActivationIntent:
		if f.IntentDescription == "" {
			return ErrMissingIntent
		}
		if len(f.Keywords) != 0 {
			return ErrConflictingActivation
		}
	default:
		return ErrInvalidActivationMode
	}
	if len(f.Steps) == 0 {
		return ErrNoSteps
	}
	for i, step := range f.Steps {
		if step.Order != i+1 {
			return ErrStepOrderGap
		}
		if step.Reply == "" {
			return ErrEmptyStepReply
		}
	}
	if !IsValidFinalActionType(f.FinalAction.Type) {
		return ErrInvalidFinalAction
	}
	if f.FinalAction.Type == FinalActionWebhook && f.FinalAction.WebhookURL == "" {
		return ErrMissingWebhookURL
	}
	if f.FinalAction.Type == FinalActionSendNotification && f.FinalAction.NotifyTo == "" {
		return ErrMissingNotifyRecipient
	}
	if f.TimeoutMinutes <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// StepCount returns the number of steps in the flow.
func (f *FlowDefinition) StepCount() int {
	return len(f.Steps)
}

// Step returns the step at the given 1-based order, or nil when out of range.
func (f *FlowDefinition) Step(order int) *FlowStep {
	if order < 1 || order > len(f.Steps) {
		return nil
	}
	return &f.Steps[order-1]
}

// ConversationStatus is the lifecycle state of a FlowConversation.
type ConversationStatus string

const (
	// ConversationActive indicates the flow is in progress.
	ConversationActive ConversationStatus = "active"
	// ConversationCompleted indicates the last step's reply was recorded.
	ConversationCompleted ConversationStatus = "completed"
	// ConversationCancelled indicates the flow expired or was cancelled.
	ConversationCancelled ConversationStatus = "cancelled"
)

// StepExchange holds one step's user reply and the bot reply sent for it.
type StepExchange struct {
	UserMessage string `json:"user_message"`
	BotReply    string `json:"bot_reply"`
}

// FlowConversation is the live progress record of one chat through one flow
// instance. The step definitions stay read-only on the FlowDefinition; only
// the cursor and collected data mutate here.
type FlowConversation struct {
	ID          string               `json:"id"`
	BusinessID  string               `json:"business_id"`
	ChatID      string               `json:"chat_id"`
	FlowID      string               `json:"flow_id"`
	CurrentStep int                  `json:"current_step"` // 1-based cursor into the flow's steps
	Collected   map[int]StepExchange `json:"collected,omitempty"`
	ExpiresAt   time.Time            `json:"expires_at"`
	Status      ConversationStatus   `json:"status"`
	OrderID     string               `json:"order_id,omitempty"` // backref set by a create_order final action
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// IsTerminal reports whether the conversation reached a terminal status.
func (c *FlowConversation) IsTerminal() bool {
	return c.Status == ConversationCompleted || c.Status == ConversationCancelled
}

// Expired reports whether the conversation's deadline has passed at the
// given instant. Expiry is checked lazily at read time; there is no sweep.
func (c *FlowConversation) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
