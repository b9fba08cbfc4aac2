// Package models defines the core data structures for VentaBot.
//
// It includes the business account, inbound message, canned auto replies,
// unanswered-message records and daily metrics shared across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxReplyBodyLength defines the maximum allowed length for an outgoing reply body
	MaxReplyBodyLength = 4096
	// MaxKeywordLength defines the maximum allowed length for an activation keyword
	MaxKeywordLength = 100
)

// Error variables for better error handling and testability
var (
	ErrEmptyBusinessID         = errors.New("business id cannot be empty")
	ErrEmptyChatID             = errors.New("chat id cannot be empty")
	ErrEmptyReplyBody          = errors.New("reply body cannot be empty")
	ErrReplyBodyTooLong        = errors.New("reply body exceeds maximum length")
	ErrEmptyKeywords           = errors.New("at least one keyword is required")
	ErrKeywordTooLong          = errors.New("keyword exceeds maximum length")
	ErrUnknownUnansweredReason = errors.New("unknown unanswered reason")
)

// Business represents one business account that owns a bot, its flows,
// auto replies and order configuration.
type Business struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PhoneNumber    string    `json:"phone_number"`
	BotPaused      bool      `json:"bot_paused"`
	OperatorNumber string    `json:"operator_number,omitempty"` // notified when a message goes unanswered
	BotName        string    `json:"bot_name,omitempty"`
	Description    string    `json:"description,omitempty"` // what the business does, fed to the persona prompt
	ToneTags       []string  `json:"tone_tags,omitempty"`   // persona style tags, see internal/persona
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// InboundMessage is one message received from the messaging channel.
type InboundMessage struct {
	ID         string `json:"id"` // transport message id, used for processing dedup
	BusinessID string `json:"business_id"`
	ChatID     string `json:"chat_id"`
	Sender     string `json:"sender"`
	Body       string `json:"body"`
	Time       int64  `json:"time"`
}

// AutoReply is a keyword-triggered canned response. When several replies
// match the same message, the highest priority wins.
type AutoReply struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Keywords   []string  `json:"keywords"`
	Reply      string    `json:"reply"`
	Priority   int       `json:"priority"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate performs validation on an AutoReply.
func (a *AutoReply) Validate() error {
	if a.BusinessID == "" {
		return ErrEmptyBusinessID
	}
	if len(a.Keywords) == 0 {
		return ErrEmptyKeywords
	}
	for _, kw := range a.Keywords {
		if len(kw) > MaxKeywordLength {
			return ErrKeywordTooLong
		}
	}
	if a.Reply == "" {
		return ErrEmptyReplyBody
	}
	if len(a.Reply) > MaxReplyBodyLength {
		return ErrReplyBodyTooLong
	}
	return nil
}

// MessageLog records one dispatcher turn: the inbound message and the reply
// that was resolved for it (nil when nothing was sent).
type MessageLog struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	ChatID     string    `json:"chat_id"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	Reply      *string   `json:"reply,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// UnansweredReason classifies why a message went unanswered.
type UnansweredReason string

const (
	// UnansweredReasonPaused indicates the business had its bot paused.
	UnansweredReasonPaused UnansweredReason = "paused"
	// UnansweredReasonAPIError indicates the completion service or transport failed.
	UnansweredReasonAPIError UnansweredReason = "api_error"
	// UnansweredReasonNoMatch indicates no branch produced a reply.
	UnansweredReasonNoMatch UnansweredReason = "no_match"
)

// IsValidUnansweredReason checks if the given reason is supported.
func IsValidUnansweredReason(r UnansweredReason) bool {
	switch r {
	case UnansweredReasonPaused, UnansweredReasonAPIError, UnansweredReasonNoMatch:
		return true
	default:
		return false
	}
}

// UnansweredMessage records an inbound message that produced no reply.
type UnansweredMessage struct {
	ID         string           `json:"id"`
	BusinessID string           `json:"business_id"`
	ChatID     string           `json:"chat_id"`
	Body       string           `json:"body"`
	Reason     UnansweredReason `json:"reason"`
	Timestamp  time.Time        `json:"timestamp"`
}

// DailyMetrics holds per-business counters for one calendar day.
type DailyMetrics struct {
	BusinessID        string `json:"business_id"`
	Date              string `json:"date"` // "2006-01-02"
	MessagesProcessed int    `json:"messages_processed"`
	RepliesSent       int    `json:"replies_sent"`
	OrdersCreated     int    `json:"orders_created"`
	FlowsCompleted    int    `json:"flows_completed"`
}

// MetricsDelta is applied to a business's DailyMetrics row for one day.
type MetricsDelta struct {
	MessagesProcessed int
	RepliesSent       int
	OrdersCreated     int
	FlowsCompleted    int
}

// MetricsDate formats a timestamp as a daily metrics key.
func MetricsDate(t time.Time) string {
	return t.Format("2006-01-02")
}
