// Package store provides storage backends for VentaBot.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backends with embedded migrations. All backends provide
// read-your-writes consistency within a single dispatcher invocation; no
// cross-chat transactions are offered or needed.
package store

import (
	"errors"
	"strings"

	"github.com/nrojasv/ventabot/internal/models"
)

// Store errors
var (
	// ErrBuiltinFlow is returned when deleting a default/built-in flow.
	ErrBuiltinFlow = errors.New("built-in flows cannot be deleted")
	// ErrNotFound is returned by update operations on missing records.
	ErrNotFound = errors.New("record not found")
)

// Store defines the persistence operations the core depends on.
// Lookups return (nil, nil) when the record does not exist.
type Store interface {
	// Businesses
	GetBusiness(id string) (*models.Business, error)
	SaveBusiness(b models.Business) error

	// Flow definitions. ListFlows returns the business's flows with
	// non-default flows before the built-in default flow, so a
	// business-authored flow can pre-empt a generic one.
	ListFlows(businessID string) ([]models.FlowDefinition, error)
	GetFlow(id string) (*models.FlowDefinition, error)
	SaveFlow(f models.FlowDefinition) error
	DeleteFlow(id string) error

	// Flow conversations. At most one active conversation exists per
	// (business, chat) pair; SaveConversation upserts by id.
	GetActiveConversation(businessID, chatID string) (*models.FlowConversation, error)
	GetConversation(id string) (*models.FlowConversation, error)
	SaveConversation(c models.FlowConversation) error

	// Orders. CreateOrder assigns the next business-scoped sequential
	// number. GetOrderByConversation backs create_order idempotency.
	CreateOrder(o *models.Order) error
	GetOrder(id string) (*models.Order, error)
	GetOrderByConversation(conversationID string) (*models.Order, error)
	ListOrders(businessID string) ([]models.Order, error)
	UpdateOrder(o models.Order) error

	// Order configuration
	GetOrderConfig(businessID string) (*models.OrderConfig, error)
	SaveOrderConfig(c models.OrderConfig) error

	// Auto replies, ordered by priority descending.
	ListAutoReplies(businessID string) ([]models.AutoReply, error)
	SaveAutoReply(a models.AutoReply) error
	DeleteAutoReply(id string) error

	// Message log. RecentMessages returns up to limit messages for the chat
	// in chronological order.
	LogMessage(m models.MessageLog) error
	RecentMessages(businessID, chatID string, limit int) ([]models.MessageLog, error)

	// Unanswered messages
	AddUnanswered(u models.UnansweredMessage) error
	ListUnanswered(businessID string) ([]models.UnansweredMessage, error)

	// Daily metrics
	IncrementDailyMetrics(businessID, date string, delta models.MetricsDelta) error
	GetDailyMetrics(businessID, date string) (*models.DailyMetrics, error)

	// MarkMessageProcessed records a transport message id and reports whether
	// it was newly recorded. A false result means a duplicate delivery.
	MarkMessageProcessed(messageID string) (bool, error)

	// Close releases underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
