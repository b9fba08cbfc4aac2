// Package store provides storage backends for VentaBot.
//
// This file implements the Store operations shared by the SQLite and
// PostgreSQL backends. Both drivers accept $N positional parameters and the
// ON CONFLICT upsert syntax, so one query set serves both.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/nrojasv/ventabot/internal/models"
)

// SQLStore implements Store over a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// DB exposes the underlying connection for integrations that share it.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// GetBusiness retrieves a business by id.
func (s *SQLStore) GetBusiness(id string) (*models.Business, error) {
	row := s.db.QueryRow(`SELECT id, name, phone_number, bot_paused, operator_number, bot_name, description, tone_tags, created_at, updated_at
		FROM businesses WHERE id = $1`, id)
	var b models.Business
	var toneTags string
	err := row.Scan(&b.ID, &b.Name, &b.PhoneNumber, &b.BotPaused, &b.OperatorNumber, &b.BotName, &b.Description, &toneTags, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLStore GetBusiness failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get business %s: %w", id, err)
	}
	if err := unmarshalJSON(toneTags, &b.ToneTags); err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveBusiness upserts a business.
func (s *SQLStore) SaveBusiness(b models.Business) error {
	toneTags, err := marshalJSON(b.ToneTags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO businesses (id, name, phone_number, bot_paused, operator_number, bot_name, description, tone_tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, phone_number = excluded.phone_number, bot_paused = excluded.bot_paused,
			operator_number = excluded.operator_number, bot_name = excluded.bot_name,
			description = excluded.description, tone_tags = excluded.tone_tags, updated_at = excluded.updated_at`,
		b.ID, b.Name, b.PhoneNumber, b.BotPaused, b.OperatorNumber, b.BotName, b.Description, toneTags, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		slog.Error("SQLStore SaveBusiness failed", "error", err, "id", b.ID)
		return fmt.Errorf("failed to save business %s: %w", b.ID, err)
	}
	return nil
}

// ListFlows returns a business's flows with non-default flows first.
func (s *SQLStore) ListFlows(businessID string) ([]models.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT id, business_id, name, activation_mode, keywords, intent_description, steps, final_action,
			timeout_minutes, allow_restart, error_message, active, is_default, created_at, updated_at
		FROM flows WHERE business_id = $1 ORDER BY is_default ASC, created_at ASC`, businessID)
	if err != nil {
		slog.Error("SQLStore ListFlows query failed", "error", err, "businessID", businessID)
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()
	var flows []models.FlowDefinition
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	return flows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*models.FlowDefinition, error) {
	var f models.FlowDefinition
	var keywords, steps, finalAction string
	err := row.Scan(&f.ID, &f.BusinessID, &f.Name, &f.ActivationMode, &keywords, &f.IntentDescription,
		&steps, &finalAction, &f.TimeoutMinutes, &f.AllowRestart, &f.ErrorMessage, &f.Active, &f.IsDefault,
		&f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		slog.Error("SQLStore flow scan failed", "error", err)
		return nil, fmt.Errorf("failed to scan flow row: %w", err)
	}
	if err := unmarshalJSON(keywords, &f.Keywords); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(steps, &f.Steps); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(finalAction, &f.FinalAction); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFlow retrieves a flow definition by id.
func (s *SQLStore) GetFlow(id string) (*models.FlowDefinition, error) {
	row := s.db.QueryRow(`SELECT id, business_id, name, activation_mode, keywords, intent_description, steps, final_action,
			timeout_minutes, allow_restart, error_message, active, is_default, created_at, updated_at
		FROM flows WHERE id = $1`, id)
	f, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SaveFlow upserts a flow definition.
func (s *SQLStore) SaveFlow(f models.FlowDefinition) error {
	keywords, err := marshalJSON(f.Keywords)
	if err != nil {
		return err
	}
	steps, err := marshalJSON(f.Steps)
	if err != nil {
		return err
	}
	finalAction, err := marshalJSON(f.FinalAction)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO flows (id, business_id, name, activation_mode, keywords, intent_description, steps, final_action,
			timeout_minutes, allow_restart, error_message, active, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, activation_mode = excluded.activation_mode, keywords = excluded.keywords,
			intent_description = excluded.intent_description, steps = excluded.steps, final_action = excluded.final_action,
			timeout_minutes = excluded.timeout_minutes, allow_restart = excluded.allow_restart,
			error_message = excluded.error_message, active = excluded.active, is_default = excluded.is_default,
			updated_at = excluded.updated_at`,
		f.ID, f.BusinessID, f.Name, f.ActivationMode, keywords, f.IntentDescription, steps, finalAction,
		f.TimeoutMinutes, f.AllowRestart, f.ErrorMessage, f.Active, f.IsDefault, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("SQLStore SaveFlow failed", "error", err, "id", f.ID)
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	return nil
}

// DeleteFlow removes a flow definition. Built-in flows are protected.
func (s *SQLStore) DeleteFlow(id string) error {
	f, err := s.GetFlow(id)
	if err != nil {
		return err
	}
	if f == nil {
		return ErrNotFound
	}
	if f.IsDefault {
		return ErrBuiltinFlow
	}
	if _, err := s.db.Exec(`DELETE FROM flows WHERE id = $1`, id); err != nil {
		slog.Error("SQLStore DeleteFlow failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	return nil
}

// GetActiveConversation retrieves the in-progress conversation for a chat.
func (s *SQLStore) GetActiveConversation(businessID, chatID string) (*models.FlowConversation, error) {
	row := s.db.QueryRow(`SELECT id, business_id, chat_id, flow_id, current_step, collected, expires_at, status, order_id, created_at, updated_at
		FROM flow_conversations WHERE business_id = $1 AND chat_id = $2 AND status = $3`,
		businessID, chatID, models.ConversationActive)
	return scanConversation(row)
}

// GetConversation retrieves a conversation by id.
func (s *SQLStore) GetConversation(id string) (*models.FlowConversation, error) {
	row := s.db.QueryRow(`SELECT id, business_id, chat_id, flow_id, current_step, collected, expires_at, status, order_id, created_at, updated_at
		FROM flow_conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*models.FlowConversation, error) {
	var c models.FlowConversation
	var collected string
	err := row.Scan(&c.ID, &c.BusinessID, &c.ChatID, &c.FlowID, &c.CurrentStep, &collected,
		&c.ExpiresAt, &c.Status, &c.OrderID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLStore conversation scan failed", "error", err)
		return nil, fmt.Errorf("failed to scan conversation row: %w", err)
	}
	if err := unmarshalJSON(collected, &c.Collected); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConversation upserts a conversation by id.
func (s *SQLStore) SaveConversation(c models.FlowConversation) error {
	collected, err := marshalJSON(c.Collected)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO flow_conversations (id, business_id, chat_id, flow_id, current_step, collected, expires_at, status, order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			current_step = excluded.current_step, collected = excluded.collected, expires_at = excluded.expires_at,
			status = excluded.status, order_id = excluded.order_id, updated_at = excluded.updated_at`,
		c.ID, c.BusinessID, c.ChatID, c.FlowID, c.CurrentStep, collected, c.ExpiresAt, c.Status, c.OrderID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLStore SaveConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	return nil
}

// CreateOrder inserts an order inside a transaction, assigning the next
// business-scoped sequential number.
func (s *SQLStore) CreateOrder(o *models.Order) error {
	items, err := marshalJSON(o.Items)
	if err != nil {
		return err
	}
	address, err := marshalJSON(o.Address)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin order transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO orders (id, business_id, number, status, customer_name, customer_phone, chat_id, items, address,
			payment_method, payment_status, subtotal, delivery_cost, total, notes, conversation_id, snapshot,
			confirmed_at, cancelled_at, cancel_reason, delivered_at, created_at, updated_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(number), 0) + 1 FROM orders WHERE business_id = $2),
			$3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		o.ID, o.BusinessID, o.Status, o.CustomerName, o.CustomerPhone, o.ChatID, items, address,
		o.PaymentMethod, o.PaymentStatus, o.Subtotal, o.DeliveryCost, o.Total, o.Notes, o.ConversationID, o.Snapshot,
		nullTime(o.ConfirmedAt), nullTime(o.CancelledAt), o.CancelReason, nullTime(o.DeliveredAt), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		slog.Error("SQLStore CreateOrder insert failed", "error", err, "id", o.ID)
		return fmt.Errorf("failed to insert order %s: %w", o.ID, err)
	}
	if err := tx.QueryRow(`SELECT number FROM orders WHERE id = $1`, o.ID).Scan(&o.Number); err != nil {
		return fmt.Errorf("failed to read back order number: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order transaction: %w", err)
	}
	slog.Debug("SQLStore order created", "id", o.ID, "business", o.BusinessID, "number", o.Number)
	return nil
}

const orderColumns = `id, business_id, number, status, customer_name, customer_phone, chat_id, items, address,
	payment_method, payment_status, subtotal, delivery_cost, total, notes, conversation_id, snapshot,
	confirmed_at, cancelled_at, cancel_reason, delivered_at, created_at, updated_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var items, address string
	var confirmedAt, cancelledAt, deliveredAt sql.NullTime
	err := row.Scan(&o.ID, &o.BusinessID, &o.Number, &o.Status, &o.CustomerName, &o.CustomerPhone, &o.ChatID,
		&items, &address, &o.PaymentMethod, &o.PaymentStatus, &o.Subtotal, &o.DeliveryCost, &o.Total, &o.Notes,
		&o.ConversationID, &o.Snapshot, &confirmedAt, &cancelledAt, &o.CancelReason, &deliveredAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(items, &o.Items); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(address, &o.Address); err != nil {
		return nil, err
	}
	o.ConfirmedAt = timePtr(confirmedAt)
	o.CancelledAt = timePtr(cancelledAt)
	o.DeliveredAt = timePtr(deliveredAt)
	return &o, nil
}

// GetOrder retrieves an order by id.
func (s *SQLStore) GetOrder(id string) (*models.Order, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLStore GetOrder failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return o, nil
}

// GetOrderByConversation retrieves the order created for a flow conversation.
func (s *SQLStore) GetOrderByConversation(conversationID string) (*models.Order, error) {
	if conversationID == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE conversation_id = $1`, conversationID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLStore GetOrderByConversation failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to get order for conversation %s: %w", conversationID, err)
	}
	return o, nil
}

// ListOrders returns a business's orders, newest first.
func (s *SQLStore) ListOrders(businessID string) ([]models.Order, error) {
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders WHERE business_id = $1 ORDER BY created_at DESC`, businessID)
	if err != nil {
		slog.Error("SQLStore ListOrders query failed", "error", err, "businessID", businessID)
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			slog.Error("SQLStore ListOrders scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order rows: %w", err)
	}
	return orders, nil
}

// UpdateOrder replaces an existing order's mutable fields.
func (s *SQLStore) UpdateOrder(o models.Order) error {
	items, err := marshalJSON(o.Items)
	if err != nil {
		return err
	}
	address, err := marshalJSON(o.Address)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE orders SET status = $2, customer_name = $3, customer_phone = $4, items = $5, address = $6,
			payment_method = $7, payment_status = $8, subtotal = $9, delivery_cost = $10, total = $11, notes = $12,
			confirmed_at = $13, cancelled_at = $14, cancel_reason = $15, delivered_at = $16, updated_at = $17
		WHERE id = $1`,
		o.ID, o.Status, o.CustomerName, o.CustomerPhone, items, address,
		o.PaymentMethod, o.PaymentStatus, o.Subtotal, o.DeliveryCost, o.Total, o.Notes,
		nullTime(o.ConfirmedAt), nullTime(o.CancelledAt), o.CancelReason, nullTime(o.DeliveredAt), o.UpdatedAt)
	if err != nil {
		slog.Error("SQLStore UpdateOrder failed", "error", err, "id", o.ID)
		return fmt.Errorf("failed to update order %s: %w", o.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrderConfig retrieves a business's order configuration.
func (s *SQLStore) GetOrderConfig(businessID string) (*models.OrderConfig, error) {
	row := s.db.QueryRow(`SELECT business_id, enabled, require_customer_name, require_delivery_address, require_payment_method,
			zones, payment_methods, auto_confirm, missing_info_template, out_of_zone_template, confirmation_template,
			status_templates, estimated_time
		FROM order_configs WHERE business_id = $1`, businessID)
	var c models.OrderConfig
	var zones, paymentMethods, statusTemplates string
	err := row.Scan(&c.BusinessID, &c.Enabled, &c.RequireCustomerName, &c.RequireDeliveryAddress, &c.RequirePaymentMethod,
		&zones, &paymentMethods, &c.AutoConfirm, &c.MissingInfoTemplate, &c.OutOfZoneTemplate, &c.ConfirmationTemplate,
		&statusTemplates, &c.EstimatedTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLStore GetOrderConfig failed", "error", err, "businessID", businessID)
		return nil, fmt.Errorf("failed to get order config for %s: %w", businessID, err)
	}
	if err := unmarshalJSON(zones, &c.Zones); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(paymentMethods, &c.PaymentMethods); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(statusTemplates, &c.StatusTemplates); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveOrderConfig upserts a business's order configuration.
func (s *SQLStore) SaveOrderConfig(c models.OrderConfig) error {
	zones, err := marshalJSON(c.Zones)
	if err != nil {
		return err
	}
	paymentMethods, err := marshalJSON(c.PaymentMethods)
	if err != nil {
		return err
	}
	statusTemplates, err := marshalJSON(c.StatusTemplates)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO order_configs (business_id, enabled, require_customer_name, require_delivery_address,
			require_payment_method, zones, payment_methods, auto_confirm, missing_info_template, out_of_zone_template,
			confirmation_template, status_templates, estimated_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (business_id) DO UPDATE SET
			enabled = excluded.enabled, require_customer_name = excluded.require_customer_name,
			require_delivery_address = excluded.require_delivery_address, require_payment_method = excluded.require_payment_method,
			zones = excluded.zones, payment_methods = excluded.payment_methods, auto_confirm = excluded.auto_confirm,
			missing_info_template = excluded.missing_info_template, out_of_zone_template = excluded.out_of_zone_template,
			confirmation_template = excluded.confirmation_template, status_templates = excluded.status_templates,
			estimated_time = excluded.estimated_time`,
		c.BusinessID, c.Enabled, c.RequireCustomerName, c.RequireDeliveryAddress, c.RequirePaymentMethod,
		zones, paymentMethods, c.AutoConfirm, c.MissingInfoTemplate, c.OutOfZoneTemplate, c.ConfirmationTemplate,
		statusTemplates, c.EstimatedTime)
	if err != nil {
		slog.Error("SQLStore SaveOrderConfig failed", "error", err, "businessID", c.BusinessID)
		return fmt.Errorf("failed to save order config for %s: %w", c.BusinessID, err)
	}
	return nil
}

// ListAutoReplies returns a business's auto replies by priority descending.
func (s *SQLStore) ListAutoReplies(businessID string) ([]models.AutoReply, error) {
	rows, err := s.db.Query(`SELECT id, business_id, keywords, reply, priority, active, created_at
		FROM auto_replies WHERE business_id = $1 ORDER BY priority DESC, created_at ASC`, businessID)
	if err != nil {
		slog.Error("SQLStore ListAutoReplies query failed", "error", err, "businessID", businessID)
		return nil, fmt.Errorf("failed to query auto replies: %w", err)
	}
	defer rows.Close()
	var replies []models.AutoReply
	for rows.Next() {
		var a models.AutoReply
		var keywords string
		if err := rows.Scan(&a.ID, &a.BusinessID, &keywords, &a.Reply, &a.Priority, &a.Active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan auto reply row: %w", err)
		}
		if err := unmarshalJSON(keywords, &a.Keywords); err != nil {
			return nil, err
		}
		replies = append(replies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auto reply rows: %w", err)
	}
	return replies, nil
}

// SaveAutoReply upserts an auto reply.
func (s *SQLStore) SaveAutoReply(a models.AutoReply) error {
	keywords, err := marshalJSON(a.Keywords)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO auto_replies (id, business_id, keywords, reply, priority, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			keywords = excluded.keywords, reply = excluded.reply, priority = excluded.priority, active = excluded.active`,
		a.ID, a.BusinessID, keywords, a.Reply, a.Priority, a.Active, a.CreatedAt)
	if err != nil {
		slog.Error("SQLStore SaveAutoReply failed", "error", err, "id", a.ID)
		return fmt.Errorf("failed to save auto reply %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAutoReply removes an auto reply.
func (s *SQLStore) DeleteAutoReply(id string) error {
	res, err := s.db.Exec(`DELETE FROM auto_replies WHERE id = $1`, id)
	if err != nil {
		slog.Error("SQLStore DeleteAutoReply failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete auto reply %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// LogMessage appends a message log entry.
func (s *SQLStore) LogMessage(m models.MessageLog) error {
	_, err := s.db.Exec(`INSERT INTO message_log (id, business_id, chat_id, sender, body, reply, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.BusinessID, m.ChatID, m.Sender, m.Body, nullString(m.Reply), m.Timestamp)
	if err != nil {
		slog.Error("SQLStore LogMessage failed", "error", err, "id", m.ID)
		return fmt.Errorf("failed to log message %s: %w", m.ID, err)
	}
	return nil
}

// RecentMessages returns up to limit messages for a chat in chronological order.
func (s *SQLStore) RecentMessages(businessID, chatID string, limit int) ([]models.MessageLog, error) {
	rows, err := s.db.Query(`SELECT id, business_id, chat_id, sender, body, reply, timestamp
		FROM message_log WHERE business_id = $1 AND chat_id = $2 ORDER BY timestamp DESC LIMIT $3`,
		businessID, chatID, limit)
	if err != nil {
		slog.Error("SQLStore RecentMessages query failed", "error", err, "businessID", businessID, "chatID", chatID)
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	var msgs []models.MessageLog
	for rows.Next() {
		var m models.MessageLog
		var reply sql.NullString
		if err := rows.Scan(&m.ID, &m.BusinessID, &m.ChatID, &m.Sender, &m.Body, &reply, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.Reply = stringPtr(reply)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	// Query returns newest first, callers want chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// AddUnanswered appends an unanswered-message record.
func (s *SQLStore) AddUnanswered(u models.UnansweredMessage) error {
	_, err := s.db.Exec(`INSERT INTO unanswered_messages (id, business_id, chat_id, body, reason, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.BusinessID, u.ChatID, u.Body, u.Reason, u.Timestamp)
	if err != nil {
		slog.Error("SQLStore AddUnanswered failed", "error", err, "id", u.ID)
		return fmt.Errorf("failed to insert unanswered message %s: %w", u.ID, err)
	}
	return nil
}

// ListUnanswered returns a business's unanswered messages, newest first.
func (s *SQLStore) ListUnanswered(businessID string) ([]models.UnansweredMessage, error) {
	rows, err := s.db.Query(`SELECT id, business_id, chat_id, body, reason, timestamp
		FROM unanswered_messages WHERE business_id = $1 ORDER BY timestamp DESC`, businessID)
	if err != nil {
		slog.Error("SQLStore ListUnanswered query failed", "error", err, "businessID", businessID)
		return nil, fmt.Errorf("failed to query unanswered messages: %w", err)
	}
	defer rows.Close()
	var out []models.UnansweredMessage
	for rows.Next() {
		var u models.UnansweredMessage
		if err := rows.Scan(&u.ID, &u.BusinessID, &u.ChatID, &u.Body, &u.Reason, &u.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan unanswered row: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unanswered rows: %w", err)
	}
	return out, nil
}

// IncrementDailyMetrics applies a delta to a business's daily counters.
func (s *SQLStore) IncrementDailyMetrics(businessID, date string, delta models.MetricsDelta) error {
	_, err := s.db.Exec(`INSERT INTO daily_metrics (business_id, date, messages_processed, replies_sent, orders_created, flows_completed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (business_id, date) DO UPDATE SET
			messages_processed = daily_metrics.messages_processed + excluded.messages_processed,
			replies_sent = daily_metrics.replies_sent + excluded.replies_sent,
			orders_created = daily_metrics.orders_created + excluded.orders_created,
			flows_completed = daily_metrics.flows_completed + excluded.flows_completed`,
		businessID, date, delta.MessagesProcessed, delta.RepliesSent, delta.OrdersCreated, delta.FlowsCompleted)
	if err != nil {
		slog.Error("SQLStore IncrementDailyMetrics failed", "error", err, "businessID", businessID, "date", date)
		return fmt.Errorf("failed to increment daily metrics: %w", err)
	}
	return nil
}

// GetDailyMetrics retrieves a business's counters for one day.
func (s *SQLStore) GetDailyMetrics(businessID, date string) (*models.DailyMetrics, error) {
	row := s.db.QueryRow(`SELECT business_id, date, messages_processed, replies_sent, orders_created, flows_completed
		FROM daily_metrics WHERE business_id = $1 AND date = $2`, businessID, date)
	var m models.DailyMetrics
	err := row.Scan(&m.BusinessID, &m.Date, &m.MessagesProcessed, &m.RepliesSent, &m.OrdersCreated, &m.FlowsCompleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLStore GetDailyMetrics failed", "error", err, "businessID", businessID, "date", date)
		return nil, fmt.Errorf("failed to get daily metrics: %w", err)
	}
	return &m, nil
}

// MarkMessageProcessed records a message id, reporting whether it was new.
func (s *SQLStore) MarkMessageProcessed(messageID string) (bool, error) {
	res, err := s.db.Exec(`INSERT INTO processed_messages (message_id) VALUES ($1) ON CONFLICT (message_id) DO NOTHING`, messageID)
	if err != nil {
		slog.Error("SQLStore MarkMessageProcessed failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("failed to mark message processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check processed rows: %w", err)
	}
	return n == 1, nil
}
