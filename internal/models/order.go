// Package models defines order structures and the order status machine.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial status of a newly created order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the business accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates the order is being prepared.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusInDelivery indicates the order is on its way.
	OrderStatusInDelivery OrderStatus = "in_delivery"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal, reachable from pending, confirmed or preparing.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order errors
var (
	ErrInvalidOrderStatus     = errors.New("invalid order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrOrderTerminal          = errors.New("order is in a terminal status")
	ErrEmptyOrderItems        = errors.New("order requires at least one item")
)

// IsValidOrderStatus checks if the given status is supported.
func IsValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing,
		OrderStatusInDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminalOrderStatus reports whether no further transitions are accepted.
func IsTerminalOrderStatus(s OrderStatus) bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// orderTransitions maps each status to the statuses reachable from it.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing:  {OrderStatusInDelivery, OrderStatusCancelled},
	OrderStatusInDelivery: {OrderStatusDelivered},
}

// CanTransitionOrderStatus reports whether from → to is a legal transition.
func CanTransitionOrderStatus(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem is one line item of an order. UnitPrice is nil when the price
// could not be determined from the conversation.
type OrderItem struct {
	Product   string   `json:"product"`
	Quantity  int      `json:"quantity"`
	UnitPrice *float64 `json:"unit_price,omitempty"`
	Note      string   `json:"note,omitempty"`
}

// DeliveryAddress is the structured delivery location of an order.
type DeliveryAddress struct {
	Street       string `json:"street,omitempty"`
	Number       string `json:"number,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	Zone         string `json:"zone,omitempty"`
	Reference    string `json:"reference,omitempty"`
}

// IsComplete reports whether the address carries street, number and neighborhood.
func (a DeliveryAddress) IsComplete() bool {
	return a.Street != "" && a.Number != "" && a.Neighborhood != ""
}

// Format renders the address as a single human-readable line.
func (a DeliveryAddress) Format() string {
	parts := make([]string, 0, 4)
	if a.Street != "" {
		if a.Number != "" {
			parts = append(parts, a.Street+" "+a.Number)
		} else {
			parts = append(parts, a.Street)
		}
	}
	if a.Neighborhood != "" {
		parts = append(parts, a.Neighborhood)
	}
	if a.Zone != "" {
		parts = append(parts, a.Zone)
	}
	if a.Reference != "" {
		parts = append(parts, "("+a.Reference+")")
	}
	return strings.Join(parts, ", ")
}

// Order is a business-owned purchase record. Created once by either the
// standalone order pipeline or a flow's create_order final action; mutated
// thereafter only through explicit status transitions.
type Order struct {
	ID             string          `json:"id"`
	BusinessID     string          `json:"business_id"`
	Number         int             `json:"number"` // sequential per business
	Status         OrderStatus     `json:"status"`
	CustomerName   string          `json:"customer_name,omitempty"`
	CustomerPhone  string          `json:"customer_phone,omitempty"`
	ChatID         string          `json:"chat_id,omitempty"`
	Items          []OrderItem     `json:"items"`
	Address        DeliveryAddress `json:"address"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	PaymentStatus  string          `json:"payment_status,omitempty"`
	Subtotal       float64         `json:"subtotal"`
	DeliveryCost   float64         `json:"delivery_cost"`
	Total          float64         `json:"total"`
	Notes          string          `json:"notes,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"` // idempotency key for flow-created orders
	Snapshot       string          `json:"snapshot,omitempty"`        // verbatim conversation transcript
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DisplayNumber returns the human-facing order number.
func (o *Order) DisplayNumber() string {
	return fmt.Sprintf("#%04d", o.Number)
}

// ItemsSummary renders the line items as a multi-line list for templates.
func (o *Order) ItemsSummary() string {
	var b strings.Builder
	for i, item := range o.Items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("%dx %s", item.Quantity, item.Product))
		if item.UnitPrice != nil {
			b.WriteString(fmt.Sprintf(" ($%.2f)", *item.UnitPrice))
		}
		if item.Note != "" {
			b.WriteString(" - " + item.Note)
		}
	}
	return b.String()
}

// Transition applies a status change, stamping the corresponding timestamp.
// Reason is recorded only for cancellations.
func (o *Order) Transition(to OrderStatus, reason string, now time.Time) error {
	if !IsValidOrderStatus(to) {
		return ErrInvalidOrderStatus
	}
	if IsTerminalOrderStatus(o.Status) {
		return ErrOrderTerminal
	}
	if !CanTransitionOrderStatus(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	switch to {
	case OrderStatusConfirmed:
		o.ConfirmedAt = &now
	case OrderStatusCancelled:
		o.CancelledAt = &now
		o.CancelReason = reason
	case OrderStatusDelivered:
		o.DeliveredAt = &now
	}
	return nil
}

// DeliveryZone is a named delivery area with a flat cost.
type DeliveryZone struct {
	Name string  `json:"name"`
	Cost float64 `json:"cost"`
}

// OrderConfig holds per-business settings controlling the order pipeline.
type OrderConfig struct {
	BusinessID             string         `json:"business_id"`
	Enabled                bool           `json:"enabled"`
	RequireCustomerName    bool           `json:"require_customer_name"`
	RequireDeliveryAddress bool           `json:"require_delivery_address"`
	RequirePaymentMethod   bool           `json:"require_payment_method"`
	Zones                  []DeliveryZone `json:"zones,omitempty"`
	PaymentMethods         []string       `json:"payment_methods,omitempty"`
	AutoConfirm            bool           `json:"auto_confirm"`
	MissingInfoTemplate    string         `json:"missing_info_template,omitempty"`
	OutOfZoneTemplate      string         `json:"out_of_zone_template,omitempty"`
	ConfirmationTemplate   string         `json:"confirmation_template,omitempty"`
	// StatusTemplates maps an order status to the customer notification sent
	// on the transition into it. Missing entries send nothing.
	StatusTemplates map[OrderStatus]string `json:"status_templates,omitempty"`
	EstimatedTime   string                 `json:"estimated_time,omitempty"`
}

// MatchZone finds a configured zone by case-insensitive name match.
func (c *OrderConfig) MatchZone(name string) *DeliveryZone {
	for i := range c.Zones {
		if strings.EqualFold(c.Zones[i].Name, name) {
			return &c.Zones[i]
		}
	}
	return nil
}

// ZoneNames returns the configured zone names in order.
func (c *OrderConfig) ZoneNames() []string {
	names := make([]string, len(c.Zones))
	for i, z := range c.Zones {
		names[i] = z.Name
	}
	return names
}
