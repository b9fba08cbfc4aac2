// Package orders implements the order pipeline: intent gating, extraction,
// validation, zone pricing, order creation and status notifications.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nrojasv/ventabot/internal/extract"
	"github.com/nrojasv/ventabot/internal/intent"
	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/store"
	"github.com/nrojasv/ventabot/internal/util"
)

// Sender delivers outgoing messages to a chat.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// IntentDetector decides whether a conversation shows purchase intent.
type IntentDetector interface {
	DetectOrderIntent(ctx context.Context, history []string, message string) intent.Result
}

// OrderExtractor recovers structured order data from a transcript.
type OrderExtractor interface {
	ExtractOrder(ctx context.Context, transcript string) (*extract.ExtractedOrder, error)
}

// Service runs the order pipeline against a Store.
type Service struct {
	store     store.Store
	detector  IntentDetector
	extractor OrderExtractor
	sender    Sender
	now       func() time.Time
}

// NewService creates an order pipeline service.
func NewService(st store.Store, detector IntentDetector, extractor OrderExtractor, sender Sender) *Service {
	return &Service{
		store:     st,
		detector:  detector,
		extractor: extractor,
		sender:    sender,
		now:       time.Now,
	}
}

// HandleMessage runs the standalone order pipeline for one inbound message.
// It reports handled=false when the pipeline is disabled, no purchase intent
// is detected, or no order data could be extracted; the dispatcher then falls
// through to its remaining branches.
func (s *Service) HandleMessage(ctx context.Context, business models.Business, chatID, message string, history []string) (string, bool, error) {
	cfg, err := s.store.GetOrderConfig(business.ID)
	if err != nil {
		return "", false, fmt.Errorf("failed to load order config: %w", err)
	}
	if cfg == nil || !cfg.Enabled {
		return "", false, nil
	}

	res := s.detector.DetectOrderIntent(ctx, history, message)
	if !res.Matches {
		slog.Debug("Orders no purchase intent", "business", business.ID, "chat", chatID, "confidence", res.Confidence)
		return "", false, nil
	}

	transcript := strings.Join(append(append([]string{}, history...), message), "\n")
	extracted, err := s.extractor.ExtractOrder(ctx, transcript)
	if err == extract.ErrNoOrderData {
		slog.Debug("Orders intent without extractable data", "business", business.ID, "chat", chatID)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("order extraction failed: %w", err)
	}

	if missing := missingFields(cfg, extracted); len(missing) > 0 {
		slog.Debug("Orders missing required fields", "business", business.ID, "chat", chatID, "missing", missing)
		reply := renderTemplate(templateOr(cfg.MissingInfoTemplate, DefaultMissingInfoTemplate), map[string]string{
			"missing": strings.Join(missing, ", "),
		})
		return reply, true, nil
	}

	if len(cfg.Zones) > 0 && extracted.Address.Zone != "" && cfg.MatchZone(extracted.Address.Zone) == nil {
		slog.Debug("Orders address out of zone", "business", business.ID, "chat", chatID, "zone", extracted.Address.Zone)
		reply := renderTemplate(templateOr(cfg.OutOfZoneTemplate, DefaultOutOfZoneTemplate), map[string]string{
			"zone":  extracted.Address.Zone,
			"zones": strings.Join(cfg.ZoneNames(), ", "),
		})
		return reply, true, nil
	}

	order, err := s.CreateFromExtraction(ctx, business, chatID, "", transcript, extracted, cfg)
	if err != nil {
		return "", false, err
	}
	return s.ConfirmationReply(order, cfg), true, nil
}

// CreateFromExtraction prices and persists a new order, applying the
// business's auto-confirm setting. ConversationID links flow-created orders
// and is empty for the standalone pipeline.
func (s *Service) CreateFromExtraction(ctx context.Context, business models.Business, chatID, conversationID, snapshot string, extracted *extract.ExtractedOrder, cfg *models.OrderConfig) (*models.Order, error) {
	now := s.now()
	subtotal := 0.0
	for _, item := range extracted.Items {
		if item.UnitPrice != nil {
			subtotal += float64(item.Quantity) * *item.UnitPrice
		}
	}
	deliveryCost := 0.0
	if zone := cfg.MatchZone(extracted.Address.Zone); zone != nil {
		deliveryCost = zone.Cost
	}

	order := &models.Order{
		ID:             util.NewOrderID(),
		BusinessID:     business.ID,
		Status:         models.OrderStatusPending,
		CustomerName:   extracted.CustomerName,
		CustomerPhone:  extracted.CustomerPhone,
		ChatID:         chatID,
		Items:          extracted.Items,
		Address:        extracted.Address,
		PaymentMethod:  extracted.PaymentMethod,
		Subtotal:       subtotal,
		DeliveryCost:   deliveryCost,
		Total:          subtotal + deliveryCost,
		Notes:          extracted.Notes,
		ConversationID: conversationID,
		Snapshot:       snapshot,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cfg.AutoConfirm {
		if err := order.Transition(models.OrderStatusConfirmed, "", now); err != nil {
			return nil, fmt.Errorf("failed to auto-confirm order: %w", err)
		}
	}
	if err := s.store.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	if err := s.store.IncrementDailyMetrics(business.ID, models.MetricsDate(now), models.MetricsDelta{OrdersCreated: 1}); err != nil {
		slog.Error("Orders metrics increment failed", "error", err, "business", business.ID)
	}
	slog.Info("Order created", "business", business.ID, "order", order.ID, "number", order.Number, "total", order.Total, "auto_confirm", cfg.AutoConfirm)
	return order, nil
}

// ConfirmationReply renders the customer-facing confirmation for a new order.
func (s *Service) ConfirmationReply(order *models.Order, cfg *models.OrderConfig) string {
	return renderTemplate(templateOr(cfg.ConfirmationTemplate, DefaultConfirmationTemplate), map[string]string{
		"order_number":   order.DisplayNumber(),
		"customer_name":  order.CustomerName,
		"items":          order.ItemsSummary(),
		"subtotal":       fmt.Sprintf("%.2f", order.Subtotal),
		"delivery_cost":  fmt.Sprintf("%.2f", order.DeliveryCost),
		"total":          fmt.Sprintf("%.2f", order.Total),
		"address":        order.Address.Format(),
		"estimated_time": cfg.EstimatedTime,
	})
}

// TransitionOrder applies a status change and sends the configured customer
// notification for the new status. Notification failures are logged, never
// surfaced: the transition itself already succeeded.
func (s *Service) TransitionOrder(ctx context.Context, businessID, orderID string, to models.OrderStatus, reason string) (*models.Order, error) {
	order, err := s.store.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.BusinessID != businessID {
		return nil, store.ErrNotFound
	}
	if err := order.Transition(to, reason, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateOrder(*order); err != nil {
		return nil, err
	}
	slog.Info("Order status changed", "business", businessID, "order", orderID, "status", to)
	s.notifyStatus(ctx, businessID, order)
	return order, nil
}

func (s *Service) notifyStatus(ctx context.Context, businessID string, order *models.Order) {
	if s.sender == nil || order.ChatID == "" {
		return
	}
	cfg, err := s.store.GetOrderConfig(businessID)
	if err != nil || cfg == nil {
		return
	}
	tmpl, ok := cfg.StatusTemplates[order.Status]
	if !ok || tmpl == "" {
		return
	}
	body := renderTemplate(tmpl, map[string]string{
		"order_number":   order.DisplayNumber(),
		"customer_name":  order.CustomerName,
		"status":         string(order.Status),
		"items":          order.ItemsSummary(),
		"total":          fmt.Sprintf("%.2f", order.Total),
		"address":        order.Address.Format(),
		"estimated_time": cfg.EstimatedTime,
	})
	if err := s.sender.SendMessage(ctx, order.ChatID, body); err != nil {
		slog.Error("Order status notification failed", "error", err, "order", order.ID, "status", order.Status)
	}
}

// missingFields returns the human-readable names of required fields the
// extraction did not provide.
func missingFields(cfg *models.OrderConfig, extracted *extract.ExtractedOrder) []string {
	var missing []string
	if len(extracted.Items) == 0 {
		missing = append(missing, "los productos que querés pedir")
	}
	if cfg.RequireCustomerName && extracted.CustomerName == "" {
		missing = append(missing, "tu nombre")
	}
	if cfg.RequireDeliveryAddress && !extracted.Address.IsComplete() {
		missing = append(missing, "la dirección de entrega")
	}
	if cfg.RequireDeliveryAddress && len(cfg.Zones) > 0 && extracted.Address.Zone == "" {
		missing = append(missing, "la zona de entrega")
	}
	if cfg.RequirePaymentMethod && extracted.PaymentMethod == "" {
		missing = append(missing, "el método de pago")
	}
	return missing
}
