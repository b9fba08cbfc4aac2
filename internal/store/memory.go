// Package store provides storage backends for VentaBot.
//
// This file implements an in-memory store used in tests and development.
package store

import (
	"sort"
	"sync"

	"github.com/nrojasv/ventabot/internal/models"
)

// InMemoryStore is a mutex-guarded map-backed Store implementation.
type InMemoryStore struct {
	mu            sync.RWMutex
	businesses    map[string]models.Business
	flows         map[string]models.FlowDefinition
	conversations map[string]models.FlowConversation
	orders        map[string]models.Order
	orderConfigs  map[string]models.OrderConfig
	autoReplies   map[string]models.AutoReply
	messages      []models.MessageLog
	unanswered    []models.UnansweredMessage
	metrics       map[string]models.DailyMetrics // keyed businessID|date
	processed     map[string]bool
	orderSeq      map[string]int // next sequential order number per business
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		businesses:    make(map[string]models.Business),
		flows:         make(map[string]models.FlowDefinition),
		conversations: make(map[string]models.FlowConversation),
		orders:        make(map[string]models.Order),
		orderConfigs:  make(map[string]models.OrderConfig),
		autoReplies:   make(map[string]models.AutoReply),
		metrics:       make(map[string]models.DailyMetrics),
		processed:     make(map[string]bool),
		orderSeq:      make(map[string]int),
	}
}

// GetBusiness retrieves a business by id.
func (s *InMemoryStore) GetBusiness(id string) (*models.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.businesses[id]; ok {
		return &b, nil
	}
	return nil, nil
}

// SaveBusiness upserts a business.
func (s *InMemoryStore) SaveBusiness(b models.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[b.ID] = b
	return nil
}

// ListFlows returns a business's flows, non-default first.
func (s *InMemoryStore) ListFlows(businessID string) ([]models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var flows []models.FlowDefinition
	for _, f := range s.flows {
		if f.BusinessID == businessID {
			flows = append(flows, f)
		}
	}
	sort.SliceStable(flows, func(i, j int) bool {
		if flows[i].IsDefault != flows[j].IsDefault {
			return !flows[i].IsDefault
		}
		return flows[i].CreatedAt.Before(flows[j].CreatedAt)
	})
	return flows, nil
}

// GetFlow retrieves a flow definition by id.
func (s *InMemoryStore) GetFlow(id string) (*models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.flows[id]; ok {
		return &f, nil
	}
	return nil, nil
}

// SaveFlow upserts a flow definition.
func (s *InMemoryStore) SaveFlow(f models.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = f
	return nil
}

// DeleteFlow removes a flow definition. Built-in flows are protected.
func (s *InMemoryStore) DeleteFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return ErrNotFound
	}
	if f.IsDefault {
		return ErrBuiltinFlow
	}
	delete(s.flows, id)
	return nil
}

// GetActiveConversation retrieves the in-progress conversation for a chat.
func (s *InMemoryStore) GetActiveConversation(businessID, chatID string) (*models.FlowConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.BusinessID == businessID && c.ChatID == chatID && c.Status == models.ConversationActive {
			return cloneConversation(c), nil
		}
	}
	return nil, nil
}

// GetConversation retrieves a conversation by id.
func (s *InMemoryStore) GetConversation(id string) (*models.FlowConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.conversations[id]; ok {
		return cloneConversation(c), nil
	}
	return nil, nil
}

// SaveConversation upserts a conversation by id.
func (s *InMemoryStore) SaveConversation(c models.FlowConversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = *cloneConversation(c)
	return nil
}

func cloneConversation(c models.FlowConversation) *models.FlowConversation {
	out := c
	if c.Collected != nil {
		out.Collected = make(map[int]models.StepExchange, len(c.Collected))
		for k, v := range c.Collected {
			out.Collected[k] = v
		}
	}
	return &out
}

// CreateOrder inserts an order, assigning the next business-scoped number.
func (s *InMemoryStore) CreateOrder(o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderSeq[o.BusinessID]++
	o.Number = s.orderSeq[o.BusinessID]
	s.orders[o.ID] = *o
	return nil
}

// GetOrder retrieves an order by id.
func (s *InMemoryStore) GetOrder(id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.orders[id]; ok {
		return &o, nil
	}
	return nil, nil
}

// GetOrderByConversation retrieves the order created for a flow conversation.
func (s *InMemoryStore) GetOrderByConversation(conversationID string) (*models.Order, error) {
	if conversationID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ConversationID == conversationID {
			return &o, nil
		}
	}
	return nil, nil
}

// ListOrders returns a business's orders, newest first.
func (s *InMemoryStore) ListOrders(businessID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orders []models.Order
	for _, o := range s.orders {
		if o.BusinessID == businessID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// UpdateOrder replaces an existing order.
func (s *InMemoryStore) UpdateOrder(o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return ErrNotFound
	}
	s.orders[o.ID] = o
	return nil
}

// GetOrderConfig retrieves a business's order configuration.
func (s *InMemoryStore) GetOrderConfig(businessID string) (*models.OrderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.orderConfigs[businessID]; ok {
		return &c, nil
	}
	return nil, nil
}

// SaveOrderConfig upserts a business's order configuration.
func (s *InMemoryStore) SaveOrderConfig(c models.OrderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderConfigs[c.BusinessID] = c
	return nil
}

// ListAutoReplies returns a business's auto replies by priority descending.
func (s *InMemoryStore) ListAutoReplies(businessID string) ([]models.AutoReply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var replies []models.AutoReply
	for _, a := range s.autoReplies {
		if a.BusinessID == businessID {
			replies = append(replies, a)
		}
	}
	sort.SliceStable(replies, func(i, j int) bool {
		return replies[i].Priority > replies[j].Priority
	})
	return replies, nil
}

// SaveAutoReply upserts an auto reply.
func (s *InMemoryStore) SaveAutoReply(a models.AutoReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoReplies[a.ID] = a
	return nil
}

// DeleteAutoReply removes an auto reply.
func (s *InMemoryStore) DeleteAutoReply(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.autoReplies[id]; !ok {
		return ErrNotFound
	}
	delete(s.autoReplies, id)
	return nil
}

// LogMessage appends a message log entry.
func (s *InMemoryStore) LogMessage(m models.MessageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

// RecentMessages returns up to limit messages for a chat in chronological order.
func (s *InMemoryStore) RecentMessages(businessID, chatID string, limit int) ([]models.MessageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var msgs []models.MessageLog
	for _, m := range s.messages {
		if m.BusinessID == businessID && m.ChatID == chatID {
			msgs = append(msgs, m)
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// AddUnanswered appends an unanswered-message record.
func (s *InMemoryStore) AddUnanswered(u models.UnansweredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unanswered = append(s.unanswered, u)
	return nil
}

// ListUnanswered returns a business's unanswered messages.
func (s *InMemoryStore) ListUnanswered(businessID string) ([]models.UnansweredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.UnansweredMessage
	for _, u := range s.unanswered {
		if u.BusinessID == businessID {
			out = append(out, u)
		}
	}
	return out, nil
}

// IncrementDailyMetrics applies a delta to a business's daily counters.
func (s *InMemoryStore) IncrementDailyMetrics(businessID, date string, delta models.MetricsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := businessID + "|" + date
	m := s.metrics[key]
	m.BusinessID = businessID
	m.Date = date
	m.MessagesProcessed += delta.MessagesProcessed
	m.RepliesSent += delta.RepliesSent
	m.OrdersCreated += delta.OrdersCreated
	m.FlowsCompleted += delta.FlowsCompleted
	s.metrics[key] = m
	return nil
}

// GetDailyMetrics retrieves a business's counters for one day.
func (s *InMemoryStore) GetDailyMetrics(businessID, date string) (*models.DailyMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.metrics[businessID+"|"+date]; ok {
		return &m, nil
	}
	return nil, nil
}

// MarkMessageProcessed records a message id, reporting whether it was new.
func (s *InMemoryStore) MarkMessageProcessed(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[messageID] {
		return false, nil
	}
	s.processed[messageID] = true
	return true, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
