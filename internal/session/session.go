// Package session tracks the live messaging session of each business.
//
// Every connected business owns exactly one messaging service (WhatsApp or
// Twilio). The registry maps business IDs to those services so the API and
// dispatcher can reach the right transport.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nrojasv/ventabot/internal/messaging"
)

// Session is one live messaging connection for a business.
type Session struct {
	BusinessID string
	Service    messaging.Service
	StartedAt  time.Time
}

// Registry holds the active sessions keyed by business ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session for the given business. It fails if the business
// already has a live session.
func (r *Registry) Register(businessID string, svc messaging.Service) (*Session, error) {
	if businessID == "" {
		return nil, fmt.Errorf("business ID cannot be empty")
	}
	if svc == nil {
		return nil, fmt.Errorf("messaging service cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[businessID]; ok {
		return nil, fmt.Errorf("business %s already has an active session", businessID)
	}

	s := &Session{
		BusinessID: businessID,
		Service:    svc,
		StartedAt:  time.Now(),
	}
	r.sessions[businessID] = s
	slog.Info("session registered", "business_id", businessID)
	return s, nil
}

// Get returns the session for a business, or nil if none is live.
func (r *Registry) Get(businessID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[businessID]
}

// Remove stops the session's messaging service and drops it from the registry.
// Removing a business without a session is a no-op.
func (r *Registry) Remove(businessID string) error {
	r.mu.Lock()
	s, ok := r.sessions[businessID]
	if ok {
		delete(r.sessions, businessID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := s.Service.Stop(); err != nil {
		slog.Error("session service stop failed", "business_id", businessID, "error", err)
		return fmt.Errorf("failed to stop session for business %s: %w", businessID, err)
	}
	slog.Info("session removed", "business_id", businessID)
	return nil
}

// List returns the business IDs with live sessions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// StopAll stops every live session. Used during shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Service.Stop(); err != nil {
			slog.Error("session service stop failed during shutdown", "business_id", s.BusinessID, "error", err)
		}
	}
}
