package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
// A whatsmeow client is logged into a single account, so each service instance
// is bound to the business that owns that account and stamps its ID on every
// inbound message.
type WhatsAppService struct {
	businessID string
	client     whatsapp.WhatsAppSender
	waClient   *whatsapp.Client // Access to underlying client for event handling
	messages   chan models.InboundMessage
	done       chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService for the given business,
// wrapping the given WhatsAppSender.
func NewWhatsAppService(businessID string, client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		businessID: businessID,
		client:     client,
		messages:   make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:       make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling", "business_id", businessID)
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)", "business_id", businessID)
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked", "business_id", s.businessID)

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started", "business_id", s.businessID)
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked", "business_id", s.businessID)
	close(s.done)
	close(s.messages)
	return nil
}

// SendMessage sends a message to the given recipient.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("WhatsAppService message sent", "to", canonicalTo)
	return nil
}

// Messages returns a channel of incoming customer messages.
func (s *WhatsAppService) Messages() <-chan models.InboundMessage {
	return s.messages
}

// handleEvents registers the WhatsApp event handler and feeds text messages
// into the inbound channel.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Ignore other event types
			slog.Debug("WhatsAppService ignoring event type", "type", getEventType(v))
		}
	})

	slog.Debug("WhatsAppService event handler registered", "business_id", s.businessID)

	// Keep handler running until context is cancelled
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	slog.Debug("WhatsAppService handleEvents stopping")
}

// handleIncomingMessage processes incoming text messages from customers.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}
	if evt.Info.IsFromMe {
		// Never react to the bot's own outbound messages.
		return
	}

	// Extract text content
	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	msg := models.InboundMessage{
		ID:         evt.Info.ID,
		BusinessID: s.businessID,
		ChatID:     evt.Info.Chat.User,
		Sender:     evt.Info.Sender.User,
		Body:       messageText,
		Time:       evt.Info.Timestamp.Unix(),
	}

	slog.Debug("WhatsAppService processing incoming message", "chat_id", msg.ChatID, "body_length", len(msg.Body))

	// Send to the inbound channel (non-blocking)
	select {
	case s.messages <- msg:
		slog.Info("WhatsAppService incoming message forwarded", "chat_id", msg.ChatID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService messages channel blocked, dropping message", "chat_id", msg.ChatID, "timeout", DefaultChannelTimeout)
	}
}

// getEventType returns a string representation of the event type for logging
func getEventType(evt interface{}) string {
	switch evt.(type) {
	case *events.Message:
		return "Message"
	case *events.Receipt:
		return "Receipt"
	case *events.Presence:
		return "Presence"
	case *events.Connected:
		return "Connected"
	case *events.Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}
