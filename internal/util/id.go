// Package util provides utility functions for the VentaBot application.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates a unique identifier with the given prefix, in the format
// "{prefix}_{hex}". The hex part is a UUIDv4 without dashes.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewConversationID generates a unique flow conversation id.
func NewConversationID() string {
	return NewID("conv")
}

// NewOrderID generates a unique order id.
func NewOrderID() string {
	return NewID("ord")
}

// NewMessageID generates a unique message log id.
func NewMessageID() string {
	return NewID("msg")
}
