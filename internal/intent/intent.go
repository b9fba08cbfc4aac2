// Package intent decides whether a message matches a flow's activation
// reference or carries order intent.
//
// Keyword matching is literal, case-insensitive containment. Intent matching
// issues one completion-service call and fails closed: any malformed
// response, timeout or missing client resolves to "no match", because a
// wrong negative is preferable to an incorrect activation.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nrojasv/ventabot/internal/genai"
)

// ActivationThreshold is the minimum confidence for an intent match.
const ActivationThreshold = 70

// Result is the outcome of a classification.
type Result struct {
	Matches    bool `json:"matches"`
	Confidence int  `json:"confidence"` // 0..100; 100 for keyword matches
}

// Classifier classifies messages against keyword sets and intent descriptions.
type Classifier struct {
	ai genai.ClientInterface
}

// NewClassifier creates a Classifier. The GenAI client may be nil, in which
// case intent-mode classification always reports no match.
func NewClassifier(ai genai.ClientInterface) *Classifier {
	return &Classifier{ai: ai}
}

// MatchKeywords reports whether the lower-cased message contains any of the
// given keywords as a substring. Confidence is irrelevant in this mode and
// reported as 100 on match.
func MatchKeywords(message string, keywords []string) bool {
	lowered := strings.ToLower(message)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

const classifyIntentSystemPrompt = `You classify whether a customer message matches a described intent.
Respond with exactly one JSON object and nothing else:
{"matches": <true|false>, "confidence": <0-100>}`

// ClassifyIntent asks the completion service whether the message matches the
// natural-language intent description. A confidence at or above
// ActivationThreshold is required for a positive result.
func (c *Classifier) ClassifyIntent(ctx context.Context, message, description string) Result {
	if c.ai == nil {
		slog.Debug("Classifier has no GenAI client, failing closed")
		return Result{}
	}

	userPrompt := fmt.Sprintf("Intent description: %s\n\nCustomer message: %s", description, message)
	var parsed Result
	if err := c.ai.GenerateJSON(ctx, classifyIntentSystemPrompt, userPrompt, &parsed); err != nil {
		// Fail closed: a malformed response or timeout is never a match.
		slog.Warn("Intent classification failed, resolving as no match", "error", err)
		return Result{}
	}
	if parsed.Confidence < 0 || parsed.Confidence > 100 {
		slog.Warn("Intent classification returned out-of-range confidence, resolving as no match", "confidence", parsed.Confidence)
		return Result{}
	}
	if !parsed.Matches || parsed.Confidence < ActivationThreshold {
		slog.Debug("Intent classification below threshold", "matches", parsed.Matches, "confidence", parsed.Confidence)
		return Result{Matches: false, Confidence: parsed.Confidence}
	}
	slog.Debug("Intent classification matched", "confidence", parsed.Confidence)
	return parsed
}

const orderIntentSystemPrompt = `You detect whether a customer wants to place a purchase order based on a short conversation.
Only count explicit, current purchase intent (asking to buy, ordering items, requesting delivery).
Respond with exactly one JSON object and nothing else:
{"matches": <true|false>, "confidence": <0-100>}`

// DetectOrderIntent classifies purchase intent from recent chat history plus
// the current message. Same fail-closed contract and threshold as
// ClassifyIntent.
func (c *Classifier) DetectOrderIntent(ctx context.Context, history []string, message string) Result {
	if c.ai == nil {
		slog.Debug("Classifier has no GenAI client, failing closed for order intent")
		return Result{}
	}

	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, line := range history {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Current message: ")
	b.WriteString(message)

	var parsed Result
	if err := c.ai.GenerateJSON(ctx, orderIntentSystemPrompt, b.String(), &parsed); err != nil {
		slog.Warn("Order intent detection failed, resolving as no match", "error", err)
		return Result{}
	}
	if parsed.Confidence < 0 || parsed.Confidence > 100 {
		slog.Warn("Order intent detection returned out-of-range confidence, resolving as no match", "confidence", parsed.Confidence)
		return Result{}
	}
	if !parsed.Matches || parsed.Confidence < ActivationThreshold {
		return Result{Matches: false, Confidence: parsed.Confidence}
	}
	return parsed
}
