// Package testutil provides common test fakes and helpers for VentaBot tests.
package testutil

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"encoding/json"

	"github.com/openai/openai-go"

	"github.com/nrojasv/ventabot/internal/genai"
)

// FakeGenAI implements genai.ClientInterface with canned responses.
type FakeGenAI struct {
	mu        sync.Mutex
	Response  string // returned by all generate calls
	Err       error  // returned instead, when set
	Responses []string // optional queue; consumed before Response
	Calls     int
	Prompts   []string // user prompts seen, in order
}

var _ genai.ClientInterface = (*FakeGenAI)(nil)

func (f *FakeGenAI) next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Responses) > 0 {
		r := f.Responses[0]
		f.Responses = f.Responses[1:]
		return r, nil
	}
	return f.Response, nil
}

// GeneratePrompt returns the canned response.
func (f *FakeGenAI) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	f.Prompts = append(f.Prompts, userPrompt)
	f.mu.Unlock()
	return f.next()
}

// GenerateWithMessages returns the canned response.
func (f *FakeGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return f.next()
}

// GenerateJSON decodes the canned response through the same parse the real
// client uses, so malformed-response behavior can be simulated.
func (f *FakeGenAI) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	f.mu.Lock()
	f.Prompts = append(f.Prompts, userPrompt)
	f.mu.Unlock()
	content, err := f.next()
	if err != nil {
		return err
	}
	return genai.DecodeJSONResponse(content, out)
}

// CallCount returns the number of generate calls observed.
func (f *FakeGenAI) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
}

// SentMessage is one message captured by FakeSender.
type SentMessage struct {
	To   string
	Body string
}

// FakeSender captures outbound messages for assertions.
type FakeSender struct {
	mu       sync.Mutex
	Messages []SentMessage
	Err      error // returned by SendMessage when set
}

// SendMessage records the message, or fails when Err is set.
func (f *FakeSender) SendMessage(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Messages = append(f.Messages, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the captured messages.
func (f *FakeSender) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.Messages))
	copy(out, f.Messages)
	return out
}

// LastSent returns the most recent message, or nil when nothing was sent.
func (f *FakeSender) LastSent() *SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Messages) == 0 {
		return nil
	}
	m := f.Messages[len(f.Messages)-1]
	return &m
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeJSONBody decodes a recorded response body into a generic map.
func DecodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return out
}
