package genai

import (
	"context"
	"fmt"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// fakeChatService returns a canned response or error.
type fakeChatService struct {
	response string
	err      error
	calls    int
}

func (f *fakeChatService) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.response}},
		},
	}, nil
}

func newTestClient(fake *fakeChatService) *Client {
	return &Client{
		chat:      fake,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		timeout:   DefaultRequestTimeout,
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestGeneratePrompt(t *testing.T) {
	fake := &fakeChatService{response: "  hola  "}
	c := newTestClient(fake)
	out, err := c.GeneratePrompt(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hola" {
		t.Errorf("expected trimmed response, got %q", out)
	}
	if fake.calls != 1 {
		t.Errorf("expected 1 call, got %d", fake.calls)
	}
}

func TestGenerateWithMessagesNoChoices(t *testing.T) {
	c := newTestClient(&fakeChatService{})
	c.chat = &emptyChoicesService{}
	_, err := c.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

type emptyChoicesService struct{}

func (e *emptyChoicesService) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return &openai.ChatCompletion{}, nil
}

func TestGenerateJSONDecodes(t *testing.T) {
	fake := &fakeChatService{response: `{"matches": true, "confidence": 85}`}
	c := newTestClient(fake)
	var out struct {
		Matches    bool `json:"matches"`
		Confidence int  `json:"confidence"`
	}
	if err := c.GenerateJSON(context.Background(), "sys", "user", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Matches || out.Confidence != 85 {
		t.Errorf("unexpected decode result: %+v", out)
	}
}

func TestDecodeJSONResponseWithFences(t *testing.T) {
	var out map[string]any
	content := "```json\n{\"a\": 1}\n```"
	if err := DecodeJSONResponse(content, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["a"].(float64) != 1 {
		t.Errorf("unexpected value: %+v", out)
	}
}

func TestDecodeJSONResponseWithSurroundingProse(t *testing.T) {
	var out map[string]any
	content := "Sure! Here is the result:\n{\"ok\": true}\nLet me know if you need more."
	if err := DecodeJSONResponse(content, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["ok"] != true {
		t.Errorf("unexpected value: %+v", out)
	}
}

func TestDecodeJSONResponseRejectsNonJSON(t *testing.T) {
	var out map[string]any
	if err := DecodeJSONResponse("I could not produce a result, sorry.", &out); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestGenerateJSONPropagatesRequestError(t *testing.T) {
	fake := &fakeChatService{err: fmt.Errorf("boom")}
	c := newTestClient(fake)
	var out map[string]any
	if err := c.GenerateJSON(context.Background(), "sys", "user", &out); err == nil {
		t.Fatal("expected error when request fails")
	}
}
