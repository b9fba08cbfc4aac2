package flow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/store"
)

func TestWebhookFinalAction(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runner := NewActionRunner(store.NewInMemoryStore(), nil, nil, nil)
	f := saveInfoFlow()
	f.FinalAction = models.FinalAction{Type: models.FinalActionWebhook, WebhookURL: srv.URL}
	conv := &models.FlowConversation{
		ID: "conv1", BusinessID: "biz1", ChatID: "chat1", FlowID: f.ID,
		Collected: map[int]models.StepExchange{1: {UserMessage: "Ana", BotReply: "¿Nombre?"}},
	}

	if reply := runner.Run(context.Background(), testBusiness(), &f, conv); reply != "" {
		t.Errorf("webhook action should not produce a customer reply, got %q", reply)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("failed to decode webhook payload: %v", err)
	}
	if payload["flow_id"] != "flow1" || payload["customer_ref"] != "chat1" {
		t.Errorf("unexpected payload: %v", payload)
	}
	if _, ok := payload["collected_data"]; !ok {
		t.Error("expected collected_data in payload")
	}
	if _, ok := payload["completed_at"]; !ok {
		t.Error("expected completed_at in payload")
	}
}

func TestWebhookFinalActionSwallowsFailures(t *testing.T) {
	runner := NewActionRunner(store.NewInMemoryStore(), nil, nil, nil)
	f := saveInfoFlow()
	f.FinalAction = models.FinalAction{Type: models.FinalActionWebhook, WebhookURL: "http://127.0.0.1:1/unreachable"}
	conv := &models.FlowConversation{ID: "conv1", BusinessID: "biz1", ChatID: "chat1", FlowID: f.ID}

	// Must not error or panic; the completion reply is the engine's concern.
	if reply := runner.Run(context.Background(), testBusiness(), &f, conv); reply != "" {
		t.Errorf("expected empty reply on webhook failure, got %q", reply)
	}
}
