package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nrojasv/ventabot/internal/extract"
	"github.com/nrojasv/ventabot/internal/intent"
	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/orders"
	"github.com/nrojasv/ventabot/internal/store"
	"github.com/nrojasv/ventabot/internal/testutil"
)

type fakeClassifier struct {
	matches bool
}

func (f *fakeClassifier) ClassifyIntent(ctx context.Context, message, description string) intent.Result {
	return intent.Result{Matches: f.matches, Confidence: 90}
}

type fakeExtractor struct {
	order *extract.ExtractedOrder
	err   error
	calls int
}

func (f *fakeExtractor) ExtractOrder(ctx context.Context, transcript string) (*extract.ExtractedOrder, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

type fakeDetector struct{}

func (f *fakeDetector) DetectOrderIntent(ctx context.Context, history []string, message string) intent.Result {
	return intent.Result{}
}

func price(v float64) *float64 { return &v }

func testBusiness() models.Business {
	return models.Business{ID: "biz1", Name: "Pizza Sur"}
}

func saveInfoFlow() models.FlowDefinition {
	return models.FlowDefinition{
		ID:             "flow1",
		BusinessID:     "biz1",
		Name:           "Reserva",
		ActivationMode: models.ActivationKeywords,
		Keywords:       []string{"reservar"},
		Steps: []models.FlowStep{
			{Order: 1, Description: "Nombre", Reply: "¿A nombre de quién hago la reserva?"},
			{Order: 2, Description: "Personas", Reply: "¿Para cuántas personas?"},
		},
		FinalAction:    models.FinalAction{Type: models.FinalActionSaveInfo},
		TimeoutMinutes: 30,
		Active:         true,
	}
}

func newTestEngine(st store.Store, extractor *fakeExtractor, sender orders.Sender) *Engine {
	if extractor == nil {
		extractor = &fakeExtractor{}
	}
	orderSvc := orders.NewService(st, &fakeDetector{}, extractor, sender)
	actions := NewActionRunner(st, orderSvc, extractor, sender)
	return NewEngine(st, &fakeClassifier{}, actions)
}

func TestDetectActivationKeywords(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(st, nil, nil)
	f := saveInfoFlow()

	got := e.DetectActivation(context.Background(), []models.FlowDefinition{f}, "Quiero RESERVAR una mesa")
	if got == nil || got.ID != "flow1" {
		t.Fatal("expected keyword activation")
	}
	if e.DetectActivation(context.Background(), []models.FlowDefinition{f}, "hola") != nil {
		t.Error("expected no activation for unrelated message")
	}
	f.Active = false
	if e.DetectActivation(context.Background(), []models.FlowDefinition{f}, "reservar") != nil {
		t.Error("inactive flow must not activate")
	}
}

func TestDetectActivationIntent(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(st, &fakeClassifier{matches: true}, nil)
	f := saveInfoFlow()
	f.ActivationMode = models.ActivationIntent
	f.Keywords = nil
	f.IntentDescription = "el cliente quiere reservar una mesa"

	if e.DetectActivation(context.Background(), []models.FlowDefinition{f}, "me guardás lugar para hoy?") == nil {
		t.Error("expected intent activation")
	}

	e = NewEngine(st, &fakeClassifier{matches: false}, nil)
	if e.DetectActivation(context.Background(), []models.FlowDefinition{f}, "me guardás lugar?") != nil {
		t.Error("expected no activation when classifier declines")
	}
	// A missing classifier fails closed.
	e = NewEngine(st, nil, nil)
	if e.DetectActivation(context.Background(), []models.FlowDefinition{f}, "me guardás lugar?") != nil {
		t.Error("expected no activation without classifier")
	}
}

func TestFlowRunsToCompletion(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(st, nil, nil)
	f := saveInfoFlow()
	st.SaveFlow(f)

	reply, err := e.Start("biz1", "chat1", &f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != f.Steps[0].Reply {
		t.Errorf("expected first step reply, got %q", reply)
	}

	conv, err := e.ActiveConversation("biz1", "chat1")
	if err != nil || conv == nil {
		t.Fatalf("expected active conversation, err=%v", err)
	}
	reply, err = e.Advance(context.Background(), testBusiness(), conv, "Ana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != f.Steps[1].Reply {
		t.Errorf("expected second step reply, got %q", reply)
	}

	conv, _ = e.ActiveConversation("biz1", "chat1")
	reply, err = e.Advance(context.Background(), testBusiness(), conv, "cuatro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(reply, f.Steps[1].Reply) {
		t.Errorf("expected final step reply first, got %q", reply)
	}
	if !strings.Contains(reply, DefaultCompletionReply) {
		t.Errorf("expected completion marker appended, got %q", reply)
	}

	done, _ := e.ActiveConversation("biz1", "chat1")
	if done != nil {
		t.Error("conversation should no longer be active")
	}
	final, _ := st.GetConversation(conv.ID)
	if final.Status != models.ConversationCompleted {
		t.Errorf("expected completed status, got %s", final.Status)
	}
	if final.Collected[1].UserMessage != "Ana" || final.Collected[2].UserMessage != "cuatro" {
		t.Errorf("collected data incomplete: %+v", final.Collected)
	}

	m, _ := st.GetDailyMetrics("biz1", models.MetricsDate(time.Now()))
	if m == nil || m.FlowsCompleted != 1 {
		t.Error("expected flows_completed metric incremented")
	}
}

func TestActiveConversationLazyExpiry(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(st, nil, nil)
	conv := models.FlowConversation{
		ID: "conv1", BusinessID: "biz1", ChatID: "chat1", FlowID: "flow1",
		CurrentStep: 1, Status: models.ConversationActive,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	st.SaveConversation(conv)

	got, err := e.ActiveConversation("biz1", "chat1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expired conversation returned as active")
	}
	stored, _ := st.GetConversation("conv1")
	if stored.Status != models.ConversationCancelled {
		t.Errorf("expected cancelled status after expiry, got %s", stored.Status)
	}
}

func TestAdvanceKeepsStartDeadline(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(st, nil, nil)
	f := saveInfoFlow()
	st.SaveFlow(f)

	t0 := time.Now()
	e.now = func() time.Time { return t0 }
	if _, err := e.Start("biz1", "chat1", &f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// An answer mid-conversation must not push the deadline out.
	e.now = func() time.Time { return t0.Add(20 * time.Minute) }
	conv, _ := e.ActiveConversation("biz1", "chat1")
	if conv == nil {
		t.Fatal("expected active conversation before the deadline")
	}
	if _, err := e.Advance(context.Background(), testBusiness(), conv, "Ana"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := st.GetConversation(conv.ID)
	if !stored.ExpiresAt.Equal(t0.Add(30 * time.Minute)) {
		t.Errorf("expected deadline fixed at start+30m, got %v", stored.ExpiresAt)
	}

	e.now = func() time.Time { return t0.Add(40 * time.Minute) }
	got, err := e.ActiveConversation("biz1", "chat1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected conversation cancelled past the start deadline")
	}
}

func TestAdvanceCancelsWhenFlowGone(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(st, nil, nil)
	conv := models.FlowConversation{
		ID: "conv1", BusinessID: "biz1", ChatID: "chat1", FlowID: "gone",
		CurrentStep: 1, Status: models.ConversationActive,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	st.SaveConversation(conv)

	reply, err := e.Advance(context.Background(), testBusiness(), &conv, "hola")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "" {
		t.Errorf("expected empty reply for orphaned conversation, got %q", reply)
	}
	stored, _ := st.GetConversation("conv1")
	if stored.Status != models.ConversationCancelled {
		t.Errorf("expected cancelled status, got %s", stored.Status)
	}
}

func TestAdvanceAllowRestart(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(st, nil, nil)
	f := saveInfoFlow()
	f.AllowRestart = true
	st.SaveFlow(f)

	if _, err := e.Start("biz1", "chat1", &f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ := e.ActiveConversation("biz1", "chat1")
	if _, err := e.Advance(context.Background(), testBusiness(), conv, "Ana"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conv, _ = e.ActiveConversation("biz1", "chat1")
	reply, err := e.Advance(context.Background(), testBusiness(), conv, "mejor quiero reservar de nuevo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != f.Steps[0].Reply {
		t.Errorf("expected restart at first step, got %q", reply)
	}
	restarted, _ := e.ActiveConversation("biz1", "chat1")
	if restarted == nil || restarted.ID == conv.ID || restarted.CurrentStep != 1 {
		t.Error("expected a fresh conversation at step 1")
	}
}

func TestCreateOrderFinalAction(t *testing.T) {
	st := store.NewInMemoryStore()
	st.SaveOrderConfig(models.OrderConfig{BusinessID: "biz1", Enabled: true})
	extractor := &fakeExtractor{order: &extract.ExtractedOrder{
		CustomerName: "Ana",
		Items:        []models.OrderItem{{Product: "muzzarella", Quantity: 1, UnitPrice: price(1200)}},
	}}
	sender := &testutil.FakeSender{}
	e := newTestEngine(st, extractor, sender)

	f := saveInfoFlow()
	f.FinalAction = models.FinalAction{Type: models.FinalActionCreateOrder}
	st.SaveFlow(f)

	if _, err := e.Start("biz1", "chat1", &f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ := e.ActiveConversation("biz1", "chat1")
	if _, err := e.Advance(context.Background(), testBusiness(), conv, "una muzzarella"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ = e.ActiveConversation("biz1", "chat1")
	reply, err := e.Advance(context.Background(), testBusiness(), conv, "Ana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ordersList, _ := st.ListOrders("biz1")
	if len(ordersList) != 1 {
		t.Fatalf("expected 1 order, got %d", len(ordersList))
	}
	if !strings.HasPrefix(reply, f.Steps[1].Reply) {
		t.Errorf("expected final step reply first, got %q", reply)
	}
	if !strings.Contains(reply, ordersList[0].DisplayNumber()) {
		t.Errorf("expected confirmation with order number, got %q", reply)
	}
	stored, _ := st.GetConversation(conv.ID)
	if stored.OrderID != ordersList[0].ID {
		t.Error("expected order backref on conversation")
	}
}

func TestCreateOrderFinalActionIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	extractor := &fakeExtractor{order: &extract.ExtractedOrder{
		Items: []models.OrderItem{{Product: "muzzarella", Quantity: 1}},
	}}
	orderSvc := orders.NewService(st, &fakeDetector{}, extractor, nil)
	runner := NewActionRunner(st, orderSvc, extractor, nil)

	f := saveInfoFlow()
	f.FinalAction = models.FinalAction{Type: models.FinalActionCreateOrder}
	conv := &models.FlowConversation{
		ID: "conv1", BusinessID: "biz1", ChatID: "chat1", FlowID: f.ID,
		Collected: map[int]models.StepExchange{1: {UserMessage: "una muzzarella", BotReply: "¿qué querés?"}},
	}

	runner.Run(context.Background(), testBusiness(), &f, conv)
	runner.Run(context.Background(), testBusiness(), &f, conv)

	ordersList, _ := st.ListOrders("biz1")
	if len(ordersList) != 1 {
		t.Fatalf("expected a single order after double run, got %d", len(ordersList))
	}
	if extractor.calls != 1 {
		t.Errorf("expected extraction once, got %d", extractor.calls)
	}
}

func TestSendNotificationFinalAction(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &testutil.FakeSender{}
	e := newTestEngine(st, nil, sender)

	f := saveInfoFlow()
	f.FinalAction = models.FinalAction{Type: models.FinalActionSendNotification, NotifyTo: "operator@chat"}
	st.SaveFlow(f)

	if _, err := e.Start("biz1", "chat1", &f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ := e.ActiveConversation("biz1", "chat1")
	e.Advance(context.Background(), testBusiness(), conv, "Ana")
	conv, _ = e.ActiveConversation("biz1", "chat1")
	if _, err := e.Advance(context.Background(), testBusiness(), conv, "cuatro"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := sender.LastSent()
	if sent == nil || sent.To != "operator@chat" {
		t.Fatalf("expected notification to operator, got %+v", sent)
	}
	if !strings.Contains(sent.Body, "Ana") || !strings.Contains(sent.Body, "cuatro") {
		t.Errorf("expected collected answers in notification, got %q", sent.Body)
	}
}

func TestTranscriptOrdering(t *testing.T) {
	f := saveInfoFlow()
	conv := &models.FlowConversation{
		Collected: map[int]models.StepExchange{
			2: {UserMessage: "cuatro", BotReply: "¿Para cuántas personas?"},
			1: {UserMessage: "Ana", BotReply: "¿A nombre de quién hago la reserva?"},
		},
	}
	got := Transcript(&f, conv)
	if strings.Index(got, "Ana") > strings.Index(got, "cuatro") {
		t.Errorf("transcript out of step order:\n%s", got)
	}
}
