package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nrojasv/ventabot/internal/extract"
	"github.com/nrojasv/ventabot/internal/flow"
	"github.com/nrojasv/ventabot/internal/intent"
	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/orders"
	"github.com/nrojasv/ventabot/internal/store"
	"github.com/nrojasv/ventabot/internal/testutil"
)

type fakeDetector struct {
	result intent.Result
}

func (f *fakeDetector) DetectOrderIntent(ctx context.Context, history []string, message string) intent.Result {
	return f.result
}

type fakeExtractor struct {
	order *extract.ExtractedOrder
}

func (f *fakeExtractor) ExtractOrder(ctx context.Context, transcript string) (*extract.ExtractedOrder, error) {
	if f.order == nil {
		return nil, extract.ErrNoOrderData
	}
	return f.order, nil
}

type testEnv struct {
	store      *store.InMemoryStore
	sender     *testutil.FakeSender
	ai         *testutil.FakeGenAI
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T, withAI bool, orderIntent bool, extracted *extract.ExtractedOrder) *testEnv {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := &testutil.FakeSender{}
	var ai *testutil.FakeGenAI
	orderSvc := orders.NewService(st, &fakeDetector{result: intent.Result{Matches: orderIntent, Confidence: 90}}, &fakeExtractor{order: extracted}, sender)
	actions := flow.NewActionRunner(st, orderSvc, &fakeExtractor{order: extracted}, sender)
	engine := flow.NewEngine(st, nil, actions)
	var d *Dispatcher
	if withAI {
		ai = &testutil.FakeGenAI{Response: "respuesta generada"}
		d = NewDispatcher(st, engine, orderSvc, ai, sender)
	} else {
		d = NewDispatcher(st, engine, orderSvc, nil, sender)
	}
	st.SaveBusiness(models.Business{ID: "biz1", Name: "Pizza Sur", OperatorNumber: "operator"})
	return &testEnv{store: st, sender: sender, ai: ai, dispatcher: d}
}

func inbound(id, body string) models.InboundMessage {
	return models.InboundMessage{ID: id, BusinessID: "biz1", ChatID: "chat1", Sender: "customer", Body: body, Time: time.Now().Unix()}
}

func TestHandlePausedBusiness(t *testing.T) {
	env := newTestEnv(t, true, false, nil)
	b, _ := env.store.GetBusiness("biz1")
	b.BotPaused = true
	env.store.SaveBusiness(*b)

	if err := env.dispatcher.Handle(context.Background(), inbound("m1", "hola")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.sender.Sent()) != 0 {
		t.Error("paused bot must not reply")
	}
	unanswered, _ := env.store.ListUnanswered("biz1")
	if len(unanswered) != 1 || unanswered[0].Reason != models.UnansweredReasonPaused {
		t.Errorf("expected paused unanswered record, got %+v", unanswered)
	}
}

func TestHandleDeduplicatesMessages(t *testing.T) {
	env := newTestEnv(t, true, false, nil)
	msg := inbound("m1", "hola")
	env.dispatcher.Handle(context.Background(), msg)
	env.dispatcher.Handle(context.Background(), msg)

	m, _ := env.store.GetDailyMetrics("biz1", models.MetricsDate(time.Now()))
	if m == nil || m.MessagesProcessed != 1 {
		t.Errorf("expected one processed message, got %+v", m)
	}
	if len(env.sender.Sent()) != 1 {
		t.Errorf("expected one reply, got %d", len(env.sender.Sent()))
	}
}

func TestHandleCannedReplyHighestPriorityWins(t *testing.T) {
	env := newTestEnv(t, true, false, nil)
	env.store.SaveAutoReply(models.AutoReply{ID: "a1", BusinessID: "biz1", Keywords: []string{"horario"}, Reply: "9 a 18", Priority: 1, Active: true})
	env.store.SaveAutoReply(models.AutoReply{ID: "a2", BusinessID: "biz1", Keywords: []string{"horario"}, Reply: "Abrimos de 9 a 18", Priority: 10, Active: true})

	if err := env.dispatcher.Handle(context.Background(), inbound("m1", "¿Cuál es el horario?")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := env.sender.LastSent()
	if sent == nil || sent.Body != "Abrimos de 9 a 18" {
		t.Errorf("expected highest-priority canned reply, got %+v", sent)
	}
}

func TestHandleInactiveCannedReplySkipped(t *testing.T) {
	env := newTestEnv(t, true, false, nil)
	env.store.SaveAutoReply(models.AutoReply{ID: "a1", BusinessID: "biz1", Keywords: []string{"horario"}, Reply: "9 a 18", Priority: 10, Active: false})

	env.dispatcher.Handle(context.Background(), inbound("m1", "horario?"))
	sent := env.sender.LastSent()
	if sent == nil || sent.Body == "9 a 18" {
		t.Errorf("inactive canned reply must not match, got %+v", sent)
	}
}

func TestHandleFlowActivationAndAdvance(t *testing.T) {
	env := newTestEnv(t, true, false, nil)
	env.store.SaveFlow(models.FlowDefinition{
		ID: "f1", BusinessID: "biz1", Name: "Reserva",
		ActivationMode: models.ActivationKeywords, Keywords: []string{"reservar"},
		Steps: []models.FlowStep{
			{Order: 1, Reply: "¿A nombre de quién?"},
			{Order: 2, Reply: "¿Para cuántas personas?"},
		},
		FinalAction:    models.FinalAction{Type: models.FinalActionSaveInfo},
		TimeoutMinutes: 30, Active: true,
	})

	env.dispatcher.Handle(context.Background(), inbound("m1", "quiero reservar"))
	if got := env.sender.LastSent(); got == nil || got.Body != "¿A nombre de quién?" {
		t.Fatalf("expected flow start reply, got %+v", got)
	}

	env.dispatcher.Handle(context.Background(), inbound("m2", "Ana"))
	if got := env.sender.LastSent(); got == nil || got.Body != "¿Para cuántas personas?" {
		t.Fatalf("expected second step reply, got %+v", got)
	}

	env.dispatcher.Handle(context.Background(), inbound("m3", "cuatro"))
	got := env.sender.LastSent()
	if got == nil || !strings.HasPrefix(got.Body, "¿Para cuántas personas?") || !strings.Contains(got.Body, flow.DefaultCompletionReply) {
		t.Fatalf("expected final step reply with completion marker, got %+v", got)
	}
	if env.ai.CallCount() != 0 {
		t.Error("flow messages must not hit the completion service")
	}
}

func TestHandleFallbackReply(t *testing.T) {
	env := newTestEnv(t, true, false, nil)
	if err := env.dispatcher.Handle(context.Background(), inbound("m1", "¿tienen pizza sin tacc?")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := env.sender.LastSent()
	if sent == nil || sent.Body != "respuesta generada" {
		t.Errorf("expected generated fallback reply, got %+v", sent)
	}
	m, _ := env.store.GetDailyMetrics("biz1", models.MetricsDate(time.Now()))
	if m == nil || m.RepliesSent != 1 {
		t.Error("expected replies_sent metric incremented")
	}
	logs, _ := env.store.RecentMessages("biz1", "chat1", 10)
	if len(logs) != 1 || logs[0].Reply == nil || *logs[0].Reply != "respuesta generada" {
		t.Errorf("expected message logged with reply, got %+v", logs)
	}
}

func TestHandleFallbackFailureNotifiesOperator(t *testing.T) {
	env := newTestEnv(t, true, false, nil)
	env.ai.Err = context.DeadlineExceeded

	if err := env.dispatcher.Handle(context.Background(), inbound("m1", "hola")); err != nil {
		t.Fatalf("expected resolved handling, got error: %v", err)
	}
	unanswered, _ := env.store.ListUnanswered("biz1")
	if len(unanswered) != 1 || unanswered[0].Reason != models.UnansweredReasonAPIError {
		t.Errorf("expected api_error unanswered record, got %+v", unanswered)
	}
	sent := env.sender.Sent()
	if len(sent) != 1 || sent[0].To != "operator" {
		t.Errorf("expected only an operator notification, got %+v", sent)
	}
}

func TestHandleNoMatchWithoutAI(t *testing.T) {
	env := newTestEnv(t, false, false, nil)
	if err := env.dispatcher.Handle(context.Background(), inbound("m1", "hola")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unanswered, _ := env.store.ListUnanswered("biz1")
	if len(unanswered) != 1 || unanswered[0].Reason != models.UnansweredReasonNoMatch {
		t.Errorf("expected no_match unanswered record, got %+v", unanswered)
	}
}

func TestHandleRunsOrderPipelineAfterReply(t *testing.T) {
	price := 1200.0
	env := newTestEnv(t, true, true, &extract.ExtractedOrder{
		CustomerName: "Ana",
		Items:        []models.OrderItem{{Product: "muzzarella", Quantity: 1, UnitPrice: &price}},
	})
	env.store.SaveOrderConfig(models.OrderConfig{BusinessID: "biz1", Enabled: true})

	if err := env.dispatcher.Handle(context.Background(), inbound("m1", "quiero una muzzarella")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.dispatcher.Stop() // waits for the async order pipeline

	ordersList, _ := env.store.ListOrders("biz1")
	if len(ordersList) != 1 {
		t.Fatalf("expected 1 order from async pipeline, got %d", len(ordersList))
	}
	sent := env.sender.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected fallback reply plus order confirmation, got %d messages", len(sent))
	}
	if sent[0].Body != "respuesta generada" {
		t.Errorf("first message should be the resolved reply, got %q", sent[0].Body)
	}
}

func TestEnqueueFullQueueRecordsUnanswered(t *testing.T) {
	env := newTestEnv(t, false, false, nil)
	d := env.dispatcher
	// Plant a full queue with no worker draining it.
	q := make(chan models.InboundMessage, 1)
	q <- inbound("stuck", "hola")
	d.mu.Lock()
	d.workers["biz1|chat1"] = q
	d.mu.Unlock()

	d.Enqueue(context.Background(), inbound("m2", "hola de nuevo"))

	unanswered, _ := env.store.ListUnanswered("biz1")
	if len(unanswered) != 1 || unanswered[0].Reason != models.UnansweredReasonAPIError {
		t.Fatalf("expected api_error record for dropped message, got %+v", unanswered)
	}
	if unanswered[0].Body != "hola de nuevo" {
		t.Errorf("expected dropped message body recorded, got %q", unanswered[0].Body)
	}
}

func TestDispatcherSerializesPerChat(t *testing.T) {
	env := newTestEnv(t, true, false, nil)
	env.store.SaveAutoReply(models.AutoReply{ID: "a1", BusinessID: "biz1", Keywords: []string{"hola"}, Reply: "buenas", Priority: 1, Active: true})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env.dispatcher.Enqueue(ctx, models.InboundMessage{
			ID: string(rune('a' + i)), BusinessID: "biz1", ChatID: "chat1",
			Sender: "customer", Body: "hola", Time: int64(i),
		})
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(env.sender.Sent()) == 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	env.dispatcher.Stop()
	if got := len(env.sender.Sent()); got != 5 {
		t.Errorf("expected 5 replies, got %d", got)
	}
}
