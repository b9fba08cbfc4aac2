package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/orders"
	"github.com/nrojasv/ventabot/internal/session"
	"github.com/nrojasv/ventabot/internal/store"
	"github.com/nrojasv/ventabot/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := &testutil.FakeSender{}
	orderSvc := orders.NewService(st, nil, nil, sender)
	srv := NewServer(st, orderSvc, session.NewRegistry())
	return srv, st
}

func seedBusiness(t *testing.T, st *store.InMemoryStore) models.Business {
	t.Helper()
	b := models.Business{
		ID:          "biz1",
		Name:        "Lo de Carlos",
		PhoneNumber: "5491122334455",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := st.SaveBusiness(b); err != nil {
		t.Fatalf("SaveBusiness returned error: %v", err)
	}
	return b
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodGet, "/health", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")

	body := testutil.DecodeJSONBody(t, rr)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestFlowsCRUD(t *testing.T) {
	srv, st := newTestServer(t)
	seedBusiness(t, st)

	flow := models.FlowDefinition{
		BusinessID:     "biz1",
		Name:           "Reservas",
		ActivationMode: models.ActivationKeywords,
		Keywords:       []string{"reservar"},
		Steps: []models.FlowStep{
			{Order: 1, Reply: "¿Para qué fecha?"},
		},
		FinalAction:    models.FinalAction{Type: models.FinalActionSaveInfo},
		TimeoutMinutes: 30,
		Active:         true,
	}

	rr := doJSON(t, srv, http.MethodPost, "/flows", flow)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create flow")
	body := testutil.DecodeJSONBody(t, rr)
	result := body["result"].(map[string]any)
	flowID := result["id"].(string)
	if flowID == "" {
		t.Fatal("expected created flow to have an id")
	}

	rr = doJSON(t, srv, http.MethodGet, "/flows?business_id=biz1", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list flows")

	rr = doJSON(t, srv, http.MethodGet, "/flows/"+flowID, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get flow")

	flow.Steps[0].Reply = "¿Qué día te queda bien?"
	rr = doJSON(t, srv, http.MethodPut, "/flows/"+flowID, flow)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "update flow")

	rr = doJSON(t, srv, http.MethodDelete, "/flows/"+flowID, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "delete flow")

	rr = doJSON(t, srv, http.MethodGet, "/flows/"+flowID, nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "get deleted flow")
}

func TestDeleteBuiltinFlowRefused(t *testing.T) {
	srv, st := newTestServer(t)
	seedBusiness(t, st)

	builtin := models.FlowDefinition{
		ID:             "flow_builtin",
		BusinessID:     "biz1",
		Name:           "Pedido genérico",
		ActivationMode: models.ActivationKeywords,
		Keywords:       []string{"pedido"},
		Steps:          []models.FlowStep{{Order: 1, Reply: "¿Qué querés pedir?"}},
		FinalAction:    models.FinalAction{Type: models.FinalActionCreateOrder},
		TimeoutMinutes: 30,
		Active:         true,
		IsDefault:      true,
	}
	if err := st.SaveFlow(builtin); err != nil {
		t.Fatalf("SaveFlow returned error: %v", err)
	}

	rr := doJSON(t, srv, http.MethodDelete, "/flows/flow_builtin", nil)
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "delete builtin flow")

	if f, _ := st.GetFlow("flow_builtin"); f == nil {
		t.Error("expected builtin flow to survive delete attempt")
	}
}

func TestFlowValidationRejected(t *testing.T) {
	srv, st := newTestServer(t)
	seedBusiness(t, st)

	flow := models.FlowDefinition{
		BusinessID:     "biz1",
		Name:           "Sin pasos",
		ActivationMode: models.ActivationKeywords,
		Keywords:       []string{"hola"},
		FinalAction:    models.FinalAction{Type: models.FinalActionSaveInfo},
		TimeoutMinutes: 30,
	}

	rr := doJSON(t, srv, http.MethodPost, "/flows", flow)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "create invalid flow")

	body := testutil.DecodeJSONBody(t, rr)
	if body["status"] != "error" {
		t.Errorf("expected error envelope, got %v", body["status"])
	}
}

func TestOrderStatusTransition(t *testing.T) {
	srv, st := newTestServer(t)
	seedBusiness(t, st)

	order := &models.Order{
		ID:         "ord1",
		BusinessID: "biz1",
		Status:     models.OrderStatusPending,
		Items:      []models.OrderItem{{Product: "Pizza muzzarella", Quantity: 1}},
	}
	if err := st.CreateOrder(order); err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	rr := doJSON(t, srv, http.MethodPost, "/orders/ord1/status", orderStatusRequest{
		BusinessID: "biz1",
		Status:     models.OrderStatusConfirmed,
	})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "confirm order")

	updated, _ := st.GetOrder("ord1")
	if updated.Status != models.OrderStatusConfirmed {
		t.Errorf("expected status confirmed, got %s", updated.Status)
	}

	// confirmed -> delivered skips preparing and must be refused
	rr = doJSON(t, srv, http.MethodPost, "/orders/ord1/status", orderStatusRequest{
		BusinessID: "biz1",
		Status:     models.OrderStatusDelivered,
	})
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "illegal transition")

	rr = doJSON(t, srv, http.MethodPost, "/orders/missing/status", orderStatusRequest{
		BusinessID: "biz1",
		Status:     models.OrderStatusConfirmed,
	})
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing order")
}

func TestOrdersListRequiresBusinessID(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv, http.MethodGet, "/orders", nil)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "orders without business_id")
}

func TestOrderConfigRoundTrip(t *testing.T) {
	srv, st := newTestServer(t)
	seedBusiness(t, st)

	cfg := models.OrderConfig{
		BusinessID: "biz1",
		Enabled:    true,
		Zones: []models.DeliveryZone{
			{Name: "Centro", Cost: 300},
		},
		AutoConfirm: true,
	}
	rr := doJSON(t, srv, http.MethodPut, "/order-config", cfg)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "save order config")

	rr = doJSON(t, srv, http.MethodGet, "/order-config?business_id=biz1", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get order config")
	body := testutil.DecodeJSONBody(t, rr)
	result := body["result"].(map[string]any)
	if result["enabled"] != true {
		t.Errorf("expected enabled config, got %v", result["enabled"])
	}

	// Unknown business gets a zero-value config, not a 404
	rr = doJSON(t, srv, http.MethodGet, "/order-config?business_id=biz2", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "default order config")
}

func TestAutoRepliesCRUD(t *testing.T) {
	srv, st := newTestServer(t)
	seedBusiness(t, st)

	reply := models.AutoReply{
		BusinessID: "biz1",
		Keywords:   []string{"horario"},
		Reply:      "Abrimos de 9 a 18",
		Priority:   5,
		Active:     true,
	}
	rr := doJSON(t, srv, http.MethodPost, "/auto-replies", reply)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create auto reply")
	body := testutil.DecodeJSONBody(t, rr)
	result := body["result"].(map[string]any)
	replyID := result["id"].(string)

	rr = doJSON(t, srv, http.MethodGet, "/auto-replies?business_id=biz1", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list auto replies")

	reply.Reply = "Abrimos de 9 a 20"
	rr = doJSON(t, srv, http.MethodPut, "/auto-replies/"+replyID, reply)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "update auto reply")

	rr = doJSON(t, srv, http.MethodDelete, "/auto-replies/"+replyID, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "delete auto reply")

	rr = doJSON(t, srv, http.MethodDelete, "/auto-replies/"+replyID, nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "delete missing auto reply")
}

func TestBusinessPauseResume(t *testing.T) {
	srv, st := newTestServer(t)
	seedBusiness(t, st)

	rr := doJSON(t, srv, http.MethodPost, "/businesses/biz1/pause", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "pause bot")
	b, _ := st.GetBusiness("biz1")
	if !b.BotPaused {
		t.Error("expected bot paused after pause")
	}

	rr = doJSON(t, srv, http.MethodPost, "/businesses/biz1/resume", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "resume bot")
	b, _ = st.GetBusiness("biz1")
	if b.BotPaused {
		t.Error("expected bot active after resume")
	}

	rr = doJSON(t, srv, http.MethodPost, "/businesses/nope/pause", nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "pause unknown business")
}

func TestUnansweredList(t *testing.T) {
	srv, st := newTestServer(t)
	seedBusiness(t, st)

	if err := st.AddUnanswered(models.UnansweredMessage{
		ID:         "unans1",
		BusinessID: "biz1",
		ChatID:     "chat1",
		Body:       "hay stock?",
		Reason:     models.UnansweredReasonNoMatch,
		Timestamp:  time.Now(),
	}); err != nil {
		t.Fatalf("AddUnanswered returned error: %v", err)
	}

	rr := doJSON(t, srv, http.MethodGet, "/unanswered?business_id=biz1", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list unanswered")
	body := testutil.DecodeJSONBody(t, rr)
	records := body["result"].([]any)
	if len(records) != 1 {
		t.Errorf("expected 1 unanswered record, got %d", len(records))
	}
}

func TestMetricsHandler(t *testing.T) {
	srv, st := newTestServer(t)
	seedBusiness(t, st)

	date := models.MetricsDate(time.Now())
	if err := st.IncrementDailyMetrics("biz1", date, models.MetricsDelta{MessagesProcessed: 3, RepliesSent: 2}); err != nil {
		t.Fatalf("IncrementDailyMetrics returned error: %v", err)
	}

	rr := doJSON(t, srv, http.MethodGet, "/metrics?business_id=biz1&date="+date, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get metrics")
	body := testutil.DecodeJSONBody(t, rr)
	result := body["result"].(map[string]any)
	if result["messages_processed"].(float64) != 3 {
		t.Errorf("expected 3 messages processed, got %v", result["messages_processed"])
	}

	// A day without activity yields zeroed counters
	rr = doJSON(t, srv, http.MethodGet, "/metrics?business_id=biz1&date=2020-01-01", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "empty metrics")
	body = testutil.DecodeJSONBody(t, rr)
	result = body["result"].(map[string]any)
	if result["replies_sent"].(float64) != 0 {
		t.Errorf("expected zeroed metrics, got %v", result["replies_sent"])
	}
}
