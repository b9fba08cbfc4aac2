package intent

import (
	"context"
	"fmt"
	"testing"

	"github.com/nrojasv/ventabot/internal/testutil"
)

func TestMatchKeywordsCaseInsensitive(t *testing.T) {
	if !MatchKeywords("Quiero hacer un PEDIDO", []string{"pedido"}) {
		t.Error("expected case-insensitive substring match")
	}
	if !MatchKeywords("hola, quisiera reservar mesa", []string{"turno", "reservar"}) {
		t.Error("expected match on second keyword")
	}
	if MatchKeywords("buenas tardes", []string{"pedido"}) {
		t.Error("expected no match")
	}
	if MatchKeywords("cualquier cosa", []string{"", "  "}) {
		t.Error("expected blank keywords to never match")
	}
}

func TestClassifyIntentMatch(t *testing.T) {
	ai := &testutil.FakeGenAI{Response: `{"matches": true, "confidence": 85}`}
	c := NewClassifier(ai)
	res := c.ClassifyIntent(context.Background(), "quiero reservar una mesa", "customer wants to book a table")
	if !res.Matches || res.Confidence != 85 {
		t.Errorf("expected match with confidence 85, got %+v", res)
	}
}

func TestClassifyIntentBelowThreshold(t *testing.T) {
	ai := &testutil.FakeGenAI{Response: `{"matches": true, "confidence": 50}`}
	c := NewClassifier(ai)
	res := c.ClassifyIntent(context.Background(), "hola", "customer wants to book a table")
	if res.Matches {
		t.Errorf("expected no match below threshold, got %+v", res)
	}
}

func TestClassifyIntentFailsClosedOnMalformedResponse(t *testing.T) {
	ai := &testutil.FakeGenAI{Response: "I think the customer probably wants to order."}
	c := NewClassifier(ai)
	res := c.ClassifyIntent(context.Background(), "quiero pedir", "order intent")
	if res.Matches {
		t.Errorf("expected fail-closed no match on non-JSON response, got %+v", res)
	}
}

func TestClassifyIntentFailsClosedOnError(t *testing.T) {
	ai := &testutil.FakeGenAI{Err: fmt.Errorf("request timed out")}
	c := NewClassifier(ai)
	res := c.ClassifyIntent(context.Background(), "quiero pedir", "order intent")
	if res.Matches {
		t.Errorf("expected fail-closed no match on error, got %+v", res)
	}
}

func TestClassifyIntentFailsClosedWithoutClient(t *testing.T) {
	c := NewClassifier(nil)
	res := c.ClassifyIntent(context.Background(), "quiero pedir", "order intent")
	if res.Matches {
		t.Errorf("expected no match without a client, got %+v", res)
	}
}

func TestClassifyIntentRejectsOutOfRangeConfidence(t *testing.T) {
	ai := &testutil.FakeGenAI{Response: `{"matches": true, "confidence": 900}`}
	c := NewClassifier(ai)
	if res := c.ClassifyIntent(context.Background(), "msg", "desc"); res.Matches {
		t.Errorf("expected no match for out-of-range confidence, got %+v", res)
	}
}

func TestDetectOrderIntent(t *testing.T) {
	ai := &testutil.FakeGenAI{Response: `{"matches": true, "confidence": 92}`}
	c := NewClassifier(ai)
	res := c.DetectOrderIntent(context.Background(), []string{"cliente: hola", "bot: buenas"}, "quiero 2 pizzas muzzarella")
	if !res.Matches {
		t.Errorf("expected order intent match, got %+v", res)
	}
}

func TestDetectOrderIntentFailsClosed(t *testing.T) {
	ai := &testutil.FakeGenAI{Response: "```\nnot json\n```"}
	c := NewClassifier(ai)
	if res := c.DetectOrderIntent(context.Background(), nil, "quiero 2 pizzas"); res.Matches {
		t.Errorf("expected fail-closed no match, got %+v", res)
	}
}
