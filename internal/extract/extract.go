// Package extract turns free-text conversation transcripts into structured
// order records via the completion service.
//
// The completion output is untyped external input: every field goes through
// flexible JSON types that coerce the shapes models actually produce (numbers
// as strings, floats for quantities) before validation. A transcript that
// yields nothing usable resolves to a nil record, never a panic or a guess.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nrojasv/ventabot/internal/genai"
	"github.com/nrojasv/ventabot/internal/models"
)

// ErrNoOrderData indicates the transcript contained no usable order data.
var ErrNoOrderData = fmt.Errorf("no order data could be extracted")

// ExtractedOrder is the structured record recovered from a transcript.
type ExtractedOrder struct {
	CustomerName  string
	CustomerPhone string
	Items         []models.OrderItem
	Address       models.DeliveryAddress
	PaymentMethod string
	Notes         string
}

// flexInt coerces a JSON number, numeric string or float into an int.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt(n)
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(int(v))
		return nil
	}
	return fmt.Errorf("cannot coerce %q to integer", s)
}

// flexFloat coerces a JSON number or numeric string into a float64 pointer.
// Currency symbols and thousands separators occasionally leak into prices.
type flexFloat struct {
	value *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("cannot coerce %q to number", s)
	}
	f.value = &v
	return nil
}

// rawOrder mirrors the JSON schema requested from the completion service.
type rawOrder struct {
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	Items         []rawItem `json:"items"`
	Address       struct {
		Street       string `json:"street"`
		Number       string `json:"number"`
		Neighborhood string `json:"neighborhood"`
		Zone         string `json:"zone"`
		Reference    string `json:"reference"`
	} `json:"address"`
	PaymentMethod string `json:"payment_method"`
	Notes         string `json:"notes"`
}

type rawItem struct {
	Product   string    `json:"product"`
	Quantity  flexInt   `json:"quantity"`
	UnitPrice flexFloat `json:"unit_price"`
	Note      string    `json:"note"`
}

const extractSystemPrompt = `You extract structured order data from a customer conversation transcript.
Respond with exactly one JSON object and nothing else, using this schema:
{
  "customer_name": "<string or empty>",
  "customer_phone": "<string or empty>",
  "items": [{"product": "<string>", "quantity": <integer>, "unit_price": <number or null>, "note": "<string or empty>"}],
  "address": {"street": "", "number": "", "neighborhood": "", "zone": "", "reference": ""},
  "payment_method": "<string or empty>",
  "notes": "<string or empty>"
}
Only include items the customer actually asked for. Leave unknown fields empty, never invent values.`

// Extractor recovers structured order data from transcripts.
type Extractor struct {
	ai genai.ClientInterface
}

// NewExtractor creates an Extractor backed by the given GenAI client.
func NewExtractor(ai genai.ClientInterface) *Extractor {
	return &Extractor{ai: ai}
}

// ExtractOrder runs the completion service over the transcript and returns a
// validated structured record. A transcript without usable order data, or any
// completion failure, returns (nil, error) and never a partial guess.
func (e *Extractor) ExtractOrder(ctx context.Context, transcript string) (*ExtractedOrder, error) {
	if e.ai == nil {
		return nil, fmt.Errorf("extractor has no GenAI client")
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrNoOrderData
	}

	var raw rawOrder
	if err := e.ai.GenerateJSON(ctx, extractSystemPrompt, transcript, &raw); err != nil {
		slog.Warn("Order extraction failed", "error", err)
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	return coerce(raw)
}

// coerce validates and normalizes the raw record.
func coerce(raw rawOrder) (*ExtractedOrder, error) {
	out := &ExtractedOrder{
		CustomerName:  strings.TrimSpace(raw.CustomerName),
		CustomerPhone: strings.TrimSpace(raw.CustomerPhone),
		PaymentMethod: strings.TrimSpace(raw.PaymentMethod),
		Notes:         strings.TrimSpace(raw.Notes),
		Address: models.DeliveryAddress{
			Street:       strings.TrimSpace(raw.Address.Street),
			Number:       strings.TrimSpace(raw.Address.Number),
			Neighborhood: strings.TrimSpace(raw.Address.Neighborhood),
			Zone:         strings.TrimSpace(raw.Address.Zone),
			Reference:    strings.TrimSpace(raw.Address.Reference),
		},
	}
	for _, item := range raw.Items {
		product := strings.TrimSpace(item.Product)
		if product == "" {
			continue
		}
		qty := int(item.Quantity)
		if qty < 1 {
			qty = 1
		}
		out.Items = append(out.Items, models.OrderItem{
			Product:   product,
			Quantity:  qty,
			UnitPrice: item.UnitPrice.value,
			Note:      strings.TrimSpace(item.Note),
		})
	}
	if len(out.Items) == 0 && out.CustomerName == "" && !anyAddressField(out.Address) {
		slog.Debug("Extraction produced an empty record")
		return nil, ErrNoOrderData
	}
	return out, nil
}

func anyAddressField(a models.DeliveryAddress) bool {
	return a.Street != "" || a.Number != "" || a.Neighborhood != "" || a.Zone != "" || a.Reference != ""
}
