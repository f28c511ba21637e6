package intent

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// modelOutput: JSON, который модель возвращает на разбор реплики.
type modelOutput struct {
	Intent         string          `json:"intent"`
	Items          []modelItem     `json:"items"`
	Email          string          `json:"email"`
	Address        json.RawMessage `json:"address"`
	DeliveryMethod string          `json:"delivery_method"`
}

type modelItem struct {
	SKU         string         `json:"sku"`
	BaseProduct string         `json:"base_product"`
	Attributes  map[string]any `json:"attributes"`
	Quantity    any            `json:"quantity"`
}

// extractJSON достаёт объект из ответа модели: снимает markdown-ограждение
// и отрезает текст до первой '{' и после последней '}'.
func extractJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no json object in model output", domain.ErrInferenceMalformed)
	}
	return text[start : end+1], nil
}

func decodeModelOutput(raw string) (modelOutput, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return modelOutput{}, err
	}
	var out modelOutput
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return modelOutput{}, fmt.Errorf("%w: %v", domain.ErrInferenceMalformed, err)
	}
	return out, nil
}

// toIntent переводит ответ модели в доменное намерение.
func (o modelOutput) toIntent(text string) domain.Intent {
	intent := domain.Intent{Text: text, Delivery: parseDelivery(o.DeliveryMethod)}
	if email := strings.TrimSpace(o.Email); email != "" {
		intent.Email = email
	}

	switch strings.ToLower(strings.TrimSpace(o.Intent)) {
	case "demande_produits":
		intent.Kind = domain.IntentOrderRequest
	case "passer_commande":
		intent.Kind = domain.IntentOrderRequest
		intent.RequestKind = domain.RequestOrder
	case "creer_devis":
		intent.Kind = domain.IntentOrderRequest
		intent.RequestKind = domain.RequestQuote
	case "info_generale", "salutation":
		intent.Kind = domain.IntentGeneralQuestion
	case "confirmer":
		intent.Kind = domain.IntentConfirmAffirmative
	case "refuser":
		intent.Kind = domain.IntentConfirmNegative
	case "annuler":
		intent.Kind = domain.IntentCancel
	case "identite":
		intent.Kind = domain.IntentProvideIdentity
	case "adresse":
		intent.Kind = domain.IntentProvideAddress
	default:
		return domain.Unrecognized(text, fmt.Errorf("%w: unknown intent %q", domain.ErrInferenceMalformed, o.Intent))
	}

	if intent.Kind == domain.IntentOrderRequest {
		intent.Items = o.items()
	}
	if intent.Kind == domain.IntentProvideIdentity && intent.Email == "" {
		intent.Email = findEmail(text)
	}
	if addr, ok, err := parseModelAddress(o.Address); ok {
		if err != nil {
			intent.Err = err
		} else {
			intent.Address = &addr
			if intent.Delivery == "" {
				intent.Delivery = domain.DeliveryShipping
			}
		}
	}
	if intent.Kind == domain.IntentProvideAddress && intent.Address == nil && intent.Delivery == "" {
		intent.Delivery = domain.DeliveryShipping
		intent.Err = domain.ErrInvalidAddress
	}
	return intent
}

func (o modelOutput) items() []domain.IntentItem {
	items := make([]domain.IntentItem, 0, len(o.Items))
	for _, raw := range o.Items {
		attrs := make(map[string]string, len(raw.Attributes))
		keys := make([]string, 0, len(raw.Attributes))
		for k, v := range raw.Attributes {
			if v == nil {
				continue
			}
			attrs[k] = strings.TrimSpace(fmt.Sprint(v))
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := []string{strings.TrimSpace(raw.BaseProduct)}
		for _, k := range keys {
			parts = append(parts, attrs[k])
		}
		item := domain.IntentItem{
			SKU:      strings.TrimSpace(raw.SKU),
			Text:     strings.TrimSpace(strings.Join(parts, " ")),
			Quantity: parseQuantity(raw.Quantity),
		}
		if len(attrs) > 0 {
			item.Attributes = attrs
		}
		if item.Text == "" {
			item.Text = item.SKU
		}
		if item.Text == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

// parseQuantity возвращает 0 (количество не задано) для всего,
// что не является положительным целым.
func parseQuantity(v any) int64 {
	switch q := v.(type) {
	case float64:
		if q > 0 && q == math.Trunc(q) && q <= math.MaxInt32 {
			return int64(q)
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(q), 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func parseDelivery(raw string) domain.DeliveryMethod {
	switch fold(raw) {
	case "livraison":
		return domain.DeliveryShipping
	case "retrait", "retrait en magasin":
		return domain.DeliveryPickup
	}
	return ""
}

// parseModelAddress принимает адрес строкой или объектом.
// ok == false, если модель адрес не вернула.
func parseModelAddress(raw json.RawMessage) (domain.Address, bool, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == `""` {
		return domain.Address{}, false, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		addr, err := domain.ParseAddress(text)
		return addr, true, err
	}

	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.Address{}, true, domain.ErrInvalidAddress
	}
	addr := domain.Address{
		Line1:      firstNonEmpty(fields, "line1", "rue", "street", "adresse"),
		PostalCode: firstNonEmpty(fields, "postal_code", "code_postal", "cp"),
		City:       firstNonEmpty(fields, "city", "ville"),
		Country:    firstNonEmpty(fields, "country", "pays"),
	}
	if err := addr.Validate(); err != nil {
		return domain.Address{}, true, err
	}
	return addr, true, nil
}

func firstNonEmpty(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}
