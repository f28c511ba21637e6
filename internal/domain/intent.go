package domain

// IntentKind: тег структурированного намерения пользователя.
type IntentKind string

const (
	IntentGeneralQuestion    IntentKind = "general_question"
	IntentOrderRequest       IntentKind = "order_request"
	IntentConfirmAffirmative IntentKind = "confirm_affirmative"
	IntentConfirmNegative    IntentKind = "confirm_negative"
	IntentProvideIdentity    IntentKind = "provide_identity"
	IntentProvideAddress     IntentKind = "provide_address"
	IntentSelect             IntentKind = "select"
	IntentCancel             IntentKind = "cancel"
	IntentUnrecognized       IntentKind = "unrecognized"
)

// IntentItem: ссылка на товар в свободной форме.
// Quantity == 0 означает, что количество не указано.
type IntentItem struct {
	Text       string            `json:"text"`
	SKU        string            `json:"sku,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Quantity   int64             `json:"quantity,omitempty"`
}

// Reference возвращает строку для передачи в резолвер каталога.
func (i IntentItem) Reference() string {
	if i.SKU != "" {
		return i.SKU
	}
	return i.Text
}

// Intent: результат разбора реплики. Набор заполненных полей зависит от Kind.
type Intent struct {
	Kind IntentKind `json:"kind"`
	// Text: вопрос для GeneralQuestion, исходная реплика для остальных.
	Text  string       `json:"text,omitempty"`
	Items []IntentItem `json:"items,omitempty"`
	// RequestKind заполняется, если пользователь явно просит смету или заказ.
	RequestKind RequestKind    `json:"request_kind,omitempty"`
	Email       string         `json:"email,omitempty"`
	Address     *Address       `json:"address,omitempty"`
	Delivery    DeliveryMethod `json:"delivery,omitempty"`
	// Selection: номер варианта (с 1) при выборе из списка кандидатов.
	Selection int `json:"selection,omitempty"`
	// Err хранит причину деградации до Unrecognized для диагностики.
	Err error `json:"-"`
}

// Unrecognized строит деградированное намерение с причиной.
func Unrecognized(text string, err error) Intent {
	return Intent{Kind: IntentUnrecognized, Text: text, Err: err}
}
