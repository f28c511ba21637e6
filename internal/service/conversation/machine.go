package conversation

import (
	"errors"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// DefaultIdleTimeout: сессия без активности дольше этого срока отменяется.
const DefaultIdleTimeout = 15 * time.Minute

// Config: параметры переходов.
type Config struct {
	IdleTimeout time.Duration
}

// Action: побочное действие, которое движок выполняет после перехода.
type Action string

const (
	ActionNone Action = ""
	// ActionAnswer: ответить на общий вопрос через модель.
	ActionAnswer Action = "answer"
	// ActionCommit: передать ResolvedIntent оркестратору как заказ.
	ActionCommit Action = "commit"
	// ActionQuote: передать ResolvedIntent оркестратору как смету.
	ActionQuote Action = "quote"
)

// Resolution: результат резолвера каталога для одной позиции намерения.
type Resolution struct {
	Candidates []domain.Candidate
	Err        error
}

// Event: всё, что известно о новой реплике к моменту перехода.
type Event struct {
	Intent domain.Intent
	// Resolutions выровнены по Intent.Items; позиции без текста не резолвятся.
	Resolutions []Resolution
	// Customer: запись справочника для e-mail из намерения, если найдена.
	Customer *domain.Customer
	Now      time.Time
}

// Outcome: результат перехода.
type Outcome struct {
	Session  domain.Session
	Message  string
	Action   Action
	Question string
}

// Step это чистая функция перехода (сессия, событие) -> (новая сессия, сообщение, действие).
// Входная сессия не изменяется.
func Step(s domain.Session, ev Event, cfg Config) Outcome {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	s.Partial = s.Partial.Clone()

	if s.State.Terminal() {
		return Outcome{Session: s, Message: replyFinished}
	}
	if s.IdleFor(ev.Now, cfg.IdleTimeout) {
		return cancel(s, replyExpired)
	}
	s.LastActivity = ev.Now

	m := &machine{s: s, ev: ev}
	m.handle()
	return Outcome{
		Session:  m.s,
		Message:  join(m.notes...),
		Action:   m.action,
		Question: m.question,
	}
}

func cancel(s domain.Session, message string) Outcome {
	s.State = domain.StateCancelled
	s.Partial = domain.PartialIntent{}
	return Outcome{Session: s, Message: message}
}

type machine struct {
	s        domain.Session
	ev       Event
	notes    []string
	action   Action
	question string
}

func (m *machine) say(msg string) {
	m.notes = append(m.notes, msg)
}

func (m *machine) handle() {
	in := m.ev.Intent
	switch in.Kind {
	case domain.IntentCancel:
		m.s.State = domain.StateCancelled
		m.s.Partial = domain.PartialIntent{}
		m.say(replyCancelled)
	case domain.IntentGeneralQuestion:
		m.action = ActionAnswer
		m.question = in.Text
		m.remind()
	case domain.IntentOrderRequest:
		m.orderRequest(in)
	case domain.IntentSelect:
		m.selectCandidate(in.Selection)
	case domain.IntentProvideIdentity:
		m.identity(in.Email)
	case domain.IntentProvideAddress:
		m.address(in)
	case domain.IntentConfirmAffirmative:
		m.affirmative()
	case domain.IntentConfirmNegative:
		m.negative()
	default:
		if errors.Is(in.Err, domain.ErrInferenceUnavailable) {
			m.say(replyRetry)
			return
		}
		m.say(replyNotUnderstood)
		if m.s.State == domain.StateIdle {
			m.say(replyAskProducts)
			return
		}
		m.remind()
	}
}

// remind повторяет вопрос текущего состояния без перехода.
func (m *machine) remind() {
	p := &m.s.Partial
	switch m.s.State {
	case domain.StateCollecting:
		m.say(replyAskProducts)
	case domain.StateDisambiguating:
		if p.Pending != nil {
			m.say(askSelection(*p.Pending))
		}
	case domain.StateAwaitingQuantity:
		if p.Pending != nil {
			m.say(askQuantity(*p.Pending))
		}
	case domain.StateAwaitingIdentity:
		m.say(replyAskEmail)
	case domain.StateAwaitingAddress:
		m.say(replyAskAddress)
	case domain.StateCommitting:
		m.say(replyCommitInProgress)
	case domain.StateAwaitingConfirmation:
		if len(p.Shortages) > 0 {
			m.say(backorderOffer(*p))
		} else {
			m.say(confirmation(*p, nil))
		}
	}
}

func (m *machine) orderRequest(in domain.Intent) {
	p := &m.s.Partial
	if in.RequestKind != "" {
		p.Kind = in.RequestKind
	}
	if in.Email != "" {
		if email, err := domain.ValidateEmail(in.Email); err == nil {
			p.Email = email
		}
	}
	if in.Delivery.Valid() {
		p.Delivery = in.Delivery
	}
	if in.Address != nil {
		addr := *in.Address
		p.Address = &addr
	}

	switch m.s.State {
	case domain.StateAwaitingQuantity:
		if p.Pending != nil && len(in.Items) == 1 && m.refersToPending(in.Items[0]) {
			m.applyQuantity(in.Items[0].Quantity)
			return
		}
	case domain.StateDisambiguating:
		if p.Pending != nil && len(in.Items) == 1 && len(m.ev.Resolutions) == 1 {
			m.narrow(in.Items[0], m.ev.Resolutions[0])
			return
		}
	}

	if len(in.Items) == 0 {
		if m.s.State == domain.StateIdle {
			m.s.State = domain.StateCollecting
		}
		if len(p.Lines) == 0 && p.Pending == nil {
			m.s.State = domain.StateCollecting
			m.say(replyAskProducts)
			return
		}
		m.continueFlow()
		return
	}

	for _, res := range m.ev.Resolutions {
		if res.Err != nil {
			if m.s.State == domain.StateIdle {
				m.s.State = domain.StateCollecting
			}
			m.say(replyRetry)
			return
		}
	}

	for i, item := range in.Items {
		pending := domain.PendingItem{Text: item.Reference(), Quantity: item.Quantity}
		if pending.Text == "" {
			continue
		}
		if i < len(m.ev.Resolutions) {
			pending.Candidates = m.ev.Resolutions[i].Candidates
		}
		p.Queue = append(p.Queue, pending)
	}
	p.Shortages = nil
	m.continueFlow()
}

// refersToPending сообщает, что позиция уточняет ожидающую: либо это голое
// количество, либо её кандидаты включают уже выбранный вариант.
func (m *machine) refersToPending(item domain.IntentItem) bool {
	if item.Reference() == "" {
		return true
	}
	if item.Quantity <= 0 || len(m.ev.Resolutions) != 1 {
		return false
	}
	sku := m.s.Partial.Pending.Candidates[0].Variant.SKU
	for _, c := range m.ev.Resolutions[0].Candidates {
		if c.Variant.SKU == sku {
			return true
		}
	}
	return false
}

func (m *machine) applyQuantity(quantity int64) {
	p := &m.s.Partial
	if quantity <= 0 {
		m.say(askQuantity(*p.Pending))
		return
	}
	pending := *p.Pending
	p.Pending = nil
	m.addLine(pending.Candidates[0].Variant, quantity)
	m.continueFlow()
}

// narrow сужает список кандидатов уточнением пользователя ("celui pour gazon").
func (m *machine) narrow(item domain.IntentItem, res Resolution) {
	p := &m.s.Partial
	if res.Err != nil {
		m.say(replyRetry)
		return
	}

	allowed := make(map[string]struct{}, len(res.Candidates))
	for _, c := range res.Candidates {
		allowed[c.Variant.SKU] = struct{}{}
	}
	var kept []domain.Candidate
	for _, c := range p.Pending.Candidates {
		if _, ok := allowed[c.Variant.SKU]; ok {
			kept = append(kept, c)
		}
	}

	switch len(kept) {
	case 0:
		m.say(replyInvalidSelection)
		m.say(askSelection(*p.Pending))
	case 1:
		pending := *p.Pending
		pending.Candidates = kept
		if item.Quantity > 0 {
			pending.Quantity = item.Quantity
		}
		m.choose(pending)
	default:
		p.Pending.Candidates = kept
		m.say(askSelection(*p.Pending))
	}
}

func (m *machine) selectCandidate(n int) {
	p := &m.s.Partial
	if m.s.State != domain.StateDisambiguating || p.Pending == nil {
		m.say(replyNotUnderstood)
		m.remind()
		return
	}
	if n < 1 || n > len(p.Pending.Candidates) {
		m.say(replyInvalidSelection)
		m.say(askSelection(*p.Pending))
		return
	}
	pending := *p.Pending
	pending.Candidates = []domain.Candidate{pending.Candidates[n-1]}
	m.choose(pending)
}

// choose фиксирует единственного кандидата: позиция добавляется,
// если количество известно, иначе переходим к его запросу.
func (m *machine) choose(pending domain.PendingItem) {
	p := &m.s.Partial
	if pending.Quantity > 0 {
		p.Pending = nil
		m.addLine(pending.Candidates[0].Variant, pending.Quantity)
		m.continueFlow()
		return
	}
	p.Pending = &pending
	m.s.State = domain.StateAwaitingQuantity
	m.say(askQuantity(pending))
}

func (m *machine) identity(raw string) {
	email, err := domain.ValidateEmail(raw)
	if err != nil {
		m.say(replyInvalidEmail)
		if m.s.State != domain.StateAwaitingIdentity {
			m.remind()
		}
		return
	}
	m.s.Partial.Email = email
	m.continueFlow()
}

func (m *machine) address(in domain.Intent) {
	p := &m.s.Partial
	switch {
	case in.Delivery == domain.DeliveryPickup:
		p.Delivery = domain.DeliveryPickup
		p.Address = nil
	case in.Address != nil:
		addr := *in.Address
		p.Address = &addr
		p.Delivery = domain.DeliveryShipping
	case in.Err != nil:
		m.say(replyInvalidAddress)
		if m.s.State != domain.StateAwaitingAddress {
			m.remind()
		}
		return
	default:
		p.Delivery = domain.DeliveryShipping
	}
	m.continueFlow()
}

func (m *machine) affirmative() {
	p := &m.s.Partial
	// Committing здесь означает, что прошлая попытка прервалась до сохранения результата.
	if m.s.State != domain.StateAwaitingConfirmation && m.s.State != domain.StateCommitting {
		m.say(replyNotUnderstood)
		m.remind()
		return
	}

	if len(p.Shortages) > 0 {
		if !reduceToAvailable(p) {
			m.s.State = domain.StateCancelled
			m.s.Partial = domain.PartialIntent{}
			m.say(replyNothingAvailable)
			return
		}
	}

	m.s.State = domain.StateCommitting
	if p.Kind == domain.RequestQuote {
		m.action = ActionQuote
	} else {
		m.action = ActionCommit
	}
}

func (m *machine) negative() {
	p := &m.s.Partial
	switch m.s.State {
	case domain.StateAwaitingConfirmation:
		m.s.State = domain.StateCancelled
		m.s.Partial = domain.PartialIntent{}
		m.say(replyCancelled)
	case domain.StateDisambiguating, domain.StateAwaitingQuantity:
		// Пользователь отказался от текущей позиции: убираем её и идём дальше.
		p.Pending = nil
		m.continueFlow()
	default:
		m.say(replyNotUnderstood)
		m.remind()
	}
}

// reduceToAvailable урезает позиции до доступного остатка. false: не осталось ни одной.
func reduceToAvailable(p *domain.PartialIntent) bool {
	available := make(map[string]int64, len(p.Shortages))
	for _, s := range p.Shortages {
		available[s.SKU] = s.Available
	}
	kept := p.Lines[:0]
	for _, line := range p.Lines {
		if qty, short := available[line.Variant.SKU]; short {
			line.Quantity = qty
		}
		if line.Quantity > 0 {
			kept = append(kept, line)
		}
	}
	p.Lines = kept
	p.Shortages = nil
	return len(p.Lines) > 0
}

func (m *machine) addLine(variant domain.Variant, quantity int64) {
	p := &m.s.Partial
	p.Shortages = nil
	for i := range p.Lines {
		if p.Lines[i].Variant.SKU == variant.SKU {
			p.Lines[i].Quantity += quantity
			return
		}
	}
	p.Lines = append(p.Lines, domain.PartialLine{Variant: variant, Quantity: quantity})
}

// continueFlow разбирает очередь позиций и выбирает следующий вопрос.
func (m *machine) continueFlow() {
	p := &m.s.Partial
	var missing []string
	for p.Pending == nil && len(p.Queue) > 0 {
		item := p.Queue[0]
		p.Queue = p.Queue[1:]
		switch len(item.Candidates) {
		case 0:
			missing = append(missing, item.Text)
		case 1:
			if item.Quantity > 0 {
				m.addLine(item.Candidates[0].Variant, item.Quantity)
				continue
			}
			pending := item
			p.Pending = &pending
		default:
			pending := item
			p.Pending = &pending
		}
	}
	if len(p.Queue) == 0 {
		p.Queue = nil
	}
	if len(missing) > 0 {
		m.say(notFound(missing))
	}

	if p.Pending != nil {
		if len(p.Pending.Candidates) > 1 {
			m.s.State = domain.StateDisambiguating
			m.say(askSelection(*p.Pending))
		} else {
			m.s.State = domain.StateAwaitingQuantity
			m.say(askQuantity(*p.Pending))
		}
		return
	}
	m.advance()
}

// advance выбирает первый недостающий элемент: позиции, e-mail, адрес, подтверждение.
func (m *machine) advance() {
	p := &m.s.Partial
	if len(p.Lines) == 0 {
		m.s.State = domain.StateCollecting
		m.say(replyAskProducts)
		return
	}
	if p.Kind == "" {
		p.Kind = domain.RequestOrder
	}

	if p.Email == "" {
		m.s.State = domain.StateAwaitingIdentity
		m.say(noted(p.Lines))
		m.say(replyAskEmail)
		return
	}

	if p.Address == nil && p.Delivery != domain.DeliveryPickup {
		if addr, ok := m.addressOnFile(); ok {
			p.Address = &addr
		}
	}
	if p.Address != nil && p.Delivery == "" {
		p.Delivery = domain.DeliveryShipping
	}
	if p.Delivery == "" || (p.Delivery == domain.DeliveryShipping && p.Address == nil) {
		m.s.State = domain.StateAwaitingAddress
		m.say(replyAskAddress)
		return
	}

	m.s.State = domain.StateAwaitingConfirmation
	m.say(confirmation(*p, nil))
}

func (m *machine) addressOnFile() (domain.Address, bool) {
	c := m.ev.Customer
	if c == nil || len(c.Addresses) == 0 {
		return domain.Address{}, false
	}
	email, err := domain.ValidateEmail(c.Email)
	if err != nil || email != m.s.Partial.Email {
		return domain.Address{}, false
	}
	return c.Addresses[0], true
}

// ApplyCommit переводит сессию из Committing по результату оркестратора.
func ApplyCommit(s domain.Session, result domain.OrderResult, err error, now time.Time) Outcome {
	s.Partial = s.Partial.Clone()
	s.LastActivity = now

	if err != nil {
		s.State = domain.StateAwaitingConfirmation
		return Outcome{Session: s, Message: commitFailure(err)}
	}

	switch result.Kind {
	case domain.ResultCommitted:
		kind := s.Partial.Kind
		s.State = domain.StateCompleted
		s.OrderID = result.OrderID
		s.QuoteID = result.QuoteID
		return Outcome{Session: s, Message: committed(result, kind)}
	case domain.ResultPartiallyUnavailable:
		s.Partial.Shortages = append([]domain.Shortage(nil), result.Shortages...)
		probe := s.Partial.Clone()
		if !reduceToAvailable(&probe) {
			return cancel(s, replyNothingAvailable)
		}
		s.State = domain.StateAwaitingConfirmation
		return Outcome{Session: s, Message: backorderOffer(s.Partial)}
	default:
		return cancel(s, replyRejected)
	}
}

// ResolvedIntentFor собирает запрос для оркестратора из накопленных данных.
func ResolvedIntentFor(s domain.Session) domain.ResolvedIntent {
	p := s.Partial
	lines := make([]domain.ResolvedLine, len(p.Lines))
	for i, line := range p.Lines {
		lines[i] = domain.ResolvedLine{Variant: line.Variant, Quantity: line.Quantity}
	}

	ri := domain.ResolvedIntent{
		SessionID:     s.ID,
		Kind:          p.Kind,
		CustomerEmail: p.Email,
		Delivery:      p.Delivery,
		Lines:         lines,
	}
	if ri.Kind == "" {
		ri.Kind = domain.RequestOrder
	}
	if p.Address != nil && p.Delivery == domain.DeliveryShipping {
		delivery := *p.Address
		billing := *p.Address
		ri.DeliveryAddress = &delivery
		ri.BillingAddress = &billing
	}
	return ri
}
