package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// stockEntry: остаток одного варианта и его история движений под собственным мьютексом.
type stockEntry struct {
	mu        sync.Mutex
	level     domain.StockLevel
	movements []domain.StockMovement
}

// StockLedger: in-memory реестр остатков. Каждая операция захватывает мьютексы
// затронутых вариантов в порядке возрастания SKU, поэтому непересекающиеся
// списания идут параллельно, а пересекающиеся строго упорядочены.
type StockLedger struct {
	mu      sync.RWMutex
	entries map[string]*stockEntry
	now     func() time.Time
}

// NewStockLedger создаёт реестр с начальными остатками. Каждый ненулевой начальный
// остаток записывается движением restock, чтобы сумма движений совпадала с остатком.
func NewStockLedger(levels ...domain.StockLevel) *StockLedger {
	l := &StockLedger{
		entries: make(map[string]*stockEntry, len(levels)),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, level := range levels {
		_ = l.Seed(level)
	}
	return l
}

// Seed регистрирует вариант в реестре. Повторная регистрация SKU игнорируется.
func (l *StockLedger) Seed(level domain.StockLevel) error {
	if level.SKU == "" {
		return domain.ErrSKURequired
	}
	if level.Quantity < 0 {
		return domain.ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[level.SKU]; exists {
		return nil
	}

	now := l.now()
	quantity := level.Quantity
	level.Quantity = 0
	level.LastUpdated = now
	if level.AlertThreshold == 0 {
		level.AlertThreshold = domain.DefaultAlertThreshold
	}
	entry := &stockEntry{level: level}
	if quantity > 0 {
		entry.apply(domain.StockMovement{
			ID:            uuid.NewString(),
			SKU:           level.SKU,
			Delta:         quantity,
			Reason:        domain.MovementRestock,
			CorrelationID: "initial",
			CreatedAt:     now,
		})
	}
	l.entries[level.SKU] = entry
	return nil
}

// Check возвращает текущую доступность без изменения остатка.
func (l *StockLedger) Check(ctx context.Context, sku string, quantity int64) (domain.Availability, error) {
	if err := ctx.Err(); err != nil {
		return domain.Availability{}, err
	}
	if quantity <= 0 {
		return domain.Availability{}, domain.ErrInvalidQuantity
	}
	entry, err := l.entry(sku)
	if err != nil {
		return domain.Availability{}, err
	}

	entry.mu.Lock()
	current := entry.level.Quantity
	entry.mu.Unlock()

	return domain.Availability{
		SKU:        sku,
		Requested:  quantity,
		Current:    current,
		Sufficient: current >= quantity,
	}, nil
}

// CommitAll атомарно списывает все позиции или не меняет ничего.
func (l *StockLedger) CommitAll(ctx context.Context, lines []domain.StockLine) (domain.CommitOutcome, error) {
	if len(lines) == 0 {
		return domain.CommitOutcome{}, domain.ErrLinesRequired
	}
	for _, line := range lines {
		if err := line.Validate(); err != nil {
			return domain.CommitOutcome{}, fmt.Errorf("line %s: %w", line.SKU, err)
		}
	}

	order, totals := domain.AggregateLines(lines)
	entries, unlock, err := l.lockAll(ctx, order)
	if err != nil {
		return domain.CommitOutcome{}, err
	}
	defer unlock()

	var shortages []domain.Shortage
	for _, sku := range order {
		current := entries[sku].level.Quantity
		if current < totals[sku] {
			shortages = append(shortages, domain.Shortage{SKU: sku, Requested: totals[sku], Available: current})
		}
	}
	if len(shortages) > 0 {
		return domain.CommitOutcome{Shortages: shortages}, nil
	}

	now := l.now()
	movements := make([]domain.StockMovement, 0, len(lines))
	for _, line := range lines {
		movement := domain.StockMovement{
			ID:            uuid.NewString(),
			SKU:           line.SKU,
			Delta:         -line.Quantity,
			Reason:        line.Reason,
			CorrelationID: line.CorrelationID,
			OrderLineID:   line.OrderLineID,
			CreatedAt:     now,
		}
		entries[line.SKU].apply(movement)
		movements = append(movements, movement)
	}

	levels := make([]domain.StockLevel, 0, len(order))
	for _, sku := range order {
		levels = append(levels, entries[sku].level)
	}

	return domain.CommitOutcome{Committed: true, Movements: movements, Levels: levels}, nil
}

// Restock добавляет положительное движение.
func (l *StockLedger) Restock(ctx context.Context, sku string, quantity int64, reason domain.MovementReason) (domain.StockMovement, error) {
	if quantity <= 0 {
		return domain.StockMovement{}, domain.ErrInvalidQuantity
	}
	if reason == "" {
		reason = domain.MovementRestock
	}
	if !reason.Valid() {
		return domain.StockMovement{}, domain.ErrInvalidMovementReason
	}

	entries, unlock, err := l.lockAll(ctx, []string{sku})
	if err != nil {
		return domain.StockMovement{}, err
	}
	defer unlock()

	movement := domain.StockMovement{
		ID:        uuid.NewString(),
		SKU:       sku,
		Delta:     quantity,
		Reason:    reason,
		CreatedAt: l.now(),
	}
	entries[sku].apply(movement)
	return movement, nil
}

// Compensate применяет движения, противоположные переданным. Если обратное
// движение увело бы остаток в минус, ничего не применяется.
func (l *StockLedger) Compensate(ctx context.Context, movements []domain.StockMovement, reason domain.MovementReason) ([]domain.StockMovement, error) {
	if len(movements) == 0 {
		return nil, nil
	}
	if !reason.Valid() {
		return nil, domain.ErrInvalidMovementReason
	}

	deltas := make(map[string]int64, len(movements))
	skus := make([]string, 0, len(movements))
	for _, movement := range movements {
		if _, ok := deltas[movement.SKU]; !ok {
			skus = append(skus, movement.SKU)
		}
		deltas[movement.SKU] -= movement.Delta
	}

	entries, unlock, err := l.lockAll(ctx, skus)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, sku := range skus {
		if entries[sku].level.Quantity+deltas[sku] < 0 {
			return nil, fmt.Errorf("compensate %s: %w", sku, domain.ErrInsufficientStock)
		}
	}

	now := l.now()
	applied := make([]domain.StockMovement, 0, len(movements))
	for _, original := range movements {
		reverse := domain.StockMovement{
			ID:            uuid.NewString(),
			SKU:           original.SKU,
			Delta:         -original.Delta,
			Reason:        reason,
			CorrelationID: original.CorrelationID,
			OrderLineID:   original.OrderLineID,
			CreatedAt:     now,
		}
		entries[original.SKU].apply(reverse)
		applied = append(applied, reverse)
	}
	return applied, nil
}

// Level возвращает текущий остаток варианта.
func (l *StockLedger) Level(_ context.Context, sku string) (domain.StockLevel, error) {
	entry, err := l.entry(sku)
	if err != nil {
		return domain.StockLevel{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.level, nil
}

// Movements возвращает копию истории движений варианта в порядке применения.
func (l *StockLedger) Movements(_ context.Context, sku string) ([]domain.StockMovement, error) {
	entry, err := l.entry(sku)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return append([]domain.StockMovement(nil), entry.movements...), nil
}

func (l *StockLedger) entry(sku string) (*stockEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[sku]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrVariantNotFound, sku)
	}
	return entry, nil
}

// lockAll захватывает мьютексы в глобальном порядке SKU, чтобы исключить deadlock.
func (l *StockLedger) lockAll(ctx context.Context, skus []string) (map[string]*stockEntry, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sorted := append([]string(nil), skus...)
	sort.Strings(sorted)

	entries := make(map[string]*stockEntry, len(sorted))
	for _, sku := range sorted {
		entry, err := l.entry(sku)
		if err != nil {
			return nil, nil, err
		}
		entries[sku] = entry
	}

	locked := make([]*stockEntry, 0, len(sorted))
	for _, sku := range sorted {
		entry := entries[sku]
		entry.mu.Lock()
		locked = append(locked, entry)
	}

	unlock := func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}
	return entries, unlock, nil
}

// apply вызывается только под entry.mu.
func (e *stockEntry) apply(movement domain.StockMovement) {
	e.level.Quantity += movement.Delta
	e.level.LastUpdated = movement.CreatedAt
	e.movements = append(e.movements, movement)
}

var _ domain.StockLedger = (*StockLedger)(nil)
