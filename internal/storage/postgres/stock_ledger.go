package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// StockLedger: реестр остатков в PostgreSQL. CommitAll блокирует строки
// stock_levels через SELECT ... FOR UPDATE в порядке возрастания SKU, поэтому
// пересекающиеся списания упорядочены, а взаимная блокировка исключена.
type StockLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewStockLedger создаёт PostgreSQL-реализацию StockLedger.
func NewStockLedger(store *Store) *StockLedger {
	return &StockLedger{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Seed регистрирует вариант с начальным остатком; существующий SKU не меняется.
func (l *StockLedger) Seed(ctx context.Context, level domain.StockLevel) error {
	if level.SKU == "" {
		return domain.ErrSKURequired
	}
	if level.Quantity < 0 {
		return domain.ErrInvalidQuantity
	}
	if level.AlertThreshold == 0 {
		level.AlertThreshold = domain.DefaultAlertThreshold
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := l.now()
	return inTx(ctx, l.db, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO stock_levels (sku, quantity, alert_threshold, last_updated)
			VALUES ($1, 0, $2, $3)
			ON CONFLICT (sku) DO NOTHING
		`, level.SKU, level.AlertThreshold, now)
		if err != nil {
			return fmt.Errorf("seed stock level %s: %w", level.SKU, err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("seed rows affected: %w", err)
		}
		if inserted == 0 || level.Quantity == 0 {
			return nil
		}
		return applyMovement(ctx, tx, domain.StockMovement{
			ID:            uuid.NewString(),
			SKU:           level.SKU,
			Delta:         level.Quantity,
			Reason:        domain.MovementRestock,
			CorrelationID: "initial",
			CreatedAt:     now,
		})
	})
}

// Check возвращает текущую доступность без блокировки и изменения остатка.
func (l *StockLedger) Check(ctx context.Context, sku string, quantity int64) (domain.Availability, error) {
	if quantity <= 0 {
		return domain.Availability{}, domain.ErrInvalidQuantity
	}
	level, err := l.Level(ctx, sku)
	if err != nil {
		return domain.Availability{}, err
	}
	return domain.Availability{
		SKU:        sku,
		Requested:  quantity,
		Current:    level.Quantity,
		Sufficient: level.Quantity >= quantity,
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

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, totals := domain.AggregateLines(lines)
	var outcome domain.CommitOutcome
	errShortage := errors.New("shortage")

	err := inTx(ctx, l.db, nil, func(tx *sql.Tx) error {
		levels, err := lockLevels(ctx, tx, order)
		if err != nil {
			return err
		}

		if shortages := findShortages(order, totals, levels); len(shortages) > 0 {
			outcome = domain.CommitOutcome{Shortages: shortages}
			return errShortage
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
			if err := applyMovement(ctx, tx, movement); err != nil {
				return err
			}
			movements = append(movements, movement)
		}

		after := make([]domain.StockLevel, 0, len(order))
		for _, sku := range order {
			level := levels[sku]
			level.Quantity -= totals[sku]
			level.LastUpdated = now
			after = append(after, level)
		}
		outcome = domain.CommitOutcome{Committed: true, Movements: movements, Levels: after}
		return nil
	})
	if errors.Is(err, errShortage) {
		return outcome, nil
	}
	if err != nil {
		return domain.CommitOutcome{}, err
	}
	return outcome, nil
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

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	movement := domain.StockMovement{
		ID:        uuid.NewString(),
		SKU:       sku,
		Delta:     quantity,
		Reason:    reason,
		CreatedAt: l.now(),
	}
	err := inTx(ctx, l.db, nil, func(tx *sql.Tx) error {
		if _, err := lockLevels(ctx, tx, []string{sku}); err != nil {
			return err
		}
		return applyMovement(ctx, tx, movement)
	})
	if err != nil {
		return domain.StockMovement{}, err
	}
	return movement, nil
}

// Compensate применяет движения, противоположные переданным.
func (l *StockLedger) Compensate(ctx context.Context, movements []domain.StockMovement, reason domain.MovementReason) ([]domain.StockMovement, error) {
	if len(movements) == 0 {
		return nil, nil
	}
	if !reason.Valid() {
		return nil, domain.ErrInvalidMovementReason
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	skus, deltas := reverseDeltas(movements)
	now := l.now()
	var applied []domain.StockMovement

	err := inTx(ctx, l.db, nil, func(tx *sql.Tx) error {
		levels, err := lockLevels(ctx, tx, skus)
		if err != nil {
			return err
		}
		for _, sku := range skus {
			if levels[sku].Quantity+deltas[sku] < 0 {
				return fmt.Errorf("compensate %s: %w", sku, domain.ErrInsufficientStock)
			}
		}

		applied = make([]domain.StockMovement, 0, len(movements))
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
			if err := applyMovement(ctx, tx, reverse); err != nil {
				return err
			}
			applied = append(applied, reverse)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// Level возвращает текущий остаток варианта.
func (l *StockLedger) Level(ctx context.Context, sku string) (domain.StockLevel, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var level domain.StockLevel
	err := l.db.QueryRowContext(ctx, `
		SELECT sku, quantity, alert_threshold, last_updated
		FROM stock_levels
		WHERE sku = $1
	`, sku).Scan(&level.SKU, &level.Quantity, &level.AlertThreshold, &level.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockLevel{}, fmt.Errorf("%w: %s", domain.ErrVariantNotFound, sku)
	}
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("get stock level: %w", err)
	}
	level.LastUpdated = level.LastUpdated.UTC()
	return level, nil
}

// Movements возвращает историю движений варианта в порядке применения.
func (l *StockLedger) Movements(ctx context.Context, sku string) ([]domain.StockMovement, error) {
	if _, err := l.Level(ctx, sku); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, sku, delta, reason, correlation_id, order_line_id, created_at
		FROM stock_movements
		WHERE sku = $1
		ORDER BY seq ASC
	`, sku)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	var movements []domain.StockMovement
	for rows.Next() {
		var (
			m      domain.StockMovement
			reason string
		)
		if err := rows.Scan(&m.ID, &m.SKU, &m.Delta, &reason, &m.CorrelationID, &m.OrderLineID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.Reason = domain.MovementReason(reason)
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return movements, nil
}

// lockLevels блокирует строки остатков в порядке SKU. Отсутствующий SKU: ErrVariantNotFound.
func lockLevels(ctx context.Context, tx *sql.Tx, skus []string) (map[string]domain.StockLevel, error) {
	sorted := sortedUnique(skus)

	rows, err := tx.QueryContext(ctx, `
		SELECT sku, quantity, alert_threshold, last_updated
		FROM stock_levels
		WHERE sku = ANY($1)
		ORDER BY sku
		FOR UPDATE
	`, sorted)
	if err != nil {
		return nil, fmt.Errorf("lock stock levels: %w", err)
	}
	defer rows.Close()

	levels := make(map[string]domain.StockLevel, len(sorted))
	for rows.Next() {
		var level domain.StockLevel
		if err := rows.Scan(&level.SKU, &level.Quantity, &level.AlertThreshold, &level.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		level.LastUpdated = level.LastUpdated.UTC()
		levels[level.SKU] = level
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock levels: %w", err)
	}

	if missing := missingSKUs(sorted, levels); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrVariantNotFound, missing[0])
	}
	return levels, nil
}

// applyMovement пишет движение и меняет остаток; CHECK (quantity >= 0) страхует инвариант.
func applyMovement(ctx context.Context, tx *sql.Tx, m domain.StockMovement) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, sku, delta, reason, correlation_id, order_line_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.SKU, m.Delta, string(m.Reason), m.CorrelationID, m.OrderLineID, m.CreatedAt); err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stock_levels
		SET quantity = quantity + $2,
		    last_updated = $3
		WHERE sku = $1
	`, m.SKU, m.Delta, m.CreatedAt); err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("apply movement %s: %w", m.SKU, domain.ErrInsufficientStock)
		}
		return fmt.Errorf("update stock level: %w", err)
	}
	return nil
}

func findShortages(order []string, totals map[string]int64, levels map[string]domain.StockLevel) []domain.Shortage {
	var shortages []domain.Shortage
	for _, sku := range order {
		current := levels[sku].Quantity
		if current < totals[sku] {
			shortages = append(shortages, domain.Shortage{SKU: sku, Requested: totals[sku], Available: current})
		}
	}
	return shortages
}

// reverseDeltas суммирует обратные изменения по SKU в порядке первого появления.
func reverseDeltas(movements []domain.StockMovement) ([]string, map[string]int64) {
	deltas := make(map[string]int64, len(movements))
	skus := make([]string, 0, len(movements))
	for _, movement := range movements {
		if _, ok := deltas[movement.SKU]; !ok {
			skus = append(skus, movement.SKU)
		}
		deltas[movement.SKU] -= movement.Delta
	}
	return skus, deltas
}

func sortedUnique(skus []string) []string {
	seen := make(map[string]struct{}, len(skus))
	out := make([]string, 0, len(skus))
	for _, sku := range skus {
		if _, ok := seen[sku]; ok {
			continue
		}
		seen[sku] = struct{}{}
		out = append(out, sku)
	}
	sort.Strings(out)
	return out
}

func missingSKUs(skus []string, levels map[string]domain.StockLevel) []string {
	var missing []string
	for _, sku := range skus {
		if _, ok := levels[sku]; !ok {
			missing = append(missing, sku)
		}
	}
	return missing
}

var _ domain.StockLedger = (*StockLedger)(nil)
