package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	delivery, err := marshalAddress(order.DeliveryAddress)
	if err != nil {
		return err
	}
	billing, err := marshalAddress(order.BillingAddress)
	if err != nil {
		return err
	}

	return inTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, session_id, quote_id, customer_email, delivery, delivery_address,
				billing_address, status, total, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			order.ID, order.SessionID, order.QuoteID, order.CustomerEmail, string(order.Delivery),
			delivery, billing, string(order.Status), order.Total, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return insertLines(ctx, tx, "order_lines", "order_id", order.ID, order.Lines)
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT id, session_id, quote_id, customer_email, delivery, delivery_address,
		       billing_address, status, total, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	order.Lines, err = loadLines(ctx, r.db, "order_lines", "order_id", order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, email string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, quote_id, customer_email, delivery, delivery_address,
		       billing_address, status, total, created_at, updated_at
		FROM orders
		WHERE customer_email = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	for i := range orders {
		if orders[i].Lines, err = loadLines(ctx, r.db, "order_lines", "order_id", orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return expectAffected(res, domain.ErrOrderNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order              domain.Order
		delivery, status   string
		deliveryAddr, bill []byte
	)
	if err := row.Scan(
		&order.ID, &order.SessionID, &order.QuoteID, &order.CustomerEmail, &delivery,
		&deliveryAddr, &bill, &status, &order.Total, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}

	var err error
	if order.DeliveryAddress, err = unmarshalAddress(deliveryAddr); err != nil {
		return domain.Order{}, err
	}
	if order.BillingAddress, err = unmarshalAddress(bill); err != nil {
		return domain.Order{}, err
	}
	order.Delivery = domain.DeliveryMethod(delivery)
	order.Status = domain.OrderStatus(status)
	if !order.Status.Valid() {
		return domain.Order{}, fmt.Errorf("invalid order status %q for order %s", status, order.ID)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

// insertLines пишет позиции заказа или сметы; table и owner: доверенные константы.
func insertLines(ctx context.Context, tx *sql.Tx, table, owner, ownerID string, lines []domain.OrderLine) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, %s, position, sku, name, quantity, price_at_order)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, table, owner)
	for i, line := range lines {
		if _, err := tx.ExecContext(ctx, query,
			line.ID, ownerID, i, line.SKU, line.Name, line.Quantity, line.PriceAtOrder,
		); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func loadLines(ctx context.Context, db *sql.DB, table, owner, ownerID string) ([]domain.OrderLine, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, sku, name, quantity, price_at_order
		FROM %s
		WHERE %s = $1
		ORDER BY position ASC
	`, table, owner), ownerID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.SKU, &line.Name, &line.Quantity, &line.PriceAtOrder); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return lines, nil
}

// marshalAddress кодирует адрес в JSONB; nil хранится как NULL.
func marshalAddress(addr *domain.Address) (any, error) {
	if addr == nil {
		return nil, nil
	}
	raw, err := json.Marshal(addr)
	if err != nil {
		return nil, fmt.Errorf("marshal address: %w", err)
	}
	return string(raw), nil
}

func unmarshalAddress(raw []byte) (*domain.Address, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var addr domain.Address
	if err := json.Unmarshal(raw, &addr); err != nil {
		return nil, fmt.Errorf("unmarshal address: %w", err)
	}
	return &addr, nil
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
