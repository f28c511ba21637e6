package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

type quoteRepository struct {
	db *sql.DB
}

// NewQuoteRepository создаёт PostgreSQL-реализацию QuoteRepository.
func NewQuoteRepository(store *Store) domain.QuoteRepository {
	return &quoteRepository{db: store.DB()}
}

func (r *quoteRepository) Create(ctx context.Context, quote domain.Quote) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	delivery, err := marshalAddress(quote.DeliveryAddress)
	if err != nil {
		return err
	}

	return inTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quotes (
				id, session_id, customer_email, delivery, delivery_address, status,
				total, order_id, expires_at, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			quote.ID, quote.SessionID, quote.CustomerEmail, string(quote.Delivery), delivery,
			string(quote.Status), quote.Total, quote.OrderID, quote.ExpiresAt, quote.CreatedAt, quote.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrQuoteAlreadyExists
			}
			return fmt.Errorf("insert quote: %w", err)
		}
		return insertLines(ctx, tx, "quote_lines", "quote_id", quote.ID, quote.Lines)
	})
}

func (r *quoteRepository) Get(ctx context.Context, id string) (domain.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		quote            domain.Quote
		delivery, status string
		deliveryAddr     []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, customer_email, delivery, delivery_address, status,
		       total, order_id, expires_at, created_at, updated_at
		FROM quotes
		WHERE id = $1
	`, id).Scan(
		&quote.ID, &quote.SessionID, &quote.CustomerEmail, &delivery, &deliveryAddr, &status,
		&quote.Total, &quote.OrderID, &quote.ExpiresAt, &quote.CreatedAt, &quote.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Quote{}, domain.ErrQuoteNotFound
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("get quote: %w", err)
	}

	if quote.DeliveryAddress, err = unmarshalAddress(deliveryAddr); err != nil {
		return domain.Quote{}, err
	}
	quote.Delivery = domain.DeliveryMethod(delivery)
	quote.Status = domain.QuoteStatus(status)
	if !quote.Status.Valid() {
		return domain.Quote{}, fmt.Errorf("invalid quote status %q for quote %s", status, quote.ID)
	}
	quote.ExpiresAt = quote.ExpiresAt.UTC()
	quote.CreatedAt = quote.CreatedAt.UTC()
	quote.UpdatedAt = quote.UpdatedAt.UTC()

	if quote.Lines, err = loadLines(ctx, r.db, "quote_lines", "quote_id", quote.ID); err != nil {
		return domain.Quote{}, err
	}
	return quote, nil
}

func (r *quoteRepository) UpdateStatus(ctx context.Context, id string, status domain.QuoteStatus, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE quotes
		SET status = $2,
		    order_id = CASE WHEN $3 = '' THEN order_id ELSE $3 END,
		    updated_at = $4
		WHERE id = $1
	`, id, string(status), orderID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update quote status: %w", err)
	}
	return expectAffected(res, domain.ErrQuoteNotFound)
}

var _ domain.QuoteRepository = (*quoteRepository)(nil)
