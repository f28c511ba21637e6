package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// CustomerDirectory хранит известные адреса клиентов.
type CustomerDirectory struct {
	db *sql.DB
}

// NewCustomerDirectory создаёт PostgreSQL-реализацию CustomerDirectory.
func NewCustomerDirectory(store *Store) *CustomerDirectory {
	return &CustomerDirectory{db: store.DB()}
}

func (d *CustomerDirectory) Lookup(ctx context.Context, email string) (domain.Customer, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	customer := domain.Customer{Email: email}
	err := d.db.QueryRowContext(ctx, `SELECT name FROM customers WHERE email = $1`, email).Scan(&customer.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Customer{}, false, nil
	}
	if err != nil {
		return domain.Customer{}, false, fmt.Errorf("lookup customer: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT line1, postal_code, city, country
		FROM customer_addresses
		WHERE email = $1
		ORDER BY id ASC
	`, email)
	if err != nil {
		return domain.Customer{}, false, fmt.Errorf("list customer addresses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var addr domain.Address
		if err := rows.Scan(&addr.Line1, &addr.PostalCode, &addr.City, &addr.Country); err != nil {
			return domain.Customer{}, false, fmt.Errorf("scan customer address: %w", err)
		}
		customer.Addresses = append(customer.Addresses, addr)
	}
	if err := rows.Err(); err != nil {
		return domain.Customer{}, false, fmt.Errorf("iterate customer addresses: %w", err)
	}
	return customer, true, nil
}

// Remember добавляет адрес клиенту; повторный адрес игнорируется.
func (d *CustomerDirectory) Remember(ctx context.Context, email string, address domain.Address) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.ErrInvalidIdentity
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return inTx(ctx, d.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO customers (email) VALUES ($1)
			ON CONFLICT (email) DO NOTHING
		`, email); err != nil {
			return fmt.Errorf("upsert customer: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO customer_addresses (email, line1, postal_code, city, country)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (email, line1, postal_code, city, country) DO NOTHING
		`, email, address.Line1, address.PostalCode, address.City, address.Country); err != nil {
			return fmt.Errorf("remember customer address: %w", err)
		}
		return nil
	})
}

var _ domain.CustomerDirectory = (*CustomerDirectory)(nil)
