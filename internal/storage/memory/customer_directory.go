package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// CustomerDirectory: in-memory справочник адресов клиентов.
type CustomerDirectory struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
}

// NewCustomerDirectory создаёт справочник с начальными записями.
func NewCustomerDirectory(customers ...domain.Customer) *CustomerDirectory {
	d := &CustomerDirectory{customers: make(map[string]domain.Customer, len(customers))}
	for _, customer := range customers {
		key := strings.ToLower(strings.TrimSpace(customer.Email))
		if key == "" {
			continue
		}
		customer.Email = key
		d.customers[key] = customer
	}
	return d
}

func (d *CustomerDirectory) Lookup(_ context.Context, email string) (domain.Customer, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	customer, ok := d.customers[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.Customer{}, false, nil
	}
	customer.Addresses = append([]domain.Address(nil), customer.Addresses...)
	return customer, true, nil
}

// Remember добавляет адрес клиенту, если такого адреса ещё нет.
func (d *CustomerDirectory) Remember(_ context.Context, email string, address domain.Address) error {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		return domain.ErrInvalidIdentity
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	customer := d.customers[key]
	customer.Email = key
	for _, known := range customer.Addresses {
		if known == address {
			d.customers[key] = customer
			return nil
		}
	}
	customer.Addresses = append(customer.Addresses, address)
	d.customers[key] = customer
	return nil
}

var _ domain.CustomerDirectory = (*CustomerDirectory)(nil)
