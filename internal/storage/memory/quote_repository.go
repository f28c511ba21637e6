package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

type quoteRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Quote
}

// NewQuoteRepository создаёт in-memory реализацию QuoteRepository.
func NewQuoteRepository() domain.QuoteRepository {
	return &quoteRepositoryInMemory{items: make(map[string]domain.Quote)}
}

func (r *quoteRepositoryInMemory) Create(_ context.Context, quote domain.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[quote.ID]; exists {
		return domain.ErrQuoteAlreadyExists
	}
	quote.Lines = append([]domain.OrderLine(nil), quote.Lines...)
	r.items[quote.ID] = quote
	return nil
}

func (r *quoteRepositoryInMemory) Get(_ context.Context, id string) (domain.Quote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	quote, ok := r.items[id]
	if !ok {
		return domain.Quote{}, domain.ErrQuoteNotFound
	}
	quote.Lines = append([]domain.OrderLine(nil), quote.Lines...)
	return quote, nil
}

func (r *quoteRepositoryInMemory) UpdateStatus(_ context.Context, id string, status domain.QuoteStatus, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	quote, ok := r.items[id]
	if !ok {
		return domain.ErrQuoteNotFound
	}
	quote.Status = status
	if orderID != "" {
		quote.OrderID = orderID
	}
	quote.UpdatedAt = time.Now().UTC()
	r.items[id] = quote
	return nil
}

var _ domain.QuoteRepository = (*quoteRepositoryInMemory)(nil)
