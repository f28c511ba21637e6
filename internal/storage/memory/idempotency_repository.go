package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

type idempotencyRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepositoryInMemory{
		items: make(map[string]domain.IdempotencyRecord),
	}
}

func (r *idempotencyRepositoryInMemory) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[key]; ok {
		if existing.RequestHash != requestHash && existing.Status != domain.IdempotencyStatusFailed {
			return cloneIdempotencyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return cloneIdempotencyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.items[key] = record
	return cloneIdempotencyRecord(record), nil
}

func (r *idempotencyRepositoryInMemory) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneIdempotencyRecord(record), nil
}

// Reopen возвращает failed-запись в processing с новым хешем запроса.
func (r *idempotencyRepositoryInMemory) Reopen(_ context.Context, key, requestHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[strings.TrimSpace(key)]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	if record.Status != domain.IdempotencyStatusFailed {
		return domain.ErrIdempotencyKeyAlreadyExists
	}
	record.Status = domain.IdempotencyStatusProcessing
	record.RequestHash = requestHash
	record.Result = nil
	record.UpdatedAt = time.Now().UTC()
	r.items[record.Key] = record
	return nil
}

func (r *idempotencyRepositoryInMemory) MarkDone(_ context.Context, key string, result []byte) error {
	return r.markStatus(key, domain.IdempotencyStatusDone, result)
}

func (r *idempotencyRepositoryInMemory) MarkFailed(_ context.Context, key string, result []byte) error {
	return r.markStatus(key, domain.IdempotencyStatusFailed, result)
}

func (r *idempotencyRepositoryInMemory) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, record := range r.items {
		if record.TTLAt.After(before) {
			continue
		}
		delete(r.items, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

func (r *idempotencyRepositoryInMemory) markStatus(key string, status domain.IdempotencyStatus, result []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.Result = append([]byte(nil), result...)
	record.UpdatedAt = time.Now().UTC()
	r.items[key] = record
	return nil
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.Result = append([]byte(nil), src.Result...)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryInMemory)(nil)
