package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
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
		ttlAt = now.Add(24 * time.Hour)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(opCtx, `
		INSERT INTO idempotency_keys (key, request_hash, result, status, ttl_at, created_at, updated_at)
		VALUES ($1,$2,NULL,$3,$4,$5,$6)
	`, key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.Get(ctx, key)
			if getErr != nil {
				return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
			}
			if existing.RequestHash != requestHash {
				return existing, domain.ErrIdempotencyHashMismatch
			}
			return existing, domain.ErrIdempotencyKeyAlreadyExists
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	return domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		record    domain.IdempotencyRecord
		statusRaw string
		result    []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT key, request_hash, result, status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1
	`, key).Scan(
		&record.Key,
		&record.RequestHash,
		&result,
		&statusRaw,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	record.Status = domain.IdempotencyStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", statusRaw, key)
	}
	record.Result = append([]byte(nil), result...)
	return record, nil
}

// Reopen переводит failed-запись в processing одним условным UPDATE,
// так что из двух конкурентных повторов выигрывает только один.
func (r *idempotencyRepository) Reopen(ctx context.Context, key, requestHash string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(opCtx, `
		UPDATE idempotency_keys
		SET status = $2,
		    request_hash = $3,
		    result = NULL,
		    updated_at = $4
		WHERE key = $1 AND status = $5
	`, key, string(domain.IdempotencyStatusProcessing), requestHash, time.Now().UTC(), string(domain.IdempotencyStatusFailed))
	if err != nil {
		return fmt.Errorf("reopen idempotency key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := r.Get(ctx, key); err != nil {
		return err
	}
	return domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, result []byte) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, result)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, result []byte) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, result)
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM idempotency_keys
			WHERE key IN (
				SELECT key
				FROM idempotency_keys
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE ttl_at <= $1`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *idempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, result []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET result = $1,
		    status = $2,
		    updated_at = $3
		WHERE key = $4
	`, result, string(status), time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	return expectAffected(res, domain.ErrIdempotencyKeyNotFound)
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
