package domain

import (
	"errors"
	"time"
)

var (
	// ErrIdempotencyKeyRequired: пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: отсутствует хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован с другим содержимым запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with a different request")
	// ErrIdempotencyKeyNotFound: ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что фиксация принята и ещё выполняется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что фиксация завершена и результат сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что попытка не удалась и её можно повторить.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит состояние фиксации по ключу (обычно ID сессии).
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Result      []byte
	Status      IdempotencyStatus
	TTLAt       time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}
