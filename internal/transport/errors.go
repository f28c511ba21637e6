package transport

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// ErrorKind: класс ошибки, общий для gRPC-кодов и HTTP-статусов.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindUnavailable
	KindCanceled
)

// Classify относит ошибку к классу. Неизвестные ошибки считаются внутренними.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrOrderIDRequired),
		errors.Is(err, ErrQuoteIDRequired),
		errors.Is(err, ErrEmptyUtterance),
		errors.Is(err, domain.ErrSessionIDRequired),
		errors.Is(err, domain.ErrInvalidIdentity),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrLinesRequired):
		return KindInvalid
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrQuoteNotFound),
		errors.Is(err, domain.ErrVariantNotFound):
		return KindNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrQuoteExpired),
		errors.Is(err, domain.ErrCommitInProgress),
		errors.Is(err, domain.ErrInsufficientStock):
		return KindConflict
	case domain.IsRetryable(err):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// PublicMessage возвращает текст ошибки для клиента. Внутренние ошибки
// не раскрываются.
func PublicMessage(err error) string {
	switch Classify(err) {
	case KindInternal:
		return "internal error"
	case KindUnavailable:
		return "temporarily unavailable, retry later"
	default:
		return err.Error()
	}
}
