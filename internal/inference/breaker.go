package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// ErrCircuitOpen возвращается, пока breaker не пропускает вызовы.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState: состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker защищает диалог от зависшей модели: после maxFailures
// ошибок подряд вызовы сразу завершаются ошибкой до истечения resetTimeout.
type CircuitBreaker struct {
	next domain.InferenceClient
	cb   *gobreaker.CircuitBreaker[string]
}

// NewCircuitBreaker оборачивает клиента модели circuit breaker-ом.
func NewCircuitBreaker(next domain.InferenceClient, maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "inference-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	threshold := uint32(maxFailures)

	settings := gobreaker.Settings{
		Name:        "inference",
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Отмена со стороны клиента не говорит о состоянии модели.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			entry := logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			if to == gobreaker.StateOpen {
				entry.Warn("circuit breaker opened")
				return
			}
			entry.Info("circuit breaker state changed")
		},
	}

	return &CircuitBreaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Infer выполняет вызов через breaker.
func (cb *CircuitBreaker) Infer(ctx context.Context, prompt, model string) (string, error) {
	text, err := cb.cb.Execute(func() (string, error) {
		return cb.next.Infer(ctx, prompt, model)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %w", domain.ErrInferenceUnavailable, ErrCircuitOpen)
	}
	return text, err
}

// State возвращает текущее состояние breaker.
func (cb *CircuitBreaker) State() CircuitState {
	switch cb.cb.State() {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// Healthy возвращает ошибку, если breaker разомкнут (для health check).
func (cb *CircuitBreaker) Healthy(context.Context) error {
	if cb.State() == CircuitOpen {
		return ErrCircuitOpen
	}
	return nil
}

var _ domain.InferenceClient = (*CircuitBreaker)(nil)
