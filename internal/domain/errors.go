package domain

import "errors"

var (
	// ErrCatalogUnavailable: каталог недоступен, запрос можно повторить.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrInferenceUnavailable: модель не ответила или ответила ошибкой.
	ErrInferenceUnavailable = errors.New("inference unavailable")
	// ErrInferenceMalformed: модель вернула ответ, который не удалось разобрать.
	ErrInferenceMalformed = errors.New("inference output malformed")
	// ErrInsufficientStock: на складе не хватает количества хотя бы по одной позиции.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidIdentity: e-mail клиента не прошёл валидацию.
	ErrInvalidIdentity = errors.New("invalid customer identity")
	// ErrInvalidAddress: адрес доставки не прошёл валидацию.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrPersistenceFailure: сбой хранилища при фиксации заказа или сметы.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrVariantNotFound возвращается, если SKU отсутствует в каталоге или на складе.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrSKURequired: пустой SKU в позиции.
	ErrSKURequired = errors.New("sku is required")
	// ErrInvalidQuantity: количество должно быть положительным целым.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrInvalidMovementReason: неизвестная причина движения склада.
	ErrInvalidMovementReason = errors.New("invalid stock movement reason")
	// ErrLinesRequired: запрос не содержит ни одной позиции.
	ErrLinesRequired = errors.New("request must contain at least one line")

	// ErrSessionNotFound: сессия не найдена (истекла или не создавалась).
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionIDRequired: пустой идентификатор сессии.
	ErrSessionIDRequired = errors.New("session_id is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrQuoteNotFound возвращается, если смета не найдена.
	ErrQuoteNotFound = errors.New("quote not found")
	// ErrQuoteAlreadyExists: смета с таким ID уже сохранена.
	ErrQuoteAlreadyExists = errors.New("quote already exists")
	// ErrQuoteExpired: срок действия сметы истёк.
	ErrQuoteExpired = errors.New("quote expired")
	// ErrInvalidTransition: переход статуса заказа или сметы запрещён.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCommitInProgress: фиксация по этому ключу уже выполняется.
	ErrCommitInProgress = errors.New("commit already in progress")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound: сообщение outbox не найдено.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
)

// IsRetryable сообщает, что ошибка временная и пользователю стоит повторить запрос.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCatalogUnavailable) ||
		errors.Is(err, ErrInferenceUnavailable) ||
		errors.Is(err, ErrPersistenceFailure) ||
		errors.Is(err, ErrCommitInProgress)
}
