package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// SessionContext: то, что экстрактору нужно знать о текущем разговоре.
type SessionContext struct {
	State domain.State
	// Model: модель, выбранная сессией; пустая строка означает модель по умолчанию.
	Model string
	// Candidates: варианты, предложенные пользователю в Disambiguating.
	Candidates []domain.Candidate
}

// Options задаёт параметры экстрактора.
type Options struct {
	Logger *log.Entry
	Router *ModelRouter
}

// Option настраивает Extractor.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithRouter задаёт роутер моделей.
func WithRouter(router *ModelRouter) Option {
	return func(opts *Options) {
		opts.Router = router
	}
}

// Extractor превращает реплику в структурированное намерение.
type Extractor struct {
	client domain.InferenceClient
	router *ModelRouter
	logger *log.Entry
}

// NewExtractor создаёт экстрактор поверх клиента модели.
func NewExtractor(client domain.InferenceClient, options ...Option) *Extractor {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "intent-extractor")
	}
	if opts.Router == nil {
		opts.Router = NewModelRouter(DefaultModel, nil, opts.Logger)
	}

	return &Extractor{
		client: client,
		router: opts.Router,
		logger: opts.Logger,
	}
}

// Extract никогда не возвращает ошибку: сбой модели деградирует до
// Unrecognized с причиной в Intent.Err.
func (e *Extractor) Extract(ctx context.Context, utterance string, sc SessionContext) domain.Intent {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return domain.Unrecognized("", nil)
	}

	if intent, ok := quickParse(text, sc); ok {
		e.logger.WithFields(log.Fields{
			"state":  sc.State,
			"intent": intent.Kind,
		}).Debug("intent parsed without model")
		return intent
	}

	model := e.router.Resolve(sc.Model)
	raw, err := e.client.Infer(ctx, buildParsingPrompt(text, sc.State), model)
	if err != nil {
		e.logger.WithError(err).WithField("model", model).Warn("intent extraction degraded")
		return domain.Unrecognized(text, asInferenceError(err))
	}

	out, err := decodeModelOutput(raw)
	if err != nil {
		e.logger.WithError(err).WithField("model", model).Warn("model output could not be parsed")
		e.logger.WithField("output", raw).Debug("malformed model output")
		return domain.Unrecognized(text, err)
	}

	intent := out.toIntent(text)
	if intent.Email == "" && intent.Kind == domain.IntentOrderRequest {
		intent.Email = findEmail(text)
	}
	return intent
}

// Answer отвечает на общий вопрос напрямую через модель.
func (e *Extractor) Answer(ctx context.Context, question, model string) (string, error) {
	model = e.router.Resolve(model)
	text, err := e.client.Infer(ctx, buildGeneralPrompt(question), model)
	if err != nil {
		return "", asInferenceError(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty answer", domain.ErrInferenceMalformed)
	}
	return text, nil
}

// Model возвращает модель, которой будет обслужена запрошенная.
func (e *Extractor) Model(requested string) string {
	return e.router.Resolve(requested)
}

func asInferenceError(err error) error {
	if errors.Is(err, domain.ErrInferenceUnavailable) || errors.Is(err, domain.ErrInferenceMalformed) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrInferenceUnavailable, err)
}
