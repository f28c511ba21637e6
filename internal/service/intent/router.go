package intent

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultModel используется, если сессия не выбрала модель или выбрала недоступную.
	DefaultModel = "mistral"
	// MetaModel: модель, которую обозначает псевдоним "meta".
	MetaModel = "llama3"
)

// ModelRouter выбирает модель для сессии по белому списку.
type ModelRouter struct {
	defaultModel string
	allowed      map[string]struct{}
	aliases      map[string]string
	logger       *log.Entry
}

// NewModelRouter создаёт роутер. Модель по умолчанию всегда разрешена;
// цели псевдонимов разрешены, только если входят в allowed.
func NewModelRouter(defaultModel string, allowed []string, logger *log.Entry) *ModelRouter {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	if logger == nil {
		logger = log.WithField("component", "model-router")
	}

	r := &ModelRouter{
		defaultModel: strings.ToLower(defaultModel),
		allowed:      make(map[string]struct{}, len(allowed)+1),
		aliases:      map[string]string{"meta": MetaModel},
		logger:       logger,
	}
	r.allowed[r.defaultModel] = struct{}{}
	for _, model := range allowed {
		model = strings.ToLower(strings.TrimSpace(model))
		if model != "" {
			r.allowed[model] = struct{}{}
		}
	}
	return r
}

// Default возвращает модель по умолчанию.
func (r *ModelRouter) Default() string {
	return r.defaultModel
}

// Resolve возвращает разрешённое имя модели для запрошенного.
func (r *ModelRouter) Resolve(requested string) string {
	model := strings.ToLower(strings.TrimSpace(requested))
	if model == "" {
		return r.defaultModel
	}
	if target, ok := r.aliases[model]; ok {
		model = target
	}
	if _, ok := r.allowed[model]; ok {
		return model
	}
	r.logger.WithFields(log.Fields{
		"requested": requested,
		"fallback":  r.defaultModel,
	}).Warn("model not available, falling back to default")
	return r.defaultModel
}
