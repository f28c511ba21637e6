package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/metrics"
)

const (
	// DefaultBaseURL: адрес локального Ollama.
	DefaultBaseURL = "http://localhost:11434"
	// DefaultTimeout ограничивает один вызов модели.
	DefaultTimeout = 20 * time.Second
)

// Options задаёт параметры клиента Ollama.
type Options struct {
	Logger     *log.Entry
	HTTPClient *http.Client
	Timeout    time.Duration
	Metrics    *metrics.IntakeMetrics
}

// Option настраивает OllamaClient.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *Options) {
		opts.HTTPClient = client
	}
}

// WithTimeout задаёт таймаут одного вызова.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithMetrics включает запись длительности вызовов.
func WithMetrics(m *metrics.IntakeMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// OllamaClient реализует domain.InferenceClient поверх Ollama /api/generate.
type OllamaClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *log.Entry
	metrics *metrics.IntakeMetrics
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient создаёт клиента Ollama.
func NewOllamaClient(baseURL string, options ...Option) *OllamaClient {
	opts := Options{Timeout: DefaultTimeout}
	for _, option := range options {
		option(&opts)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "ollama-client")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.HTTPClient,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Infer отправляет prompt модели и возвращает сгенерированный текст.
// Любой сбой транспорта оборачивается в ErrInferenceUnavailable.
func (c *OllamaClient) Infer(ctx context.Context, prompt, model string) (string, error) {
	start := time.Now()
	text, err := c.generate(ctx, prompt, model)

	result := "ok"
	if err != nil {
		result = "error"
	}
	c.metrics.RecordInference(model, result, time.Since(start))

	if err != nil {
		c.logger.WithError(err).WithField("model", model).Warn("inference call failed")
		return "", err
	}
	return text, nil
}

func (c *OllamaClient) generate(ctx context.Context, prompt, model string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: generateOptions{Temperature: 0},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: call ollama: %v", domain.ErrInferenceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ollama returned status %d", domain.ErrInferenceUnavailable, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode ollama response: %v", domain.ErrInferenceMalformed, err)
	}
	return strings.TrimSpace(out.Response), nil
}

// Ping проверяет доступность Ollama (используется health check).
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInferenceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama returned status %d", domain.ErrInferenceUnavailable, resp.StatusCode)
	}
	return nil
}

var _ domain.InferenceClient = (*OllamaClient)(nil)
