package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/intake/internal/health"
	"github.com/vladislavdragonenkov/intake/internal/service/conversation"
	"github.com/vladislavdragonenkov/intake/internal/transport"
)

const maxBodyBytes = 64 << 10

// Handler: HTTP API диалога и операций над заказами.
type Handler struct {
	chat    transport.Conversation
	orders  transport.OrderManager
	reader  transport.OrderReader
	health  *healthcheck.Handler
	metrics http.Handler
	logger  *log.Entry
	mux     *http.ServeMux
}

// Option настраивает Handler.
type Option func(*Handler)

func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithOrders включает маршруты /v1/orders и /v1/quotes.
func WithOrders(orders transport.OrderManager, reader transport.OrderReader) Option {
	return func(h *Handler) {
		h.orders = orders
		h.reader = reader
	}
}

// WithHealth монтирует /healthz, /readyz и /livez.
func WithHealth(health *healthcheck.Handler) Option {
	return func(h *Handler) { h.health = health }
}

// WithMetrics монтирует обработчик /metrics.
func WithMetrics(metrics http.Handler) Option {
	return func(h *Handler) { h.metrics = metrics }
}

// NewHandler собирает маршруты.
func NewHandler(chat transport.Conversation, opts ...Option) *Handler {
	h := &Handler{
		chat:   chat,
		logger: log.WithField("component", "http-api"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("POST /v1/chat", h.handleChat)
	h.mux.HandleFunc("POST /v1/sessions/{id}/cancel", h.handleCancelSession)
	if h.orders != nil {
		h.mux.HandleFunc("GET /v1/orders/{id}", h.handleGetOrder)
		h.mux.HandleFunc("POST /v1/orders/{id}/cancel", h.handleCancelOrder)
		h.mux.HandleFunc("POST /v1/orders/{id}/status", h.handleAdvanceOrder)
		h.mux.HandleFunc("POST /v1/quotes/{id}/accept", h.handleAcceptQuote)
		h.mux.HandleFunc("POST /v1/quotes/{id}/reject", h.handleRejectQuote)
	}
	if h.health != nil {
		h.mux.Handle("GET /healthz", h.health)
		h.mux.HandleFunc("GET /readyz", h.health.ReadinessHandler)
		h.mux.HandleFunc("GET /livez", healthcheck.LivenessHandler)
	}
	if h.metrics != nil {
		h.mux.Handle("GET /metrics", h.metrics)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	h.logger.WithFields(log.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status":      rec.status,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("http request")
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req transport.ConverseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Utterance) == "" {
		h.writeError(w, r, transport.ErrEmptyUtterance)
		return
	}
	reply, err := h.chat.Converse(r.Context(), conversation.Turn{
		SessionID: req.SessionID,
		Utterance: req.Utterance,
		Model:     req.Model,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transport.FromReply(reply))
}

func (h *Handler) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	reply, err := h.chat.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transport.FromReply(reply))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.reader.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req transport.OrderRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.orders.CancelOrder(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdvanceOrder(w http.ResponseWriter, r *http.Request) {
	var req transport.OrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.orders.AdvanceOrder(r.Context(), r.PathValue("id"), domain.OrderStatus(req.Status)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAcceptQuote(w http.ResponseWriter, r *http.Request) {
	result, err := h.orders.AcceptQuote(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Kind != domain.ResultCommitted {
		status = http.StatusConflict
	}
	writeJSON(w, status, transport.OrderResultReply{Result: result})
}

func (h *Handler) handleRejectQuote(w http.ResponseWriter, r *http.Request) {
	var req transport.QuoteRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.orders.RejectQuote(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json body"})
		return false
	}
	return true
}

// decodeOptional допускает пустое тело.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, dst)
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := transport.Classify(err)
	if kind == transport.KindInternal || kind == transport.KindUnavailable {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("http request failed")
	}
	writeJSON(w, httpStatus(kind), errorBody{Error: transport.PublicMessage(err)})
}

func httpStatus(kind transport.ErrorKind) int {
	switch kind {
	case transport.KindInvalid:
		return http.StatusBadRequest
	case transport.KindNotFound:
		return http.StatusNotFound
	case transport.KindConflict:
		return http.StatusConflict
	case transport.KindUnavailable:
		return http.StatusServiceUnavailable
	case transport.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
