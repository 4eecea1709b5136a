package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/usecase"
)

const maxJSONBodySize = 1 << 20

// Services are the in-process loggers the API fronts.
type Services struct {
	Store     *usecase.EventStore
	Traces    *usecase.TraceManager
	Tests     *usecase.TestAuditor
	Decisions *usecase.DecisionRecorder
	Auth      *usecase.AuthService
}

type Handler struct {
	svc      Services
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewHandler builds the API. A nil gatherer serves the default registry and
// a nil Auth service leaves every route open.
func NewHandler(svc Services, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if svc.Auth == nil {
		svc.Auth = usecase.NewAuthService()
	}
	return &Handler{svc: svc, gatherer: gatherer, logger: logger.With(zap.String("mod", "httpapi"))}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)

		pr.Post("/v1/events", h.logEvent)
		pr.Get("/v1/events", h.queryEvents)
		pr.Get("/v1/events/export", h.exportEvents)
		pr.Get("/v1/report", h.report)
		pr.Get("/v1/correlations/{id}", h.correlation)

		pr.Route("/v1/traces", func(tr chi.Router) {
			tr.Get("/", h.listTraces)
			tr.Post("/", h.startTrace)
			tr.Route("/{id}", func(tr chi.Router) {
				tr.Post("/steps", h.addStep)
				tr.Post("/steps/{stepID}/complete", h.completeStep)
				tr.Post("/complete", h.completeTrace)
				tr.Get("/summary", h.traceSummary)
			})
		})

		pr.Route("/v1/tests", func(tr chi.Router) {
			tr.Get("/", h.listTests)
			tr.Post("/", h.startTest)
			tr.Post("/{id}/decisions", h.testDecision)
			tr.Post("/{id}/complete", h.completeTest)
		})

		pr.Route("/v1/agents", func(ar chi.Router) {
			ar.Post("/decisions", h.agentDecision)
			ar.Post("/actions", h.agentAction)
			ar.Post("/reasoning", h.agentReasoning)
			ar.Get("/{id}/decisions", h.agentDecisions)
			ar.Get("/{id}/actions", h.agentActions)
		})
		pr.Get("/v1/decisions", h.listDecisions)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "events": h.svc.Store.Len()})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		if err := h.svc.Auth.Authenticate(token); err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				h.writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("encode json response", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTraceNotFound),
		errors.Is(err, domain.ErrStepNotFound),
		errors.Is(err, domain.ErrTestNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidEventType),
		errors.Is(err, domain.ErrInvalidSeverity),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidFilter),
		errors.Is(err, domain.ErrInvalidTimeRange):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody reads a single JSON document into dst, writing a 400 on failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func (h *Handler) parseInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		h.writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return parsed, true
}

// parseTimeWindow reads the optional start and end query parameters as
// RFC 3339 timestamps.
func (h *Handler) parseTimeWindow(w http.ResponseWriter, r *http.Request) (start, end *time.Time, ok bool) {
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start", &start}, {"end", &end}} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, p.name+" must be an RFC 3339 timestamp")
			return nil, nil, false
		}
		*p.dst = &t
	}
	if start != nil && end != nil && start.After(*end) {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidTimeRange.Error())
		return nil, nil, false
	}
	return start, end, true
}

func (h *Handler) parseTypes(w http.ResponseWriter, r *http.Request) ([]domain.EventType, bool) {
	var types []domain.EventType
	for _, raw := range r.URL.Query()["type"] {
		for part := range strings.SplitSeq(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			t, err := domain.ParseEventType(part)
			if err != nil {
				h.handleDomainError(w, err)
				return nil, false
			}
			types = append(types, t)
		}
	}
	return types, true
}

var apiOperations = []struct {
	method, path, summary string
}{
	{"post", "/v1/events", "Log an audit event"},
	{"get", "/v1/events", "Query the audit trail"},
	{"get", "/v1/events/export", "Export the audit trail as JSON or YAML"},
	{"get", "/v1/report", "Generate an audit report"},
	{"get", "/v1/correlations/{id}", "Events sharing a correlation id"},
	{"get", "/v1/traces", "List finalized traces"},
	{"post", "/v1/traces", "Start a trace"},
	{"post", "/v1/traces/{id}/steps", "Add a step to a trace"},
	{"post", "/v1/traces/{id}/steps/{stepID}/complete", "Complete a trace step"},
	{"post", "/v1/traces/{id}/complete", "Finalize a trace"},
	{"get", "/v1/traces/{id}/summary", "Summarize an active trace"},
	{"get", "/v1/tests", "List test outcomes"},
	{"post", "/v1/tests", "Start a test"},
	{"post", "/v1/tests/{id}/decisions", "Log a test decision"},
	{"post", "/v1/tests/{id}/complete", "Complete a test"},
	{"post", "/v1/agents/decisions", "Log an agent decision"},
	{"post", "/v1/agents/actions", "Log an agent action"},
	{"post", "/v1/agents/reasoning", "Log agent reasoning"},
	{"get", "/v1/agents/{id}/decisions", "Decisions by agent"},
	{"get", "/v1/agents/{id}/actions", "Actions by agent"},
	{"get", "/v1/decisions", "Export agent decisions"},
}

func openapiSpec() map[string]any {
	paths := make(map[string]any)
	for _, op := range apiOperations {
		item, _ := paths[op.path].(map[string]any)
		if item == nil {
			item = make(map[string]any)
			paths[op.path] = item
		}
		item[op.method] = map[string]any{"summary": op.summary}
	}
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "chainaudit",
			"version": "1.0.0",
		},
		"paths": paths,
	}
}
