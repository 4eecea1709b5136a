package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/usecase"
)

// filterPrefix marks query parameters that become field-equality filters,
// e.g. filter.context.source=wallet.
const filterPrefix = "filter."

type logEventRequest struct {
	Type     string              `json:"type"`
	Message  string              `json:"message"`
	Severity string              `json:"severity"`
	Context  domain.AuditContext `json:"context"`
	Data     any                 `json:"data"`
}

func (h *Handler) logEvent(w http.ResponseWriter, r *http.Request) {
	var req logEventRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	eventType, err := domain.ParseEventType(req.Type)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	severity := domain.SeverityUnset
	if req.Severity != "" {
		if severity, err = domain.ParseSeverity(req.Severity); err != nil {
			h.handleDomainError(w, err)
			return
		}
	}

	id := h.svc.Store.LogEvent(eventType, req.Message, severity, req.Context, req.Data)
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) queryEvents(w http.ResponseWriter, r *http.Request) {
	types, ok := h.parseTypes(w, r)
	if !ok {
		return
	}
	start, end, ok := h.parseTimeWindow(w, r)
	if !ok {
		return
	}
	offset, ok := h.parseInt(w, r, "offset")
	if !ok {
		return
	}
	limit, ok := h.parseInt(w, r, "limit")
	if !ok {
		return
	}

	filters := make(map[string]any)
	for key, values := range r.URL.Query() {
		if path, found := strings.CutPrefix(key, filterPrefix); found && len(values) > 0 {
			filters[path] = values[0]
		}
	}

	events, err := h.svc.Store.QueryAuditTrail(domain.AuditQuery{
		Types:     types,
		StartTime: start,
		EndTime:   end,
		Filters:   filters,
		Offset:    offset,
		Limit:     limit,
	})
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *Handler) exportEvents(w http.ResponseWriter, r *http.Request) {
	format, err := usecase.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	types, ok := h.parseTypes(w, r)
	if !ok {
		return
	}
	start, end, ok := h.parseTimeWindow(w, r)
	if !ok {
		return
	}

	export, err := h.svc.Store.ExportAuditTrail(domain.ExportOptions{StartTime: start, EndTime: end, Types: types})
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	contentType := "application/json"
	if format == usecase.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if err := usecase.EncodeExport(w, export, format); err != nil {
		h.logger.Error("encode export", zap.Error(err))
	}
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseTimeWindow(w, r)
	if !ok {
		return
	}
	report, err := h.svc.Store.GenerateAuditReport(domain.ReportOptions{StartTime: start, EndTime: end})
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) correlation(w http.ResponseWriter, r *http.Request) {
	events := h.svc.Store.EventsByCorrelationID(chi.URLParam(r, "id"))
	h.writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
