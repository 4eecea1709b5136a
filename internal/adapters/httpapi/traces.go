package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

type startTraceRequest struct {
	TransactionID string         `json:"transaction_id"`
	CorrelationID string         `json:"correlation_id"`
	Metadata      map[string]any `json:"metadata"`
}

type addStepRequest struct {
	StepName  string         `json:"step_name"`
	Component string         `json:"component"`
	Input     any            `json:"input"`
	Metadata  map[string]any `json:"metadata"`
}

type completeStepRequest struct {
	Output any    `json:"output"`
	Error  string `json:"error"`
}

type completeTraceRequest struct {
	Status   domain.TraceStatus `json:"status"`
	Summary  string             `json:"summary"`
	Metadata map[string]any     `json:"metadata"`
}

func (h *Handler) startTrace(w http.ResponseWriter, r *http.Request) {
	var req startTraceRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		h.writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}
	trace := h.svc.Traces.StartTrace(req.TransactionID, req.CorrelationID, req.Metadata)
	h.writeJSON(w, http.StatusCreated, trace)
}

func (h *Handler) addStep(w http.ResponseWriter, r *http.Request) {
	var req addStepRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.StepName) == "" {
		h.writeError(w, http.StatusBadRequest, "step_name is required")
		return
	}
	stepID, err := h.svc.Traces.AddStep(chi.URLParam(r, "id"), req.StepName, req.Component, req.Input, req.Metadata)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"step_id": stepID})
}

func (h *Handler) completeStep(w http.ResponseWriter, r *http.Request) {
	var req completeStepRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	var stepErr error
	if req.Error != "" {
		stepErr = errors.New(req.Error)
	}
	if err := h.svc.Traces.CompleteStep(chi.URLParam(r, "id"), chi.URLParam(r, "stepID"), req.Output, stepErr); err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) completeTrace(w http.ResponseWriter, r *http.Request) {
	var req completeTraceRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.Traces.CompleteTrace(chi.URLParam(r, "id"), req.Status, req.Summary, req.Metadata); err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// listTraces returns finalized traces, or the in-flight ones with active=true.
func (h *Handler) listTraces(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("active") == "true" {
		active := h.svc.Traces.ActiveTraces()
		h.writeJSON(w, http.StatusOK, map[string]any{"traces": active, "count": len(active)})
		return
	}
	start, end, ok := h.parseTimeWindow(w, r)
	if !ok {
		return
	}
	traces := h.svc.Traces.ExportTraces(domain.TraceFilter{
		Status:        domain.TraceStatus(r.URL.Query().Get("status")),
		TransactionID: r.URL.Query().Get("transaction_id"),
		StartTime:     start,
		EndTime:       end,
	})
	h.writeJSON(w, http.StatusOK, map[string]any{"traces": traces, "count": len(traces)})
}

func (h *Handler) traceSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, ok := h.svc.Traces.TransactionSummary(id)
	if !ok {
		h.handleDomainError(w, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, id))
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}
