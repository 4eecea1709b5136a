package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

type completeTestRequest struct {
	Status  domain.TestStatus `json:"status"`
	Summary string            `json:"summary"`
	Details map[string]any    `json:"details"`
}

func (h *Handler) startTest(w http.ResponseWriter, r *http.Request) {
	var req domain.TestExecution
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TestID) == "" {
		h.writeError(w, http.StatusBadRequest, "test_id is required")
		return
	}
	h.writeJSON(w, http.StatusCreated, h.svc.Tests.StartTest(req))
}

func (h *Handler) testDecision(w http.ResponseWriter, r *http.Request) {
	var req domain.TestDecision
	if !h.decodeBody(w, r, &req) {
		return
	}
	req.TestID = chi.URLParam(r, "id")
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": h.svc.Tests.LogTestDecision(req)})
}

func (h *Handler) completeTest(w http.ResponseWriter, r *http.Request) {
	var req completeTestRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.Tests.CompleteTest(chi.URLParam(r, "id"), req.Status, req.Summary, req.Details); err != nil {
		h.handleDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// listTests returns completed tests with their decisions, or the running
// ones with active=true.
func (h *Handler) listTests(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("active") == "true" {
		active := h.svc.Tests.ActiveTests()
		h.writeJSON(w, http.StatusOK, map[string]any{"tests": active, "count": len(active)})
		return
	}
	start, end, ok := h.parseTimeWindow(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	results := h.svc.Tests.ExportTestOutcomes(domain.TestFilter{
		TestSuite: q.Get("suite"),
		Status:    domain.TestStatus(q.Get("status")),
		TestID:    q.Get("test_id"),
		StartTime: start,
		EndTime:   end,
	})
	h.writeJSON(w, http.StatusOK, map[string]any{"tests": results, "count": len(results)})
}
