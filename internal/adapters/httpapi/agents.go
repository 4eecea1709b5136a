package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

func (h *Handler) agentDecision(w http.ResponseWriter, r *http.Request) {
	var req domain.AgentDecision
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		h.writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": h.svc.Decisions.LogDecision(req)})
}

func (h *Handler) agentAction(w http.ResponseWriter, r *http.Request) {
	var req domain.AgentAction
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		h.writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": h.svc.Decisions.LogAction(req)})
}

func (h *Handler) agentReasoning(w http.ResponseWriter, r *http.Request) {
	var req domain.AgentReasoning
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		h.writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": h.svc.Decisions.LogReasoning(req)})
}

func (h *Handler) agentDecisions(w http.ResponseWriter, r *http.Request) {
	decisions := h.svc.Decisions.AgentDecisions(chi.URLParam(r, "id"))
	h.writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions, "count": len(decisions)})
}

func (h *Handler) agentActions(w http.ResponseWriter, r *http.Request) {
	actions := h.svc.Decisions.AgentActions(chi.URLParam(r, "id"))
	h.writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

// listDecisions filters by agent, decision type and time window, or returns
// the history of one correlation id when correlation_id is given.
func (h *Handler) listDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if correlationID := q.Get("correlation_id"); correlationID != "" {
		decisions := h.svc.Decisions.DecisionHistory(correlationID)
		h.writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions, "count": len(decisions)})
		return
	}
	start, end, ok := h.parseTimeWindow(w, r)
	if !ok {
		return
	}
	decisions := h.svc.Decisions.ExportDecisions(domain.DecisionFilter{
		AgentID:      q.Get("agent_id"),
		DecisionType: q.Get("decision_type"),
		StartTime:    start,
		EndTime:      end,
	})
	h.writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions, "count": len(decisions)})
}
