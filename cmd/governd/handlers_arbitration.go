package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aegis/pkg/httpx"

	"github.com/go-chi/chi/v5"
)

type evaluateRequest struct {
	ActionDescription string `json:"action_description"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req evaluateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	scope := s.resolveScope(r)
	actor := s.actorID(r)

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	cacheKey := ""
	if idemKey != "" && s.Cache != nil {
		cacheKey = "evaluate:" + scope + ":" + idemKey
		if cached, err := s.Cache.Get(r.Context(), cacheKey); err == nil && cached != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(200)
			_, _ = w.Write([]byte(cached))
			return
		}
	}

	start := time.Now()
	result, err := s.Engine.Evaluate(r.Context(), scope, actor, req.ActionDescription)
	s.Metrics.ObserveEvaluateLatency(time.Since(start))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	if result.CanProceed {
		s.Metrics.IncDecision("proceed")
	} else {
		s.Metrics.IncDecision("blocked")
		s.Metrics.IncConflict("open")
	}
	for _, v := range result.Violations {
		s.Metrics.IncAxiomTrigger(v.AxiomID)
	}
	if cacheKey != "" {
		if encoded, err := json.Marshal(result); err == nil {
			_ = s.Cache.Set(r.Context(), cacheKey, string(encoded), s.IdempotencyTTL)
		}
	}
	httpx.WriteJSON(w, 200, result)
}

type overrideRequest struct {
	SelectedOptionID string `json:"selected_option_id"`
	Justification    string `json:"justification"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	scope := s.resolveScope(r)
	conflictID := chi.URLParam(r, "conflict_id")
	conflict, err := s.Engine.Override(r.Context(), scope, conflictID, req.SelectedOptionID, req.Justification, s.actorID(r))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	s.Metrics.IncConflict(conflict.Status)
	httpx.WriteJSON(w, 200, conflict)
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req rollbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	scope := s.resolveScope(r)
	conflictID := chi.URLParam(r, "conflict_id")
	conflict, err := s.Engine.Rollback(r.Context(), scope, conflictID, req.Reason, s.actorID(r))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	s.Metrics.IncConflict(conflict.Status)
	httpx.WriteJSON(w, 200, conflict)
}

func (s *Server) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	conflict, err := s.Engine.Get(r.Context(), scope, chi.URLParam(r, "conflict_id"))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, conflict)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 100)
	conflicts, err := s.Engine.List(r.Context(), scope, status, limit)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"conflicts": conflicts})
}

func (s *Server) handleArbitrationStats(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	stats, err := s.Engine.Stats(r.Context(), scope)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, stats)
}

func (s *Server) handleListAxioms(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"axioms":     s.Axioms.List(),
		"max_weight": s.Axioms.MaxWeight(),
	})
}

type patchAxiomRequest struct {
	RequiresApproval *bool `json:"requires_approval"`
}

func (s *Server) handlePatchAxiom(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req patchAxiomRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.RequiresApproval == nil {
		httpx.Error(w, 400, "requires_approval required")
		return
	}
	scope := s.resolveScope(r)
	axiomID := chi.URLParam(r, "axiom_id")
	if err := s.Axioms.SetRequiresApproval(r.Context(), scope, axiomID, *req.RequiresApproval, s.actorID(r)); err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	axiom, err := s.Axioms.Get(axiomID)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, axiom)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
