package main

import (
	"context"
	"encoding/json"
	"net/http"

	"aegis/pkg/auditchain"
	"aegis/pkg/httpx"
	"aegis/pkg/models"
	"aegis/pkg/security"
)

type recordViolationRequest struct {
	Action string `json:"action"`
	Detail string `json:"detail"`
}

func (s *Server) handleRecordViolation(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req recordViolationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	scope := s.resolveScope(r)
	wasLocked := false
	if status, err := s.Guard.Status(r.Context(), scope); err == nil {
		wasLocked = status.Locked
	}
	metrics, err := s.Guard.RecordViolation(r.Context(), scope, req.Action, req.Detail, s.actorID(r))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	s.Metrics.IncViolation(security.Classify(req.Action))
	if metrics.IsLocked && !wasLocked {
		s.Metrics.IncLockdown()
	}
	httpx.WriteJSON(w, 201, metrics)
}

func (s *Server) handleSecurityUnlock(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	metrics, err := s.Guard.Unlock(r.Context(), scope, s.actorID(r))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, metrics)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetEncryption(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, s.Guard.SetEncryption)
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, s.Guard.SetFilter)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, scope string, enabled bool, actorID string) (models.SecurityMetrics, error)) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.Enabled == nil {
		httpx.Error(w, 400, "enabled required")
		return
	}
	scope := s.resolveScope(r)
	metrics, err := set(r.Context(), scope, *req.Enabled, s.actorID(r))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, metrics)
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	result, err := s.Guard.VerifyIntegrity(r.Context(), scope)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, result)
}

func (s *Server) handleSecurityStatus(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	status, err := s.Guard.Status(r.Context(), scope)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, status)
}

func (s *Server) handleSecurityMetrics(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	metrics, err := s.Guard.Metrics(r.Context(), scope)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, metrics)
}

func (s *Server) handleSecurityViolations(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	violations, err := s.Guard.Violations(r.Context(), scope, queryInt(r, "limit", 100))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"violations": violations})
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	q := r.URL.Query()
	entries, err := s.Guard.AuditLog(r.Context(), scope, auditchain.Filter{
		EventType:    q.Get("event_type"),
		EntityType:   q.Get("entity_type"),
		EntityID:     q.Get("entity_id"),
		FromSequence: int64(queryInt(r, "from_seq", 0)),
		Limit:        queryInt(r, "limit", 200),
	})
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"entries": entries})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	result, err := s.Chain.Verify(r.Context(), scope, int64(queryInt(r, "from_seq", 0)))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, result)
}
