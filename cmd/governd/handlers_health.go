package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"aegis/pkg/httpx"

	"github.com/go-chi/chi/v5"
)

type reportErrorRequest struct {
	ModuleName string `json:"module_name"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
}

func (s *Server) handleReportError(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req reportErrorRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	scope := s.resolveScope(r)
	record, err := s.Health.ReportError(r.Context(), scope, req.ModuleName, req.Message, req.Severity, s.actorID(r))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 201, record)
}

type forceRenaissanceRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleForceRenaissance(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req forceRenaissanceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	scope := s.resolveScope(r)
	cycle, err := s.Health.ForceRenaissance(r.Context(), scope, req.Reason, s.actorID(r))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	s.Metrics.IncCycle(cycle.Status)
	httpx.WriteJSON(w, 200, cycle)
}

func (s *Server) handleAdminValidate(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	if err := s.Health.AdminValidate(r.Context(), scope, s.actorID(r)); err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]string{"status": "validated"})
}

func (s *Server) handleResolveError(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	record, err := s.Health.ResolveError(r.Context(), scope, chi.URLParam(r, "error_id"), s.actorID(r))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, record)
}

func (s *Server) handleHealthReport(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	report, err := s.Health.HealthReport(r.Context(), scope)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, report)
}

func (s *Server) handleHealthStats(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	stats, err := s.Health.Stats(r.Context(), scope)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, stats)
}

func (s *Server) handleHealthErrors(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	unresolvedOnly := strings.EqualFold(r.URL.Query().Get("unresolved_only"), "true")
	records, err := s.Health.Errors(r.Context(), scope, unresolvedOnly, queryInt(r, "limit", 100))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"errors": records})
}

func (s *Server) handleHealthCycles(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	cycles, err := s.Health.Cycles(r.Context(), scope, queryInt(r, "limit", 50))
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"cycles": cycles})
}
