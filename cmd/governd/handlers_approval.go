package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"aegis/pkg/httpx"
	"aegis/pkg/models"

	"github.com/go-chi/chi/v5"
)

type createApprovalRequest struct {
	SubjectID string `json:"subject_id"`
	Tier      string `json:"priority_tier"`
}

func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req createApprovalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	tier := models.Tier(strings.ToUpper(strings.TrimSpace(req.Tier)))
	if tier == "" {
		tier = models.TierH1
	}
	switch tier {
	case models.TierH0, models.TierH1, models.TierH2, models.TierH3:
	default:
		httpx.Error(w, 400, "invalid priority_tier")
		return
	}
	scope := s.resolveScope(r)
	request, err := s.Approvals.Request(r.Context(), scope, req.SubjectID, s.actorID(r), tier)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	s.Metrics.IncApproval(request.Status)
	httpx.WriteJSON(w, 201, request)
}

type processApprovalRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (s *Server) handleProcessApproval(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req processApprovalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	scope := s.resolveScope(r)
	requestID := chi.URLParam(r, "request_id")
	request, err := s.Approvals.Process(r.Context(), scope, requestID, req.Approved, s.actorID(r), req.Reason)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	s.Metrics.IncApproval(request.Status)
	httpx.WriteJSON(w, 200, request)
}

func (s *Server) handleListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	scope := s.resolveScope(r)
	pending, err := s.Approvals.ListPending(r.Context(), scope)
	if err != nil {
		httpx.ErrorFrom(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"approvals": pending})
}
