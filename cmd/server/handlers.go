package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/liamcoop/textflow/internal/logger"
	"github.com/liamcoop/textflow/rules"
	"github.com/liamcoop/textflow/workspace"
)

const maxBodyBytes = 8 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "healthy",
		Workspaces: len(s.manager.List()),
		Database:   "disabled",
		Redis:      "disabled",
		Counters:   logger.Snapshot(),
	}

	if s.db != nil {
		resp.Database = "ok"
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status, resp.Database = "unhealthy", err.Error()
		}
	}
	if s.redis != nil {
		resp.Redis = "ok"
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			resp.Status, resp.Redis = "unhealthy", err.Error()
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// decodeFlowJSON decodes a flow with rule defaults applied. Empty input is a nil flow.
func decodeFlowJSON(raw json.RawMessage) (*rules.Flow, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid flow: %w", err)
	}
	return rules.DecodeFlow(doc)
}

func decodeRulesJSON(raw json.RawMessage) ([]rules.Rule, error) {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("rules must be a list: %w", err)
	}
	out := make([]rules.Rule, 0, len(items))
	for i, item := range items {
		rule, err := rules.DecodeRule(item)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	flow, err := decodeFlowJSON(req.Flow)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid flow", err)
		return
	}

	startTime := time.Now()
	result := s.engine.Execute(req.Text, flow)

	respondJSON(w, http.StatusOK, ProcessResponse{
		Text:           result.Text,
		Captures:       result.Captures,
		Rules:          result.Rules,
		EvaluationTime: time.Since(startTime).String(),
	})
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	var req HighlightRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var ranges []rules.Range
	switch {
	case len(req.Rules) > 0:
		list, err := decodeRulesJSON(req.Rules)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid rules", err)
			return
		}
		ranges = s.engine.Highlight(req.Text, list)
	default:
		flow, err := decodeFlowJSON(req.Flow)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid flow", err)
			return
		}
		ranges = s.engine.HighlightFlow(req.Text, flow)
	}

	respondJSON(w, http.StatusOK, HighlightResponse{Ranges: ranges})
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list := s.manager.List()
	resp := WorkspacesListResponse{Workspaces: make([]WorkspaceResponse, 0, len(list))}
	for _, ws := range list {
		resp.Workspaces = append(resp.Workspaces, workspaceResponse(ws))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	ws, err := s.manager.Create(r.Context(), req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create workspace", err)
		return
	}

	respondJSON(w, http.StatusCreated, workspaceResponse(ws))
}

// workspaceFor resolves the {workspaceId} URL parameter, writing a 404 when unknown.
func (s *Server) workspaceFor(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	ws, err := s.manager.Get(chi.URLParam(r, "workspaceId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "workspace not found", err)
		return nil, false
	}
	return ws, true
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, workspaceResponse(ws))
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), chi.URLParam(r, "workspaceId")); err != nil {
		respondDomainError(w, "failed to delete workspace", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	flows, err := ws.Flows().List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list flows", err)
		return
	}
	respondJSON(w, http.StatusOK, FlowsListResponse{Flows: flows})
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}

	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	flow, err := decodeFlowJSON(raw)
	if err != nil || flow == nil {
		respondError(w, http.StatusBadRequest, "invalid flow", err)
		return
	}

	if err := ws.AddFlow(flow); err != nil {
		respondDomainError(w, "failed to add flow", err)
		return
	}
	respondJSON(w, http.StatusCreated, flow)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	flow, err := ws.Flows().Get(chi.URLParam(r, "flowId"))
	if err != nil {
		respondDomainError(w, "flow not found", err)
		return
	}
	respondJSON(w, http.StatusOK, flow)
}

func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}

	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	flow, err := decodeFlowJSON(raw)
	if err != nil || flow == nil {
		respondError(w, http.StatusBadRequest, "invalid flow", err)
		return
	}
	flow.ID = chi.URLParam(r, "flowId")

	if err := ws.UpdateFlow(flow); err != nil {
		respondDomainError(w, "failed to update flow", err)
		return
	}
	respondJSON(w, http.StatusOK, flow)
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	if err := ws.DeleteFlow(r.Context(), chi.URLParam(r, "flowId")); err != nil {
		respondDomainError(w, "failed to delete flow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFlowIssues(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	flow, err := ws.Flows().Get(chi.URLParam(r, "flowId"))
	if err != nil {
		respondDomainError(w, "flow not found", err)
		return
	}
	respondJSON(w, http.StatusOK, FlowIssuesResponse{Issues: rules.PatternIssues(flow)})
}

func (s *Server) handleExportFlows(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	flows, err := ws.Flows().List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list flows", err)
		return
	}
	data, err := rules.EncodeFlows(flows)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode flows", err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleImportFlows accepts a JSON or YAML flow document and adds every flow in it.
func (s *Server) handleImportFlows(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err)
		return
	}
	flows, err := rules.DecodeFlows(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid flow document", err)
		return
	}

	resp := ImportResponse{Imported: []string{}}
	for _, flow := range flows {
		if err := ws.AddFlow(flow); err != nil {
			respondDomainError(w, fmt.Sprintf("failed to import flow %q", flow.Name), err)
			return
		}
		resp.Imported = append(resp.Imported, flow.ID)
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleReorderRules(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	var req ReorderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	flow, err := ws.ReorderRules(chi.URLParam(r, "flowId"), req.From, req.To)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		respondError(w, status, "failed to reorder rules", err)
		return
	}
	respondJSON(w, http.StatusOK, flow)
}

func (s *Server) decodeRuleBody(w http.ResponseWriter, r *http.Request) (rules.Rule, bool) {
	var doc any
	if err := decodeBody(r, &doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return rules.Rule{}, false
	}
	rule, err := rules.DecodeRule(doc)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return rules.Rule{}, false
	}
	return rule, true
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	rule, ok := s.decodeRuleBody(w, r)
	if !ok {
		return
	}

	flow, err := ws.AddRule(chi.URLParam(r, "flowId"), rule)
	if err != nil {
		respondDomainError(w, "failed to add rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, flow)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	rule, ok := s.decodeRuleBody(w, r)
	if !ok {
		return
	}
	rule.ID = chi.URLParam(r, "ruleId")

	flow, err := ws.UpdateRule(chi.URLParam(r, "flowId"), rule)
	if err != nil {
		respondDomainError(w, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, flow)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	if _, err := ws.DeleteRule(chi.URLParam(r, "flowId"), chi.URLParam(r, "ruleId")); err != nil {
		respondDomainError(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetEditor(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ws.Editor())
}

func (s *Server) handlePutEditor(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	var content workspace.EditorContent
	if err := decodeBody(r, &content); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := ws.Edit(r.Context(), content); err != nil {
		respondDomainError(w, "failed to save editor content", err)
		return
	}
	respondJSON(w, http.StatusOK, ws.Editor())
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, SelectionResponse{FlowID: ws.SelectedFlowID(), Flow: ws.ActiveFlow()})
}

func (s *Server) handlePutSelection(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	var req SelectionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := ws.SelectFlow(r.Context(), req.FlowID); err != nil {
		respondDomainError(w, "failed to select flow", err)
		return
	}
	respondJSON(w, http.StatusOK, SelectionResponse{FlowID: ws.SelectedFlowID(), Flow: ws.ActiveFlow()})
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ModeResponse{RealTime: ws.RealTime()})
}

func (s *Server) handlePutMode(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	var req ModeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.RealTime == nil {
		respondError(w, http.StatusBadRequest, "realTime is required", nil)
		return
	}
	ws.SetRealTime(*req.RealTime)
	respondJSON(w, http.StatusOK, ModeResponse{RealTime: ws.RealTime()})
}

func (s *Server) handleWorkspaceProcess(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	out, err := ws.Process()
	if err != nil {
		respondDomainError(w, "failed to process", err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ws.LastOutput())
}

func (s *Server) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	layout, err := ws.Layout(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load layout", err)
		return
	}
	respondJSON(w, http.StatusOK, layout)
}

func (s *Server) handlePutLayout(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	var layout workspace.LayoutSizes
	if err := decodeBody(r, &layout); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := ws.SetLayout(r.Context(), layout); err != nil {
		respondDomainError(w, "failed to save layout", err)
		return
	}
	respondJSON(w, http.StatusOK, layout)
}
