package main

import (
	"encoding/json"
	"time"

	"github.com/liamcoop/textflow/internal/logger"
	"github.com/liamcoop/textflow/pipeline"
	"github.com/liamcoop/textflow/rules"
	"github.com/liamcoop/textflow/workspace"
)

// API request and response models

// ProcessRequest runs a flow over a text without touching any workspace.
// Flow is decoded with rule defaults applied, so absent flags keep their defaults.
type ProcessRequest struct {
	Text string          `json:"text"`
	Flow json.RawMessage `json:"flow"`
}

type ProcessResponse struct {
	Text           string             `json:"text"`
	Captures       rules.CaptureStore `json:"captures"`
	Rules          []rules.RuleResult `json:"rules"`
	EvaluationTime string             `json:"evaluationTime"`
}

// HighlightRequest takes either a whole flow or a bare list of rules.
type HighlightRequest struct {
	Text  string          `json:"text"`
	Flow  json.RawMessage `json:"flow,omitempty"`
	Rules json.RawMessage `json:"rules,omitempty"`
}

type HighlightResponse struct {
	Ranges []rules.Range `json:"ranges"`
}

type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

type WorkspaceResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	CreatedAt    time.Time      `json:"createdAt"`
	SelectedFlow string         `json:"selectedFlow"`
	RealTime     bool           `json:"realTime"`
	Stats        pipeline.Stats `json:"stats"`
}

type WorkspacesListResponse struct {
	Workspaces []WorkspaceResponse `json:"workspaces"`
}

type FlowsListResponse struct {
	Flows []*rules.Flow `json:"flows"`
}

type FlowIssuesResponse struct {
	Issues []rules.PatternIssue `json:"issues"`
}

type ReorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type SelectionRequest struct {
	FlowID string `json:"flowId"`
}

type SelectionResponse struct {
	FlowID string      `json:"flowId"`
	Flow   *rules.Flow `json:"flow,omitempty"`
}

type ModeRequest struct {
	RealTime *bool `json:"realTime"`
}

type ModeResponse struct {
	RealTime bool `json:"realTime"`
}

type ImportResponse struct {
	Imported []string `json:"imported"`
}

// ClientMessage is a message sent by a websocket client.
// Type is one of "edit", "select", "process" or "mode".
type ClientMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	FlowID   string `json:"flowId,omitempty"`
	RealTime *bool  `json:"realTime,omitempty"`
}

// ServerMessage is pushed to websocket clients. Type is "output" or "error".
type ServerMessage struct {
	Type      string             `json:"type"`
	Text      string             `json:"text,omitempty"`
	Captures  rules.CaptureStore `json:"captures,omitempty"`
	Processed bool               `json:"processed,omitempty"`
	Seq       uint64             `json:"seq,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func outputMessage(out pipeline.Output) ServerMessage {
	return ServerMessage{
		Type:      "output",
		Text:      out.Text,
		Captures:  out.Captures,
		Processed: out.Processed,
		Seq:       out.Seq,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status     string          `json:"status"`
	Workspaces int             `json:"workspaces"`
	Database   string          `json:"database"`
	Redis      string          `json:"redis"`
	Counters   logger.Counters `json:"counters"`
}

func workspaceResponse(ws *workspace.Workspace) WorkspaceResponse {
	return WorkspaceResponse{
		ID:           ws.ID,
		Name:         ws.Name,
		CreatedAt:    ws.CreatedAt,
		SelectedFlow: ws.SelectedFlowID(),
		RealTime:     ws.RealTime(),
		Stats:        ws.Stats(),
	}
}
