package http

import (
	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// ChatRequest is the body of POST /api/v1/sessions/:session_id/chat.
type ChatRequest struct {
	SessionID             int64  `param:"session_id" validate:"gt=0"`
	Query                 string `json:"query" validate:"required"`
	ExcludeKnowledgeBase  bool   `json:"exclude_knowledge_base"`
	UseQuestionCondensing bool   `json:"use_question_condensing"`
	UserName              string `json:"user_name" validate:"max=256"`
}

// HistoryResponse is the body of GET /api/v1/sessions/:session_id/chat-history.
type HistoryResponse struct {
	Messages []chat.Message `json:"messages"`
}

// DocumentRequest is the body of the index and summary endpoints.
type DocumentRequest struct {
	DataSourceID int64                  `param:"data_source_id" validate:"gt=0"`
	DocumentID   string                 `param:"doc_id" validate:"required,max=512"`
	FileName     string                 `json:"file_name" validate:"required,max=1024"`
	Text         string                 `json:"text" validate:"required"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// SizeResponse is the body of GET /api/v1/data_sources/:data_source_id/size.
// Size is null when the chunk collection was never created.
type SizeResponse struct {
	Size *int64 `json:"size"`
}

// VisualizeRequest is the optional body of the visualize endpoint.
type VisualizeRequest struct {
	DataSourceID int64  `param:"data_source_id" validate:"gt=0"`
	Query        string `json:"query" validate:"max=8192"`
}

// VisualizeResponse lists projected points.
type VisualizeResponse struct {
	Points []vectorstore.Point2D `json:"points"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
