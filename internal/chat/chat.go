// Package chat orchestrates one chat turn.
//
// A turn either answers directly from the inference model or runs retrieval
// over the session's data source. The direct path is taken when the request
// excludes the knowledge base, when the session has no data sources, or when
// the data source's chunk collection is absent or empty. Retrieval turns get
// citation reconciliation and evaluations; direct turns get neither.
package chat

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/evaluator"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Querier runs retrieval and answers a question. It returns the condensed
// question it searched with, which may equal query.
type Querier interface {
	Query(ctx context.Context, dataSourceID int64, query string, cfg QueryConfiguration, history []Message) (*Response, string, error)
}

// DirectCompleter answers from the inference model alone.
type DirectCompleter interface {
	Complete(ctx context.Context, sessionID int64, query, modelName string) (string, error)
}

// Evaluator judges a retrieval answer.
type Evaluator interface {
	Evaluate(ctx context.Context, query, answer string, nodes []vectorstore.Node, modelName string) (evaluator.Scores, error)
}

// HistoryStore persists turns per session.
type HistoryStore interface {
	Append(ctx context.Context, sessionID int64, messages []Message) error
	Retrieve(ctx context.Context, sessionID int64) ([]Message, error)
	Clear(ctx context.Context, sessionID int64) error
}

// RunRecorder receives a record of every completed turn. Record must not
// block.
type RunRecorder interface {
	Record(ctx context.Context, run Run)
}

// Collection is the part of a chunk collection a turn needs.
type Collection interface {
	Size(ctx context.Context) (int64, bool, error)
	GetNodes(ctx context.Context, ids []string) vectorstore.NodeLookup
}

// Collections resolves a data source's chunk collection.
type Collections interface {
	Chunks(dataSourceID int64) Collection
}

// CollectionsFunc adapts a function to Collections.
type CollectionsFunc func(dataSourceID int64) Collection

// Chunks implements Collections.
func (f CollectionsFunc) Chunks(dataSourceID int64) Collection { return f(dataSourceID) }

// Path names how a turn was answered.
type Path string

const (
	PathDirect    Path = "direct"
	PathRetrieval Path = "retrieval"
)

// Run is the record handed to the RunRecorder.
type Run struct {
	ResponseID        string             `json:"response_id"`
	SessionID         int64              `json:"session_id"`
	DataSourceID      int64              `json:"data_source_id,omitempty"`
	UserName          string             `json:"user_name,omitempty"`
	Path              Path               `json:"path"`
	Query             string             `json:"query"`
	CondensedQuestion string             `json:"condensed_question,omitempty"`
	Answer            string             `json:"answer"`
	Config            QueryConfiguration `json:"config"`
	SourceNodeIDs     []string           `json:"source_node_ids,omitempty"`
	Evaluations       []Evaluation       `json:"evaluations,omitempty"`
	StartedAt         time.Time          `json:"started_at"`
	Duration          time.Duration      `json:"duration_ns"`
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, Run) {}
