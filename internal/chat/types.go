package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Evaluation names attached to retrieval turns.
const (
	EvalRelevance    = "relevance"
	EvalFaithfulness = "faithfulness"
)

var (
	// ErrInvalidRequest marks errors caused by the caller's input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMultipleDataSources is returned for retrieval over a session bound
	// to more than one data source. It wraps ErrInvalidRequest.
	ErrMultipleDataSources = fmt.Errorf("%w: session has more than one data source", ErrInvalidRequest)
)

// RequestConfiguration holds per-request switches.
type RequestConfiguration struct {
	ExcludeKnowledgeBase  bool `json:"exclude_knowledge_base"`
	UseQuestionCondensing bool `json:"use_question_condensing"`
}

// QueryConfiguration is the retrieval configuration of one turn.
type QueryConfiguration struct {
	TopK                  int    `json:"top_k"`
	ModelName             string `json:"model_name"`
	RerankModelName       string `json:"rerank_model_name,omitempty"`
	ExcludeKnowledgeBase  bool   `json:"exclude_knowledge_base"`
	UseQuestionCondensing bool   `json:"use_question_condensing"`
	UseHyde               bool   `json:"use_hyde"`
	UseSummaryFilter      bool   `json:"use_summary_filter"`
}

// RagMessage is one user question and the assistant's answer.
type RagMessage struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Evaluation is one judged score of a turn.
type Evaluation struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Message is one completed chat turn. It is not modified after it is built.
type Message struct {
	ID                string             `json:"id"`
	SessionID         int64              `json:"session_id"`
	RagMessage        RagMessage         `json:"rag_message"`
	CondensedQuestion string             `json:"condensed_question,omitempty"`
	Evaluations       []Evaluation       `json:"evaluations"`
	SourceNodes       []vectorstore.Node `json:"source_nodes"`
	InferenceModel    string             `json:"inference_model,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Response is what a Querier produced for one question.
type Response struct {
	Answer      string
	SourceNodes []vectorstore.Node
}
