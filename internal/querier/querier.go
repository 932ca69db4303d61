// Package querier answers questions with retrieval over one data source.
package querier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/citation"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/qdrant"
	"github.com/fyrsmithlabs/ragd/internal/reranker"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/ragd/internal/querier")

// maxHistoryTurns bounds the turns replayed into prompts.
const maxHistoryTurns = 10

// Collections hands out a data source's collections.
type Collections interface {
	ForChunks(dataSourceID int64) *vectorstore.Collection
	ForSummaries(dataSourceID int64) *vectorstore.Collection
}

// Rerankers resolves rerank model names.
type Rerankers interface {
	Get(name string) (reranker.Reranker, error)
}

// Querier runs the retrieval pipeline: condense, expand, filter, search,
// rerank, then answer.
type Querier struct {
	collections Collections
	models      llm.Resolver
	rerankers   Rerankers
	logger      *logging.Logger
}

// New creates a Querier.
func New(collections Collections, models llm.Resolver, rerankers Rerankers, logger *logging.Logger) (*Querier, error) {
	if collections == nil || models == nil || rerankers == nil {
		return nil, errors.New("collections, models and rerankers are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Querier{
		collections: collections,
		models:      models,
		rerankers:   rerankers,
		logger:      logger.Named("querier"),
	}, nil
}

// Query implements chat.Querier.
func (q *Querier) Query(ctx context.Context, dataSourceID int64, query string, cfg chat.QueryConfiguration, history []chat.Message) (*chat.Response, string, error) {
	ctx, span := tracer.Start(ctx, "querier.Query")
	defer span.End()

	model, err := q.models.Get(cfg.ModelName)
	if err != nil {
		return nil, "", err
	}

	question := query
	if cfg.UseQuestionCondensing && len(history) > 0 {
		question, err = q.condense(ctx, model, query, history)
		if err != nil {
			return nil, "", err
		}
	}

	searchText := question
	if cfg.UseHyde {
		passage, err := model.Complete(ctx, fmt.Sprintf(hydePrompt, question))
		if err != nil {
			return nil, "", fmt.Errorf("hyde expansion: %w", err)
		}
		searchText = question + "\n" + strings.TrimSpace(passage)
	}

	var filter *qdrant.Filter
	if cfg.UseSummaryFilter {
		filter, err = q.summaryFilter(ctx, dataSourceID, question, cfg.TopK)
		if err != nil {
			return nil, "", err
		}
	}

	nodes, err := q.collections.ForChunks(dataSourceID).Query(ctx, searchText, cfg.TopK, filter)
	if err != nil {
		return nil, "", fmt.Errorf("retrieving chunks: %w", err)
	}

	if cfg.RerankModelName != "" && len(nodes) > 0 {
		rr, err := q.rerankers.Get(cfg.RerankModelName)
		if err != nil {
			return nil, "", err
		}
		nodes, err = rr.Rerank(ctx, question, nodes, cfg.TopK)
		if err != nil {
			return nil, "", fmt.Errorf("reranking: %w", err)
		}
	}

	span.SetAttributes(
		attribute.Int("nodes", len(nodes)),
		attribute.Bool("condensed", question != query),
		attribute.Bool("filtered", filter != nil),
	)

	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(answerPrompt, contextBlock(nodes), citation.Instructions(), question),
	})

	q.logger.Trace(ctx, "answer prompt",
		zap.String("model", model.Name()),
		zap.String("prompt", messages[len(messages)-1].Content),
	)
	answer, err := model.Chat(ctx, messages)
	if err != nil {
		return nil, "", fmt.Errorf("answering: %w", err)
	}

	q.logger.Debug(ctx, "query answered",
		zap.Int64("data_source_id", dataSourceID),
		zap.Int("nodes", len(nodes)),
		zap.Bool("hyde", cfg.UseHyde),
		zap.Bool("summary_filter", filter != nil),
	)
	return &chat.Response{Answer: answer, SourceNodes: nodes}, question, nil
}

func (q *Querier) condense(ctx context.Context, model llm.Model, query string, history []chat.Message) (string, error) {
	var b strings.Builder
	for _, m := range recent(history) {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", m.RagMessage.User, m.RagMessage.Assistant)
	}
	out, err := model.Complete(ctx, fmt.Sprintf(condensePrompt, b.String(), query))
	if err != nil {
		return "", fmt.Errorf("condensing question: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return query, nil
	}
	return out, nil
}

// summaryFilter restricts chunk search to the documents whose summaries are
// closest to question. It returns nil when there are no summaries.
func (q *Querier) summaryFilter(ctx context.Context, dataSourceID int64, question string, topK int) (*qdrant.Filter, error) {
	summaries := q.collections.ForSummaries(dataSourceID)
	exists, err := summaries.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking summaries: %w", err)
	}
	if !exists {
		return nil, nil
	}

	nodes, err := summaries.Query(ctx, question, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	docIDs := make([]string, 0, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.DocID == "" || seen[n.DocID] {
			continue
		}
		seen[n.DocID] = true
		docIDs = append(docIDs, n.DocID)
	}
	if len(docIDs) == 0 {
		return nil, nil
	}
	return qdrant.FieldIn(vectorstore.PayloadDocID, docIDs), nil
}

func contextBlock(nodes []vectorstore.Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = fmt.Sprintf("NODE_ID: %s\n%s", n.ID, n.Content)
	}
	return strings.Join(parts, "\n\n")
}

func recent(history []chat.Message) []chat.Message {
	if len(history) > maxHistoryTurns {
		return history[len(history)-maxHistoryTurns:]
	}
	return history
}

func historyMessages(history []chat.Message) []llm.Message {
	turns := recent(history)
	out := make([]llm.Message, 0, 2*len(turns))
	for _, m := range turns {
		out = append(out,
			llm.Message{Role: llm.RoleUser, Content: m.RagMessage.User},
			llm.Message{Role: llm.RoleAssistant, Content: m.RagMessage.Assistant},
		)
	}
	return out
}
