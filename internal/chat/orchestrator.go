package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/citation"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/evaluator"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/metadata"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/ragd/internal/chat")

// DefaultTopK applies to sessions that leave response chunks unset.
const DefaultTopK = 5

// ErrQueryTimeout is returned when retrieval exceeds the query timeout.
var ErrQueryTimeout = errors.New("query timed out")

// Dependencies are the collaborators of an Orchestrator. Runs may be nil.
type Dependencies struct {
	Querier     Querier
	Direct      DirectCompleter
	Evaluator   Evaluator
	History     HistoryStore
	Runs        RunRecorder
	Collections Collections
}

// Orchestrator runs chat turns.
type Orchestrator struct {
	deps   Dependencies
	cfg    config.ChatConfig
	logger *logging.Logger

	now   func() time.Time
	newID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the turn timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides response id generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Dependencies, cfg config.ChatConfig, logger *logging.Logger, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Querier == nil:
		return nil, errors.New("querier is required")
	case deps.Direct == nil:
		return nil, errors.New("direct completer is required")
	case deps.Evaluator == nil:
		return nil, errors.New("evaluator is required")
	case deps.History == nil:
		return nil, errors.New("history store is required")
	case deps.Collections == nil:
		return nil, errors.New("collections are required")
	case logger == nil:
		return nil, errors.New("logger is required")
	}
	if deps.Runs == nil {
		deps.Runs = noopRecorder{}
	}
	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("chat"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// History returns a session's turns, oldest first.
func (o *Orchestrator) History(ctx context.Context, sessionID int64) ([]Message, error) {
	return o.deps.History.Retrieve(ctx, sessionID)
}

// ClearHistory deletes a session's turns.
func (o *Orchestrator) ClearHistory(ctx context.Context, sessionID int64) error {
	return o.deps.History.Clear(ctx, sessionID)
}

// turn carries the per-turn state shared by both paths.
type turn struct {
	id       string
	session  *metadata.Session
	query    string
	userName string
	cfg      QueryConfiguration
	started  time.Time
}

// Chat answers query within sess and appends the turn to the session's
// history. A failed history write fails the turn.
func (o *Orchestrator) Chat(ctx context.Context, sess *metadata.Session, query string, req RequestConfiguration, userName string) (msg *Message, err error) {
	if sess == nil {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}

	t := &turn{
		id:       o.newID(),
		session:  sess,
		query:    query,
		userName: userName,
		cfg:      buildQueryConfiguration(sess, req),
		started:  o.now(),
	}
	ctx = logging.WithSessionID(ctx, sess.ID)
	ctx = logging.WithResponseID(ctx, t.id)

	ctx, span := tracer.Start(ctx, "chat.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("session_id", sess.ID),
		attribute.String("response_id", t.id),
		attribute.String("model", t.cfg.ModelName),
	)

	if !t.cfg.ExcludeKnowledgeBase && len(sess.DataSourceIDs) > 1 {
		TurnsTotal.WithLabelValues(string(PathRetrieval), "invalid").Inc()
		return nil, fmt.Errorf("%w: session %d has %d", ErrMultipleDataSources, sess.ID, len(sess.DataSourceIDs))
	}

	reason, err := o.directReason(ctx, t)
	if err != nil {
		o.fail(ctx, span, PathRetrieval, t, err)
		return nil, err
	}

	path := PathRetrieval
	if reason != "" {
		path = PathDirect
		msg, err = o.answerDirect(ctx, t, reason)
	} else {
		msg, err = o.answerWithRetrieval(ctx, t)
	}
	span.SetAttributes(attribute.String("path", string(path)))
	if err != nil {
		o.fail(ctx, span, path, t, err)
		return nil, err
	}

	result := "success"
	if path == PathDirect {
		result = "fallback"
	}
	TurnsTotal.WithLabelValues(string(path), result).Inc()
	TurnDuration.WithLabelValues(string(path)).Observe(o.now().Sub(t.started).Seconds())
	return msg, nil
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, path Path, t *turn, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	TurnsTotal.WithLabelValues(string(path), "error").Inc()
	o.logger.Error(ctx, "chat turn failed",
		zap.String("path", string(path)),
		zap.String("model", t.cfg.ModelName),
		zap.Error(err),
	)
}

func buildQueryConfiguration(sess *metadata.Session, req RequestConfiguration) QueryConfiguration {
	topK := sess.ResponseChunks
	if topK <= 0 {
		topK = DefaultTopK
	}
	return QueryConfiguration{
		TopK:                  topK,
		ModelName:             sess.InferenceModel,
		RerankModelName:       sess.RerankModel,
		ExcludeKnowledgeBase:  req.ExcludeKnowledgeBase,
		UseQuestionCondensing: req.UseQuestionCondensing,
		UseHyde:               sess.QueryConfiguration.EnableHyde,
		UseSummaryFilter:      sess.QueryConfiguration.EnableSummaryFilter,
	}
}

// directReason returns why the turn must skip retrieval, or "" when it
// should retrieve.
func (o *Orchestrator) directReason(ctx context.Context, t *turn) (string, error) {
	if t.cfg.ExcludeKnowledgeBase {
		return "knowledge_base_excluded", nil
	}
	if len(t.session.DataSourceIDs) == 0 {
		return "no_data_sources", nil
	}
	for _, id := range t.session.DataSourceIDs {
		n, ok, err := o.deps.Collections.Chunks(id).Size(ctx)
		if err != nil {
			return "", fmt.Errorf("sizing data source %d: %w", id, err)
		}
		if ok && n > 0 {
			return "", nil
		}
	}
	return "empty_collection", nil
}

func (o *Orchestrator) answerDirect(ctx context.Context, t *turn, reason string) (*Message, error) {
	o.logger.Info(ctx, "answering without retrieval", zap.String("reason", reason))

	if timeout := o.cfg.CompletionTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	answer, err := o.deps.Direct.Complete(ctx, t.session.ID, t.query, t.cfg.ModelName)
	if err != nil {
		return nil, fmt.Errorf("direct completion: %w", err)
	}

	msg := &Message{
		ID:             t.id,
		SessionID:      t.session.ID,
		RagMessage:     RagMessage{User: t.query, Assistant: answer},
		Evaluations:    []Evaluation{},
		SourceNodes:    []vectorstore.Node{},
		InferenceModel: t.cfg.ModelName,
		Timestamp:      t.started,
	}
	o.record(ctx, t, PathDirect, msg, 0)
	if err := o.deps.History.Append(ctx, t.session.ID, []Message{*msg}); err != nil {
		return nil, fmt.Errorf("appending history: %w", err)
	}
	return msg, nil
}

func (o *Orchestrator) answerWithRetrieval(ctx context.Context, t *turn) (*Message, error) {
	dataSourceID := t.session.DataSourceIDs[0]
	ctx = logging.WithDataSourceID(ctx, dataSourceID)

	history, err := o.deps.History.Retrieve(ctx, t.session.ID)
	if err != nil {
		return nil, fmt.Errorf("retrieving history: %w", err)
	}

	resp, condensed, err := o.query(ctx, dataSourceID, t, history)
	if err != nil {
		return nil, err
	}

	nodes := o.reconcileCitations(ctx, dataSourceID, resp)

	if strings.TrimSpace(condensed) == strings.TrimSpace(t.query) {
		condensed = ""
	}

	evaluations := []Evaluation{}
	if len(nodes) > 0 {
		scores, err := o.evaluate(ctx, t, resp.Answer, nodes)
		if err != nil {
			return nil, fmt.Errorf("evaluating answer: %w", err)
		}
		evaluations = append(evaluations,
			Evaluation{Name: EvalRelevance, Value: scores.Relevance},
			Evaluation{Name: EvalFaithfulness, Value: scores.Faithfulness},
		)
	}

	msg := &Message{
		ID:                t.id,
		SessionID:         t.session.ID,
		RagMessage:        RagMessage{User: t.query, Assistant: resp.Answer},
		CondensedQuestion: condensed,
		Evaluations:       evaluations,
		SourceNodes:       nodes,
		InferenceModel:    t.cfg.ModelName,
		Timestamp:         t.started,
	}
	o.record(ctx, t, PathRetrieval, msg, dataSourceID)
	if err := o.deps.History.Append(ctx, t.session.ID, []Message{*msg}); err != nil {
		return nil, fmt.Errorf("appending history: %w", err)
	}
	return msg, nil
}

// evaluate runs the judge under EvaluationTimeout, or CompletionTimeout when
// that is unset.
func (o *Orchestrator) evaluate(ctx context.Context, t *turn, answer string, nodes []vectorstore.Node) (evaluator.Scores, error) {
	timeout := o.cfg.EvaluationTimeout.Duration()
	if timeout <= 0 {
		timeout = o.cfg.CompletionTimeout.Duration()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return o.deps.Evaluator.Evaluate(ctx, t.query, answer, nodes, t.cfg.ModelName)
}

func (o *Orchestrator) query(ctx context.Context, dataSourceID int64, t *turn, history []Message) (*Response, string, error) {
	qctx := ctx
	if timeout := o.cfg.QueryTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, condensed, err := o.deps.Querier.Query(qctx, dataSourceID, t.query, t.cfg, history)
	if err != nil {
		if errors.Is(qctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, "", fmt.Errorf("%w after %s: %v", ErrQueryTimeout, o.cfg.QueryTimeout.Duration(), err)
		}
		return nil, "", fmt.Errorf("query: %w", err)
	}
	if resp == nil {
		return nil, "", errors.New("query: empty response")
	}
	return resp, condensed, nil
}

// reconcileCitations appends nodes the answer cites but retrieval did not
// return. Recovered nodes score 0. Ids that cannot be fetched are logged and
// dropped.
func (o *Orchestrator) reconcileCitations(ctx context.Context, dataSourceID int64, resp *Response) []vectorstore.Node {
	nodes := make([]vectorstore.Node, 0, len(resp.SourceNodes))
	ranked := make(map[string]bool, len(resp.SourceNodes))
	for _, n := range resp.SourceNodes {
		ranked[n.ID] = true
		nodes = append(nodes, n)
	}

	var extra []string
	for _, id := range citation.Extract(resp.Answer) {
		if !ranked[id] {
			extra = append(extra, id)
		}
	}
	if len(extra) == 0 {
		return nodes
	}

	lookup := o.deps.Collections.Chunks(dataSourceID).GetNodes(ctx, extra)
	for _, n := range lookup.Nodes {
		n.Score = 0
		nodes = append(nodes, n)
	}
	CitationRecoveries.WithLabelValues("recovered").Add(float64(len(lookup.Nodes)))
	if len(lookup.Failures) > 0 {
		CitationRecoveries.WithLabelValues("failed").Add(float64(len(lookup.Failures)))
		for _, f := range lookup.Failures {
			o.logger.Warn(ctx, "cited node unavailable", zap.String("node_id", f.ID), zap.Error(f.Err))
		}
	}
	return nodes
}

func (o *Orchestrator) record(ctx context.Context, t *turn, path Path, msg *Message, dataSourceID int64) {
	ids := make([]string, len(msg.SourceNodes))
	for i, n := range msg.SourceNodes {
		ids[i] = n.ID
	}
	o.deps.Runs.Record(ctx, Run{
		ResponseID:        t.id,
		SessionID:         t.session.ID,
		DataSourceID:      dataSourceID,
		UserName:          t.userName,
		Path:              path,
		Query:             t.query,
		CondensedQuestion: msg.CondensedQuestion,
		Answer:            msg.RagMessage.Assistant,
		Config:            t.cfg,
		SourceNodeIDs:     ids,
		Evaluations:       msg.Evaluations,
		StartedAt:         t.started,
		Duration:          o.now().Sub(t.started),
	})
}
