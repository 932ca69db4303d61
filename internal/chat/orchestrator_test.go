package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/citation"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/evaluator"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/metadata"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type fakeQuerier struct {
	resp      *Response
	condensed string
	err       error
	block     bool

	calls   int
	lastCfg QueryConfiguration
	history []Message
}

func (f *fakeQuerier) Query(ctx context.Context, _ int64, query string, cfg QueryConfiguration, history []Message) (*Response, string, error) {
	f.calls++
	f.lastCfg = cfg
	f.history = history
	if f.block {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	if f.err != nil {
		return nil, "", f.err
	}
	condensed := f.condensed
	if condensed == "" {
		condensed = query
	}
	return f.resp, condensed, nil
}

type fakeDirect struct {
	answer string
	err    error
	calls  int
}

func (f *fakeDirect) Complete(context.Context, int64, string, string) (string, error) {
	f.calls++
	return f.answer, f.err
}

type fakeEvaluator struct {
	scores   evaluator.Scores
	err      error
	block    bool
	nodes    []vectorstore.Node
	calls    int
	deadline time.Duration
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, _, _ string, nodes []vectorstore.Node, _ string) (evaluator.Scores, error) {
	f.calls++
	f.nodes = nodes
	if d, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(d)
	}
	if f.block {
		<-ctx.Done()
		return evaluator.Scores{}, ctx.Err()
	}
	return f.scores, f.err
}

type memHistory struct {
	mu        sync.Mutex
	turns     map[int64][]Message
	appendErr error
}

func newMemHistory() *memHistory { return &memHistory{turns: make(map[int64][]Message)} }

func (h *memHistory) Append(_ context.Context, sessionID int64, msgs []Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.appendErr != nil {
		return h.appendErr
	}
	h.turns[sessionID] = append(h.turns[sessionID], msgs...)
	return nil
}

func (h *memHistory) Retrieve(_ context.Context, sessionID int64) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message{}, h.turns[sessionID]...), nil
}

func (h *memHistory) Clear(_ context.Context, sessionID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.turns, sessionID)
	return nil
}

type recorder struct {
	mu   sync.Mutex
	runs []Run
}

func (r *recorder) Record(_ context.Context, run Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}

type fakeCollection struct {
	size    int64
	ok      bool
	sizeErr error
	stored  map[string]vectorstore.Node

	sizeCalls int
	requested []string
}

func (c *fakeCollection) Size(context.Context) (int64, bool, error) {
	c.sizeCalls++
	return c.size, c.ok, c.sizeErr
}

func (c *fakeCollection) GetNodes(_ context.Context, ids []string) vectorstore.NodeLookup {
	c.requested = append(c.requested, ids...)
	var lookup vectorstore.NodeLookup
	for _, id := range ids {
		if n, ok := c.stored[id]; ok {
			lookup.Nodes = append(lookup.Nodes, n)
			continue
		}
		lookup.Failures = append(lookup.Failures, vectorstore.NodeFailure{ID: id, Err: vectorstore.ErrNodeNotFound})
	}
	return lookup
}

type harness struct {
	querier    *fakeQuerier
	direct     *fakeDirect
	evaluator  *fakeEvaluator
	history    *memHistory
	runs       *recorder
	collection *fakeCollection
	logger     *logging.TestLogger
	orch       *Orchestrator
}

func newHarness(t *testing.T, cfg config.ChatConfig) *harness {
	t.Helper()
	h := &harness{
		querier:    &fakeQuerier{resp: &Response{Answer: "answer"}},
		direct:     &fakeDirect{answer: "direct answer"},
		evaluator:  &fakeEvaluator{scores: evaluator.Scores{Relevance: 1, Faithfulness: 0}},
		history:    newMemHistory(),
		runs:       &recorder{},
		collection: &fakeCollection{size: 3, ok: true},
		logger:     logging.NewTestLogger(),
	}
	orch, err := NewOrchestrator(Dependencies{
		Querier:     h.querier,
		Direct:      h.direct,
		Evaluator:   h.evaluator,
		History:     h.history,
		Runs:        h.runs,
		Collections: CollectionsFunc(func(int64) Collection { return h.collection }),
	}, cfg, h.logger.Logger,
		WithClock(func() time.Time { return time.Unix(1700000000, 0).UTC() }),
		WithIDGenerator(func() string { return "resp-1" }),
	)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func session(dataSources ...int64) *metadata.Session {
	return &metadata.Session{ID: 11, DataSourceIDs: dataSources, InferenceModel: "llama", ResponseChunks: 4}
}

const (
	idA = "0f8fad5b-d9cb-469f-a165-70867728950e"
	idB = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	idC = "a3bb189e-8bf9-3888-9912-ace4e6543002"
)

func cite(id string) string {
	m, err := citation.Format(id)
	if err != nil {
		panic(err)
	}
	return m
}

func TestChat_DirectPath(t *testing.T) {
	tests := []struct {
		name        string
		session     *metadata.Session
		req         RequestConfiguration
		collection  fakeCollection
		wantSizeUse bool
	}{
		{name: "knowledge base excluded", session: session(1), req: RequestConfiguration{ExcludeKnowledgeBase: true}, collection: fakeCollection{size: 3, ok: true}},
		{name: "excluded with several data sources", session: session(1, 2), req: RequestConfiguration{ExcludeKnowledgeBase: true}, collection: fakeCollection{size: 3, ok: true}},
		{name: "no data sources", session: session(), collection: fakeCollection{size: 3, ok: true}},
		{name: "absent collection", session: session(1), collection: fakeCollection{ok: false}, wantSizeUse: true},
		{name: "empty collection", session: session(1), collection: fakeCollection{size: 0, ok: true}, wantSizeUse: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.ChatConfig{})
			*h.collection = tt.collection

			msg, err := h.orch.Chat(context.Background(), tt.session, "hello?", tt.req, "alice")
			require.NoError(t, err)

			assert.Equal(t, "resp-1", msg.ID)
			assert.Equal(t, "direct answer", msg.RagMessage.Assistant)
			assert.Equal(t, "hello?", msg.RagMessage.User)
			assert.Empty(t, msg.SourceNodes)
			assert.Empty(t, msg.Evaluations)
			assert.Equal(t, "llama", msg.InferenceModel)

			assert.Equal(t, 1, h.direct.calls)
			assert.Zero(t, h.querier.calls)
			assert.Zero(t, h.evaluator.calls)
			assert.Equal(t, tt.wantSizeUse, h.collection.sizeCalls > 0)

			stored, _ := h.history.Retrieve(context.Background(), 11)
			require.Len(t, stored, 1)
			assert.Equal(t, *msg, stored[0])

			require.Len(t, h.runs.runs, 1)
			assert.Equal(t, PathDirect, h.runs.runs[0].Path)
			assert.Equal(t, "alice", h.runs.runs[0].UserName)
			h.logger.AssertLogged(t, zapcore.InfoLevel, "answering without retrieval")
		})
	}
}

func TestChat_MultipleDataSourcesRejectedBeforeBackend(t *testing.T) {
	h := newHarness(t, config.ChatConfig{})

	_, err := h.orch.Chat(context.Background(), session(1, 2), "q", RequestConfiguration{}, "")
	assert.ErrorIs(t, err, ErrMultipleDataSources)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Zero(t, h.collection.sizeCalls)
	assert.Zero(t, h.querier.calls)
	assert.Zero(t, h.direct.calls)
	assert.Empty(t, h.runs.runs)
	stored, _ := h.history.Retrieve(context.Background(), 11)
	assert.Empty(t, stored)
}

func TestChat_InvalidInput(t *testing.T) {
	h := newHarness(t, config.ChatConfig{})

	_, err := h.orch.Chat(context.Background(), nil, "q", RequestConfiguration{}, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.orch.Chat(context.Background(), session(1), "  ", RequestConfiguration{}, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChat_RetrievalReconcilesCitations(t *testing.T) {
	h := newHarness(t, config.ChatConfig{})
	h.querier.resp = &Response{
		Answer:      "A" + cite(idA) + "[1]</a> B" + cite(idB) + "[2]</a> C" + cite(idC) + "[3]</a> again" + cite(idA) + "[4]</a>",
		SourceNodes: []vectorstore.Node{{ID: idA, Content: "ranked", Score: 0.9}},
	}
	h.collection.stored = map[string]vectorstore.Node{idB: {ID: idB, Content: "cited", Score: 0.77}}

	msg, err := h.orch.Chat(context.Background(), session(1), "what?", RequestConfiguration{}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{idB, idC}, h.collection.requested)
	require.Len(t, msg.SourceNodes, 2)
	assert.Equal(t, idA, msg.SourceNodes[0].ID)
	assert.Equal(t, 0.9, msg.SourceNodes[0].Score)
	assert.Equal(t, idB, msg.SourceNodes[1].ID)
	assert.Equal(t, 0.0, msg.SourceNodes[1].Score)

	assert.Equal(t, []Evaluation{{Name: EvalRelevance, Value: 1}, {Name: EvalFaithfulness, Value: 0}}, msg.Evaluations)
	assert.Len(t, h.evaluator.nodes, 2)

	require.Len(t, h.runs.runs, 1)
	assert.Equal(t, PathRetrieval, h.runs.runs[0].Path)
	assert.Equal(t, int64(1), h.runs.runs[0].DataSourceID)
	assert.Equal(t, []string{idA, idB}, h.runs.runs[0].SourceNodeIDs)
	h.logger.AssertLogged(t, zapcore.WarnLevel, "cited node unavailable")
}

func TestChat_CondensedQuestion(t *testing.T) {
	tests := []struct {
		name      string
		condensed string
		want      string
	}{
		{"same as query after trimming", "  what is revenue?\n", ""},
		{"rewritten", "What was Q3 revenue?", "What was Q3 revenue?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.ChatConfig{})
			h.querier.condensed = tt.condensed

			msg, err := h.orch.Chat(context.Background(), session(1), "what is revenue?", RequestConfiguration{UseQuestionCondensing: true}, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.CondensedQuestion)
			assert.True(t, h.querier.lastCfg.UseQuestionCondensing)
		})
	}
}

func TestChat_NoSourcesNoEvaluations(t *testing.T) {
	h := newHarness(t, config.ChatConfig{})

	msg, err := h.orch.Chat(context.Background(), session(1), "q", RequestConfiguration{}, "")
	require.NoError(t, err)
	assert.Empty(t, msg.SourceNodes)
	assert.Empty(t, msg.Evaluations)
	assert.Zero(t, h.evaluator.calls)
}

func TestChat_PassesHistoryAndConfiguration(t *testing.T) {
	h := newHarness(t, config.ChatConfig{})
	require.NoError(t, h.history.Append(context.Background(), 11, []Message{{ID: "old"}}))

	sess := session(1)
	sess.ResponseChunks = 0
	sess.RerankModel = "term_overlap"
	sess.QueryConfiguration = metadata.QueryConfiguration{EnableHyde: true, EnableSummaryFilter: true}

	_, err := h.orch.Chat(context.Background(), sess, "q", RequestConfiguration{}, "")
	require.NoError(t, err)

	require.Len(t, h.querier.history, 1)
	assert.Equal(t, "old", h.querier.history[0].ID)
	assert.Equal(t, QueryConfiguration{
		TopK:             DefaultTopK,
		ModelName:        "llama",
		RerankModelName:  "term_overlap",
		UseHyde:          true,
		UseSummaryFilter: true,
	}, h.querier.lastCfg)
}

func TestChat_QueryTimeoutFailsTurn(t *testing.T) {
	h := newHarness(t, config.ChatConfig{QueryTimeout: config.Duration(20 * time.Millisecond)})
	h.querier.block = true

	_, err := h.orch.Chat(context.Background(), session(1), "q", RequestConfiguration{}, "")
	assert.ErrorIs(t, err, ErrQueryTimeout)
	assert.Zero(t, h.direct.calls, "timeouts do not fall back")

	stored, _ := h.history.Retrieve(context.Background(), 11)
	assert.Empty(t, stored)
	assert.Empty(t, h.runs.runs)
}

func TestChat_EvaluationIsBounded(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ChatConfig
		max  time.Duration
	}{
		{"evaluation timeout", config.ChatConfig{EvaluationTimeout: config.Duration(3 * time.Second), CompletionTimeout: config.Duration(time.Hour)}, 3 * time.Second},
		{"falls back to completion timeout", config.ChatConfig{CompletionTimeout: config.Duration(5 * time.Second)}, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.cfg)
			h.querier.resp = &Response{Answer: "a", SourceNodes: []vectorstore.Node{{ID: idA}}}

			_, err := h.orch.Chat(context.Background(), session(1), "q", RequestConfiguration{}, "")
			require.NoError(t, err)
			assert.Greater(t, h.evaluator.deadline, time.Duration(0))
			assert.LessOrEqual(t, h.evaluator.deadline, tt.max)
		})
	}

	t.Run("hung judge fails the turn", func(t *testing.T) {
		h := newHarness(t, config.ChatConfig{EvaluationTimeout: config.Duration(20 * time.Millisecond)})
		h.querier.resp = &Response{Answer: "a", SourceNodes: []vectorstore.Node{{ID: idA}}}
		h.evaluator.block = true

		_, err := h.orch.Chat(context.Background(), session(1), "q", RequestConfiguration{}, "")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		stored, _ := h.history.Retrieve(context.Background(), 11)
		assert.Empty(t, stored)
	})
}

func TestChat_Failures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("querier error", func(t *testing.T) {
		h := newHarness(t, config.ChatConfig{})
		h.querier.err = boom
		_, err := h.orch.Chat(context.Background(), session(1), "q", RequestConfiguration{}, "")
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrQueryTimeout)
	})

	t.Run("size error", func(t *testing.T) {
		h := newHarness(t, config.ChatConfig{})
		h.collection.sizeErr = boom
		_, err := h.orch.Chat(context.Background(), session(1), "q", RequestConfiguration{}, "")
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, h.direct.calls)
	})

	t.Run("history append error", func(t *testing.T) {
		h := newHarness(t, config.ChatConfig{})
		h.history.appendErr = boom
		_, err := h.orch.Chat(context.Background(), session(1), "q", RequestConfiguration{ExcludeKnowledgeBase: true}, "")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("evaluator error", func(t *testing.T) {
		h := newHarness(t, config.ChatConfig{})
		h.querier.resp = &Response{Answer: "a", SourceNodes: []vectorstore.Node{{ID: idA}}}
		h.evaluator.err = boom
		_, err := h.orch.Chat(context.Background(), session(1), "q", RequestConfiguration{}, "")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("direct error", func(t *testing.T) {
		h := newHarness(t, config.ChatConfig{})
		h.direct.err = boom
		_, err := h.orch.Chat(context.Background(), session(), "q", RequestConfiguration{}, "")
		assert.ErrorIs(t, err, boom)
	})
}

func TestHistoryAndClear(t *testing.T) {
	h := newHarness(t, config.ChatConfig{})
	_, err := h.orch.Chat(context.Background(), session(), "q", RequestConfiguration{}, "")
	require.NoError(t, err)

	turns, err := h.orch.History(context.Background(), 11)
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	require.NoError(t, h.orch.ClearHistory(context.Background(), 11))
	turns, err = h.orch.History(context.Background(), 11)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(Dependencies{}, config.ChatConfig{}, logging.NewNop())
	assert.Error(t, err)
}
