package reranker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(nodes []vectorstore.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestTermOverlap(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		nodes   []vectorstore.Node
		topK    int
		wantIDs []string
	}{
		{name: "empty", query: "anything", wantIDs: []string{}},
		{
			name:  "overlap reorders",
			query: "authentication token retry",
			nodes: []vectorstore.Node{
				{ID: "doc1", Content: "use retry with exponential backoff for authentication", Score: 0.8},
				{ID: "doc2", Content: "invalid request parameter", Score: 0.9},
				{ID: "doc3", Content: "token refresh and authentication handling", Score: 0.85},
			},
			wantIDs: []string{"doc3", "doc1", "doc2"},
		},
		{
			name:  "topK limits",
			query: "error handling",
			nodes: []vectorstore.Node{
				{ID: "a", Content: "error handling patterns", Score: 0.9},
				{ID: "b", Content: "error recovery", Score: 0.85},
				{ID: "c", Content: "unrelated", Score: 0.8},
			},
			topK:    2,
			wantIDs: []string{"a", "b"},
		},
		{
			name:  "no usable terms keeps score order",
			query: "   the",
			nodes: []vectorstore.Node{
				{ID: "low", Content: "x", Score: 0.1},
				{ID: "high", Content: "y", Score: 0.9},
			},
			wantIDs: []string{"high", "low"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTermOverlap().Rerank(context.Background(), tt.query, tt.nodes, tt.topK)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids(got))
		})
	}
}

func TestTermOverlap_DoesNotMutateInput(t *testing.T) {
	nodes := []vectorstore.Node{{ID: "a", Content: "budget review", Score: 0.4}}
	_, err := NewTermOverlap().Rerank(context.Background(), "budget", nodes, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.4, nodes[0].Score)
}

func TestLLM(t *testing.T) {
	model := &llm.FakeModel{ModelName: "judge", Respond: func(msgs []llm.Message) string {
		switch {
		case strings.Contains(msgs[0].Content, "live in the south"):
			return "9"
		case strings.Contains(msgs[0].Content, "tax rules"):
			return "Score: 3.5"
		default:
			return "no idea"
		}
	}}
	nodes := []vectorstore.Node{
		{ID: "tax", Content: "tax rules"},
		{ID: "other", Content: "weather"},
		{ID: "penguins", Content: "penguins live in the south"},
	}

	got, err := NewLLM(model).Rerank(context.Background(), "where do penguins live", nodes, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"penguins", "tax"}, ids(got))
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
	assert.InDelta(t, 0.35, got[1].Score, 1e-9)
	assert.Len(t, model.Calls(), 3)
}

func TestLLM_Error(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewLLM(&llm.FakeModel{Err: boom}).Rerank(context.Background(), "q", []vectorstore.Node{{ID: "a"}}, 0)
	assert.ErrorIs(t, err, boom)
}

func TestParseScore(t *testing.T) {
	assert.Equal(t, 0.7, parseScore("7"))
	assert.Equal(t, 1.0, parseScore("42"))
	assert.Equal(t, 0.0, parseScore(""))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(llm.NewStaticRegistry(&llm.FakeModel{ModelName: "judge"}))

	r, err := reg.Get(TermOverlapName)
	require.NoError(t, err)
	assert.IsType(t, &TermOverlap{}, r)

	r, err = reg.Get("judge")
	require.NoError(t, err)
	assert.IsType(t, &LLM{}, r)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownReranker)

	_, err = NewRegistry(nil).Get("judge")
	assert.ErrorIs(t, err, ErrUnknownReranker)
}
