package evaluator

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

func TestJudge_Evaluate(t *testing.T) {
	model := &llm.FakeModel{ModelName: "judge", Respond: func(msgs []llm.Message) string {
		if strings.Contains(msgs[0].Content, "answers the query") {
			return " yes, it does"
		}
		return "NO"
	}}
	j := New(llm.NewStaticRegistry(model))

	nodes := []vectorstore.Node{{Content: "alpha context"}, {Content: "beta context"}}
	scores, err := j.Evaluate(context.Background(), "q", "a", nodes, "judge")
	require.NoError(t, err)
	assert.Equal(t, Scores{Relevance: 1, Faithfulness: 0}, scores)

	calls := model.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1][0].Content, "alpha context")
	assert.Contains(t, calls[1][0].Content, "beta context")
}

func TestJudge_Errors(t *testing.T) {
	_, err := New(llm.NewStaticRegistry()).Evaluate(context.Background(), "q", "a", nil, "missing")
	assert.ErrorIs(t, err, llm.ErrUnknownModel)

	boom := errors.New("boom")
	_, err = New(llm.NewStaticRegistry(&llm.FakeModel{ModelName: "m", Err: boom})).Evaluate(context.Background(), "q", "a", nil, "m")
	assert.ErrorIs(t, err, boom)
}

func TestVerdict(t *testing.T) {
	tests := map[string]float64{
		"YES":           1,
		"yes.":          1,
		"  Yes\n":       1,
		"NO":            0,
		"maybe":         0,
		"":              0,
		"Not sure, yes": 0,
	}
	for in, want := range tests {
		assert.Equal(t, want, verdict(in), in)
	}
}
