package reranker

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const scorePrompt = `Rate how relevant the passage is to the question on a scale from 0 to 10.
Reply with the number only.

Question: %s

Passage:
%s`

var firstNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// LLM asks a completion model to score each node from 0 to 10. Scores are
// normalized to [0, 1]; unparseable replies score 0.
type LLM struct {
	model llm.Model
}

// NewLLM creates a model-backed reranker.
func NewLLM(model llm.Model) *LLM {
	return &LLM{model: model}
}

// Rerank implements Reranker.
func (r *LLM) Rerank(ctx context.Context, query string, nodes []vectorstore.Node, topK int) ([]vectorstore.Node, error) {
	out := make([]vectorstore.Node, len(nodes))
	copy(out, nodes)

	for i := range out {
		reply, err := r.model.Complete(ctx, fmt.Sprintf(scorePrompt, query, out[i].Content))
		if err != nil {
			return nil, fmt.Errorf("scoring node %s: %w", out[i].ID, err)
		}
		out[i].Score = parseScore(reply)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return limit(out, topK), nil
}

func parseScore(reply string) float64 {
	m := firstNumber.FindString(reply)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	if v > 10 {
		v = 10
	}
	return v / 10
}
