// Package evaluator scores answers with an LLM judge.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const relevancePrompt = `Your task is to judge whether the response answers the query.
Reply with YES or NO only.

Query: %s

Response: %s`

const faithfulnessPrompt = `Your task is to judge whether the response is supported by the context.
Every claim in the response must be backed by the context information.
Reply with YES or NO only.

Context:
%s

Response: %s`

// Scores holds the outcome of one evaluation. Values are 1.0 for a YES
// verdict and 0.0 otherwise.
type Scores struct {
	Relevance    float64
	Faithfulness float64
}

// Judge evaluates answers with a completion model resolved per call.
type Judge struct {
	models llm.Resolver
}

// New creates a Judge.
func New(models llm.Resolver) *Judge {
	return &Judge{models: models}
}

// Evaluate judges the answer's relevance to query and its faithfulness to
// the source nodes, using the model named modelName.
func (j *Judge) Evaluate(ctx context.Context, query, answer string, nodes []vectorstore.Node, modelName string) (Scores, error) {
	model, err := j.models.Get(modelName)
	if err != nil {
		return Scores{}, err
	}

	rel, err := model.Complete(ctx, fmt.Sprintf(relevancePrompt, query, answer))
	if err != nil {
		return Scores{}, fmt.Errorf("judging relevance: %w", err)
	}

	contexts := make([]string, len(nodes))
	for i, n := range nodes {
		contexts[i] = n.Content
	}
	faith, err := model.Complete(ctx, fmt.Sprintf(faithfulnessPrompt, strings.Join(contexts, "\n---\n"), answer))
	if err != nil {
		return Scores{}, fmt.Errorf("judging faithfulness: %w", err)
	}

	return Scores{Relevance: verdict(rel), Faithfulness: verdict(faith)}, nil
}

// verdict reads a YES/NO reply. Anything but a leading YES counts as NO.
func verdict(reply string) float64 {
	r := strings.ToUpper(strings.TrimSpace(reply))
	if strings.HasPrefix(r, "YES") {
		return 1.0
	}
	return 0.0
}
