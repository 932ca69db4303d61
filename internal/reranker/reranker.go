// Package reranker reorders retrieved nodes by relevance to the query.
package reranker

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// TermOverlapName selects the term-overlap reranker instead of a model.
const TermOverlapName = "term_overlap"

// ErrUnknownReranker is returned for a rerank model name that resolves to
// nothing.
var ErrUnknownReranker = errors.New("unknown rerank model")

// Reranker reorders nodes and keeps the best topK. Returned nodes carry the
// reranker's score. topK <= 0 keeps all nodes.
type Reranker interface {
	Rerank(ctx context.Context, query string, nodes []vectorstore.Node, topK int) ([]vectorstore.Node, error)
}

// Registry resolves rerank model names. TermOverlapName is built in; any
// other name is looked up among the completion models and used as an LLM
// judge.
type Registry struct {
	models  llm.Resolver
	overlap *TermOverlap
}

// NewRegistry creates a Registry. models may be nil, in which case only the
// built-in reranker resolves.
func NewRegistry(models llm.Resolver) *Registry {
	return &Registry{models: models, overlap: NewTermOverlap()}
}

// Get resolves name.
func (r *Registry) Get(name string) (Reranker, error) {
	if name == TermOverlapName {
		return r.overlap, nil
	}
	if r.models == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReranker, name)
	}
	m, err := r.models.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownReranker, name, err)
	}
	return NewLLM(m), nil
}

func limit(nodes []vectorstore.Node, topK int) []vectorstore.Node {
	if topK > 0 && topK < len(nodes) {
		return nodes[:topK]
	}
	return nodes
}
