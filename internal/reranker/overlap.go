package reranker

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Weights of the combined term-overlap score.
const (
	originalWeight = 0.5
	overlapWeight  = 0.5
)

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true, "from": true,
	"was": true, "are": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true, "how": true,
}

// TermOverlap blends the vector score with the share of query terms each
// node contains.
type TermOverlap struct{}

// NewTermOverlap creates a TermOverlap reranker.
func NewTermOverlap() *TermOverlap {
	return &TermOverlap{}
}

// Rerank implements Reranker. A query without usable terms keeps the
// original order.
func (r *TermOverlap) Rerank(ctx context.Context, query string, nodes []vectorstore.Node, topK int) ([]vectorstore.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]vectorstore.Node, len(nodes))
	copy(out, nodes)

	terms := tokenize(query)
	if len(terms) == 0 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		return limit(out, topK), nil
	}

	for i := range out {
		overlap := termOverlap(terms, tokenize(out[i].Content))
		out[i].Score = originalWeight*out[i].Score + overlapWeight*overlap
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return limit(out, topK), nil
}

// tokenize lowercases text and keeps alphanumeric terms longer than two
// characters that are not stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// termOverlap is the fraction of distinct query terms present in doc.
func termOverlap(query, doc []string) float64 {
	present := make(map[string]bool, len(doc))
	for _, t := range doc {
		present[t] = true
	}
	distinct := make(map[string]bool, len(query))
	matched := 0
	for _, t := range query {
		if distinct[t] {
			continue
		}
		distinct[t] = true
		if present[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(distinct))
}
