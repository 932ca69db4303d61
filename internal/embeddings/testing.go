package embeddings

import (
	"context"
	"hash/fnv"
	"sync"
)

// FakeModel is a deterministic in-process Model for tests.
//
// Equal texts map to equal vectors. Set Err to make every call fail.
type FakeModel struct {
	ModelName string
	Dim       int
	Err       error

	mu    sync.Mutex
	calls []string
}

// Name implements Model.
func (f *FakeModel) Name() string { return f.ModelName }

// EmbedDocuments implements Model.
func (f *FakeModel) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.record(texts...)
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

// EmbedQuery implements Model.
func (f *FakeModel) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.record(text)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.vector(text), nil
}

// Calls returns every text embedded so far.
func (f *FakeModel) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeModel) record(texts ...string) {
	f.mu.Lock()
	f.calls = append(f.calls, texts...)
	f.mu.Unlock()
}

func (f *FakeModel) vector(text string) []float32 {
	dim := f.Dim
	if dim <= 0 {
		dim = 4
	}
	v := make([]float32, dim)
	for i := range v {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(i)})
		_, _ = h.Write([]byte(text))
		v[i] = float32(h.Sum32()%1000) / 1000
	}
	return v
}
