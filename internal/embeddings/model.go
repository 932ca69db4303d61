package embeddings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

var (
	// ErrUnknownModel is returned when no model is registered under a name.
	ErrUnknownModel = errors.New("unknown embedding model")

	// ErrInvalidConfig indicates an embedding model entry cannot be built.
	ErrInvalidConfig = errors.New("invalid embedding configuration")

	// ErrEmptyEmbedding is returned when a provider answers with no vectors.
	ErrEmptyEmbedding = errors.New("provider returned no embedding")
)

// Model embeds documents and queries.
type Model interface {
	// Name is the registry name, not the provider-side model id.
	Name() string
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Resolver looks up a model by name.
type Resolver interface {
	Get(name string) (Model, error)
}

// Registry holds the configured embedding models.
type Registry struct {
	models  map[string]Model
	closers []io.Closer
}

// NewRegistry builds one model per config entry and wraps each with metrics.
func NewRegistry(cfgs []config.ModelConfig, logger *logging.Logger) (*Registry, error) {
	metrics := NewMetrics(logger)
	r := &Registry{models: make(map[string]Model, len(cfgs))}
	for _, cfg := range cfgs {
		m, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("embedding model %q: %w", cfg.Name, err)
		}
		if c, ok := m.(io.Closer); ok {
			r.closers = append(r.closers, c)
		}
		r.models[cfg.Name] = Instrument(m, metrics)
		logger.Debug(context.Background(), "registered embedding model",
			zap.String("name", cfg.Name),
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
		)
	}
	return r, nil
}

// NewStaticRegistry registers already-built models. Used by tests and by
// callers that construct models themselves.
func NewStaticRegistry(models ...Model) *Registry {
	r := &Registry{models: make(map[string]Model, len(models))}
	for _, m := range models {
		r.models[m.Name()] = m
	}
	return r
}

// Get returns the model registered under name.
func (r *Registry) Get(name string) (Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return m, nil
}

// Close releases models that hold local resources.
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a single model for cfg.
func New(cfg config.ModelConfig) (Model, error) {
	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case "openai", "":
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithToken(tokenOrPlaceholder(cfg.APIKey)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		client = llm
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}
		client = llm
	case "fastembed":
		return newFastEmbed(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &langchainModel{name: cfg.Name, embedder: embedder}, nil
}

// Local inference servers accept any token, but the openai client refuses to
// start without one.
func tokenOrPlaceholder(s config.Secret) string {
	if s.IsSet() {
		return s.Value()
	}
	return "placeholder"
}

type langchainModel struct {
	name     string
	embedder embeddings.Embedder
}

func (m *langchainModel) Name() string { return m.name }

func (m *langchainModel) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d documents with %s: %w", len(texts), m.name, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmptyEmbedding, len(texts), len(vectors))
	}
	return vectors, nil
}

func (m *langchainModel) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := m.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query with %s: %w", m.name, err)
	}
	if len(vector) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vector, nil
}
