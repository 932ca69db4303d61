// Package llm provides named completion models for chat, condensing and judging.
//
// Each configured model is built on langchaingo for its provider and then
// decorated: reasoning output is stripped for models flagged as reasoning
// models, and a token-bucket limiter is applied when requests_per_second is set.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

var (
	// ErrUnknownModel is returned when no model is registered under a name.
	ErrUnknownModel = errors.New("unknown inference model")

	// ErrInvalidConfig indicates a model entry cannot be built.
	ErrInvalidConfig = errors.New("invalid model configuration")

	// ErrEmptyResponse is returned when a provider answers with no choices.
	ErrEmptyResponse = errors.New("model returned no choices")
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat exchange.
type Message struct {
	Role    Role
	Content string
}

// Model completes prompts and chat exchanges.
type Model interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Resolver looks up a model by name.
type Resolver interface {
	Get(name string) (Model, error)
}

// Registry holds the configured inference models.
type Registry struct {
	models map[string]Model
}

// NewRegistry builds and decorates one model per config entry.
func NewRegistry(cfgs []config.ModelConfig, logger *logging.Logger) (*Registry, error) {
	metrics := NewMetrics(logger)
	r := &Registry{models: make(map[string]Model, len(cfgs))}
	for _, cfg := range cfgs {
		m, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", cfg.Name, err)
		}
		r.models[cfg.Name] = Decorate(m, cfg, metrics)
		logger.Debug(context.Background(), "registered inference model",
			zap.String("name", cfg.Name),
			zap.String("provider", cfg.Provider),
			zap.Bool("reasoning", cfg.Reasoning),
			zap.Float64("requests_per_second", cfg.RequestsPerSecond),
		)
	}
	return r, nil
}

// NewStaticRegistry registers already-built models.
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

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decorate applies the decorators cfg asks for. Metrics are outermost so
// that recorded latency includes time spent waiting on the limiter.
func Decorate(m Model, cfg config.ModelConfig, metrics *Metrics) Model {
	if cfg.Reasoning {
		m = StripReasoning(m)
	}
	if cfg.RequestsPerSecond > 0 {
		m = RateLimited(m, cfg.RequestsPerSecond)
	}
	return Instrument(m, metrics)
}

// New builds the undecorated provider model for cfg.
func New(cfg config.ModelConfig) (Model, error) {
	var client llms.Model
	switch cfg.Provider {
	case "openai", "":
		token := "placeholder"
		if cfg.APIKey.IsSet() {
			token = cfg.APIKey.Value()
		}
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(token)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		c, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		client = c
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		c, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}
		client = c
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	return &langchainModel{name: cfg.Name, llm: client}, nil
}

type langchainModel struct {
	name string
	llm  llms.Model
}

func (m *langchainModel) Name() string { return m.name }

func (m *langchainModel) Complete(ctx context.Context, prompt string) (string, error) {
	return m.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}})
}

func (m *langchainModel) Chat(ctx context.Context, messages []Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(chatMessageType(msg.Role), msg.Content))
	}

	resp, err := m.llm.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", m.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", m.name, ErrEmptyResponse)
	}
	return resp.Choices[0].Content, nil
}

func chatMessageType(r Role) schema.ChatMessageType {
	switch r {
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	case RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
