package llm

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/time/rate"
)

const reasoningEndMarker = "</think>"

// StripReasoning removes everything up to and including the last </think>
// marker from m's output. Output without the marker passes through unchanged.
func StripReasoning(m Model) Model {
	return &reasoningStripper{Model: m}
}

type reasoningStripper struct {
	Model
}

func (r *reasoningStripper) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := r.Model.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return stripReasoning(out), nil
}

func (r *reasoningStripper) Chat(ctx context.Context, messages []Message) (string, error) {
	out, err := r.Model.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	return stripReasoning(out), nil
}

func stripReasoning(s string) string {
	idx := strings.LastIndex(s, reasoningEndMarker)
	if idx < 0 {
		return s
	}
	return strings.TrimSpace(s[idx+len(reasoningEndMarker):])
}

// RateLimited bounds calls to m to rps per second with a burst of one
// second's worth of requests.
func RateLimited(m Model, rps float64) Model {
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Model: m, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

type rateLimited struct {
	Model
	limiter *rate.Limiter
}

func (r *rateLimited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return r.Model.Complete(ctx, prompt)
}

func (r *rateLimited) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return r.Model.Chat(ctx, messages)
}
