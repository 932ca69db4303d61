package querier

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/llm"
)

// HistoryReader reads a session's turns.
type HistoryReader interface {
	Retrieve(ctx context.Context, sessionID int64) ([]chat.Message, error)
}

// Direct answers from the model and the session history, without retrieval.
type Direct struct {
	history HistoryReader
	models  llm.Resolver
}

// NewDirect creates a Direct completer.
func NewDirect(history HistoryReader, models llm.Resolver) (*Direct, error) {
	if history == nil || models == nil {
		return nil, errors.New("history and models are required")
	}
	return &Direct{history: history, models: models}, nil
}

// Complete implements chat.DirectCompleter.
func (d *Direct) Complete(ctx context.Context, sessionID int64, query, modelName string) (string, error) {
	model, err := d.models.Get(modelName)
	if err != nil {
		return "", err
	}
	history, err := d.history.Retrieve(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("retrieving history: %w", err)
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: directSystemPrompt}}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})
	return model.Chat(ctx, messages)
}
