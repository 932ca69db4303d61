package llm

import (
	"context"
	"sync"
)

// FakeModel is a scripted Model for tests.
//
// Respond, when set, computes the reply from the full message list. Otherwise
// Reply is returned. Err makes every call fail.
type FakeModel struct {
	ModelName string
	Reply     string
	Respond   func(messages []Message) string
	Err       error

	mu    sync.Mutex
	calls [][]Message
}

// Name implements Model.
func (f *FakeModel) Name() string { return f.ModelName }

// Complete implements Model.
func (f *FakeModel) Complete(ctx context.Context, prompt string) (string, error) {
	return f.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}})
}

// Chat implements Model.
func (f *FakeModel) Chat(ctx context.Context, messages []Message) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]Message(nil), messages...))
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Err != nil {
		return "", f.Err
	}
	if f.Respond != nil {
		return f.Respond(messages), nil
	}
	return f.Reply, nil
}

// Calls returns the message lists received so far.
func (f *FakeModel) Calls() [][]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]Message(nil), f.calls...)
}

// LastPrompt returns the content of the final message of the latest call.
func (f *FakeModel) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	last := f.calls[len(f.calls)-1]
	if len(last) == 0 {
		return ""
	}
	return last[len(last)-1].Content
}
