package notify

import (
	"context"
	"sync"
)

// Notifier is the notification sink collaborator: fire-and-forget message
// delivery to a user's feed. Failures must never abort the transition that
// triggered the notification; callers log and move on.
type Notifier interface {
	Notify(ctx context.Context, userID, kind, title, message string, data map[string]any) error
}

// Nop discards notifications. Used when no sink is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, string, string, map[string]any) error {
	return nil
}

// Recorded is one captured notification, for assertions in tests.
type Recorded struct {
	UserID  string
	Kind    string
	Title   string
	Message string
	Data    map[string]any
}

// Memory records notifications for tests.
type Memory struct {
	mu   sync.Mutex
	sent []Recorded
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Notify(_ context.Context, userID, kind, title, message string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Recorded{UserID: userID, Kind: kind, Title: title, Message: message, Data: data})
	return nil
}

// Sent returns a copy of everything recorded so far.
func (m *Memory) Sent() []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Recorded{}, m.sent...)
}
