// Package permission answers camera-access requests, either from a fixed
// policy or by prompting the user and remembering granted answers.
package permission

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const Camera = "camera"

var ErrPromptNotFound = errors.New("permission prompt not found")

// Gate resolves a camera-access request. onResult is called exactly once,
// possibly before RequestCameraAccess returns.
type Gate interface {
	RequestCameraAccess(onResult func(granted bool))
}

// Store persists granted permissions.
type Store interface {
	IsGranted(name string) (bool, error)
	SetGranted(name string, granted bool) error
	RevokePermission(name string) error
}

// Notifier receives prompt announcements for the user interface.
type Notifier interface {
	Publish(eventType string, data any)
}

// StaticGate answers every request with the same outcome.
type StaticGate struct {
	Granted bool
}

func (g StaticGate) RequestCameraAccess(onResult func(granted bool)) {
	onResult(g.Granted)
}

// Prompt is a pending question to the user.
type Prompt struct {
	ID         string    `json:"id"`
	Permission string    `json:"permission"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type pendingPrompt struct {
	prompt   Prompt
	onResult func(bool)
	timer    *time.Timer
}

// PromptGate asks the user through Notifier unless the permission was
// granted before. Denials are not remembered. A prompt left unanswered for
// timeout counts as a denial.
type PromptGate struct {
	store    Store
	notifier Notifier
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]pendingPrompt
}

func NewPromptGate(store Store, notifier Notifier, timeout time.Duration) *PromptGate {
	return &PromptGate{
		store:    store,
		notifier: notifier,
		timeout:  timeout,
		pending:  make(map[string]pendingPrompt),
	}
}

func (g *PromptGate) RequestCameraAccess(onResult func(granted bool)) {
	granted, err := g.store.IsGranted(Camera)
	if err != nil {
		slog.Warn("permission: failed to read stored grant; prompting", "permission", Camera, "error", err)
	}
	if granted {
		onResult(true)
		return
	}

	now := time.Now()
	prompt := Prompt{
		ID:         uuid.NewString(),
		Permission: Camera,
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.timeout),
	}
	id := prompt.ID
	g.mu.Lock()
	g.pending[id] = pendingPrompt{
		prompt:   prompt,
		onResult: onResult,
		timer:    time.AfterFunc(g.timeout, func() { g.expire(id) }),
	}
	g.mu.Unlock()

	slog.Debug("permission: prompting", "permission", Camera, "prompt_id", prompt.ID)
	if g.notifier != nil {
		g.notifier.Publish("permission.prompt", prompt)
	}
}

// Answer resolves a pending prompt. Each prompt can be answered once.
func (g *PromptGate) Answer(id string, granted bool) error {
	p, ok := g.take(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}

	if granted {
		if err := g.store.SetGranted(p.prompt.Permission, true); err != nil {
			// the answer still counts for this request
			slog.Error("permission: failed to persist grant", "permission", p.prompt.Permission, "error", err)
		}
	}
	if g.notifier != nil {
		g.notifier.Publish("permission.answered", map[string]any{"id": id, "granted": granted})
	}
	p.onResult(granted)
	return nil
}

func (g *PromptGate) expire(id string) {
	p, ok := g.take(id)
	if !ok {
		return
	}
	slog.Info("permission: prompt expired without an answer", "permission", p.prompt.Permission, "prompt_id", id)
	if g.notifier != nil {
		g.notifier.Publish("permission.expired", map[string]any{"id": id})
	}
	p.onResult(false)
}

func (g *PromptGate) take(id string) (pendingPrompt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[id]
	if !ok {
		return pendingPrompt{}, false
	}
	delete(g.pending, id)
	p.timer.Stop()
	return p, true
}

// Pending lists unanswered prompts, oldest first.
func (g *PromptGate) Pending() []Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()

	prompts := make([]Prompt, 0, len(g.pending))
	for _, p := range g.pending {
		prompts = append(prompts, p.prompt)
	}
	sort.Slice(prompts, func(i, j int) bool {
		return prompts[i].CreatedAt.Before(prompts[j].CreatedAt)
	})
	return prompts
}

// Reset forgets a stored camera grant so the next request prompts again.
func (g *PromptGate) Reset() error {
	if err := g.store.RevokePermission(Camera); err != nil {
		return fmt.Errorf("failed to revoke %s permission: %w", Camera, err)
	}
	return nil
}
