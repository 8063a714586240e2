package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/imagecapture/internal/backend/grants"
	"github.com/jo-hoe/imagecapture/internal/provider"
)

var ErrUnknownSession = errors.New("capture session not found")

// Request asks the capture activity to fill Target with a new photo.
type Request struct {
	Flow   string
	Target provider.ImageReference
}

// Launcher starts the capture activity. onResult is called exactly once with
// the outcome, possibly from another goroutine.
type Launcher interface {
	Launch(req Request, onResult func(success bool)) error
}

// Notifier receives launch announcements for the user interface.
type Notifier interface {
	Publish(eventType string, data any)
}

// Launch is the announcement a browser needs to open its camera.
type Launch struct {
	Flow      string    `json:"flow"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired tells the user interface that a launch ran out of time.
type Expired struct {
	Flow  string `json:"flow"`
	Token string `json:"token"`
}

type session struct {
	request  Request
	onResult func(bool)
	timer    *time.Timer
}

// BrowserActivity hands the capture to the browser. The browser receives a
// grant token and either delivers the photo bytes or cancels. A session that
// gets neither before its grant expires fails.
type BrowserActivity struct {
	provider *provider.FileProvider
	grants   grants.Store
	notifier Notifier
	ttl      time.Duration

	mu       sync.Mutex
	sessions map[string]session
}

func NewBrowserActivity(p *provider.FileProvider, store grants.Store, notifier Notifier, ttl time.Duration) *BrowserActivity {
	return &BrowserActivity{
		provider: p,
		grants:   store,
		notifier: notifier,
		ttl:      ttl,
		sessions: make(map[string]session),
	}
}

func (a *BrowserActivity) Launch(req Request, onResult func(success bool)) error {
	grant, err := a.grants.Issue(context.Background(), req.Target, a.ttl)
	if err != nil {
		return fmt.Errorf("failed to grant access to capture target: %w", err)
	}

	token := grant.Token
	a.mu.Lock()
	a.sessions[token] = session{
		request:  req,
		onResult: onResult,
		timer:    time.AfterFunc(a.ttl, func() { a.expire(token) }),
	}
	a.mu.Unlock()

	slog.Debug("capture: launched browser activity", "flow", req.Flow, "ref", req.Target)
	if a.notifier != nil {
		a.notifier.Publish("capture.launch", Launch{Flow: req.Flow, Token: grant.Token, ExpiresAt: grant.ExpiresAt})
	}
	return nil
}

// Deliver writes the photo to the granted target and reports success. A
// failed write reports failure. Either way the session ends.
func (a *BrowserActivity) Deliver(ctx context.Context, token string, photo io.Reader) error {
	s, err := a.take(token)
	if err != nil {
		return err
	}
	ref, err := a.grants.Lookup(ctx, token)
	a.revoke(ctx, token)
	if err != nil {
		s.onResult(false)
		return err
	}

	if ref != s.request.Target {
		s.onResult(false)
		return fmt.Errorf("grant does not match capture target")
	}
	if err := writeTo(a.provider, ref, photo); err != nil {
		s.onResult(false)
		return err
	}
	s.onResult(true)
	return nil
}

// Cancel ends the session with a failure result.
func (a *BrowserActivity) Cancel(ctx context.Context, token string) error {
	s, err := a.take(token)
	if err != nil {
		return err
	}
	a.revoke(ctx, token)
	s.onResult(false)
	return nil
}

func (a *BrowserActivity) expire(token string) {
	s, err := a.take(token)
	if err != nil {
		// answered in time
		return
	}
	slog.Info("capture: browser did not answer before the grant expired", "flow", s.request.Flow, "ref", s.request.Target)
	a.revoke(context.Background(), token)
	if a.notifier != nil {
		a.notifier.Publish("capture.expired", Expired{Flow: s.request.Flow, Token: token})
	}
	s.onResult(false)
}

func (a *BrowserActivity) take(token string) (session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[token]
	if !ok {
		return session{}, fmt.Errorf("%w: %s", ErrUnknownSession, token)
	}
	delete(a.sessions, token)
	s.timer.Stop()
	return s, nil
}

func (a *BrowserActivity) revoke(ctx context.Context, token string) {
	if err := a.grants.Revoke(ctx, token); err != nil {
		slog.Warn("capture: failed to revoke grant", "error", err)
	}
}

// Source produces the bytes of one simulated photo.
type Source func() ([]byte, error)

// SimulatedActivity plays the camera without a user: every launch writes the
// next frame from source and succeeds. A source error reports failure.
type SimulatedActivity struct {
	provider *provider.FileProvider
	source   Source
}

func NewSimulatedActivity(p *provider.FileProvider, source Source) *SimulatedActivity {
	return &SimulatedActivity{provider: p, source: source}
}

func (a *SimulatedActivity) Launch(req Request, onResult func(success bool)) error {
	data, err := a.source()
	if err != nil {
		slog.Info("capture: simulated camera failed", "flow", req.Flow, "error", err)
		onResult(false)
		return nil
	}
	if err := writeTo(a.provider, req.Target, bytes.NewReader(data)); err != nil {
		slog.Error("capture: simulated camera could not write target", "flow", req.Flow, "error", err)
		onResult(false)
		return nil
	}
	onResult(true)
	return nil
}

func writeTo(p *provider.FileProvider, ref provider.ImageReference, r io.Reader) error {
	w, err := p.Create(ref)
	if err != nil {
		return fmt.Errorf("failed to open capture target: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write capture target: %w", err)
	}
	return w.Close()
}
