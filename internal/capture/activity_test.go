package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/imagecapture/internal/backend/grants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	launches []Launch
	expired  []Expired
}

func (n *recordingNotifier) Publish(eventType string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch v := data.(type) {
	case Launch:
		n.launches = append(n.launches, v)
	case Expired:
		n.expired = append(n.expired, v)
	}
}

func (n *recordingNotifier) expiredTokens() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var tokens []string
	for _, e := range n.expired {
		tokens = append(tokens, e.Token)
	}
	return tokens
}

type outcome struct {
	mu    sync.Mutex
	calls []bool
}

func (o *outcome) callback() func(bool) {
	return func(success bool) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.calls = append(o.calls, success)
	}
}

func (o *outcome) results() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.calls...)
}

func sessionCount(a *BrowserActivity) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func TestBrowserActivity_Deliver(t *testing.T) {
	ctx := context.Background()
	p, _, images := newTestProvider(t)
	store := grants.NewMemoryStore(nil)
	notifier := &recordingNotifier{}
	activity := NewBrowserActivity(p, store, notifier, time.Minute)

	target, err := NewMinter(p, FolderPolicy(images)).Mint()
	require.NoError(t, err)

	var o outcome
	require.NoError(t, activity.Launch(Request{Flow: "folder", Target: target}, o.callback()))
	require.Len(t, notifier.launches, 1)
	token := notifier.launches[0].Token

	assert.Equal(t, "folder", notifier.launches[0].Flow)
	assert.Equal(t, 1, sessionCount(activity))

	require.NoError(t, activity.Deliver(ctx, token, bytes.NewReader([]byte("jpeg bytes"))))
	assert.Equal(t, []bool{true}, o.results())
	assert.Zero(t, sessionCount(activity))

	data, err := os.ReadFile(filepath.Join(images, FolderPictureName))
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	// the grant is single use
	_, err = store.Lookup(ctx, token)
	assert.ErrorIs(t, err, grants.ErrGrantNotFound)
	err = activity.Deliver(ctx, token, bytes.NewReader([]byte("again")))
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.Equal(t, []bool{true}, o.results())
}

func TestBrowserActivity_Cancel(t *testing.T) {
	ctx := context.Background()
	p, cache, _ := newTestProvider(t)
	notifier := &recordingNotifier{}
	activity := NewBrowserActivity(p, grants.NewMemoryStore(nil), notifier, time.Minute)

	target, err := NewMinter(p, TempPolicy(cache, nil)).Mint()
	require.NoError(t, err)

	var o outcome
	require.NoError(t, activity.Launch(Request{Flow: "temp", Target: target}, o.callback()))
	token := notifier.launches[0].Token

	require.NoError(t, activity.Cancel(ctx, token))
	assert.Equal(t, []bool{false}, o.results())
	assert.ErrorIs(t, activity.Cancel(ctx, token), ErrUnknownSession)
}

func TestBrowserActivity_ExpiredGrantFails(t *testing.T) {
	ctx := context.Background()
	p, cache, _ := newTestProvider(t)
	now := time.Unix(1000, 0)
	store := grants.NewMemoryStore(func() time.Time { return now })
	notifier := &recordingNotifier{}
	activity := NewBrowserActivity(p, store, notifier, time.Second)

	target, err := NewMinter(p, TempPolicy(cache, nil)).Mint()
	require.NoError(t, err)

	var o outcome
	require.NoError(t, activity.Launch(Request{Flow: "temp", Target: target}, o.callback()))
	now = now.Add(2 * time.Second)

	err = activity.Deliver(ctx, notifier.launches[0].Token, bytes.NewReader([]byte("late")))
	assert.ErrorIs(t, err, grants.ErrGrantNotFound)
	assert.Equal(t, []bool{false}, o.results())
}

func TestBrowserActivity_UnansweredLaunchExpires(t *testing.T) {
	ctx := context.Background()
	p, cache, _ := newTestProvider(t)
	store := grants.NewMemoryStore(nil)
	notifier := &recordingNotifier{}
	activity := NewBrowserActivity(p, store, notifier, 20*time.Millisecond)

	target, err := NewMinter(p, TempPolicy(cache, nil)).Mint()
	require.NoError(t, err)

	var o outcome
	require.NoError(t, activity.Launch(Request{Flow: "temp", Target: target}, o.callback()))
	token := notifier.launches[0].Token

	require.Eventually(t, func() bool {
		return len(o.results()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{false}, o.results())
	assert.Equal(t, []string{token}, notifier.expiredTokens())
	assert.Zero(t, sessionCount(activity))

	// a late answer cannot resolve the launch a second time
	assert.ErrorIs(t, activity.Deliver(ctx, token, bytes.NewReader([]byte("late"))), ErrUnknownSession)
	assert.ErrorIs(t, activity.Cancel(ctx, token), ErrUnknownSession)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []bool{false}, o.results())
	_, err = store.Lookup(ctx, token)
	assert.ErrorIs(t, err, grants.ErrGrantNotFound)
}

func TestBrowserActivity_AnsweredLaunchDoesNotExpire(t *testing.T) {
	ctx := context.Background()
	p, cache, _ := newTestProvider(t)
	notifier := &recordingNotifier{}
	activity := NewBrowserActivity(p, grants.NewMemoryStore(nil), notifier, 30*time.Millisecond)

	target, err := NewMinter(p, TempPolicy(cache, nil)).Mint()
	require.NoError(t, err)

	var o outcome
	require.NoError(t, activity.Launch(Request{Flow: "temp", Target: target}, o.callback()))
	require.NoError(t, activity.Deliver(ctx, notifier.launches[0].Token, bytes.NewReader([]byte("frame"))))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []bool{true}, o.results())
	assert.Empty(t, notifier.expiredTokens())
}

func TestSimulatedActivity(t *testing.T) {
	p, cache, _ := newTestProvider(t)
	target, err := NewMinter(p, TempPolicy(cache, nil)).Mint()
	require.NoError(t, err)

	var o outcome
	activity := NewSimulatedActivity(p, func() ([]byte, error) { return []byte("frame"), nil })
	require.NoError(t, activity.Launch(Request{Flow: "temp", Target: target}, o.callback()))
	assert.Equal(t, []bool{true}, o.results())

	path, err := p.Resolve(target)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "frame", string(data))

	failing := NewSimulatedActivity(p, func() ([]byte, error) { return nil, errors.New("lens cap on") })
	require.NoError(t, failing.Launch(Request{Flow: "temp", Target: target}, o.callback()))
	assert.Equal(t, []bool{true, false}, o.results())
}

func TestPatternSource(t *testing.T) {
	source := PatternSource(16, 8)
	first, err := source()
	require.NoError(t, err)
	second, err := source()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("photo"), 0o644))

	data, err := FileSource(path)()
	require.NoError(t, err)
	assert.Equal(t, "photo", string(data))

	_, err = FileSource(filepath.Join(t.TempDir(), "missing.jpg"))()
	assert.Error(t, err)
}
