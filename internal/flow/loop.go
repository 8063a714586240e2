package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jo-hoe/imagecapture/internal/capture"
	"github.com/jo-hoe/imagecapture/internal/permission"
)

var (
	ErrUnknownFlow = errors.New("unknown flow")
	ErrClosed      = errors.New("event loop is closed")
)

// Observer is called on the loop goroutine after a flow state changed. It must
// not block.
type Observer func(State)

type stateQuery struct {
	kind  Kind
	reply chan State
}

// Loop serializes all events of all flows. Post may be called from any
// goroutine; controllers, the gate and the launcher only ever see the loop
// goroutine.
type Loop struct {
	controllers map[Kind]Controller
	gate        permission.Gate
	launcher    capture.Launcher

	mu        sync.Mutex
	queue     []Event
	closed    bool
	signal    chan struct{}
	queries   chan stateQuery
	observers []Observer
}

func NewLoop(gate permission.Gate, launcher capture.Launcher, controllers ...Controller) *Loop {
	l := &Loop{
		controllers: make(map[Kind]Controller, len(controllers)),
		gate:        gate,
		launcher:    launcher,
		signal:      make(chan struct{}, 1),
		queries:     make(chan stateQuery),
	}
	for _, c := range controllers {
		l.controllers[c.Kind()] = c
	}
	return l
}

// Observe registers fn for state changes.
func (l *Loop) Observe(fn Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Kinds lists the flows the loop drives.
func (l *Loop) Kinds() []Kind {
	kinds := make([]Kind, 0, len(l.controllers))
	for _, k := range []Kind{Temp, Folder} {
		if _, ok := l.controllers[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Press posts a ButtonPressed event for kind.
func (l *Loop) Press(kind Kind) error {
	return l.Post(ButtonPressed{Flow: kind})
}

// Post queues ev. It never blocks.
func (l *Loop) Post(ev Event) error {
	if _, ok := l.controllers[ev.For()]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFlow, ev.For())
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, ev)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return nil
}

// Run processes events until ctx is done. Events still queued at that point
// are dropped.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("flow: event loop started", "flows", l.Kinds())
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		slog.Info("flow: event loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.signal:
			l.RunPending()
		case q := <-l.queries:
			q.reply <- l.controllers[q.kind].State()
		}
	}
}

// RunPending processes queued events on the calling goroutine until the queue
// is empty, including events posted while processing. It returns the number of
// events handled. It must not be used while Run is active.
func (l *Loop) RunPending() int {
	handled := 0
	for {
		ev, ok := l.next()
		if !ok {
			return handled
		}
		l.handle(ev)
		handled++
	}
}

// State returns a snapshot of the state of kind. It is answered by the loop
// goroutine, so Run must be active.
func (l *Loop) State(ctx context.Context, kind Kind) (State, error) {
	if _, ok := l.controllers[kind]; !ok {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownFlow, kind)
	}
	q := stateQuery{kind: kind, reply: make(chan State, 1)}
	select {
	case l.queries <- q:
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case s := <-q.reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (l *Loop) next() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	ev := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return ev, true
}

func (l *Loop) handle(ev Event) {
	c := l.controllers[ev.For()]
	before := c.State().Version
	commands := c.Handle(ev)
	if after := c.State(); after.Version != before {
		l.notify(after)
	}
	for _, cmd := range commands {
		l.dispatch(cmd)
	}
}

func (l *Loop) dispatch(cmd Command) {
	switch cmd := cmd.(type) {
	case PermissionRequest:
		kind := cmd.Flow
		l.gate.RequestCameraAccess(once(func(granted bool) {
			l.postResult(PermissionResult{Flow: kind, Granted: granted})
		}))

	case CaptureRequest:
		result := once(func(success bool) {
			l.postResult(CaptureResult{Flow: cmd.Flow, Target: cmd.Target, Success: success})
		})
		req := capture.Request{Flow: string(cmd.Flow), Target: cmd.Target}
		if err := l.launcher.Launch(req, result); err != nil {
			slog.Error("flow: failed to launch capture", "flow", cmd.Flow, "error", err)
			result(false)
		}
	}
}

func (l *Loop) postResult(ev Event) {
	if err := l.Post(ev); err != nil {
		slog.Debug("flow: dropping result", "flow", ev.For(), "error", err)
	}
}

func (l *Loop) notify(s State) {
	l.mu.Lock()
	observers := append([]Observer(nil), l.observers...)
	l.mu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
}

// once guards callbacks that must fire a single time.
func once(fn func(bool)) func(bool) {
	var o sync.Once
	return func(v bool) {
		o.Do(func() { fn(v) })
	}
}
