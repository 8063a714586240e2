package flow

import (
	"fmt"
	"image"
	"io"
	"log/slog"

	"github.com/jo-hoe/imagecapture/internal/backend/imaging"
	"github.com/jo-hoe/imagecapture/internal/provider"
)

// State is what a flow shows. It is replaced as a whole on every change.
type State struct {
	Flow Kind `json:"flow"`
	// Displayed is the reference currently on screen; empty shows nothing.
	Displayed provider.ImageReference `json:"displayed"`
	// Pending is the target handed to the capture activity.
	Pending provider.ImageReference `json:"pending"`
	// Visible is the folder flow's show flag.
	Visible bool `json:"visible"`
	// Bitmap is the folder flow's eagerly decoded picture.
	Bitmap  image.Image `json:"-"`
	Err     string      `json:"error,omitempty"`
	Version uint64      `json:"version"`
}

// Controller owns the state of one flow.
type Controller interface {
	Kind() Kind
	State() State
	Handle(ev Event) []Command
}

// Minter creates capture targets.
type Minter interface {
	Mint() (provider.ImageReference, error)
}

// Opener reads referenced files.
type Opener interface {
	Open(ref provider.ImageReference) (io.ReadCloser, error)
}

type controller struct {
	kind      Kind
	minter    Minter
	state     State
	onSuccess func(current State, target provider.ImageReference) State
}

// NewTempController shows captures by reference; decoding is left to the
// render layer.
func NewTempController(minter Minter) Controller {
	return &controller{
		kind:   Temp,
		minter: minter,
		state:  State{Flow: Temp},
		onSuccess: func(current State, target provider.ImageReference) State {
			current.Displayed = target
			return current
		},
	}
}

// NewFolderController decodes the captured file into a bitmap as soon as the
// capture succeeds. The decode runs on the loop goroutine and blocks it. A
// picture that cannot be decoded leaves the display as it was.
func NewFolderController(minter Minter, opener Opener) Controller {
	return &controller{
		kind:   Folder,
		minter: minter,
		state:  State{Flow: Folder},
		onSuccess: func(current State, target provider.ImageReference) State {
			bitmap, err := decodeReference(opener, target)
			if err != nil {
				slog.Error("flow: failed to decode captured picture", "flow", Folder, "ref", target, "error", err)
				current.Err = err.Error()
				return current
			}
			current.Visible = true
			current.Displayed = target
			current.Bitmap = bitmap
			return current
		},
	}
}

func (c *controller) Kind() Kind {
	return c.kind
}

func (c *controller) State() State {
	return c.state
}

func (c *controller) Handle(ev Event) []Command {
	switch e := ev.(type) {
	case ButtonPressed:
		return []Command{PermissionRequest{Flow: c.kind}}

	case PermissionResult:
		if !e.Granted {
			slog.Info("flow: camera permission is denied", "flow", c.kind)
			return nil
		}
		next := c.state
		target, err := c.minter.Mint()
		if err != nil {
			slog.Error("flow: failed to create capture target", "flow", c.kind, "error", err)
			next.Pending = provider.Empty
			next.Err = err.Error()
			c.replace(next)
			return nil
		}
		next.Pending = target
		next.Err = ""
		c.replace(next)
		return []Command{CaptureRequest{Flow: c.kind, Target: target}}

	case CaptureResult:
		if e.Target.IsEmpty() || e.Target != c.state.Pending {
			slog.Debug("flow: ignoring result for stale target", "flow", c.kind, "ref", e.Target)
			return nil
		}
		slog.Info("flow: capture finished", "flow", c.kind, "success", e.Success, "ref", e.Target)
		next := c.state
		next.Pending = provider.Empty
		if e.Success {
			next = c.onSuccess(next, e.Target)
		}
		c.replace(next)
		return nil

	default:
		slog.Warn("flow: unsupported event", "flow", c.kind, "event", fmt.Sprintf("%T", ev))
		return nil
	}
}

func (c *controller) replace(next State) {
	next.Version = c.state.Version + 1
	c.state = next
}

func decodeReference(opener Opener, ref provider.ImageReference) (image.Image, error) {
	r, err := opener.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", ref, err)
	}
	defer func() {
		_ = r.Close()
	}()
	img, _, err := imaging.Decode(r)
	return img, err
}
