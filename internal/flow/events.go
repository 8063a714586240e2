// Package flow holds the two capture flows and the event loop that drives
// them. Every state change happens on the loop goroutine in response to one
// event; permission and capture outcomes come back as events.
package flow

import (
	"fmt"

	"github.com/jo-hoe/imagecapture/internal/provider"
)

// Kind names a flow.
type Kind string

const (
	Temp   Kind = "temp"
	Folder Kind = "folder"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Temp, Folder:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFlow, s)
	}
}

// Event is an input to a flow.
type Event interface {
	For() Kind
}

// ButtonPressed starts a capture.
type ButtonPressed struct {
	Flow Kind
}

// PermissionResult answers a PermissionRequest.
type PermissionResult struct {
	Flow    Kind
	Granted bool
}

// CaptureResult answers a CaptureRequest for Target.
type CaptureResult struct {
	Flow    Kind
	Target  provider.ImageReference
	Success bool
}

func (e ButtonPressed) For() Kind    { return e.Flow }
func (e PermissionResult) For() Kind { return e.Flow }
func (e CaptureResult) For() Kind    { return e.Flow }

// Command is an output of a flow, executed by the loop.
type Command interface {
	command()
}

// PermissionRequest asks the gate for camera access.
type PermissionRequest struct {
	Flow Kind
}

// CaptureRequest asks the capture activity to write a photo to Target.
type CaptureRequest struct {
	Flow   Kind
	Target provider.ImageReference
}

func (PermissionRequest) command() {}
func (CaptureRequest) command()    {}
