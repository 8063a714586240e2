package core

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jo-hoe/imagecapture/internal/backend/imaging"
	"github.com/jo-hoe/imagecapture/internal/capture"
	"github.com/jo-hoe/imagecapture/internal/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T, permissionMode, captureMode string) *ServiceConfig {
	t.Helper()
	dir := t.TempDir()
	config := &ServiceConfig{
		Storage: Storage{
			CacheDir: filepath.Join(dir, "cache"),
			FilesDir: filepath.Join(dir, "files"),
		},
		Database: Database{
			Type:             "sqlite",
			ConnectionString: ":memory:",
		},
		Permission:     Permission{Mode: permissionMode},
		Capture:        Capture{Mode: captureMode, Width: 32, Height: 24},
		ThumbnailWidth: 16,
	}
	config.applyDefaults()
	require.NoError(t, config.Validate(), "invalid test config")
	return config
}

func startTestCoreService(t *testing.T, config *ServiceConfig) *CoreService {
	t.Helper()
	svc, err := NewCoreService(config)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		_ = svc.Close()
	})
	return svc
}

func waitForState(t *testing.T, svc *CoreService, kind flow.Kind, cond func(flow.State) bool) flow.State {
	t.Helper()
	var state flow.State
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s, err := svc.FlowState(ctx, kind)
		if err != nil || !cond(s) {
			return false
		}
		state = s
		return true
	}, 5*time.Second, 10*time.Millisecond, "flow %s did not reach the expected state", kind)
	return state
}

// nextEvent reads from a broker subscription until an event of eventType
// arrives and decodes its data into v.
func nextEvent(t *testing.T, ch chan []byte, eventType string, v any) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if !strings.HasPrefix(s, "event: "+eventType+"\n") {
				continue
			}
			_, data, _ := strings.Cut(s, "data: ")
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(data)), v), "failed to decode %s", eventType)
			return
		case <-timeout:
			require.FailNow(t, "timed out waiting for event", eventType)
		}
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 200, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeWidth(t *testing.T, data []byte) int {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err, "expected PNG output")
	return img.Bounds().Dx()
}

func TestCoreService_SimulatedCapture(t *testing.T) {
	svc := startTestCoreService(t, newTestConfig(t, "grant", "simulated"))

	placeholder, err := svc.RenderDisplay(context.Background(), flow.Temp)
	require.NoError(t, err)
	assert.Equal(t, 16, decodeWidth(t, placeholder))

	require.NoError(t, svc.Capture(flow.Temp))
	state := waitForState(t, svc, flow.Temp, func(s flow.State) bool { return !s.Displayed.IsEmpty() })
	assert.Contains(t, string(state.Displayed), "/"+capture.CacheRootName+"/picture_")

	rendered, err := svc.RenderDisplay(context.Background(), flow.Temp)
	require.NoError(t, err)
	assert.Equal(t, 16, decodeWidth(t, rendered))

	require.NoError(t, svc.Capture(flow.Folder))
	folder := waitForState(t, svc, flow.Folder, func(s flow.State) bool { return s.Visible })
	require.NotNil(t, folder.Bitmap)
	assert.Equal(t, 32, folder.Bitmap.Bounds().Dx())
}

func TestCoreService_PromptAndBrowserCapture(t *testing.T) {
	svc := startTestCoreService(t, newTestConfig(t, "prompt", "browser"))
	events := svc.Events().Subscribe()
	defer svc.Events().Unsubscribe(events)

	require.NoError(t, svc.Capture(flow.Folder))

	var prompt struct {
		ID string `json:"id"`
	}
	nextEvent(t, events, "permission.prompt", &prompt)
	pending, err := svc.PendingPrompts()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, prompt.ID, pending[0].ID)
	require.NoError(t, svc.AnswerPrompt(prompt.ID, true))

	var launch capture.Launch
	nextEvent(t, events, "capture.launch", &launch)
	assert.Equal(t, string(flow.Folder), launch.Flow)
	require.NoError(t, svc.DeliverCapture(context.Background(), launch.Token, bytes.NewReader(pngBytes(t, 40, 30))))
	state := waitForState(t, svc, flow.Folder, func(s flow.State) bool { return s.Visible && s.Bitmap != nil })
	assert.Equal(t, 40, state.Bitmap.Bounds().Dx())

	permissions, err := svc.Permissions()
	require.NoError(t, err)
	require.Len(t, permissions, 1, "expected a remembered camera grant")
	assert.True(t, permissions[0].Granted)

	// the remembered grant skips the prompt
	require.NoError(t, svc.Capture(flow.Temp))
	nextEvent(t, events, "capture.launch", &launch)
	require.NoError(t, svc.CancelCapture(context.Background(), launch.Token))
	temp := waitForState(t, svc, flow.Temp, func(s flow.State) bool { return s.Version >= 2 && s.Pending.IsEmpty() })
	assert.True(t, temp.Displayed.IsEmpty(), "cancelled capture must not display anything")

	require.NoError(t, svc.ResetCameraPermission())
	permissions, err = svc.Permissions()
	require.NoError(t, err)
	assert.Empty(t, permissions)
}

func TestCoreService_DisabledSurfaces(t *testing.T) {
	svc := startTestCoreService(t, newTestConfig(t, "deny", "simulated"))

	_, err := svc.PendingPrompts()
	assert.ErrorIs(t, err, ErrPromptsDisabled)
	assert.ErrorIs(t, svc.DeliverCapture(context.Background(), "token", bytes.NewReader(nil)), ErrBrowserDisabled)

	require.NoError(t, svc.Capture(flow.Temp))
	time.Sleep(50 * time.Millisecond)
	state := waitForState(t, svc, flow.Temp, func(flow.State) bool { return true })
	assert.Zero(t, state.Version, "denied capture must not change state")
	assert.True(t, state.Displayed.IsEmpty())
}

func TestNewCoreService_InvalidDisplay(t *testing.T) {
	config := newTestConfig(t, "grant", "simulated")
	config.Display = append(config.Display, imaging.CommandConfig{Name: "UnknownCommand"})
	_, err := NewCoreService(config)
	assert.Error(t, err)
}

func TestNewCoreService_RedisGrantStore(t *testing.T) {
	mr := miniredis.RunT(t)
	config := newTestConfig(t, "grant", "browser")
	config.Grants.Type = "redis"
	config.Grants.Address = mr.Addr()

	svc, err := NewCoreService(config)
	require.NoError(t, err)
	require.NoError(t, svc.Close())
}

func TestNewCoreService_UnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	config := newTestConfig(t, "grant", "browser")
	config.Grants.Type = "redis"
	config.Grants.Address = addr

	svc, err := NewCoreService(config)
	assert.Error(t, err)
	assert.Nil(t, svc)
}
