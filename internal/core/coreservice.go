package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jo-hoe/imagecapture/internal/backend/database"
	"github.com/jo-hoe/imagecapture/internal/backend/grants"
	"github.com/jo-hoe/imagecapture/internal/backend/imaging"
	"github.com/jo-hoe/imagecapture/internal/backend/watcher"
	"github.com/jo-hoe/imagecapture/internal/capture"
	"github.com/jo-hoe/imagecapture/internal/flow"
	"github.com/jo-hoe/imagecapture/internal/permission"
	"github.com/jo-hoe/imagecapture/internal/provider"
	"github.com/jo-hoe/imagecapture/internal/sse"
	"golang.org/x/sync/errgroup"
)

const EventFlowState = "flow.state"

var (
	ErrPromptsDisabled = errors.New("permission prompts are disabled")
	ErrBrowserDisabled = errors.New("browser capture is disabled")
)

type CoreService struct {
	config          *ServiceConfig
	provider        *provider.FileProvider
	databaseService database.DatabaseService
	grantStore      grants.Store
	broker          *sse.Broker
	prompts         *permission.PromptGate
	browser         *capture.BrowserActivity
	loop            *flow.Loop
	preview         *imaging.Preview
}

func NewCoreService(config *ServiceConfig) (*CoreService, error) {
	fileProvider, err := provider.NewFileProvider(config.Authority,
		provider.Root{Name: capture.CacheRootName, Dir: config.Storage.CacheDir},
		provider.Root{Name: capture.ImagesRootName, Dir: config.ImagesDir()},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register file provider: %w", err)
	}

	preview, err := newPreview(config)
	if err != nil {
		return nil, err
	}

	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}

	grantStore, err := grants.NewStore(config.Grants.Type, grants.Options{
		Address:  config.Grants.Address,
		Password: config.Grants.Password,
		DB:       config.Grants.DB,
	})
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize grant store: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = grantStore.Ping(pingCtx)
	cancel()
	if err != nil {
		_ = grantStore.Close()
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to reach %s grant store: %w", config.Grants.Type, err)
	}

	service := &CoreService{
		config:          config,
		provider:        fileProvider,
		databaseService: databaseService,
		grantStore:      grantStore,
		broker:          sse.NewBroker(config.EventsKeepAlive),
		preview:         preview,
	}

	var gate permission.Gate
	switch config.Permission.Mode {
	case "grant":
		gate = permission.StaticGate{Granted: true}
	case "deny":
		gate = permission.StaticGate{Granted: false}
	default:
		service.prompts = permission.NewPromptGate(databaseService, service.broker, config.Permission.Timeout)
		gate = service.prompts
	}

	var launcher capture.Launcher
	switch config.Capture.Mode {
	case "simulated":
		source := capture.PatternSource(config.Capture.Width, config.Capture.Height)
		if config.Capture.SimulatedImage != "" {
			source = capture.FileSource(config.Capture.SimulatedImage)
		}
		launcher = capture.NewSimulatedActivity(fileProvider, source)
	default:
		service.browser = capture.NewBrowserActivity(fileProvider, grantStore, service.broker, config.Grants.TTL)
		launcher = service.browser
	}

	service.loop = flow.NewLoop(gate, launcher,
		flow.NewTempController(capture.NewMinter(fileProvider, capture.TempPolicy(config.Storage.CacheDir, time.Now))),
		flow.NewFolderController(capture.NewMinter(fileProvider, capture.FolderPolicy(config.ImagesDir())), fileProvider),
	)
	service.loop.Observe(func(s flow.State) {
		service.broker.Publish(EventFlowState, s)
	})

	slog.Info("core service initialized",
		"authority", config.Authority,
		"permission_mode", config.Permission.Mode,
		"capture_mode", config.Capture.Mode,
		"grant_store", config.Grants.Type,
		"display_commands", preview.Names())
	return service, nil
}

// Run drives the event loop and the file watcher until ctx is cancelled or one
// of them fails.
func (service *CoreService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.loop.Run(ctx)
	})
	g.Go(func() error {
		return watcher.Watch(ctx, service.provider, service.broker, 100*time.Millisecond)
	})
	return g.Wait()
}

func (service *CoreService) Close() error {
	service.broker.Close()
	return errors.Join(service.grantStore.Close(), service.databaseService.Close())
}

func (service *CoreService) Config() *ServiceConfig {
	return service.config
}

func (service *CoreService) Provider() *provider.FileProvider {
	return service.provider
}

func (service *CoreService) Events() *sse.Broker {
	return service.broker
}

func (service *CoreService) Flows() []flow.Kind {
	return service.loop.Kinds()
}

// Capture presses the capture button of a flow.
func (service *CoreService) Capture(kind flow.Kind) error {
	return service.loop.Press(kind)
}

func (service *CoreService) FlowState(ctx context.Context, kind flow.Kind) (flow.State, error) {
	return service.loop.State(ctx, kind)
}

// RenderDisplay returns the PNG a flow currently shows, or the placeholder
// when it shows nothing. The temp flow decodes its reference here; the folder
// flow renders the bitmap it decoded when the capture finished.
func (service *CoreService) RenderDisplay(ctx context.Context, kind flow.Kind) ([]byte, error) {
	state, err := service.loop.State(ctx, kind)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch {
	case state.Bitmap != nil && state.Visible:
		data, err = imaging.EncodePNG(state.Bitmap)
	case kind == flow.Temp && !state.Displayed.IsEmpty():
		data, err = service.readReference(state.Displayed)
	}
	if err != nil {
		slog.Warn("core: failed to load displayed picture", "flow", kind, "ref", state.Displayed, "error", err)
	}
	if err != nil || len(data) == 0 {
		return service.placeholder()
	}

	rendered, err := service.preview.Execute(data)
	if err != nil {
		slog.Warn("core: failed to render displayed picture", "flow", kind, "ref", state.Displayed, "error", err)
		return service.placeholder()
	}
	return rendered, nil
}

func (service *CoreService) PendingPrompts() ([]permission.Prompt, error) {
	if service.prompts == nil {
		return nil, ErrPromptsDisabled
	}
	return service.prompts.Pending(), nil
}

func (service *CoreService) AnswerPrompt(id string, granted bool) error {
	if service.prompts == nil {
		return ErrPromptsDisabled
	}
	return service.prompts.Answer(id, granted)
}

// ResetCameraPermission forgets a remembered camera grant.
func (service *CoreService) ResetCameraPermission() error {
	if service.prompts == nil {
		return ErrPromptsDisabled
	}
	return service.prompts.Reset()
}

func (service *CoreService) Permissions() ([]*database.PermissionRecord, error) {
	return service.databaseService.GetPermissions()
}

// DeliverCapture writes the photo uploaded for a grant token.
func (service *CoreService) DeliverCapture(ctx context.Context, token string, photo io.Reader) error {
	if service.browser == nil {
		return ErrBrowserDisabled
	}
	return service.browser.Deliver(ctx, token, photo)
}

func (service *CoreService) CancelCapture(ctx context.Context, token string) error {
	if service.browser == nil {
		return ErrBrowserDisabled
	}
	return service.browser.Cancel(ctx, token)
}

func (service *CoreService) readReference(ref provider.ImageReference) ([]byte, error) {
	r, err := service.provider.Open(ref)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (service *CoreService) placeholder() ([]byte, error) {
	width := service.config.ThumbnailWidth
	height := width * 3 / 4
	if width == 0 {
		width, height = 96, 96
	}
	return imaging.Placeholder(width, height)
}

func newPreview(config *ServiceConfig) (*imaging.Preview, error) {
	commands := append([]imaging.CommandConfig(nil), config.Display...)
	if config.ThumbnailWidth > 0 {
		commands = append(commands, imaging.CommandConfig{
			Name:   "PixelScaleCommand",
			Params: map[string]any{"width": config.ThumbnailWidth},
		})
	}
	preview, err := imaging.NewPreview(imaging.DefaultRegistry, commands)
	if err != nil {
		return nil, fmt.Errorf("failed to build display pipeline: %w", err)
	}
	return preview, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}
