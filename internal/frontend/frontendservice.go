package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jo-hoe/imagecapture/internal/core"
	"github.com/jo-hoe/imagecapture/internal/flow"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName = "index.html"
	mimePNG      = "image/png"
)

var panelText = map[flow.Kind][2]string{
	flow.Temp:   {"Temporary picture", "Saved to the cache; shown by reference."},
	flow.Folder: {"Folder picture", "Saved as images/newPicture.jpg; replaced on every capture."},
}

type panel struct {
	Flow        flow.Kind
	Title       string
	Description string
	State       flow.State
	Shown       bool
	Busy        bool
	Ts          string
}

type FrontendService struct {
	coreService *core.CoreService
}

func NewFrontendService(coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
	}
}

// rootRedirectHandler redirects root path to index.html
func (service *FrontendService) rootRedirectHandler(ctx echo.Context) error {
	return ctx.Redirect(http.StatusMovedPermanently, "/"+MainPageName)
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = newTemplate()

	e.GET("/", service.rootRedirectHandler)
	e.GET("/"+MainPageName, service.indexHandler)

	e.GET("/htmx/flow/:flow", service.htmxPanelHandler)
	e.POST("/htmx/flow/:flow/capture", service.htmxCaptureHandler)
	e.GET("/display/:flow", service.displayHandler)

	e.GET("/events", echo.WrapHandler(service.coreService.Events()))

	e.GET("/icon.svg", service.iconHandler)
	e.GET("/probe", func(ctx echo.Context) error {
		return ctx.String(http.StatusOK, "ok")
	})
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	panels := make([]panel, 0, 2)
	for _, kind := range service.coreService.Flows() {
		p, err := service.buildPanel(ctx, kind)
		if err != nil {
			slog.Error("indexHandler: failed to read flow state",
				"status", http.StatusServiceUnavailable, "flow", kind, "error", err)
			return ctx.String(http.StatusServiceUnavailable, "Flows are not available")
		}
		panels = append(panels, p)
	}
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, MainPageName, map[string]any{"Panels": panels})
}

func (service *FrontendService) htmxPanelHandler(ctx echo.Context) error {
	kind, err := flow.ParseKind(ctx.Param("flow"))
	if err != nil {
		slog.Warn("htmxPanelHandler: unknown flow", "status", http.StatusNotFound, "flow", ctx.Param("flow"))
		return ctx.String(http.StatusNotFound, "Unknown flow")
	}
	p, err := service.buildPanel(ctx, kind)
	if err != nil {
		slog.Error("htmxPanelHandler: failed to read flow state",
			"status", http.StatusServiceUnavailable, "flow", kind, "error", err)
		return ctx.String(http.StatusServiceUnavailable, "Flow is not available")
	}
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, "panel", p)
}

// htmxCaptureHandler presses the capture button and answers with the panel
// as it is right after the press. Later changes arrive over /events.
func (service *FrontendService) htmxCaptureHandler(ctx echo.Context) error {
	kind, err := flow.ParseKind(ctx.Param("flow"))
	if err != nil {
		slog.Warn("htmxCaptureHandler: unknown flow", "status", http.StatusNotFound, "flow", ctx.Param("flow"))
		return ctx.String(http.StatusNotFound, "Unknown flow")
	}
	if err := service.coreService.Capture(kind); err != nil {
		slog.Error("htmxCaptureHandler: failed to start capture",
			"status", http.StatusServiceUnavailable, "flow", kind, "error", err)
		return ctx.String(http.StatusServiceUnavailable, "Capture is not available")
	}
	return service.htmxPanelHandler(ctx)
}

func (service *FrontendService) displayHandler(ctx echo.Context) error {
	kind, err := flow.ParseKind(ctx.Param("flow"))
	if err != nil {
		slog.Warn("displayHandler: unknown flow", "status", http.StatusNotFound, "flow", ctx.Param("flow"))
		return ctx.String(http.StatusNotFound, "Unknown flow")
	}
	data, err := service.coreService.RenderDisplay(ctx.Request().Context(), kind)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		slog.Error("displayHandler: failed to render picture", "status", status, "flow", kind, "error", err)
		return ctx.String(status, "Picture not available")
	}

	service.setNoCache(ctx)
	return ctx.Blob(http.StatusOK, mimePNG, data)
}

func (service *FrontendService) buildPanel(ctx echo.Context, kind flow.Kind) (panel, error) {
	state, err := service.coreService.FlowState(ctx.Request().Context(), kind)
	if err != nil {
		return panel{}, err
	}
	text := panelText[kind]
	shown := !state.Displayed.IsEmpty()
	if kind == flow.Folder {
		shown = state.Visible
	}
	return panel{
		Flow:        kind,
		Title:       text[0],
		Description: text[1],
		State:       state,
		Shown:       shown,
		Busy:        !state.Pending.IsEmpty(),
		Ts:          service.timestampNanoStr(),
	}, nil
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}

func (service *FrontendService) timestampNanoStr() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}
