package backend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/imagecapture/internal/backend/grants"
	"github.com/jo-hoe/imagecapture/internal/capture"
	"github.com/jo-hoe/imagecapture/internal/core"
	"github.com/jo-hoe/imagecapture/internal/flow"
	"github.com/jo-hoe/imagecapture/internal/permission"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// MaxPhotoSize bounds a single uploaded photo.
const MaxPhotoSize = "32M"

// APIService is the platform side of the app: it answers permission prompts
// and accepts photos from the capture activity.
type APIService struct {
	coreService *core.CoreService
}

type answerRequest struct {
	Granted *bool `json:"granted" validate:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewAPIService(coreService *core.CoreService) *APIService {
	return &APIService{coreService: coreService}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	api := e.Group("/api")

	api.GET("/permissions", s.listPermissionsHandler)
	api.GET("/permissions/prompts", s.listPromptsHandler)
	api.POST("/permissions/prompts/:id", s.answerPromptHandler)
	api.DELETE("/permissions/camera", s.resetCameraHandler)

	api.PUT("/grants/:token", s.deliverHandler, middleware.BodyLimit(MaxPhotoSize))
	api.POST("/grants/:token/cancel", s.cancelHandler)

	api.GET("/flows", s.listFlowsHandler)
	api.GET("/flows/:flow", s.flowStateHandler)
	api.POST("/flows/:flow/capture", s.captureHandler)
}

func (s *APIService) listPermissionsHandler(ctx echo.Context) error {
	records, err := s.coreService.Permissions()
	if err != nil {
		slog.Error("listPermissionsHandler: failed to read permissions", "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read permissions"})
	}
	return ctx.JSON(http.StatusOK, records)
}

func (s *APIService) listPromptsHandler(ctx echo.Context) error {
	prompts, err := s.coreService.PendingPrompts()
	if err != nil {
		return s.errorJSON(ctx, "listPromptsHandler", err)
	}
	return ctx.JSON(http.StatusOK, prompts)
}

func (s *APIService) answerPromptHandler(ctx echo.Context) error {
	var req answerRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}

	id := ctx.Param("id")
	if err := s.coreService.AnswerPrompt(id, *req.Granted); err != nil {
		return s.errorJSON(ctx, "answerPromptHandler", err)
	}
	slog.Info("answerPromptHandler: prompt answered", "prompt_id", id, "granted", *req.Granted)
	return ctx.NoContent(http.StatusNoContent)
}

func (s *APIService) resetCameraHandler(ctx echo.Context) error {
	if err := s.coreService.ResetCameraPermission(); err != nil {
		return s.errorJSON(ctx, "resetCameraHandler", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// deliverHandler takes the raw photo bytes as the request body.
func (s *APIService) deliverHandler(ctx echo.Context) error {
	token := ctx.Param("token")
	body := ctx.Request().Body
	defer func() {
		_ = body.Close()
	}()

	if err := s.coreService.DeliverCapture(ctx.Request().Context(), token, body); err != nil {
		return s.errorJSON(ctx, "deliverHandler", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *APIService) cancelHandler(ctx echo.Context) error {
	if err := s.coreService.CancelCapture(ctx.Request().Context(), ctx.Param("token")); err != nil {
		return s.errorJSON(ctx, "cancelHandler", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *APIService) listFlowsHandler(ctx echo.Context) error {
	states := make([]flow.State, 0, len(s.coreService.Flows()))
	for _, kind := range s.coreService.Flows() {
		state, err := s.coreService.FlowState(ctx.Request().Context(), kind)
		if err != nil {
			return s.errorJSON(ctx, "listFlowsHandler", err)
		}
		states = append(states, state)
	}
	return ctx.JSON(http.StatusOK, states)
}

func (s *APIService) flowStateHandler(ctx echo.Context) error {
	kind, err := flow.ParseKind(ctx.Param("flow"))
	if err != nil {
		return s.errorJSON(ctx, "flowStateHandler", err)
	}
	state, err := s.coreService.FlowState(ctx.Request().Context(), kind)
	if err != nil {
		return s.errorJSON(ctx, "flowStateHandler", err)
	}
	return ctx.JSON(http.StatusOK, state)
}

func (s *APIService) captureHandler(ctx echo.Context) error {
	kind, err := flow.ParseKind(ctx.Param("flow"))
	if err != nil {
		return s.errorJSON(ctx, "captureHandler", err)
	}
	if err := s.coreService.Capture(kind); err != nil {
		return s.errorJSON(ctx, "captureHandler", err)
	}
	return ctx.NoContent(http.StatusAccepted)
}

func (s *APIService) errorJSON(ctx echo.Context, handler string, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(handler+": request failed", "status", status, "error", err)
	} else {
		slog.Warn(handler+": request rejected", "status", status, "error", err)
	}
	return ctx.JSON(status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, permission.ErrPromptNotFound),
		errors.Is(err, capture.ErrUnknownSession),
		errors.Is(err, grants.ErrGrantNotFound),
		errors.Is(err, flow.ErrUnknownFlow):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPromptsDisabled),
		errors.Is(err, core.ErrBrowserDisabled):
		return http.StatusConflict
	case errors.Is(err, flow.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
