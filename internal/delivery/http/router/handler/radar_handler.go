// Package handler contains the HTTP handlers for the application.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"spotradar/internal/delivery/http/response"
	"spotradar/internal/domain/entity"
	domainerrors "spotradar/internal/domain/errors"
	"spotradar/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// RadarHandlerParams holds dependencies for RadarHandler, injected by Fx.
type RadarHandlerParams struct {
	fx.In

	RadarUC usecase.RadarUsecase
	Logger  *slog.Logger
}

// RadarHandler holds dependencies for radar session handlers
type RadarHandler struct {
	radarUC usecase.RadarUsecase
	logger  *slog.Logger
}

// NewRadarHandler is the constructor for RadarHandler
func NewRadarHandler(params RadarHandlerParams) *RadarHandler {
	return &RadarHandler{
		radarUC: params.RadarUC,
		logger:  params.Logger,
	}
}

// OpenSessionRequest represents the request body for opening a radar session.
// Coordinates are pointers so that 0 is accepted while a missing field is not.
// A missing radius selects the default; an explicit 0 is rejected.
type OpenSessionRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
	RadiusKm  *float64 `json:"radius_km" validate:"omitempty,gt=0"`
}

// MoveViewportRequest represents the request body for moving the viewport
type MoveViewportRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
}

// ChangeRadiusRequest represents the request body for changing the radius
type ChangeRadiusRequest struct {
	RadiusKm float64 `json:"radius_km" validate:"required,gt=0"`
}

// OpenSessionResponse is returned when a session is created
type OpenSessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
}

// OpenSession handles creating a radar session
func (h *RadarHandler) OpenSession(c echo.Context) error {
	var req OpenSessionRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid session input")
	}

	if err := c.Validate(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	sessionID, err := h.radarUC.OpenSession(c.Request().Context(), &usecase.OpenSessionInput{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		RadiusKm:  req.RadiusKm,
	})
	if err != nil {
		return h.handleError(c, err)
	}

	return response.Success(c, http.StatusCreated, OpenSessionResponse{SessionID: sessionID}, "Radar session opened")
}

// MoveViewport handles replacing the center of a session
func (h *RadarHandler) MoveViewport(c echo.Context) error {
	sessionID, err := parseSessionID(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var req MoveViewportRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid viewport input")
	}

	if err := c.Validate(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	cond, err := h.radarUC.MoveViewport(c.Request().Context(), sessionID, entity.GeoPoint{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
	})
	if err != nil {
		return h.handleError(c, err)
	}

	return response.Success(c, http.StatusOK, cond, "Viewport moved")
}

// ChangeRadius handles replacing the radius of a session
func (h *RadarHandler) ChangeRadius(c echo.Context) error {
	sessionID, err := parseSessionID(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var req ChangeRadiusRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid radius input")
	}

	if err := c.Validate(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	cond, err := h.radarUC.ChangeRadius(c.Request().Context(), sessionID, req.RadiusKm)
	if err != nil {
		return h.handleError(c, err)
	}

	return response.Success(c, http.StatusOK, cond, "Radius changed")
}

// GetSession handles reading the current condition and render set
func (h *RadarHandler) GetSession(c echo.Context) error {
	sessionID, err := parseSessionID(c)
	if err != nil {
		return h.handleError(c, err)
	}

	view, err := h.radarUC.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return h.handleError(c, err)
	}

	return response.Success(c, http.StatusOK, view, "")
}

// CloseSession handles stopping a session
func (h *RadarHandler) CloseSession(c echo.Context) error {
	sessionID, err := parseSessionID(c)
	if err != nil {
		return h.handleError(c, err)
	}

	if err := h.radarUC.CloseSession(c.Request().Context(), sessionID); err != nil {
		return h.handleError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// handleError writes domain errors directly and hands everything else to the
// error middleware.
func (h *RadarHandler) handleError(c echo.Context, err error) error {
	var appErr domainerrors.AppError
	if errors.As(err, &appErr) {
		return response.AppError(c, appErr)
	}

	return errors.WithStack(err)
}

func parseSessionID(c echo.Context) (uuid.UUID, error) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, domainerrors.ErrValidationFailed.WithDetails("invalid session id " + strconv.Quote(c.Param("id")))
	}

	return sessionID, nil
}
