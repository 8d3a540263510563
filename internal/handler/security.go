package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/sessionguard/internal/model"
)

// EventLister reads recent security events; repository.SecurityEventRepo
// implements it.
type EventLister interface {
	Recent(ctx context.Context, limit int) ([]model.SecurityEvent, error)
}

// SecurityHandler serves the admin-only security endpoints.
type SecurityHandler struct {
	Events EventLister
	Log    *logrus.Logger
}

func NewSecurityHandler(events EventLister, log *logrus.Logger) *SecurityHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SecurityHandler{Events: events, Log: log}
}

// Ping confirms that the caller passed the admin guard.
func (h *SecurityHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// ListEvents returns the newest security events. ?limit= is capped by the
// repository.
func (h *SecurityHandler) ListEvents(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	events, err := h.Events.Recent(ctx, limit)
	if err != nil {
		h.Log.WithError(err).Error("list security events failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if events == nil {
		events = []model.SecurityEvent{}
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}
