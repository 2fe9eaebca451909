package consultation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/pkg/pagination"
)

// Handler exposes the REST collaborator surface of the message store:
// consultation lookup, paginated history, and the extend operation. The live
// chat path runs over the websocket session instead.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/consultations/:id", h.GetConsultation)
	api.GET("/consultations/:id/messages", h.ListMessages)
	api.POST("/consultations/:id/extend", h.ExtendConsultation, auth.RequireRole("patient"))
}

func (h *Handler) GetConsultation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()
	cons, err := h.svc.Get(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !cons.IsParticipant(auth.UserIDFromContext(ctx)) && auth.RoleFromContext(ctx) != "admin" {
		return echo.NewHTTPError(http.StatusForbidden, "not a participant of this consultation")
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()
	cons, err := h.svc.Get(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !cons.IsParticipant(auth.UserIDFromContext(ctx)) && auth.RoleFromContext(ctx) != "admin" {
		return echo.NewHTTPError(http.StatusForbidden, "not a participant of this consultation")
	}

	pg := pagination.FromContext(c)
	msgs, total, err := h.svc.HistoryPage(ctx, id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, pg.Limit, pg.Offset))
}

func (h *Handler) ExtendConsultation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()
	cons, err := h.svc.Extend(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cons)
}

// httpError maps the package taxonomy onto HTTP status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "consultation not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, ErrLimitExceeded):
		return echo.NewHTTPError(http.StatusBadRequest, "message limit reached")
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusBadRequest, "consultation is not active")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "temporary conflict, retry")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
