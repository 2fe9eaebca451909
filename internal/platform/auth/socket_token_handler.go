package auth

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SocketTokenHandler exposes the authenticated endpoint that exchanges an API
// access token for a short-lived socket token.
type SocketTokenHandler struct {
	store SocketTokenStore
}

func NewSocketTokenHandler(store SocketTokenStore) *SocketTokenHandler {
	return &SocketTokenHandler{store: store}
}

func (h *SocketTokenHandler) RegisterRoutes(api *echo.Group) {
	api.GET("/ws-token", h.IssueToken)
}

// IssueToken returns a fresh socket token for the authenticated user.
func (h *SocketTokenHandler) IssueToken(c echo.Context) error {
	userID := UserIDFromContext(c.Request().Context())
	if userID == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	token, expiresAt, err := h.store.Issue(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue socket token")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(time.Until(expiresAt).Seconds()),
	})
}
