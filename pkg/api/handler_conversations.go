package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/growthlab/askatlas/pkg/conversations"
)

// listConversationsHandler handles GET /api/v1/conversations?session_id=…
func (s *Server) listConversationsHandler(c *echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	rows, err := s.conversations.ListBySession(c.Request().Context(), sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conversations")
	}
	if rows == nil {
		rows = []conversations.Row{}
	}
	return c.JSON(http.StatusOK, rows)
}

// getConversationHandler handles GET /api/v1/conversations/:thread_id.
func (s *Server) getConversationHandler(c *echo.Context) error {
	threadID := c.Param("thread_id")
	row, err := s.conversations.Get(c.Request().Context(), threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get conversation")
	}
	if row == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, row)
}

// deleteConversationHandler handles DELETE /api/v1/conversations/:thread_id.
// Deleting a missing conversation is a no-op and still returns 204.
func (s *Server) deleteConversationHandler(c *echo.Context) error {
	threadID := c.Param("thread_id")
	if err := s.conversations.Delete(c.Request().Context(), threadID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete conversation")
	}
	return c.NoContent(http.StatusNoContent)
}
