package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/growthlab/askatlas/pkg/conversations"
	"github.com/growthlab/askatlas/pkg/graph"
)

// titleMaxLength bounds auto-derived conversation titles.
const titleMaxLength = 50

// TurnRequest is the body of POST /api/v1/threads/:thread_id/turns.
type TurnRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`

	// Optional constraints pinning SQL generation.
	OverrideSchema    string `json:"override_schema,omitempty"`
	OverrideDirection string `json:"override_direction,omitempty"`
	OverrideMode      string `json:"override_mode,omitempty"`
}

// runTurnHandler executes one turn and streams StreamData envelopes as
// newline-delimited JSON. The connection closing early cancels the turn.
func (s *Server) runTurnHandler(c *echo.Context) error {
	threadID := c.Param("thread_id")
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id is required")
	}

	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	ctx := c.Request().Context()

	// Create the conversation lazily; duplicate creates return the
	// existing row unchanged.
	title := conversations.DeriveTitle(req.Message, titleMaxLength)
	if _, err := s.conversations.Create(ctx, threadID, req.SessionID, title); err != nil {
		slog.Error("Failed to create conversation", "thread_id", threadID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create conversation")
	}

	stream, err := s.executor.Run(ctx, threadID, req.Message, graph.Overrides{
		Schema:    req.OverrideSchema,
		Direction: req.OverrideDirection,
		Mode:      req.OverrideMode,
	})
	if err != nil {
		slog.Error("Failed to start turn", "thread_id", threadID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start turn")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.WriteHeader(http.StatusOK)

	flusher, _ := resp.(http.Flusher)

	encoder := json.NewEncoder(resp)
	for event := range stream {
		if err := encoder.Encode(event); err != nil {
			slog.Warn("Client disconnected during turn stream", "thread_id", threadID, "error", err)
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := s.conversations.UpdateTimestamp(ctx, threadID); err != nil {
		slog.Warn("Failed to touch conversation timestamp", "thread_id", threadID, "error", err)
	}
	return nil
}
