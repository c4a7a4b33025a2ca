package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthlab/askatlas/pkg/checkpoint"
	"github.com/growthlab/askatlas/pkg/conversations"
	"github.com/growthlab/askatlas/pkg/graph"
	"github.com/growthlab/askatlas/pkg/llm"
	"github.com/growthlab/askatlas/pkg/usage"
)

// answerOnlyAgent always produces a direct final answer.
func answerOnlyAgent(answer string) graph.Node {
	return graph.Node{
		Name: "agent",
		Run: func(_ context.Context, _ *graph.State, _ *usage.Timer) (*graph.Update, error) {
			return &graph.Update{
				Messages:      []llm.Message{{Role: llm.RoleAssistant, Content: answer}},
				PipelineState: map[string]any{},
			}, nil
		},
	}
}

func passthroughTool() graph.Tool {
	return graph.Tool{
		Name:       "query_tool",
		ArgsSchema: graph.ToolArgsSchema(),
		Nodes: []graph.Node{
			{Name: "noop", Run: func(_ context.Context, _ *graph.State, _ *usage.Timer) (*graph.Update, error) {
				return &graph.Update{}, nil
			}},
		},
		CountsAgainstBudget: true,
	}
}

func newTestServer(t *testing.T) (*Server, conversations.Store) {
	t.Helper()
	exec, err := graph.NewExecutor(graph.Config{
		Agent:   answerOnlyAgent("The top export was crude petroleum."),
		Tools:   []graph.Tool{passthroughTool()},
		Store:   checkpoint.NewMemoryStore(),
		MaxUses: 5,
	})
	require.NoError(t, err)
	convStore := conversations.NewMemoryStore()
	return NewServer(exec, convStore, nil), convStore
}

func TestRunTurnStreamsNDJSON(t *testing.T) {
	server, convStore := newTestServer(t)

	body := `{"message": "What were the top US exports in 2022?", "session_id": "s1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/threads/t1/turns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	// Every line is a valid StreamData envelope.
	var types []string
	var talk string
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		var event graph.StreamData
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event), "line: %s", scanner.Text())
		types = append(types, event.MessageType)
		if event.MessageType == graph.MessageTypeAgentTalk {
			talk += event.Content
		}
	}
	assert.Contains(t, types, graph.MessageTypeNodeStart)
	assert.Contains(t, types, graph.MessageTypePipelineState)
	assert.Equal(t, "The top export was crude petroleum.", talk)

	// The conversation was created lazily with a derived title.
	row, err := convStore.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "s1", row.SessionID)
	assert.Equal(t, "What were the top US exports in 2022?", row.Title)
}

func TestRunTurnValidation(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("missing message", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/threads/t1/turns",
			strings.NewReader(`{"session_id": "s1"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing session_id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/threads/t1/turns",
			strings.NewReader(`{"message": "hi"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestConversationEndpoints(t *testing.T) {
	server, convStore := newTestServer(t)
	ctx := context.Background()

	_, err := convStore.Create(ctx, "t1", "s1", "First conversation")
	require.NoError(t, err)
	_, err = convStore.Create(ctx, "t2", "s1", "Second conversation")
	require.NoError(t, err)

	t.Run("list by session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations?session_id=s1", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var rows []conversations.Row
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
		assert.Len(t, rows, 2)
	})

	t.Run("list requires session_id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get existing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/t1", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var row conversations.Row
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &row))
		assert.Equal(t, "First conversation", row.Title)
	})

	t.Run("get missing is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/absent", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete then delete again both succeed", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/t2", nil)
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusNoContent, rec.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("degraded when db ping fails", func(t *testing.T) {
		server.SetHealthPing(func(context.Context) error { return assert.AnError })
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
