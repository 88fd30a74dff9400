package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/RichardoC/office-gpt/internal/chat"
	"github.com/RichardoC/office-gpt/internal/db"
	"github.com/RichardoC/office-gpt/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoCompleter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *echoCompleter) Complete(_ context.Context, history []models.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "echo: " + history[len(history)-1].Content, nil
}

type testServer struct {
	store     *db.Database
	completer *echoCompleter
	handler   http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := db.New(db.DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.SeedDefaultUser(context.Background(), "testuser", "password123")
	require.NoError(t, err)

	completer := &echoCompleter{}
	exchanger := chat.NewExchanger(store, completer, nil)
	h := NewHandler(store, exchanger, "gpt-4o", nil)
	return &testServer{
		store:     store,
		completer: completer,
		handler:   NewRouter(h, RouterConfig{CORSOrigin: "*"}, nil),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) createConversation(t *testing.T) int64 {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/conversations", map[string]any{"userId": 1})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp CreateConversationResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotZero(t, resp.ID)
	return resp.ID
}

func (s *testServer) detail(t *testing.T, id int64) models.Conversation {
	t.Helper()
	rr := s.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/detail/%d", id), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var conv models.Conversation
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&conv))
	return conv
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestCreateAndListConversations(t *testing.T) {
	s := newTestServer(t)
	first := s.createConversation(t)
	second := s.createConversation(t)

	rr := s.do(t, http.MethodGet, "/api/conversations/user/1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var list []map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, float64(second), list[0]["id"])
	assert.Equal(t, float64(first), list[1]["id"])
	assert.Equal(t, "New Conversation", list[0]["title"])
	assert.Len(t, list[0], 2, "list view projects to id and title")
}

func TestListConversations_EmptyIsArray(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/api/conversations/user/1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestCreateConversation_Validation(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/conversations", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "userId is required", decodeError(t, rr))

	rr = s.do(t, http.MethodPost, "/api/conversations", `{"userId": "one"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid request body", decodeError(t, rr))

	rr = s.do(t, http.MethodPost, "/api/conversations", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/conversations", map[string]any{"userId": 99})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetConversation_DetailShape(t *testing.T) {
	s := newTestServer(t)
	id := s.createConversation(t)

	rr := s.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/detail/%d", id), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, float64(id), body["id"])
	assert.Equal(t, "New Conversation", body["title"])
	assert.Equal(t, "gpt-4o", body["model"])
	assert.Equal(t, []any{}, body["messages"])
}

func TestGetConversation_Errors(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/conversations/detail/12345", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Conversation not found", decodeError(t, rr))

	rr = s.do(t, http.MethodGet, "/api/conversations/detail/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChat_FirstMessageTitlesConversation(t *testing.T) {
	s := newTestServer(t)
	id := s.createConversation(t)

	rr := s.do(t, http.MethodPost, "/api/chat", ChatRequest{ConversationID: id, Message: "Hello there, how are you?"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var reply models.Message
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&reply))
	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.Equal(t, "echo: Hello there, how are you?", reply.Content)
	assert.Equal(t, id, reply.ConvID)
	assert.NotZero(t, reply.ID)

	conv := s.detail(t, id)
	assert.Equal(t, "Hello there, how are you?", conv.Title)
}

func TestChat_LongFirstMessage(t *testing.T) {
	s := newTestServer(t)
	id := s.createConversation(t)
	msg := strings.Repeat("abcdefghij", 8)

	rr := s.do(t, http.MethodPost, "/api/chat", ChatRequest{ConversationID: id, Message: msg})
	require.Equal(t, http.StatusOK, rr.Code)

	conv := s.detail(t, id)
	assert.Equal(t, msg[:50]+"...", conv.Title)
}

func TestChat_RoundTripPreservesContentAndOrder(t *testing.T) {
	s := newTestServer(t)
	id := s.createConversation(t)

	sent := []string{
		"  leading and trailing spaces  ",
		"unicode: naïve café 🚀",
		"line one\nline two\ttabbed",
		`quotes "and" <html> & ampersands`,
	}
	for _, m := range sent {
		rr := s.do(t, http.MethodPost, "/api/chat", ChatRequest{ConversationID: id, Message: m})
		require.Equal(t, http.StatusOK, rr.Code)
	}

	conv := s.detail(t, id)
	require.Len(t, conv.Messages, 2*len(sent))
	for i, m := range sent {
		assert.Equal(t, models.RoleUser, conv.Messages[2*i].Role)
		assert.Equal(t, m, conv.Messages[2*i].Content)
		assert.Equal(t, models.RoleAssistant, conv.Messages[2*i+1].Role)
		assert.Equal(t, "echo: "+m, conv.Messages[2*i+1].Content)
	}
}

func TestChat_Validation(t *testing.T) {
	s := newTestServer(t)
	id := s.createConversation(t)

	rr := s.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "conversationId is required", decodeError(t, rr))

	rr = s.do(t, http.MethodPost, "/api/chat", map[string]any{"conversationId": id})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "message is required", decodeError(t, rr))

	rr = s.do(t, http.MethodPost, "/api/chat", map[string]any{"conversationId": 4040, "message": "hi"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Zero(t, s.completer.calls)
}

func TestChat_ProviderFailure(t *testing.T) {
	s := newTestServer(t)
	id := s.createConversation(t)
	s.completer.err = errors.New("api key revoked: sk-secret")

	rr := s.do(t, http.MethodPost, "/api/chat", ChatRequest{ConversationID: id, Message: "hello?"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Failed to process chat message")
	assert.NotContains(t, body, "sk-secret", "upstream detail must not leak")

	conv := s.detail(t, id)
	require.Len(t, conv.Messages, 1, "user message stays committed")
}

func TestUpdateConversation(t *testing.T) {
	s := newTestServer(t)
	id := s.createConversation(t)
	path := fmt.Sprintf("/api/conversations/%d", id)

	rr := s.do(t, http.MethodPut, path, UpdateConversationRequest{Title: "Quarterly report"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Title updated successfully"}`, rr.Body.String())
	assert.Equal(t, "Quarterly report", s.detail(t, id).Title)

	rr = s.do(t, http.MethodPut, path, UpdateConversationRequest{Title: ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "title is required", decodeError(t, rr))
	assert.Equal(t, "Quarterly report", s.detail(t, id).Title, "title unchanged after rejected rename")

	rr = s.do(t, http.MethodPut, path, UpdateConversationRequest{Title: "   "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPut, path, UpdateConversationRequest{Title: strings.Repeat("x", 256)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPut, "/api/conversations/9999", UpdateConversationRequest{Title: "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteConversation(t *testing.T) {
	s := newTestServer(t)
	id := s.createConversation(t)
	rr := s.do(t, http.MethodPost, "/api/chat", ChatRequest{ConversationID: id, Message: "soon gone"})
	require.Equal(t, http.StatusOK, rr.Code)

	path := fmt.Sprintf("/api/conversations/%d", id)
	rr = s.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Conversation deleted successfully"}`, rr.Body.String())

	rr = s.do(t, http.MethodGet, fmt.Sprintf("/api/conversations/detail/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	recent, err := s.store.RecentMessages(context.Background(), id, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	// Deleting again is not an error.
	rr = s.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodPatch, "/api/conversations/1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

// failingStore lets the store-failure paths be exercised without a broken db.
type failingStore struct {
	ConversationStore
}

func (failingStore) ListConversations(context.Context, int64) ([]models.ConversationSummary, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) DeleteConversation(context.Context, int64) (bool, error) {
	return false, errors.New("connection refused")
}

func TestStoreFailures(t *testing.T) {
	h := NewHandler(failingStore{}, nil, "gpt-4o", nil)
	router := NewRouter(h, RouterConfig{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/conversations/user/1", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch conversations"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/conversations/1", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Failed to delete conversation"}`, rr.Body.String())
}

func TestChat_CancelledRequest(t *testing.T) {
	s := newTestServer(t)
	id := s.createConversation(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body := strings.NewReader(fmt.Sprintf(`{"conversationId":%d,"message":"anyone there?"}`, id))
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body).WithContext(ctx)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "Request cancelled", decodeError(t, rr))
	assert.Zero(t, s.completer.calls)
	assert.Empty(t, s.detail(t, id).Messages)
}
