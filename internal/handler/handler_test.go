package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netsight-go/internal/analyst"
	"netsight-go/internal/model"
	"netsight-go/internal/service"
	"netsight-go/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSessionService struct {
	service.SessionService
	created  *model.ChatSession
	messages []model.ChatMessage
	err      error
	included []string
}

func (s *stubSessionService) CreateSession(_ context.Context, identity model.Identity, mode, title string) (*model.ChatSession, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.created = &model.ChatSession{ID: "s1", OwnerID: identity.ID, Mode: mode, Title: title}
	return s.created, nil
}

func (s *stubSessionService) GetMessages(context.Context, model.Identity, string) ([]model.ChatMessage, error) {
	return s.messages, s.err
}

func (s *stubSessionService) SetContextInclusion(_ context.Context, _ model.Identity, _ string, ids []string) error {
	s.included = ids
	return s.err
}

type stubChatService struct {
	fragments []string
	err       error
}

func (s *stubChatService) SendMessage(_ context.Context, _ model.Identity, sessionID, content string, sink service.FragmentSink) (*service.TurnResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	var answer strings.Builder
	for _, f := range s.fragments {
		answer.WriteString(f)
		if err := sink.WriteFragment(f); err != nil {
			break
		}
	}
	return &service.TurnResult{
		State:            service.TurnDone,
		UserMessage:      &model.ChatMessage{ID: "u1", SessionID: sessionID, Content: content},
		AssistantMessage: &model.ChatMessage{ID: "a1", SessionID: sessionID, Content: answer.String()},
	}, nil
}

type stubDocumentService struct {
	service.DocumentService
	uploaded string
	err      error
}

func (s *stubDocumentService) Register(_ context.Context, identity model.Identity, data []byte, filename string) (*model.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.uploaded = string(data)
	owner := identity.ID
	return &model.Document{ID: "d1", OwnerID: &owner, Visibility: model.VisibilityPrivate, Filename: filename}, nil
}

func (s *stubDocumentService) Delete(context.Context, model.Identity, string) error {
	return s.err
}

type testServer struct {
	router   *gin.Engine
	jwt      *token.JWTManager
	sessions *stubSessionService
	chat     *stubChatService
	docs     *stubDocumentService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Berlin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Berlin", "BER-001.csv"),
		[]byte("timestamp,latency_ms,throughput_mbps,packet_loss_pct,users_connected\n2024-01-01T00:00:00Z,20,300,0.1,40\n"), 0o644))

	ts := &testServer{
		jwt:      token.NewJWTManager("test-secret"),
		sessions: &stubSessionService{},
		chat:     &stubChatService{},
		docs:     &stubDocumentService{},
	}
	ts.router = NewRouter(Handlers{
		Session:   NewSessionHandler(ts.sessions),
		Chat:      NewChatHandler(ts.chat, ts.jwt),
		Document:  NewDocumentHandler(ts.docs, 1<<20),
		Telemetry: NewTelemetryHandler(analyst.NewStore(dir)),
	}, ts.jwt)
	return ts
}

func (ts *testServer) token(t *testing.T, identity model.Identity) string {
	t.Helper()
	tok, err := ts.jwt.GenerateToken(identity, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, identity *model.Identity) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, *identity))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

var alice = model.Identity{ID: "alice", Name: "Alice"}

func TestRouter_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/chat/sessions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("Authorization", "Token abc")
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionHandler_CreateAndErrors(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/chat/sessions", gin.H{"mode": "knowledge", "title": "NR"}, &alice)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 200, body["code"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "alice", data["ownerId"])
	assert.Equal(t, "knowledge", data["mode"])

	w = ts.do(t, http.MethodPost, "/api/v1/chat/sessions", gin.H{"title": "missing mode"}, &alice)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.sessions.err = service.ErrNotFound
	w = ts.do(t, http.MethodGet, "/api/v1/chat/sessions/other/messages", nil, &alice)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts.sessions.err = service.ErrNotOwner
	w = ts.do(t, http.MethodPatch, "/api/v1/chat/sessions/other/memory", gin.H{"includedMessageIds": []string{"m1"}}, &alice)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, []string{"m1"}, ts.sessions.included)
}

func TestChatHandler_HTTPStream(t *testing.T) {
	ts := newTestServer(t)
	ts.chat.fragments = []string{"Latency", " is", " 20ms."}

	w := ts.do(t, http.MethodPost, "/api/v1/chat/sessions/s1/messages", gin.H{"message": "latency?"}, &alice)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "Latency is 20ms.", w.Body.String())

	ts.chat.err = service.ErrSessionBusy
	w = ts.do(t, http.MethodPost, "/api/v1/chat/sessions/s1/messages", gin.H{"message": "again"}, &alice)
	assert.Equal(t, http.StatusConflict, w.Code)

	ts.chat.err = &service.GenerationError{Err: assert.AnError}
	w = ts.do(t, http.MethodPost, "/api/v1/chat/sessions/s1/messages", gin.H{"message": "again"}, &alice)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestChatHandler_WebSocket(t *testing.T) {
	ts := newTestServer(t)
	ts.chat.fragments = []string{"Hello", " world"}
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/ws/" + ts.token(t, alice)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(gin.H{"sessionId": "s1", "message": "hi"}))

	var frames []map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for len(frames) < 3 {
		var frame map[string]interface{}
		require.NoError(t, conn.ReadJSON(&frame))
		frames = append(frames, frame)
	}
	assert.Equal(t, "Hello", frames[0]["chunk"])
	assert.Equal(t, " world", frames[1]["chunk"])
	assert.Equal(t, "completion", frames[2]["type"])
	assert.Equal(t, "finished", frames[2]["status"])
	assert.Equal(t, "a1", frames[2]["messageId"])

	bad, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/chat/ws/bogus", nil)
	if bad != nil {
		bad.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDocumentHandler_Upload(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("5G notes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+ts.token(t, alice))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5G notes", ts.docs.uploaded)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "notes.txt", data["filename"])
	assert.NotContains(t, data, "ObjectKey")

	ts.docs.err = service.ErrImmutable
	w = ts.do(t, http.MethodDelete, "/api/v1/documents/c1", nil, &alice)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/documents/shared", nil, &alice)
	assert.Equal(t, http.StatusForbidden, w.Code, "shared upload requires admin")
}

func TestTelemetryHandler(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/telemetry/cities", nil, &alice)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"Berlin"}, decode(t, w)["data"])

	w = ts.do(t, http.MethodGet, "/api/v1/telemetry/cities/Berlin/cells/BER-001?limit=5", nil, &alice)
	require.Equal(t, http.StatusOK, w.Code)
	samples := decode(t, w)["data"].([]interface{})
	require.Len(t, samples, 1)
	assert.EqualValues(t, 20, samples[0].(map[string]interface{})["latency_ms"])

	w = ts.do(t, http.MethodGet, "/api/v1/telemetry/cities/Paris/cells", nil, &alice)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/telemetry/cities/Berlin/cells/BER-001?limit=-1", nil, &alice)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
