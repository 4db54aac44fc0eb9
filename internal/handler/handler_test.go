package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aero-doc-go/internal/middleware"
	"aero-doc-go/internal/model"
	"aero-doc-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDocService struct {
	service.DocumentService
	uploaded []string
	docs     map[string]*model.Document
}

func (s *stubDocService) Upload(_ context.Context, ownerID, filename string, size int64, r io.Reader) (*model.Document, error) {
	if !strings.HasSuffix(filename, ".pdf") {
		return nil, fmt.Errorf("%w: %s", service.ErrInvalidFileType, filename)
	}
	body, _ := io.ReadAll(r)
	s.uploaded = append(s.uploaded, string(body))
	return &model.Document{ID: "d1", OwnerID: ownerID, Filename: filename, FileSize: size}, nil
}

func (s *stubDocService) Get(ownerID, docID string) (*model.Document, error) {
	doc, found := s.docs[docID]
	if !found || doc.OwnerID != ownerID {
		return nil, fmt.Errorf("document %w", service.ErrNotFound)
	}
	return doc, nil
}

type stubChatService struct {
	service.ChatService
	reply *model.ChatMessage
}

func (s *stubChatService) SendMessage(_ context.Context, _, sessionID, content string) (*model.ChatMessage, error) {
	if sessionID != "s1" {
		return nil, fmt.Errorf("chat session %w", service.ErrNotFound)
	}
	if len([]rune(content)) > service.MaxMessageLength {
		return nil, fmt.Errorf("%w: too long", service.ErrInvalidInput)
	}
	return s.reply, nil
}

func withUser(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &model.User{ID: id, Username: "alice"})
		c.Next()
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadHandler(t *testing.T) {
	svc := &stubDocService{}
	r := gin.New()
	r.POST("/upload", withUser("u1"), NewDocumentHandler(svc, 1024).Upload)

	body, ct := multipartBody(t, "manual.pdf", "%PDF-1.7")
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	env := decode(t, w)
	var doc model.Document
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	assert.Equal(t, "manual.pdf", doc.Filename)
	assert.Equal(t, "u1", doc.OwnerID)
	assert.Equal(t, []string{"%PDF-1.7"}, svc.uploaded)

	body, ct = multipartBody(t, "virus.exe", "MZ")
	req = httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid file type", decode(t, w).Message)
}

func TestUploadHandlerRejectsOversizedBody(t *testing.T) {
	r := gin.New()
	r.POST("/upload", withUser("u1"), NewDocumentHandler(&stubDocService{}, 16).Upload)

	body, ct := multipartBody(t, "big.pdf", strings.Repeat("x", multipartOverhead+1024))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestGetDocumentNotFoundForOtherOwner(t *testing.T) {
	svc := &stubDocService{docs: map[string]*model.Document{"d1": {ID: "d1", OwnerID: "u2"}}}
	r := gin.New()
	r.GET("/documents/:id", withUser("u1"), NewDocumentHandler(svc, 0).Get)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents/d1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessageReturnsDegradedTurnWith200(t *testing.T) {
	svc := &stubChatService{reply: &model.ChatMessage{
		ID:        "m2",
		SessionID: "s1",
		Role:      model.RoleAssistant,
		Content:   service.ApologyMessage,
		Sources:   model.ErrorSources("context deadline exceeded"),
	}}
	r := gin.New()
	r.POST("/sessions/:id/messages", withUser("u1"), NewChatHandler(svc, nil, nil).SendMessage)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/s1/messages", strings.NewReader(`{"content":"hello"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	var msg struct {
		Role    string           `json:"role"`
		Content string           `json:"content"`
		Sources []map[string]any `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &msg))
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, service.ApologyMessage, msg.Content)
	assert.Equal(t, []map[string]any{{"error": "context deadline exceeded"}}, msg.Sources)
}

func TestSendMessageErrors(t *testing.T) {
	r := gin.New()
	r.POST("/sessions/:id/messages", withUser("u1"), NewChatHandler(&stubChatService{}, nil, nil).SendMessage)

	cases := []struct {
		path, body string
		want       int
	}{
		{"/sessions/s1/messages", `{}`, http.StatusBadRequest},
		{"/sessions/s1/messages", fmt.Sprintf(`{"content":%q}`, strings.Repeat("x", service.MaxMessageLength+1)), http.StatusBadRequest},
		{"/sessions/nope/messages", `{"content":"hi"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body)))
		assert.Equal(t, tc.want, w.Code, tc.path)
	}
}

func TestHandlersRequireUserInContext(t *testing.T) {
	r := gin.New()
	r.GET("/documents/:id", NewDocumentHandler(&stubDocService{}, 0).Get)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents/d1", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
