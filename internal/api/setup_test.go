package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drleavio/chatapp/internal/auth"
	"github.com/drleavio/chatapp/internal/chat"
	"github.com/drleavio/chatapp/internal/database"
	"github.com/drleavio/chatapp/internal/models"
	"github.com/drleavio/chatapp/internal/storage"
)

const testSecret = "test-secret-key"

type testServer struct {
	router   *gin.Engine
	db       database.DBInterface
	sessions *Sessions
	store    storage.Storage
}

func newSessions(t *testing.T) *Sessions {
	t.Helper()
	codec, err := auth.NewCodec([]byte(testSecret))
	require.NoError(t, err)
	return &Sessions{Codec: codec}
}

// setupTestServer builds the full router over db with local storage in a temp dir.
func setupTestServer(t *testing.T, db database.DBInterface) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	sessions := newSessions(t)
	router := NewRouter(RouterConfig{
		DB:             db,
		Chats:          chat.NewService(db, nil),
		Storage:        store,
		Sessions:       sessions,
		MaxUploadBytes: 1 << 20,
	})
	return &testServer{router: router, db: db, sessions: sessions, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type authResponse struct {
	Token string              `json:"token"`
	User  models.UserResponse `json:"user"`
}

// register creates an account through the API and returns its session token and id.
func (s *testServer) register(t *testing.T, username, email string) (string, uuid.UUID) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": username,
		"email":    email,
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp authResponse
	decode(t, w, &resp)
	require.NotEmpty(t, resp.Token)
	return resp.Token, resp.User.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	return body.Error
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

// MockDB implements the DBInterface for testing
type MockDB struct {
	mock.Mock
}

func (m *MockDB) CreateUser(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockDB) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.User, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockDB) SearchUsers(ctx context.Context, query string, excludeUserID uuid.UUID, limit int) ([]*models.User, error) {
	args := m.Called(ctx, query, excludeUserID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockDB) SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error {
	return m.Called(ctx, userID, online, at).Error(0)
}

func (m *MockDB) CreateChat(ctx context.Context, c *models.Chat) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockDB) GetChatByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chat), args.Error(1)
}

func (m *MockDB) GetChatsByParticipant(ctx context.Context, userID uuid.UUID) ([]*models.Chat, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Chat), args.Error(1)
}

func (m *MockDB) TouchChat(ctx context.Context, chatID uuid.UUID, at time.Time) error {
	return m.Called(ctx, chatID, at).Error(0)
}

func (m *MockDB) CreateMessage(ctx context.Context, msg *models.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockDB) GetLatestMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockDB) GetMessagesPage(ctx context.Context, chatID uuid.UUID, offset, limit int) ([]*models.Message, error) {
	args := m.Called(ctx, chatID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockDB) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDB) Close() error {
	return m.Called().Error(0)
}
