package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drleavio/chatapp/internal/database"
)

func TestRegister(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())

	t.Run("valid registration", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
			"username": "alice",
			"email":    "a@x.com",
			"password": "password123",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp authResponse
		decode(t, w, &resp)
		assert.Equal(t, "alice", resp.User.Username)
		assert.Equal(t, "a@x.com", resp.User.Email)
		assert.Equal(t, DefaultAvatar("alice"), resp.User.AvatarURL)
		assert.NotContains(t, w.Body.String(), "password")

		cookie := sessionCookie(w)
		require.NotNil(t, cookie)
		assert.Equal(t, resp.Token, cookie.Value)
		assert.True(t, cookie.HttpOnly)
	})

	tests := []struct {
		name       string
		input      gin.H
		wantStatus int
	}{
		{
			name:       "duplicate email",
			input:      gin.H{"username": "alice2", "email": "a@x.com", "password": "password123"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "duplicate username",
			input:      gin.H{"username": "alice", "email": "other@x.com", "password": "password123"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid input",
			input:      gin.H{"username": "", "email": "invalid-email", "password": ""},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "short password",
			input:      gin.H{"username": "carol", "email": "c@x.com", "password": "123"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "password over bcrypt limit",
			input:      gin.H{"username": "dave", "email": "d@x.com", "password": strings.Repeat("p", 80)},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "multibyte password over bcrypt limit",
			input:      gin.H{"username": "erin", "email": "e@x.com", "password": strings.Repeat("é", 40)},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/api/auth/register", "", tt.input)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Nil(t, sessionCookie(w))
		})
	}

	users, err := srv.db.SearchUsers(t.Context(), "alice", uuid.Nil, 10)
	require.NoError(t, err)
	assert.Len(t, users, 1, "duplicates must not create records")
}

func TestLogin(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())
	_, aliceID := srv.register(t, "alice", "a@x.com")

	t.Run("valid credentials", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "a@x.com", "password": "password123"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp authResponse
		decode(t, w, &resp)
		assert.Equal(t, aliceID, resp.User.ID)
		require.NotNil(t, sessionCookie(w))

		me := srv.do(t, http.MethodGet, "/api/auth/me", resp.Token, nil)
		require.Equal(t, http.StatusOK, me.Code)

		var body struct {
			User struct {
				UserID   string `json:"userId"`
				Email    string `json:"email"`
				Username string `json:"username"`
				Avatar   string `json:"avatar"`
			} `json:"user"`
		}
		decode(t, me, &body)
		assert.Equal(t, aliceID.String(), body.User.UserID)
		assert.Equal(t, "alice", body.User.Username)
		assert.Equal(t, "a@x.com", body.User.Email)
		assert.Equal(t, DefaultAvatar("alice"), body.User.Avatar)
	})

	t.Run("email is case insensitive", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "A@X.com", "password": "password123"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	invalid := []struct {
		name  string
		input gin.H
	}{
		{"wrong password", gin.H{"email": "a@x.com", "password": "wrong-password"}},
		{"unknown email", gin.H{"email": "nobody@x.com", "password": "password123"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/api/auth/login", "", tt.input)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Invalid credentials", errorMessage(t, w))
			assert.Nil(t, sessionCookie(w))
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "a@x.com"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLoginStoreFailure(t *testing.T) {
	db := new(MockDB)
	db.On("GetUserByEmail", mock.Anything, "a@x.com").Return(nil, errors.New("connection refused"))
	srv := setupTestServer(t, db)

	w := srv.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "a@x.com", "password": "password123"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", errorMessage(t, w))
	db.AssertExpectations(t)
}

func TestLogout(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())

	w := srv.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestSessionCookieAuthenticates(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())

	w := srv.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": "bob",
		"email":    "b@x.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	cookie := sessionCookie(w)
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	srv.router.ServeHTTP(me, req)
	assert.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"username":"bob"`)
}
