package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drleavio/chatapp/internal/database"
)

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func upload(t *testing.T, srv *testServer, token, field, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, field, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestUploadRoundTrip(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())
	token, _ := srv.register(t, "alice", "a@x.com")

	content := []byte("\x89PNG\r\n\x1a\nnot really a png")
	w := upload(t, srv, token, "file", "my pic.png", content)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		URL string `json:"url"`
	}
	decode(t, w, &resp)
	assert.True(t, strings.HasPrefix(resp.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(resp.URL, "-my_pic.png"))

	get := httptest.NewRecorder()
	srv.router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, resp.URL, nil))
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, content, get.Body.Bytes())
	assert.Equal(t, "image/png", get.Header().Get("Content-Type"))
}

func TestUploadRejects(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())
	token, _ := srv.register(t, "alice", "a@x.com")

	t.Run("unauthenticated", func(t *testing.T) {
		w := upload(t, srv, "", "file", "a.txt", []byte("x"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing file field", func(t *testing.T) {
		w := upload(t, srv, token, "attachment", "a.txt", []byte("x"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "No file uploaded", errorMessage(t, w))
	})

	t.Run("over the size limit", func(t *testing.T) {
		w := upload(t, srv, token, "file", "big.bin", bytes.Repeat([]byte("a"), 2<<20))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestServeUnknownUpload(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())

	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/uploads/123-missing.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
