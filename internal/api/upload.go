package api

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drleavio/chatapp/internal/storage"
)

// UploadRoute is the public prefix under which stored attachments are served.
const UploadRoute = "/uploads"

// UploadHandler stores attachments and serves them back
type UploadHandler struct {
	Storage  storage.Storage
	MaxBytes int64

	now func() time.Time
}

// NewUploadHandler creates a new upload handler. maxBytes <= 0 disables the size limit.
func NewUploadHandler(store storage.Storage, maxBytes int64) *UploadHandler {
	return &UploadHandler{Storage: store, MaxBytes: maxBytes, now: time.Now}
}

// Upload stores the multipart "file" field and returns its public URL.
// The content is not inspected.
func (h *UploadHandler) Upload(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	if h.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := storage.ObjectKey(header.Filename, h.now())
	if err := h.Storage.Write(c.Request.Context(), key, file, header.Size, contentType); err != nil {
		respondError(c, err)
		return
	}
	log.Info("User %s uploaded %s (%d bytes)", userID, key, header.Size)

	c.JSON(http.StatusOK, gin.H{"url": UploadRoute + "/" + key})
}

// Serve streams a stored attachment.
func (h *UploadHandler) Serve(c *gin.Context) {
	key := c.Param("key")

	reader, err := h.Storage.Read(c.Request.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	defer reader.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, reader, nil)
}
