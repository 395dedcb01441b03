package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/drleavio/chatapp/internal/auth"
	"github.com/drleavio/chatapp/internal/chat"
	"github.com/drleavio/chatapp/internal/database"
	"github.com/drleavio/chatapp/internal/logger"
)

var log = logger.New("api")

// respondError maps domain errors onto the status codes clients see.
// Anything unrecognised is logged and reported as a generic 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidSession):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
	case errors.Is(err, chat.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this chat"})
	case errors.Is(err, chat.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
	case errors.Is(err, database.ErrChatNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Chat not found"})
	case errors.Is(err, database.ErrUserNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "User not found"})
	case errors.Is(err, database.ErrUserAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": "User already exists"})
	default:
		log.Error("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// validationMessage drops the sentinel prefix from a wrapped ErrInvalidInput.
func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), chat.ErrInvalidInput.Error()+": ")
	if msg == "" {
		return "Invalid input"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
