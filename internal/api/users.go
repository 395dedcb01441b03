package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/drleavio/chatapp/internal/database"
	"github.com/drleavio/chatapp/internal/models"
)

const searchLimit = 10

// UserHandler handles user lookup routes
type UserHandler struct {
	DB database.DBInterface
}

// NewUserHandler creates a new user handler
func NewUserHandler(db database.DBInterface) *UserHandler {
	return &UserHandler{DB: db}
}

// Search matches q against usernames and emails, excluding the caller.
func (h *UserHandler) Search(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusOK, gin.H{"users": []*models.User{}})
		return
	}

	users, err := h.DB.SearchUsers(c.Request.Context(), q, userID, searchLimit)
	if err != nil {
		respondError(c, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}
