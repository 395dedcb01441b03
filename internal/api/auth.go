package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/drleavio/chatapp/internal/auth"
	"github.com/drleavio/chatapp/internal/database"
	"github.com/drleavio/chatapp/internal/models"
)

const avatarBaseURL = "https://api.dicebear.com/7.x/avataaars/svg?seed="

// AuthHandler handles authentication routes
type AuthHandler struct {
	DB       database.DBInterface
	Sessions *Sessions
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(db database.DBInterface, sessions *Sessions) *AuthHandler {
	return &AuthHandler{DB: db, Sessions: sessions}
}

// DefaultAvatar is the generated avatar assigned at registration.
func DefaultAvatar(username string) string {
	return avatarBaseURL + url.QueryEscape(username)
}

// Register handles user registration
func (h *AuthHandler) Register(c *gin.Context) {
	var input models.UserRegistration
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(input.Password) > auth.MaxPasswordBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at most 72 bytes"})
		return
	}

	hashedPassword, err := auth.HashPassword(input.Password)
	if err != nil {
		log.Error("Failed to hash password: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Username:     strings.TrimSpace(input.Username),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		PasswordHash: hashedPassword,
		AvatarURL:    DefaultAvatar(strings.TrimSpace(input.Username)),
		CreatedAt:    now,
		LastSeen:     now,
	}

	if err := h.DB.CreateUser(c.Request.Context(), user); err != nil {
		respondError(c, err)
		return
	}
	log.Info("Registered user %s (%s)", user.ID, user.Username)

	h.respondWithSession(c, http.StatusCreated, user)
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var input models.UserLogin
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.DB.GetUserByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(input.Email)))
	if errors.Is(err, database.ErrUserNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if !auth.CheckPasswordHash(input.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	h.respondWithSession(c, http.StatusOK, user)
}

func (h *AuthHandler) respondWithSession(c *gin.Context, status int, user *models.User) {
	claims, err := auth.ClaimsForUser(user)
	if err != nil {
		respondError(c, err)
		return
	}
	token, err := h.Sessions.Issue(c, claims)
	if err != nil {
		log.Error("Failed to issue session for %s: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(status, gin.H{
		"token": token,
		"user":  models.NewUserResponse(user),
	})
}

// Logout clears the session cookie. Tokens already handed out stay valid
// until they expire.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.Sessions.Clear(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetMe returns the identity carried by the caller's session
func (h *AuthHandler) GetMe(c *gin.Context) {
	claims, ok := CurrentClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"userId":   claims.UserID,
			"email":    claims.Email,
			"username": claims.Username,
			"avatar":   claims.Avatar,
		},
	})
}
