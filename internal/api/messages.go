package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/drleavio/chatapp/internal/chat"
	"github.com/drleavio/chatapp/internal/models"
)

// MessageHandler handles message-related routes
type MessageHandler struct {
	Chats *chat.Service
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(chats *chat.Service) *MessageHandler {
	return &MessageHandler{Chats: chats}
}

// SendMessage handles the creation of a new message
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req models.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return
	}

	message, err := h.Chats.SendMessage(c.Request.Context(), userID, chat.SendMessageInput{
		ChatID:   chatID,
		Content:  req.Content,
		Type:     req.Type,
		MediaURL: req.MediaURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"messageId": message.ID})
}

// GetMessages returns one page of a chat's history, oldest first
func (h *MessageHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	chatID, err := uuid.Parse(c.Query("chatId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return
	}

	page := 1
	if raw := c.Query("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
			return
		}
	}

	messages, err := h.Chats.MessagePage(c.Request.Context(), userID, chatID, page)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
