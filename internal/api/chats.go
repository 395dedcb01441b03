package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/drleavio/chatapp/internal/chat"
)

// ChatHandler handles conversation routes
type ChatHandler struct {
	Chats *chat.Service
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chats *chat.Service) *ChatHandler {
	return &ChatHandler{Chats: chats}
}

// createChatRequest accepts participantId as a single id or a list of ids.
type createChatRequest struct {
	ParticipantID json.RawMessage `json:"participantId"`
	IsGroup       bool            `json:"isGroup"`
	Name          string          `json:"name"`
}

func (r *createChatRequest) participantIDs() ([]uuid.UUID, bool) {
	if len(r.ParticipantID) == 0 || string(r.ParticipantID) == "null" {
		return nil, true
	}

	var raw []string
	var single string
	if err := json.Unmarshal(r.ParticipantID, &single); err == nil {
		raw = []string{single}
	} else if err := json.Unmarshal(r.ParticipantID, &raw); err != nil {
		return nil, false
	}

	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// ListChats returns the caller's conversation feed
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	chats, err := h.Chats.Feed(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// CreateChat starts a direct or group conversation
func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ids, ok := req.participantIDs()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid participant ID"})
		return
	}

	created, err := h.Chats.CreateChat(c.Request.Context(), userID, chat.CreateChatInput{
		ParticipantIDs: ids,
		IsGroup:        req.IsGroup,
		Name:           req.Name,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"chatId": created.ID})
}
