package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat is a conversation between a fixed set of participants
type Chat struct {
	ID           uuid.UUID   `json:"id"`
	Participants []uuid.UUID `json:"participants"`
	IsGroup      bool        `json:"isGroup"`
	Name         string      `json:"name,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ChatSummary is one entry of a user's conversation feed
type ChatSummary struct {
	ID           uuid.UUID        `json:"id"`
	IsGroup      bool             `json:"isGroup"`
	Name         string           `json:"name,omitempty"`
	Participants []*User          `json:"participants"`
	LastMessage  *MessageResponse `json:"lastMessage"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}
