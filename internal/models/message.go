package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType enumerates the kinds of message payload
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeImage
}

// Message represents a chat message in the system
type Message struct {
	ID        uuid.UUID   `json:"id"`
	ChatID    uuid.UUID   `json:"chatId"`
	SenderID  uuid.UUID   `json:"senderId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	ReadBy    []uuid.UUID `json:"readBy"`
}

// MessageRequest is the structure for message creation requests
type MessageRequest struct {
	ChatID   string      `json:"chatId" binding:"required"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type"`
	MediaURL string      `json:"mediaUrl"`
}

// MessageResponse is what we return to clients
type MessageResponse struct {
	Message
	Sender *User `json:"sender,omitempty"`
}
