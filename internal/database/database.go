package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drleavio/chatapp/internal/models"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrChatNotFound      = errors.New("chat not found")
)

// DBInterface is the persistence gateway shared by every request.
// Implementations must be safe for concurrent use.
type DBInterface interface {
	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.User, error)
	SearchUsers(ctx context.Context, query string, excludeUserID uuid.UUID, limit int) ([]*models.User, error)
	SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error

	// Chat methods
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChatByID(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	// GetChatsByParticipant returns the user's chats, most recently updated first.
	GetChatsByParticipant(ctx context.Context, userID uuid.UUID) ([]*models.Chat, error)
	TouchChat(ctx context.Context, chatID uuid.UUID, at time.Time) error

	// Message methods
	CreateMessage(ctx context.Context, msg *models.Message) error
	// GetLatestMessage returns nil, nil when the chat has no messages.
	GetLatestMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error)
	// GetMessagesPage returns up to limit messages newest first, skipping offset.
	// A negative offset yields an empty page.
	GetMessagesPage(ctx context.Context, chatID uuid.UUID, offset, limit int) ([]*models.Message, error)

	// Common methods
	Ping(ctx context.Context) error
	Close() error
}

type DatabaseType string

const (
	Mongo      DatabaseType = "mongo"
	PostgreSQL DatabaseType = "postgres"
	Memory     DatabaseType = "memory"
)

// NewDatabase opens the configured backend. name is the mongo database name.
func NewDatabase(ctx context.Context, dbType DatabaseType, connStr, name string) (DBInterface, error) {
	switch dbType {
	case Mongo:
		return NewMongoDB(ctx, connStr, name)
	case PostgreSQL:
		return NewPostgresDB(ctx, connStr)
	case Memory:
		return NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// newerFirst orders messages newest first with the id as a deterministic tie-break.
func newerFirst(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

func recentChatFirst(a, b *models.Chat) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID.String() > b.ID.String()
}
