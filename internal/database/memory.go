package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drleavio/chatapp/internal/models"
)

// MemoryDB keeps every collection in process memory. It backs local development
// and tests; data does not survive a restart.
type MemoryDB struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*models.User
	chats    map[uuid.UUID]*models.Chat
	messages map[uuid.UUID][]*models.Message
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:    make(map[uuid.UUID]*models.User),
		chats:    make(map[uuid.UUID]*models.Chat),
		messages: make(map[uuid.UUID][]*models.Message),
	}
}

func (db *MemoryDB) CreateUser(ctx context.Context, user *models.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Email == user.Email || u.Username == user.Username {
			return ErrUserAlreadyExists
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	copied := *user
	db.users[user.ID] = &copied
	return nil
}

func (db *MemoryDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, u := range db.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrUserNotFound
}

func (db *MemoryDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	u, ok := db.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (db *MemoryDB) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	users := make([]*models.User, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := db.users[id]; ok {
			copied := *u
			users = append(users, &copied)
		}
	}
	return users, nil
}

func (db *MemoryDB) SearchUsers(ctx context.Context, query string, excludeUserID uuid.UUID, limit int) ([]*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	q := strings.ToLower(query)
	var users []*models.User
	for _, u := range db.users {
		if u.ID == excludeUserID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.Email), q) {
			copied := *u
			copied.PasswordHash = ""
			users = append(users, &copied)
		}
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (db *MemoryDB) SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.IsOnline = online
	u.LastSeen = at
	return nil
}

func (db *MemoryDB) CreateChat(ctx context.Context, chat *models.Chat) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	db.chats[chat.ID] = copyChat(chat)
	return nil
}

func (db *MemoryDB) GetChatByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.chats[id]
	if !ok {
		return nil, ErrChatNotFound
	}
	return copyChat(c), nil
}

func (db *MemoryDB) GetChatsByParticipant(ctx context.Context, userID uuid.UUID) ([]*models.Chat, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var chats []*models.Chat
	for _, c := range db.chats {
		if c.HasParticipant(userID) {
			chats = append(chats, copyChat(c))
		}
	}
	sort.Slice(chats, func(i, j int) bool { return recentChatFirst(chats[i], chats[j]) })
	return chats, nil
}

func (db *MemoryDB) TouchChat(ctx context.Context, chatID uuid.UUID, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}
	c.UpdatedAt = at
	return nil
}

func (db *MemoryDB) CreateMessage(ctx context.Context, msg *models.Message) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	copied := *msg
	copied.ReadBy = append([]uuid.UUID(nil), msg.ReadBy...)
	db.messages[msg.ChatID] = append(db.messages[msg.ChatID], &copied)
	return nil
}

func (db *MemoryDB) GetLatestMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	page, err := db.GetMessagesPage(ctx, chatID, 0, 1)
	if err != nil || len(page) == 0 {
		return nil, err
	}
	return page[0], nil
}

func (db *MemoryDB) GetMessagesPage(ctx context.Context, chatID uuid.UUID, offset, limit int) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	all := make([]*models.Message, 0, len(db.messages[chatID]))
	for _, m := range db.messages[chatID] {
		copied := *m
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return newerFirst(all[i], all[j]) })

	if offset < 0 || offset >= len(all) {
		return []*models.Message{}, nil
	}
	end := len(all)
	if limit >= 0 && limit < end-offset {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (db *MemoryDB) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (db *MemoryDB) Close() error {
	return nil
}

func copyChat(c *models.Chat) *models.Chat {
	copied := *c
	copied.Participants = append([]uuid.UUID(nil), c.Participants...)
	return &copied
}
