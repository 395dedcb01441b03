package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq" // PostgreSQL driver

	"github.com/drleavio/chatapp/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	avatar_url    TEXT NOT NULL DEFAULT '',
	is_online     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL,
	last_seen     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id           UUID PRIMARY KEY,
	participants UUID[] NOT NULL,
	is_group     BOOLEAN NOT NULL DEFAULT FALSE,
	name         TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS chats_participants_idx ON chats USING GIN (participants);

CREATE TABLE IF NOT EXISTS messages (
	id         UUID PRIMARY KEY,
	chat_id    UUID NOT NULL REFERENCES chats (id),
	sender_id  UUID NOT NULL REFERENCES users (id),
	content    TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	media_url  TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	read_by    UUID[] NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_chat_created_idx ON messages (chat_id, created_at DESC, id DESC);
`

const userColumns = `id, username, email, password_hash, avatar_url, is_online, created_at, last_seen`

type PostgresDB struct {
	*sql.DB
}

// NewPostgresDB connects and creates the schema when it is missing.
func NewPostgresDB(ctx context.Context, connStr string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresDB{db}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.IsOnline,
		&user.CreatedAt,
		&user.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = $1 OR email = $2",
		user.Username, user.Email).Scan(&count)
	if err != nil {
		return err
	}

	if count > 0 {
		return ErrUserAlreadyExists
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		user.ID, user.Username, user.Email, user.PasswordHash, user.AvatarURL,
		user.IsOnline, user.CreatedAt, user.LastSeen,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrUserAlreadyExists
	}
	return err
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", email))
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := scanUser(db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (db *PostgresDB) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.User, error) {
	if len(ids) == 0 {
		return []*models.User{}, nil
	}
	return db.queryUsers(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ANY($1::uuid[])",
		pq.StringArray(uuidStrings(ids)))
}

func (db *PostgresDB) SearchUsers(ctx context.Context, query string, excludeUserID uuid.UUID, limit int) ([]*models.User, error) {
	pattern := "%" + escapeLike(query) + "%"
	users, err := db.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id != $1 AND (username ILIKE $2 OR email ILIKE $2)
		ORDER BY username
		LIMIT $3`,
		excludeUserID, pattern, limit)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		u.PasswordHash = ""
	}
	return users, nil
}

func (db *PostgresDB) queryUsers(ctx context.Context, query string, args ...interface{}) ([]*models.User, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return users, nil
}

func (db *PostgresDB) SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error {
	result, err := db.ExecContext(ctx, "UPDATE users SET is_online = $1, last_seen = $2 WHERE id = $3",
		online, at, userID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (db *PostgresDB) CreateChat(ctx context.Context, chat *models.Chat) error {
	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	var name sql.NullString
	if chat.Name != "" {
		name = sql.NullString{String: chat.Name, Valid: true}
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO chats (id, participants, is_group, name, created_at, updated_at) VALUES ($1, $2::uuid[], $3, $4, $5, $6)",
		chat.ID, pq.StringArray(uuidStrings(chat.Participants)), chat.IsGroup, name, chat.CreatedAt, chat.UpdatedAt,
	)
	return err
}

const chatColumns = `id, participants, is_group, name, created_at, updated_at`

func scanChat(row rowScanner) (*models.Chat, error) {
	var (
		chat         models.Chat
		participants pq.StringArray
		name         sql.NullString
	)
	if err := row.Scan(&chat.ID, &participants, &chat.IsGroup, &name, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return nil, err
	}
	ids, err := parseUUIDs(participants)
	if err != nil {
		return nil, err
	}
	chat.Participants = ids
	if name.Valid {
		chat.Name = name.String
	}
	return &chat, nil
}

func (db *PostgresDB) GetChatByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	chat, err := scanChat(db.QueryRowContext(ctx, "SELECT "+chatColumns+" FROM chats WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, ErrChatNotFound
	}
	return chat, err
}

func (db *PostgresDB) GetChatsByParticipant(ctx context.Context, userID uuid.UUID) ([]*models.Chat, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE $1 = ANY(participants) ORDER BY updated_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []*models.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (db *PostgresDB) TouchChat(ctx context.Context, chatID uuid.UUID, at time.Time) error {
	result, err := db.ExecContext(ctx, "UPDATE chats SET updated_at = $1 WHERE id = $2", at, chatID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrChatNotFound
	}

	return nil
}

func (db *PostgresDB) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	var mediaURL sql.NullString
	if msg.MediaURL != "" {
		mediaURL = sql.NullString{String: msg.MediaURL, Valid: true}
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO messages (id, chat_id, sender_id, content, type, media_url, created_at, read_by) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::uuid[])",
		msg.ID, msg.ChatID, msg.SenderID, msg.Content, string(msg.Type), mediaURL, msg.CreatedAt,
		pq.StringArray(uuidStrings(msg.ReadBy)),
	)
	return err
}

func (db *PostgresDB) GetLatestMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	page, err := db.GetMessagesPage(ctx, chatID, 0, 1)
	if err != nil || len(page) == 0 {
		return nil, err
	}
	return page[0], nil
}

func (db *PostgresDB) GetMessagesPage(ctx context.Context, chatID uuid.UUID, offset, limit int) ([]*models.Message, error) {
	if offset < 0 {
		return []*models.Message{}, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, content, type, media_url, created_at, read_by
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`,
		chatID, offset, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		var (
			msg      models.Message
			msgType  string
			mediaURL sql.NullString
			readBy   pq.StringArray
		)

		err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msgType, &mediaURL, &msg.CreatedAt, &readBy)
		if err != nil {
			return nil, err
		}

		msg.Type = models.MessageType(msgType)
		if mediaURL.Valid {
			msg.MediaURL = mediaURL.String
		}
		if msg.ReadBy, err = parseUUIDs(readBy); err != nil {
			return nil, err
		}

		messages = append(messages, &msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

func (db *PostgresDB) Close() error {
	return db.DB.Close()
}

// escapeLike neutralizes LIKE wildcards so the query matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
