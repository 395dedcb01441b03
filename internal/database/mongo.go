package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/drleavio/chatapp/internal/logger"
	"github.com/drleavio/chatapp/internal/models"
)

const (
	usersCollection    = "users"
	chatsCollection    = "chats"
	messagesCollection = "messages"
)

var log = logger.New("database")

// MongoDB stores users, chats and messages as documents keyed by uuid strings.
type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	Username  string    `bson:"username"`
	Password  string    `bson:"password"`
	Avatar    string    `bson:"avatar"`
	IsOnline  bool      `bson:"isOnline"`
	CreatedAt time.Time `bson:"createdAt"`
	LastSeen  time.Time `bson:"lastSeen"`
}

type chatDoc struct {
	ID           string    `bson:"_id"`
	Participants []string  `bson:"participants"`
	IsGroup      bool      `bson:"isGroup"`
	Name         *string   `bson:"name"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

type messageDoc struct {
	ID        string    `bson:"_id"`
	ChatID    string    `bson:"chatId"`
	SenderID  string    `bson:"senderId"`
	Content   string    `bson:"content"`
	Type      string    `bson:"type"`
	MediaURL  *string   `bson:"mediaUrl"`
	CreatedAt time.Time `bson:"createdAt"`
	ReadBy    []string  `bson:"readBy"`
}

// NewMongoDB connects, pings and makes sure the indexes the queries rely on exist.
func NewMongoDB(ctx context.Context, uri, name string) (*MongoDB, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	m := &MongoDB{client: client, db: client.Database(name)}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		chatsCollection: {
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}}},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		},
	}

	for name, idx := range indexes {
		if _, err := m.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}
	log.Debug("MongoDB indexes ensured")
	return nil
}

func (m *MongoDB) users() *mongo.Collection    { return m.db.Collection(usersCollection) }
func (m *MongoDB) chats() *mongo.Collection    { return m.db.Collection(chatsCollection) }
func (m *MongoDB) messages() *mongo.Collection { return m.db.Collection(messagesCollection) }

func (m *MongoDB) CreateUser(ctx context.Context, user *models.User) error {
	count, err := m.users().CountDocuments(ctx, bson.M{
		"$or": bson.A{bson.M{"email": user.Email}, bson.M{"username": user.Username}},
	})
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrUserAlreadyExists
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	_, err = m.users().InsertOne(ctx, userDoc{
		ID:        user.ID.String(),
		Email:     user.Email,
		Username:  user.Username,
		Password:  user.PasswordHash,
		Avatar:    user.AvatarURL,
		IsOnline:  user.IsOnline,
		CreatedAt: user.CreatedAt,
		LastSeen:  user.LastSeen,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrUserAlreadyExists
	}
	return err
}

func (m *MongoDB) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDoc
	err := m.users().FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel()
}

func (m *MongoDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"email": email})
}

func (m *MongoDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m.findUser(ctx, bson.M{"_id": id.String()})
}

func (m *MongoDB) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.User, error) {
	if len(ids) == 0 {
		return []*models.User{}, nil
	}
	return m.findUsers(ctx, bson.M{"_id": bson.M{"$in": uuidStrings(ids)}}, options.Find())
}

func (m *MongoDB) SearchUsers(ctx context.Context, query string, excludeUserID uuid.UUID, limit int) ([]*models.User, error) {
	pattern := bson.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
	filter := bson.M{
		"_id": bson.M{"$ne": excludeUserID.String()},
		"$or": bson.A{bson.M{"username": pattern}, bson.M{"email": pattern}},
	}
	opts := options.Find().
		SetProjection(bson.M{"password": 0}).
		SetSort(bson.D{{Key: "username", Value: 1}}).
		SetLimit(int64(limit))
	return m.findUsers(ctx, filter, opts)
}

func (m *MongoDB) findUsers(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*models.User, error) {
	cur, err := m.users().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	users := make([]*models.User, 0, len(docs))
	for _, d := range docs {
		u, err := d.toModel()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (m *MongoDB) SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error {
	res, err := m.users().UpdateOne(ctx,
		bson.M{"_id": userID.String()},
		bson.M{"$set": bson.M{"isOnline": online, "lastSeen": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (m *MongoDB) CreateChat(ctx context.Context, chat *models.Chat) error {
	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	doc := chatDoc{
		ID:           chat.ID.String(),
		Participants: uuidStrings(chat.Participants),
		IsGroup:      chat.IsGroup,
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
	}
	if chat.Name != "" {
		doc.Name = &chat.Name
	}
	_, err := m.chats().InsertOne(ctx, doc)
	return err
}

func (m *MongoDB) GetChatByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	var doc chatDoc
	err := m.chats().FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel()
}

func (m *MongoDB) GetChatsByParticipant(ctx context.Context, userID uuid.UUID) ([]*models.Chat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := m.chats().Find(ctx, bson.M{"participants": userID.String()}, opts)
	if err != nil {
		return nil, err
	}
	var docs []chatDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	chats := make([]*models.Chat, 0, len(docs))
	for _, d := range docs {
		c, err := d.toModel()
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, nil
}

func (m *MongoDB) TouchChat(ctx context.Context, chatID uuid.UUID, at time.Time) error {
	res, err := m.chats().UpdateOne(ctx,
		bson.M{"_id": chatID.String()},
		bson.M{"$set": bson.M{"updatedAt": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (m *MongoDB) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	doc := messageDoc{
		ID:        msg.ID.String(),
		ChatID:    msg.ChatID.String(),
		SenderID:  msg.SenderID.String(),
		Content:   msg.Content,
		Type:      string(msg.Type),
		CreatedAt: msg.CreatedAt,
		ReadBy:    uuidStrings(msg.ReadBy),
	}
	if msg.MediaURL != "" {
		doc.MediaURL = &msg.MediaURL
	}
	_, err := m.messages().InsertOne(ctx, doc)
	return err
}

func (m *MongoDB) GetLatestMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	page, err := m.GetMessagesPage(ctx, chatID, 0, 1)
	if err != nil || len(page) == 0 {
		return nil, err
	}
	return page[0], nil
}

func (m *MongoDB) GetMessagesPage(ctx context.Context, chatID uuid.UUID, offset, limit int) ([]*models.Message, error) {
	if offset < 0 {
		return []*models.Message{}, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := m.messages().Find(ctx, bson.M{"chatId": chatID.String()}, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]*models.Message, 0, len(docs))
	for _, d := range docs {
		msg, err := d.toModel()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (d userDoc) toModel() (*models.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("malformed user id %q: %w", d.ID, err)
	}
	return &models.User{
		ID:           id,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.Password,
		AvatarURL:    d.Avatar,
		IsOnline:     d.IsOnline,
		CreatedAt:    d.CreatedAt,
		LastSeen:     d.LastSeen,
	}, nil
}

func (d chatDoc) toModel() (*models.Chat, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("malformed chat id %q: %w", d.ID, err)
	}
	participants, err := parseUUIDs(d.Participants)
	if err != nil {
		return nil, err
	}
	chat := &models.Chat{
		ID:           id,
		Participants: participants,
		IsGroup:      d.IsGroup,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.Name != nil {
		chat.Name = *d.Name
	}
	return chat, nil
}

func (d messageDoc) toModel() (*models.Message, error) {
	ids, err := parseUUIDs([]string{d.ID, d.ChatID, d.SenderID})
	if err != nil {
		return nil, err
	}
	readBy, err := parseUUIDs(d.ReadBy)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		ID:        ids[0],
		ChatID:    ids[1],
		SenderID:  ids[2],
		Content:   d.Content,
		Type:      models.MessageType(d.Type),
		CreatedAt: d.CreatedAt,
		ReadBy:    readBy,
	}
	if d.MediaURL != nil {
		msg.MediaURL = *d.MediaURL
	}
	return msg, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("malformed id %q: %w", s, err)
		}
		out[i] = id
	}
	return out, nil
}
