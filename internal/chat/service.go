package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/drleavio/chatapp/internal/database"
	"github.com/drleavio/chatapp/internal/logger"
	"github.com/drleavio/chatapp/internal/models"
	"github.com/drleavio/chatapp/internal/realtime"
)

// PageSize is the number of messages in one page of a chat history.
const PageSize = 50

const (
	// feedConcurrency bounds the parallel last-message lookups of one feed request.
	feedConcurrency = 8
	// feedTimeout bounds a shared feed build once it no longer follows a caller.
	feedTimeout = 30 * time.Second
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("not a participant of this chat")

	log = logger.New("chat")
)

// Notifier tells connected clients which lists to refetch.
type Notifier interface {
	Notify(ctx context.Context, userIDs []uuid.UUID, event realtime.Event) error
}

// Service builds the conversation feed and message pages and performs the
// chat mutations on top of the persistence gateway.
type Service struct {
	DB       database.DBInterface
	Notifier Notifier

	feeds singleflight.Group
	now   func() time.Time
}

// NewService creates a chat service. notifier may be nil.
func NewService(db database.DBInterface, notifier Notifier) *Service {
	return &Service{
		DB:       db,
		Notifier: notifier,
		now: func() time.Time {
			// Stores keep millisecond precision at best.
			return time.Now().UTC().Truncate(time.Millisecond)
		},
	}
}

// CreateChatInput describes a new conversation.
type CreateChatInput struct {
	ParticipantIDs []uuid.UUID
	IsGroup        bool
	Name           string
}

// SendMessageInput describes a new message.
type SendMessageInput struct {
	ChatID   uuid.UUID
	Content  string
	Type     models.MessageType
	MediaURL string
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Feed returns every chat userID participates in, most recently active first,
// with participant records and the latest message attached. Concurrent
// requests for the same user share one build; the result must not be mutated.
// The shared build is detached from any single caller's cancellation.
func (s *Service) Feed(ctx context.Context, userID uuid.UUID) ([]*models.ChatSummary, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.feeds.DoChan(userID.String(), func() (interface{}, error) {
		buildCtx, cancel := context.WithTimeout(detached, feedTimeout)
		defer cancel()
		return s.buildFeed(buildCtx, userID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*models.ChatSummary), nil
	}
}

// invalidateFeeds makes the next Feed call for each user start a fresh build
// instead of joining one that may have read the store before a write.
func (s *Service) invalidateFeeds(userIDs []uuid.UUID) {
	for _, id := range userIDs {
		s.feeds.Forget(id.String())
	}
}

func (s *Service) buildFeed(ctx context.Context, userID uuid.UUID) ([]*models.ChatSummary, error) {
	chats, err := s.DB.GetChatsByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	if len(chats) == 0 {
		return []*models.ChatSummary{}, nil
	}

	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, c := range chats {
		for _, p := range c.Participants {
			if !seen[p] {
				seen[p] = true
				ids = append(ids, p)
			}
		}
	}
	users, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries := make([]*models.ChatSummary, len(chats))
	for i, c := range chats {
		participants := make([]*models.User, 0, len(c.Participants))
		for _, p := range c.Participants {
			u, ok := users[p]
			if !ok {
				log.Warn("Chat %s references unknown participant %s", c.ID, p)
				continue
			}
			participants = append(participants, u)
		}
		summaries[i] = &models.ChatSummary{
			ID:           c.ID,
			IsGroup:      c.IsGroup,
			Name:         c.Name,
			Participants: participants,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedConcurrency)
	for i, c := range chats {
		chatID := c.ID
		g.Go(func() error {
			latest, err := s.DB.GetLatestMessage(gctx, chatID)
			if err != nil {
				return fmt.Errorf("failed to load last message of chat %s: %w", chatID, err)
			}
			if latest != nil {
				summaries[i].LastMessage = &models.MessageResponse{
					Message: *latest,
					Sender:  users[latest.SenderID],
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID.String() > b.ID.String()
	})
	return summaries, nil
}

// MessagePage returns one page of a chat's history in chronological order.
// Page 1 holds the most recent PageSize messages.
func (s *Service) MessagePage(ctx context.Context, userID, chatID uuid.UUID, page int) ([]*models.MessageResponse, error) {
	if page < 1 {
		return nil, invalid("page must be a positive integer")
	}

	chat, err := s.DB.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, ErrForbidden
	}

	// A page whose offset does not fit in an int is past any history.
	if page-1 > math.MaxInt/PageSize {
		return []*models.MessageResponse{}, nil
	}
	messages, err := s.DB.GetMessagesPage(ctx, chatID, (page-1)*PageSize, PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	senderIDs := make([]uuid.UUID, 0, len(messages))
	for _, m := range messages {
		senderIDs = append(senderIDs, m.SenderID)
	}
	senders, err := s.usersByID(ctx, senderIDs)
	if err != nil {
		return nil, err
	}

	out := make([]*models.MessageResponse, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		sender, ok := senders[m.SenderID]
		if !ok {
			return nil, fmt.Errorf("message %s references unknown sender %s", m.ID, m.SenderID)
		}
		out = append(out, &models.MessageResponse{Message: *m, Sender: sender})
	}
	return out, nil
}

// CreateChat creates a conversation between the caller and the given users.
// Repeated calls for the same pair create separate direct chats.
func (s *Service) CreateChat(ctx context.Context, callerID uuid.UUID, in CreateChatInput) (*models.Chat, error) {
	participants := []uuid.UUID{callerID}
	seen := map[uuid.UUID]bool{callerID: true}
	for _, id := range in.ParticipantIDs {
		if id == uuid.Nil {
			return nil, invalid("participant id cannot be empty")
		}
		if !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}

	name := strings.TrimSpace(in.Name)
	if in.IsGroup {
		if len(participants) < 2 {
			return nil, invalid("a group chat needs at least one other participant")
		}
		if name == "" {
			return nil, invalid("a group chat needs a name")
		}
	} else {
		if len(participants) != 2 {
			return nil, invalid("a direct chat needs exactly one other participant")
		}
		name = ""
	}

	users, err := s.DB.GetUsersByIDs(ctx, participants)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	if len(users) != len(participants) {
		return nil, invalid("unknown participant")
	}

	now := s.now()
	chat := &models.Chat{
		ID:           uuid.New(),
		Participants: participants,
		IsGroup:      in.IsGroup,
		Name:         name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.DB.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	log.Info("User %s created chat %s with %d participants", callerID, chat.ID, len(participants))
	s.invalidateFeeds(participants)
	s.notify(ctx, participants, realtime.Event{
		Type:      realtime.EventChatCreated,
		ChatID:    chat.ID.String(),
		SenderID:  callerID.String(),
		Timestamp: now,
	})
	return chat, nil
}

// SendMessage stores a message and marks the chat as recently active. The two
// writes are not atomic: a failure in between leaves the chat's recency stale.
func (s *Service) SendMessage(ctx context.Context, callerID uuid.UUID, in SendMessageInput) (*models.Message, error) {
	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, invalid("unsupported message type %q", in.Type)
	}
	switch msgType {
	case models.MessageTypeText:
		if strings.TrimSpace(in.Content) == "" {
			return nil, invalid("text messages need content")
		}
	case models.MessageTypeImage:
		if strings.TrimSpace(in.MediaURL) == "" {
			return nil, invalid("image messages need a media URL")
		}
	}

	chat, err := s.DB.GetChatByID(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(callerID) {
		return nil, ErrForbidden
	}

	msg := &models.Message{
		ID:        uuid.New(),
		ChatID:    chat.ID,
		SenderID:  callerID,
		Content:   in.Content,
		Type:      msgType,
		MediaURL:  in.MediaURL,
		CreatedAt: s.now(),
		ReadBy:    []uuid.UUID{callerID},
	}
	if err := s.DB.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if err := s.DB.TouchChat(ctx, chat.ID, msg.CreatedAt); err != nil {
		log.Error("Message %s stored but chat %s recency not updated: %v", msg.ID, chat.ID, err)
	}
	s.invalidateFeeds(chat.Participants)

	s.notify(ctx, chat.Participants, realtime.Event{
		Type:      realtime.EventMessageCreated,
		ChatID:    chat.ID.String(),
		MessageID: msg.ID.String(),
		SenderID:  callerID.String(),
		Timestamp: msg.CreatedAt,
	})
	return msg, nil
}

func (s *Service) usersByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	users, err := s.DB.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	byID := make(map[uuid.UUID]*models.User, len(users))
	for _, u := range users {
		u.PasswordHash = ""
		byID[u.ID] = u
	}
	return byID, nil
}

// notify is best effort; the write already succeeded.
func (s *Service) notify(ctx context.Context, userIDs []uuid.UUID, event realtime.Event) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, userIDs, event); err != nil {
		log.Warn("Failed to notify %d users of %s: %v", len(userIDs), event.Type, err)
	}
}
