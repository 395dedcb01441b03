package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drleavio/chatapp/internal/auth"
	"github.com/drleavio/chatapp/internal/chat"
	"github.com/drleavio/chatapp/internal/database"
	"github.com/drleavio/chatapp/internal/models"
)

type feedResponse struct {
	Chats []models.ChatSummary `json:"chats"`
}

type pageResponse struct {
	Messages []models.MessageResponse `json:"messages"`
}

func createChat(t *testing.T, srv *testServer, token string, body gin.H) uuid.UUID {
	t.Helper()
	w := srv.do(t, http.MethodPost, "/api/chats", token, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ChatID uuid.UUID `json:"chatId"`
	}
	decode(t, w, &resp)
	return resp.ChatID
}

func sendMessage(t *testing.T, srv *testServer, token string, body gin.H) uuid.UUID {
	t.Helper()
	w := srv.do(t, http.MethodPost, "/api/messages", token, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		MessageID uuid.UUID `json:"messageId"`
	}
	decode(t, w, &resp)
	return resp.MessageID
}

// TestConversationScenario walks two users through a direct chat.
func TestConversationScenario(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())
	aliceToken, aliceID := srv.register(t, "alice", "a@x.com")
	bobToken, bobID := srv.register(t, "bob", "b@x.com")

	chatID := createChat(t, srv, aliceToken, gin.H{"participantId": bobID.String(), "isGroup": false})
	msgID := sendMessage(t, srv, aliceToken, gin.H{"chatId": chatID.String(), "content": "hi", "type": "text"})
	assert.NotEqual(t, uuid.Nil, msgID)

	for _, token := range []string{aliceToken, bobToken} {
		w := srv.do(t, http.MethodGet, "/api/chats", token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var feed feedResponse
		decode(t, w, &feed)
		require.Len(t, feed.Chats, 1)
		assert.Equal(t, chatID, feed.Chats[0].ID)
		require.NotNil(t, feed.Chats[0].LastMessage)
		assert.Equal(t, "hi", feed.Chats[0].LastMessage.Content)
		require.Len(t, feed.Chats[0].Participants, 2)
		assert.Equal(t, aliceID, feed.Chats[0].Participants[0].ID)
		assert.Equal(t, bobID, feed.Chats[0].Participants[1].ID)
	}
	assert.NotContains(t, srv.do(t, http.MethodGet, "/api/chats", aliceToken, nil).Body.String(), "password")

	// Timestamps have millisecond precision.
	time.Sleep(5 * time.Millisecond)
	sendMessage(t, srv, bobToken, gin.H{
		"chatId":   chatID.String(),
		"type":     "image",
		"mediaUrl": "/uploads/123-pic.png",
	})

	w := srv.do(t, http.MethodGet, "/api/messages?chatId="+chatID.String(), aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page pageResponse
	decode(t, w, &page)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "hi", page.Messages[0].Content)
	assert.Equal(t, models.MessageTypeText, page.Messages[0].Type)
	assert.Equal(t, aliceID, page.Messages[0].Sender.ID)
	assert.Equal(t, []uuid.UUID{aliceID}, page.Messages[0].ReadBy)
	assert.Equal(t, models.MessageTypeImage, page.Messages[1].Type)
	assert.Equal(t, "/uploads/123-pic.png", page.Messages[1].MediaURL)
	assert.Equal(t, "bob", page.Messages[1].Sender.Username)
}

func TestGroupChat(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())
	aliceToken, _ := srv.register(t, "alice", "a@x.com")
	_, bobID := srv.register(t, "bob", "b@x.com")
	carolToken, carolID := srv.register(t, "carol", "c@x.com")

	chatID := createChat(t, srv, aliceToken, gin.H{
		"participantId": []string{bobID.String(), carolID.String()},
		"isGroup":       true,
		"name":          "team",
	})

	w := srv.do(t, http.MethodGet, "/api/chats", carolToken, nil)
	var feed feedResponse
	decode(t, w, &feed)
	require.Len(t, feed.Chats, 1)
	assert.Equal(t, chatID, feed.Chats[0].ID)
	assert.True(t, feed.Chats[0].IsGroup)
	assert.Equal(t, "team", feed.Chats[0].Name)
	assert.Len(t, feed.Chats[0].Participants, 3)
	assert.Nil(t, feed.Chats[0].LastMessage)
}

func TestCreateChatValidation(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())
	aliceToken, _ := srv.register(t, "alice", "a@x.com")
	_, bobID := srv.register(t, "bob", "b@x.com")

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing participant", gin.H{"isGroup": false}},
		{"malformed participant id", gin.H{"participantId": "not-a-uuid"}},
		{"participant id of wrong type", gin.H{"participantId": 42}},
		{"unknown participant", gin.H{"participantId": uuid.NewString()}},
		{"group without name", gin.H{"participantId": []string{bobID.String()}, "isGroup": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/api/chats", aliceToken, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.NotEmpty(t, errorMessage(t, w))
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/chats", "", gin.H{"participantId": bobID.String()})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestMessagePagination(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())
	aliceToken, _ := srv.register(t, "alice", "a@x.com")
	_, bobID := srv.register(t, "bob", "b@x.com")
	chatID := createChat(t, srv, aliceToken, gin.H{"participantId": bobID.String()})

	const total = chat.PageSize + 5
	for i := 1; i <= total; i++ {
		sendMessage(t, srv, aliceToken, gin.H{"chatId": chatID.String(), "content": fmt.Sprintf("m%d", i)})
	}

	fetch := func(page string) []models.MessageResponse {
		w := srv.do(t, http.MethodGet, "/api/messages?chatId="+chatID.String()+"&page="+page, aliceToken, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp pageResponse
		decode(t, w, &resp)
		return resp.Messages
	}

	first := fetch("1")
	second := fetch("2")
	require.Len(t, first, chat.PageSize)
	require.Len(t, second, 5)

	// Stitched together, older page first, the pages form the full history.
	all := append(second, first...)
	ids := make(map[uuid.UUID]bool)
	for i := range all {
		ids[all[i].ID] = true
		if i > 0 {
			assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt), "position %d", i)
		}
	}
	assert.Len(t, ids, total)

	assert.Empty(t, fetch("3"))
	assert.Empty(t, fetch("184467440737095518"))
	assert.Empty(t, fetch("9223372036854775807"))
	assert.Contains(t, srv.do(t, http.MethodGet, "/api/messages?chatId="+chatID.String()+"&page=3", aliceToken, nil).Body.String(), `"messages":[]`)
}

func TestMessageAuthorization(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())
	aliceToken, _ := srv.register(t, "alice", "a@x.com")
	_, bobID := srv.register(t, "bob", "b@x.com")
	eveToken, _ := srv.register(t, "eve", "e@x.com")
	chatID := createChat(t, srv, aliceToken, gin.H{"participantId": bobID.String()})

	t.Run("outsider cannot read", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/messages?chatId="+chatID.String(), eveToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("outsider cannot write", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/messages", eveToken, gin.H{"chatId": chatID.String(), "content": "hi"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("outsider does not see the chat", func(t *testing.T) {
		var feed feedResponse
		decode(t, srv.do(t, http.MethodGet, "/api/chats", eveToken, nil), &feed)
		assert.Empty(t, feed.Chats)
	})
}

func TestMessageValidation(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())
	aliceToken, _ := srv.register(t, "alice", "a@x.com")
	_, bobID := srv.register(t, "bob", "b@x.com")
	chatID := createChat(t, srv, aliceToken, gin.H{"participantId": bobID.String()})

	posts := []struct {
		name string
		body gin.H
	}{
		{"missing chat id", gin.H{"content": "hi"}},
		{"malformed chat id", gin.H{"chatId": "nope", "content": "hi"}},
		{"unknown chat", gin.H{"chatId": uuid.NewString(), "content": "hi"}},
		{"empty text", gin.H{"chatId": chatID.String(), "content": ""}},
		{"image without url", gin.H{"chatId": chatID.String(), "type": "image"}},
		{"unknown type", gin.H{"chatId": chatID.String(), "type": "audio", "content": "x"}},
	}
	for _, tt := range posts {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/api/messages", aliceToken, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	queries := []struct {
		name  string
		query string
	}{
		{"missing chat id", ""},
		{"malformed chat id", "?chatId=nope"},
		{"zero page", "?chatId=" + chatID.String() + "&page=0"},
		{"non-numeric page", "?chatId=" + chatID.String() + "&page=two"},
		{"unknown chat", "?chatId=" + uuid.NewString()},
	}
	for _, tt := range queries {
		t.Run("get "+tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodGet, "/api/messages"+tt.query, aliceToken, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestSendMessageUpdatesRecency(t *testing.T) {
	srv := setupTestServer(t, database.NewMemoryDB())
	aliceToken, _ := srv.register(t, "alice", "a@x.com")
	_, bobID := srv.register(t, "bob", "b@x.com")
	_, carolID := srv.register(t, "carol", "c@x.com")

	older := createChat(t, srv, aliceToken, gin.H{"participantId": bobID.String()})
	time.Sleep(5 * time.Millisecond)
	newer := createChat(t, srv, aliceToken, gin.H{"participantId": carolID.String()})
	time.Sleep(5 * time.Millisecond)
	sendMessage(t, srv, aliceToken, gin.H{"chatId": older.String(), "content": "bump"})

	var feed feedResponse
	decode(t, srv.do(t, http.MethodGet, "/api/chats", aliceToken, nil), &feed)
	require.Len(t, feed.Chats, 2)
	assert.Equal(t, older, feed.Chats[0].ID)
	assert.Equal(t, newer, feed.Chats[1].ID)
	assert.False(t, feed.Chats[0].UpdatedAt.Before(feed.Chats[0].LastMessage.CreatedAt))
}

func TestListChatsStoreFailure(t *testing.T) {
	db := new(MockDB)
	db.On("GetChatsByParticipant", mock.Anything, mock.AnythingOfType("uuid.UUID")).
		Return(nil, errors.New("connection reset"))
	srv := setupTestServer(t, db)

	token, _, err := srv.sessions.Codec.GenerateToken(&auth.Claims{UserID: uuid.NewString()})
	require.NoError(t, err)

	w := srv.do(t, http.MethodGet, "/api/chats", token, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", errorMessage(t, w))
	db.AssertExpectations(t)
}
