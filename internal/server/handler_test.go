package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/auth"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/config"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/db"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/models"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/ws"
)

type apiFixture struct {
	r     *gin.Engine
	cfg   config.Config
	users map[string]uint
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(gdb))

	users := map[string]uint{}
	for _, name := range []string{"alice", "bob", "carol", "mallory"} {
		u := models.User{Username: name, DisplayName: name}
		require.NoError(t, gdb.Create(&u).Error)
		users[name] = u.ID
	}

	cfg := config.Config{
		Port: "0", JWTSecret: "api-test-secret", Env: "dev",
		HistoryPageSize: 50, TypingTTLSeconds: 5, WSSendBuffer: 64,
	}
	hub := ws.NewHub()
	typing := ws.NewTypingBroadcaster(hub, 5*time.Second)
	t.Cleanup(hub.Stop)

	return &apiFixture{r: SetupRouter(cfg, gdb, hub, typing), cfg: cfg, users: users}
}

func (f *apiFixture) do(t *testing.T, method, path string, asUser uint, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if asUser != 0 {
		token, err := auth.GenerateAccessToken(asUser, "user", f.cfg.JWTSecret, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func conversationID(t *testing.T, w *httptest.ResponseRecorder) uint {
	t.Helper()
	body := decodeBody(t, w)
	conv, ok := body["conversation"].(map[string]interface{})
	require.True(t, ok, "body: %s", w.Body.String())
	return uint(conv["id"].(float64))
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/conversations", 0, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateConversation_Dedup(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/conversations", f.users["alice"], gin.H{"participant_ids": []uint{f.users["bob"]}})
	req.Equal(http.StatusCreated, w.Code, w.Body.String())
	first := conversationID(t, w)

	// The reverse direction returns the same conversation, not a new one.
	w = f.do(t, http.MethodPost, "/api/v1/conversations", f.users["bob"], gin.H{"participant_ids": []uint{f.users["alice"]}})
	req.Equal(http.StatusOK, w.Code, w.Body.String())
	req.Equal(first, conversationID(t, w))
}

func TestCreateConversation_Validation(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/conversations", f.users["alice"], gin.H{"participant_ids": []uint{}})
	req.Equal(http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/conversations", f.users["alice"], gin.H{"participant_ids": []uint{f.users["alice"]}})
	req.Equal(http.StatusBadRequest, w.Code)
}

func TestSendAndListMessages(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/conversations", f.users["alice"], gin.H{"participant_ids": []uint{f.users["bob"]}})
	convID := conversationID(t, w)

	w = f.do(t, http.MethodPost, "/api/v1/messages", f.users["alice"], gin.H{"conversation_id": convID, "content": "hello"})
	req.Equal(http.StatusCreated, w.Code, w.Body.String())
	msg := decodeBody(t, w)["message"].(map[string]interface{})
	req.Equal("hello", msg["content"])
	req.Equal("alice", msg["sender_name"])

	// Empty content is terminal for the operation.
	w = f.do(t, http.MethodPost, "/api/v1/messages", f.users["alice"], gin.H{"conversation_id": convID, "content": ""})
	req.Equal(http.StatusBadRequest, w.Code)

	// The conversation page carries the message and the lastMessage snapshot.
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d", convID), f.users["bob"], nil)
	req.Equal(http.StatusOK, w.Code)
	body := decodeBody(t, w)
	msgs := body["messages"].([]interface{})
	req.Len(msgs, 1)
	conv := body["conversation"].(map[string]interface{})
	req.Equal("hello", conv["last_message"].(map[string]interface{})["content"])

	// Listing sorts the active conversation first.
	w = f.do(t, http.MethodGet, "/api/v1/conversations", f.users["alice"], nil)
	req.Equal(http.StatusOK, w.Code)
	convs := decodeBody(t, w)["conversations"].([]interface{})
	req.NotEmpty(convs)
	req.EqualValues(convID, convs[0].(map[string]interface{})["id"].(float64))
}

func TestCatchUp_ExactlyOnceAfterID(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/conversations", f.users["alice"], gin.H{"participant_ids": []uint{f.users["bob"]}})
	convID := conversationID(t, w)

	var msgIDs []uint
	for i := 1; i <= 4; i++ {
		w = f.do(t, http.MethodPost, "/api/v1/messages", f.users["alice"], gin.H{"conversation_id": convID, "content": fmt.Sprintf("m%d", i)})
		req.Equal(http.StatusCreated, w.Code)
		msg := decodeBody(t, w)["message"].(map[string]interface{})
		msgIDs = append(msgIDs, uint(msg["id"].(float64)))
	}

	// Bob saw up to m2 before dropping; catch-up returns exactly m3, m4.
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d/messages?after=%d", convID, msgIDs[1]), f.users["bob"], nil)
	req.Equal(http.StatusOK, w.Code)
	msgs := decodeBody(t, w)["messages"].([]interface{})
	req.Len(msgs, 2)
	req.Equal("m3", msgs[0].(map[string]interface{})["content"])
	req.Equal("m4", msgs[1].(map[string]interface{})["content"])

	// Nothing new after the tail.
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d/messages?after=%d", convID, msgIDs[3]), f.users["bob"], nil)
	req.Equal(http.StatusOK, w.Code)
	req.Empty(decodeBody(t, w)["messages"])
}

func TestAuthorization_NonParticipant(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/conversations", f.users["alice"], gin.H{"participant_ids": []uint{f.users["bob"]}})
	convID := conversationID(t, w)

	for _, path := range []string{
		fmt.Sprintf("/api/v1/conversations/%d", convID),
		fmt.Sprintf("/api/v1/conversations/%d/messages", convID),
	} {
		w = f.do(t, http.MethodGet, path, f.users["mallory"], nil)
		req.Equal(http.StatusForbidden, w.Code, path)
	}

	w = f.do(t, http.MethodPost, "/api/v1/messages", f.users["mallory"], gin.H{"conversation_id": convID, "content": "hi"})
	req.Equal(http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/messages/read", f.users["mallory"], gin.H{"conversation_id": convID})
	req.Equal(http.StatusForbidden, w.Code)

	// Unknown conversation is NotFound, not Forbidden.
	w = f.do(t, http.MethodGet, "/api/v1/conversations/99999", f.users["alice"], nil)
	req.Equal(http.StatusNotFound, w.Code)
}

func TestMarkRead_Bulk(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/conversations", f.users["alice"], gin.H{"participant_ids": []uint{f.users["bob"]}})
	convID := conversationID(t, w)
	for i := 0; i < 3; i++ {
		w = f.do(t, http.MethodPost, "/api/v1/messages", f.users["alice"], gin.H{"conversation_id": convID, "content": fmt.Sprintf("m%d", i)})
		req.Equal(http.StatusCreated, w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/v1/messages/read", f.users["bob"], gin.H{"conversation_id": convID})
	req.Equal(http.StatusOK, w.Code)
	req.EqualValues(3, decodeBody(t, w)["read"].(float64))

	// Idempotent.
	w = f.do(t, http.MethodPost, "/api/v1/messages/read", f.users["bob"], gin.H{"conversation_id": convID})
	req.Equal(http.StatusOK, w.Code)
	req.EqualValues(0, decodeBody(t, w)["read"].(float64))

	// Receipts show up on the message page.
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/conversations/%d/messages", convID), f.users["alice"], nil)
	req.Equal(http.StatusOK, w.Code)
	msgs := decodeBody(t, w)["messages"].([]interface{})
	req.Len(msgs, 3)
	readBy := msgs[0].(map[string]interface{})["read_by"].([]interface{})
	req.Len(readBy, 1)
	req.EqualValues(f.users["bob"], readBy[0].(map[string]interface{})["user_id"].(float64))
}
