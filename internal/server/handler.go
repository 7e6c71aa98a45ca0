package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/auth"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/metrics"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/service"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/ws"
)

// Handler carries the chat REST surface: conversation listing and creation,
// the initial page load, catch-up, the fallback send for clients without a
// live connection, and bulk mark-read. Sends and read receipts arriving over
// REST are still broadcast to the room so socket clients stay in sync.
type Handler struct {
	convs *service.ConversationService
	msgs  *service.MessageService
	cast  ws.Broadcaster
}

func NewHandler(convs *service.ConversationService, msgs *service.MessageService, cast ws.Broadcaster) *Handler {
	return &Handler{convs: convs, msgs: msgs, cast: cast}
}

// respondErr maps the service error taxonomy onto HTTP statuses. Unknown
// errors are transient persistence failures: logged and surfaced as 500 so
// the client can retry.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "temporarily unavailable"})
	}
}

// ListConversations handles GET /conversations.
func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.convs.ListForUser(auth.GetUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	dtos, err := h.convs.DTOs(convs)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": dtos})
}

// CreateConversation handles POST /conversations. Creating a conversation
// with a participant set that already exists returns the existing one.
func (h *Handler) CreateConversation(c *gin.Context) {
	var req struct {
		ParticipantIDs []uint `json:"participant_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	conv, created, err := h.convs.CreateOrGet(auth.GetUserID(c), req.ParticipantIDs)
	if err != nil {
		respondErr(c, err)
		return
	}
	dto, err := h.convs.DTO(conv)
	if err != nil {
		respondErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": dto})
}

// GetConversation handles GET /conversations/:id — the conversation plus its
// initial message page in one response.
func (h *Handler) GetConversation(c *gin.Context) {
	conversationID, ok := pathID(c)
	if !ok {
		return
	}
	userID := auth.GetUserID(c)
	conv, err := h.convs.GetByIDAuthorized(conversationID, userID)
	if err != nil {
		respondErr(c, err)
		return
	}
	dto, err := h.convs.DTO(conv)
	if err != nil {
		respondErr(c, err)
		return
	}
	msgs, err := h.msgs.ListByConversation(conversationID, 0, queryInt(c, "limit"))
	if err != nil {
		respondErr(c, err)
		return
	}
	msgDTOs, err := h.msgs.DTOs(msgs)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": dto, "messages": msgDTOs})
}

// ListMessages handles GET /conversations/:id/messages?after=<id>&limit=<n>
// — the catch-up page. With after it returns messages strictly after that id;
// without, the most recent page. Always ascending.
func (h *Handler) ListMessages(c *gin.Context) {
	conversationID, ok := pathID(c)
	if !ok {
		return
	}
	var afterID uint
	if v := c.Query("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after id"})
			return
		}
		afterID = uint(n)
	}
	msgs, err := h.msgs.History(conversationID, auth.GetUserID(c), afterID, queryInt(c, "limit"))
	if err != nil {
		respondErr(c, err)
		return
	}
	dtos, err := h.msgs.DTOs(msgs)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": dtos})
}

// SendMessage handles POST /messages — the fallback send when the client has
// no live connection. The persisted message is still broadcast to the room.
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		ConversationID uint   `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ConversationID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.msgs.Append(req.ConversationID, auth.GetUserID(c), req.Content)
	if err != nil {
		respondErr(c, err)
		return
	}
	dto, err := h.msgs.DTO(msg)
	if err != nil {
		respondErr(c, err)
		return
	}
	metrics.MessagesTotal.Inc()
	h.cast.Broadcast(req.ConversationID, ws.NewMessageEvent(*dto), "")
	c.JSON(http.StatusCreated, gin.H{"message": dto})
}

// MarkRead handles POST /messages/read — bulk mark-read for a conversation.
func (h *Handler) MarkRead(c *gin.Context) {
	var req struct {
		ConversationID uint `json:"conversation_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ConversationID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	userID := auth.GetUserID(c)
	ids, err := h.msgs.MarkRead(req.ConversationID, userID)
	if err != nil {
		respondErr(c, err)
		return
	}
	now := time.Now()
	for _, id := range ids {
		h.cast.Broadcast(req.ConversationID, ws.MessageReadEvent(req.ConversationID, id, userID, now), "")
	}
	c.JSON(http.StatusOK, gin.H{"read": len(ids)})
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string) int {
	v, _ := strconv.Atoi(c.Query(key))
	return v
}
