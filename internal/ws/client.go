package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/auth"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/config"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/metrics"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/service"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxMsgSize = 1 << 20 // 1MB
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one live session: one connection from one authenticated user. It
// owns the connection pumps and relays events between the transport and the
// stores; all room membership lives in the hub.
type Client struct {
	sessionID string
	userID    uint

	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// rooms is the session's joined set; guarded by hub.mu.
	rooms map[uint]struct{}

	hub    *Hub
	typing *TypingBroadcaster
	convs  *service.ConversationService
	msgs   *service.MessageService
}

// shutdown stops delivery to this session. Only the hub calls it, as part of
// UnregisterSession.
func (c *Client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// Serve upgrades the connection after verifying the credential. A bad token
// is rejected before any session state exists.
func Serve(hub *Hub, typing *TypingBroadcaster, convs *service.ConversationService, msgs *service.MessageService, cfg config.Config) gin.HandlerFunc {
	return func(g *gin.Context) {
		token := auth.TokenFromRequest(g.Request)
		if token == "" {
			g.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			g.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(g.Writer, g.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			sessionID: uuid.NewString(),
			userID:    claims.UserID,
			conn:      conn,
			send:      make(chan []byte, cfg.WSSendBuffer),
			done:      make(chan struct{}),
			rooms:     make(map[uint]struct{}),
			hub:       hub,
			typing:    typing,
			convs:     convs,
			msgs:      msgs,
		}
		hub.RegisterSession(client)
		log.Debug().Str("session_id", client.sessionID).Uint("user_id", client.userID).Msg("session connected")

		go client.writePump()
		client.readPump()
	}
}

// disconnect is the single exit path for a session, whatever ended it: clean
// close, read error, or a missed heartbeat. Typing state clears first so the
// synthesized isTyping=false still reaches the rooms the session was in.
func (c *Client) disconnect() {
	c.typing.ClearSession(c)
	c.hub.UnregisterSession(c)
	_ = c.conn.Close()
	log.Debug().Str("session_id", c.sessionID).Uint("user_id", c.userID).Msg("session disconnected")
}

// enqueue queues a payload for this session without blocking the caller.
func (c *Client) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	case <-c.done:
	default:
	}
}

func (c *Client) fail(conversationID uint, err error) {
	log.Debug().Err(err).Str("session_id", c.sessionID).Uint("conversation_id", conversationID).Msg("operation rejected")
	c.enqueue(ErrorEvent(service.ErrorCode(err), err.Error(), conversationID))
}

func (c *Client) readPump() {
	defer c.disconnect()
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		in, err := decodeInbound(data)
		if err != nil {
			c.enqueue(ErrorEvent("VALIDATION", err.Error(), 0))
			continue
		}
		c.dispatch(in)
	}
}

func (c *Client) dispatch(in *Inbound) {
	switch in.Type {
	case EvtJoinConversation:
		c.onJoin(in.ConversationID)
	case EvtLeaveConversation:
		c.onLeave(in.ConversationID)
	case EvtSendMessage:
		c.onSend(in.ConversationID, in.Content)
	case EvtTyping:
		c.onTyping(in.ConversationID, in.IsTyping)
	case EvtMarkAsRead:
		c.onMarkRead(in.ConversationID)
	}
}

func (c *Client) onJoin(conversationID uint) {
	if _, err := c.convs.GetByIDAuthorized(conversationID, c.userID); err != nil {
		c.fail(conversationID, err)
		return
	}
	c.hub.Join(c, conversationID)
	c.enqueue(JoinedEvent(conversationID))
}

func (c *Client) onLeave(conversationID uint) {
	c.typing.Set(c, conversationID, false)
	c.hub.Leave(c, conversationID)
	c.enqueue(LeftEvent(conversationID))
}

// onSend persists first, then fans out. The broadcast has no exclusion so the
// sender's other sessions see the message too; the originating session also
// gets an explicit ack. On failure nothing is broadcast.
func (c *Client) onSend(conversationID uint, content string) {
	msg, err := c.msgs.Append(conversationID, c.userID, content)
	if err != nil {
		c.fail(conversationID, err)
		return
	}
	dto, err := c.msgs.DTO(msg)
	if err != nil {
		// Persisted but undecorated: fall back to the bare message rather
		// than dropping the broadcast.
		log.Warn().Err(err).Uint("conversation_id", conversationID).Msg("sender profile lookup failed")
		dto = &service.MessageDTO{
			Type: "message", ID: msg.ID, ConversationID: msg.ConversationID,
			SenderID: msg.SenderID, Seq: msg.Seq, Content: msg.Content, CreatedAt: msg.CreatedAt,
		}
	}
	metrics.MessagesTotal.Inc()
	c.hub.Broadcast(conversationID, NewMessageEvent(*dto), "")
	c.enqueue(MessageAckEvent(*dto))
}

// onTyping relays the signal to the room; never touches persistence. A typing
// signal for a room the session has not joined is silently dropped.
func (c *Client) onTyping(conversationID uint, isTyping bool) {
	if !c.hub.InRoom(c, conversationID) {
		log.Debug().Str("session_id", c.sessionID).Uint("conversation_id", conversationID).Msg("typing signal for unjoined room dropped")
		return
	}
	c.typing.Set(c, conversationID, isTyping)
}

func (c *Client) onMarkRead(conversationID uint) {
	ids, err := c.msgs.MarkRead(conversationID, c.userID)
	if err != nil {
		c.fail(conversationID, err)
		return
	}
	now := time.Now()
	for _, id := range ids {
		c.hub.Broadcast(conversationID, MessageReadEvent(conversationID, id, c.userID, now), c.sessionID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
