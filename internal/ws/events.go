package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/service"
)

// Client → server event types. The inbound set is closed: anything else is
// rejected at the transport boundary.
const (
	EvtJoinConversation  = "joinConversation"
	EvtLeaveConversation = "leaveConversation"
	EvtSendMessage       = "sendMessage"
	EvtTyping            = "typing"
	EvtMarkAsRead        = "markAsRead"
)

// Server → client event types.
const (
	EvtNewMessage   = "newMessage"
	EvtUserTyping   = "userTyping"
	EvtMessageRead  = "messageRead"
	EvtMessageAck   = "messageAck"
	EvtMessageError = "messageError"
	EvtJoined       = "joined"
	EvtLeft         = "left"
)

var validate = validator.New()

// Inbound is the envelope for every client event. Field requirements depend
// on the event type; decodeInbound enforces them before dispatch.
type Inbound struct {
	Type           string `json:"type" validate:"required,oneof=joinConversation leaveConversation sendMessage typing markAsRead"`
	ConversationID uint   `json:"conversation_id" validate:"required"`
	Content        string `json:"content" validate:"required_if=Type sendMessage,max=4000"`
	IsTyping       bool   `json:"is_typing"`
}

func decodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	if err := validate.Struct(&in); err != nil {
		return nil, fmt.Errorf("invalid %q event: %w", in.Type, err)
	}
	return &in, nil
}

type newMessageEvent struct {
	Type    string             `json:"type"`
	Message service.MessageDTO `json:"message"`
}

// NewMessageEvent is broadcast to a room after a successful append. The same
// shape is used for the REST fallback send.
func NewMessageEvent(msg service.MessageDTO) []byte {
	b, _ := json.Marshal(newMessageEvent{Type: EvtNewMessage, Message: msg})
	return b
}

type messageAckEvent struct {
	Type    string             `json:"type"`
	Message service.MessageDTO `json:"message"`
}

// MessageAckEvent acknowledges the originating session once its message is
// persisted and broadcast.
func MessageAckEvent(msg service.MessageDTO) []byte {
	b, _ := json.Marshal(messageAckEvent{Type: EvtMessageAck, Message: msg})
	return b
}

type userTypingEvent struct {
	Type           string `json:"type"`
	ConversationID uint   `json:"conversation_id"`
	UserID         uint   `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

func UserTypingEvent(conversationID, userID uint, isTyping bool) []byte {
	b, _ := json.Marshal(userTypingEvent{Type: EvtUserTyping, ConversationID: conversationID, UserID: userID, IsTyping: isTyping})
	return b
}

type messageReadEvent struct {
	Type           string    `json:"type"`
	ConversationID uint      `json:"conversation_id"`
	MessageID      uint      `json:"message_id"`
	UserID         uint      `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

func MessageReadEvent(conversationID, messageID, userID uint, readAt time.Time) []byte {
	b, _ := json.Marshal(messageReadEvent{Type: EvtMessageRead, ConversationID: conversationID, MessageID: messageID, UserID: userID, ReadAt: readAt})
	return b
}

type errorEvent struct {
	Type           string `json:"type"`
	Code           string `json:"code"`
	Error          string `json:"error"`
	ConversationID uint   `json:"conversation_id,omitempty"`
}

// ErrorEvent is the terminal acknowledgment for a failed operation; it never
// disconnects the session.
func ErrorEvent(code, msg string, conversationID uint) []byte {
	b, _ := json.Marshal(errorEvent{Type: EvtMessageError, Code: code, Error: msg, ConversationID: conversationID})
	return b
}

type roomEvent struct {
	Type           string `json:"type"`
	ConversationID uint   `json:"conversation_id"`
}

func JoinedEvent(conversationID uint) []byte {
	b, _ := json.Marshal(roomEvent{Type: EvtJoined, ConversationID: conversationID})
	return b
}

func LeftEvent(conversationID uint) []byte {
	b, _ := json.Marshal(roomEvent{Type: EvtLeft, ConversationID: conversationID})
	return b
}
