package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/directory"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/models"
)

const maxContentLen = 4000

// MessageService owns the append-only message log: order-key assignment,
// catch-up reads, and read receipts.
type MessageService struct {
	db    *gorm.DB
	convs *ConversationService
	dir   directory.Resolver

	// Appends to one conversation are serialized so seq assignment and the
	// lastMessage snapshot cannot interleave. Different conversations append
	// concurrently.
	mu    sync.Mutex
	locks map[uint]*sync.Mutex

	defaultPageSize int
}

func NewMessageService(db *gorm.DB, convs *ConversationService, dir directory.Resolver, defaultPageSize int) *MessageService {
	if defaultPageSize <= 0 {
		defaultPageSize = 50
	}
	return &MessageService{
		db:              db,
		convs:           convs,
		dir:             dir,
		locks:           make(map[uint]*sync.Mutex),
		defaultPageSize: defaultPageSize,
	}
}

func (s *MessageService) convLock(conversationID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	return l
}

type ReadReceiptDTO struct {
	UserID uint      `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type MessageDTO struct {
	Type           string           `json:"type"`
	ID             uint             `json:"id"`
	ConversationID uint             `json:"conversation_id"`
	SenderID       uint             `json:"sender_id"`
	SenderName     string           `json:"sender_name,omitempty"`
	Seq            uint64           `json:"seq"`
	Content        string           `json:"content"`
	CreatedAt      time.Time        `json:"created_at"`
	ReadBy         []ReadReceiptDTO `json:"read_by,omitempty"`
}

// Append validates, assigns the next order key, and persists the message. The
// message insert and the conversation lastMessage update commit in one
// transaction: a transient failure leaves neither behind.
func (s *MessageService) Append(conversationID, senderID uint, content string) (*models.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: message content must not be empty", ErrValidation)
	}
	if len(content) > maxContentLen {
		return nil, fmt.Errorf("%w: message content too long", ErrValidation)
	}
	if _, err := s.convs.GetByIDAuthorized(conversationID, senderID); err != nil {
		return nil, err
	}

	l := s.convLock(conversationID)
	l.Lock()
	defer l.Unlock()

	msg := models.Message{ConversationID: conversationID, SenderID: senderID, Content: content}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var maxSeq uint64
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		msg.Seq = maxSeq + 1
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", conversationID).Updates(map[string]interface{}{
			"last_message_content":   msg.Content,
			"last_message_sender_id": msg.SenderID,
			"last_message_at":        msg.CreatedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// History is the catch-up read path: authorization through the conversation
// store, then the ordered page. With afterID it returns messages strictly
// after that message (reconnect reconciliation); without it, the most recent
// page. Results are always ascending by (seq, id).
func (s *MessageService) History(conversationID, requesterID, afterID uint, limit int) ([]models.Message, error) {
	if _, err := s.convs.GetByIDAuthorized(conversationID, requesterID); err != nil {
		return nil, err
	}
	return s.ListByConversation(conversationID, afterID, limit)
}

// ListByConversation is the store-level read; callers are expected to have
// authorized the requester already.
func (s *MessageService) ListByConversation(conversationID, afterID uint, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = s.defaultPageSize
	}

	var msgs []models.Message
	if afterID > 0 {
		var after models.Message
		if err := s.db.Where("id = ? AND conversation_id = ?", afterID, conversationID).First(&after).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("message %d: %w", afterID, ErrNotFound)
			}
			return nil, err
		}
		err := s.db.Preload("ReadBy").
			Where("conversation_id = ? AND seq > ?", conversationID, after.Seq).
			Order("seq asc").Limit(limit).
			Find(&msgs).Error
		return msgs, err
	}

	// Initial load: newest page, returned oldest-first.
	err := s.db.Preload("ReadBy").
		Where("conversation_id = ?", conversationID).
		Order("seq desc").Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead records a read receipt for every message in the conversation the
// user has not seen yet, skipping the user's own messages. It returns the ids
// of the newly read messages so the caller can notify the room. Calling it
// again with nothing unread is a no-op.
func (s *MessageService) MarkRead(conversationID, userID uint) ([]uint, error) {
	if _, err := s.convs.GetByIDAuthorized(conversationID, userID); err != nil {
		return nil, err
	}

	var ids []uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ?", conversationID, userID).
			Where("NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = messages.id AND r.user_id = ?)", userID).
			Order("seq asc").
			Pluck("messages.id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		now := time.Now()
		rows := make([]models.MessageRead, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, models.MessageRead{MessageID: id, UserID: userID, ReadAt: now})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DTO decorates one message with the sender's directory profile.
func (s *MessageService) DTO(msg *models.Message) (*MessageDTO, error) {
	dtos, err := s.DTOs([]models.Message{*msg})
	if err != nil {
		return nil, err
	}
	return &dtos[0], nil
}

// DTOs maps a message page, resolving all senders in one directory lookup.
func (s *MessageService) DTOs(msgs []models.Message) ([]MessageDTO, error) {
	senderIDs := lo.Uniq(lo.Map(msgs, func(m models.Message, _ int) uint { return m.SenderID }))
	profiles, err := s.dir.Resolve(senderIDs)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		dto := MessageDTO{
			Type:           "message",
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			SenderName:     profiles[m.SenderID].DisplayName,
			Seq:            m.Seq,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		}
		for _, r := range m.ReadBy {
			dto.ReadBy = append(dto.ReadBy, ReadReceiptDTO{UserID: r.UserID, ReadAt: r.ReadAt})
		}
		out = append(out, dto)
	}
	return out, nil
}
