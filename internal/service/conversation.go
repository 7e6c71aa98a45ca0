package service

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/directory"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/models"
)

// ConversationService owns conversation lifecycle: creation with
// participant-set dedup, membership checks, and the lastMessage snapshot.
type ConversationService struct {
	db  *gorm.DB
	dir directory.Resolver
}

func NewConversationService(db *gorm.DB, dir directory.Resolver) *ConversationService {
	return &ConversationService{db: db, dir: dir}
}

// LastMessageDTO mirrors the denormalized snapshot on the conversation.
type LastMessageDTO struct {
	Content    string    `json:"content"`
	SenderID   uint      `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type ConversationDTO struct {
	ID           uint                `json:"id"`
	Participants []directory.Profile `json:"participants"`
	CreatedAt    time.Time           `json:"created_at"`
	LastMessage  *LastMessageDTO     `json:"last_message,omitempty"`
}

// participantKey builds the canonical identity of a participant set: distinct
// ids, ascending, colon-joined. Set equality collapses to string equality.
func participantKey(ids []uint) string {
	sorted := make([]uint, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, 0, len(sorted))
	for _, id := range sorted {
		parts = append(parts, strconv.FormatUint(uint64(id), 10))
	}
	return strings.Join(parts, ":")
}

// normalizeParticipants merges the requester into the set and dedups.
func normalizeParticipants(requesterID uint, otherIDs []uint) []uint {
	ids := lo.Uniq(append([]uint{requesterID}, otherIDs...))
	return lo.Filter(ids, func(id uint, _ int) bool { return id != 0 })
}

// CreateOrGet returns the conversation for the given participant set,
// creating it if none exists. The second return reports whether a new
// conversation was created. Two concurrent creates for the same set race on
// the unique participant key; the loser re-reads the winner's row.
func (s *ConversationService) CreateOrGet(requesterID uint, otherIDs []uint) (*models.Conversation, bool, error) {
	ids := normalizeParticipants(requesterID, otherIDs)
	if len(ids) < 2 {
		return nil, false, fmt.Errorf("%w: a conversation needs at least 2 distinct participants", ErrValidation)
	}
	key := participantKey(ids)

	var existing models.Conversation
	err := s.db.Preload("Participants").Where("participant_key = ?", key).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	conv := models.Conversation{ParticipantKey: key}
	for _, id := range ids {
		conv.Participants = append(conv.Participants, models.ConversationParticipant{UserID: id})
	}
	if err := s.db.Create(&conv).Error; err != nil {
		// Lost the create race: the row now exists, return it.
		var winner models.Conversation
		if err2 := s.db.Preload("Participants").Where("participant_key = ?", key).First(&winner).Error; err2 == nil {
			return &winner, false, nil
		}
		return nil, false, err
	}
	return &conv, true, nil
}

// ListForUser returns every conversation the user participates in, most
// recently active first; conversations with no messages sort last by
// creation time.
func (s *ConversationService) ListForUser(userID uint) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Preload("Participants").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastMessageAt, convs[j].LastMessageAt
		switch {
		case a != nil && b != nil:
			return a.After(*b)
		case a != nil:
			return true
		case b != nil:
			return false
		default:
			return convs[i].CreatedAt.After(convs[j].CreatedAt)
		}
	})
	return convs, nil
}

// GetByIDAuthorized fetches a conversation and verifies the requester is a
// participant.
func (s *ConversationService) GetByIDAuthorized(conversationID, requesterID uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.Preload("Participants").First(&conv, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
		}
		return nil, err
	}
	if !isParticipant(&conv, requesterID) {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, ErrForbidden)
	}
	return &conv, nil
}

func isParticipant(conv *models.Conversation, userID uint) bool {
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the member ids of a conversation.
func ParticipantIDs(conv *models.Conversation) []uint {
	return lo.Map(conv.Participants, func(p models.ConversationParticipant, _ int) uint { return p.UserID })
}

// DTO decorates a conversation with directory profiles.
func (s *ConversationService) DTO(conv *models.Conversation) (*ConversationDTO, error) {
	ids := ParticipantIDs(conv)
	lookupIDs := ids
	if conv.LastMessageSenderID != 0 {
		lookupIDs = append(lookupIDs, conv.LastMessageSenderID)
	}
	profiles, err := s.dir.Resolve(lo.Uniq(lookupIDs))
	if err != nil {
		return nil, err
	}
	dto := &ConversationDTO{ID: conv.ID, CreatedAt: conv.CreatedAt}
	for _, id := range ids {
		p, ok := profiles[id]
		if !ok {
			p = directory.Profile{ID: id}
		}
		dto.Participants = append(dto.Participants, p)
	}
	if conv.LastMessageAt != nil {
		dto.LastMessage = &LastMessageDTO{
			Content:    conv.LastMessageContent,
			SenderID:   conv.LastMessageSenderID,
			SenderName: profiles[conv.LastMessageSenderID].DisplayName,
			Timestamp:  *conv.LastMessageAt,
		}
	}
	return dto, nil
}

// DTOs maps a conversation list, reusing one directory lookup.
func (s *ConversationService) DTOs(convs []models.Conversation) ([]ConversationDTO, error) {
	var ids []uint
	for i := range convs {
		ids = append(ids, ParticipantIDs(&convs[i])...)
		if convs[i].LastMessageSenderID != 0 {
			ids = append(ids, convs[i].LastMessageSenderID)
		}
	}
	profiles, err := s.dir.Resolve(lo.Uniq(ids))
	if err != nil {
		return nil, err
	}
	out := make([]ConversationDTO, 0, len(convs))
	for i := range convs {
		conv := &convs[i]
		dto := ConversationDTO{ID: conv.ID, CreatedAt: conv.CreatedAt}
		for _, id := range ParticipantIDs(conv) {
			p, ok := profiles[id]
			if !ok {
				p = directory.Profile{ID: id}
			}
			dto.Participants = append(dto.Participants, p)
		}
		if conv.LastMessageAt != nil {
			dto.LastMessage = &LastMessageDTO{
				Content:    conv.LastMessageContent,
				SenderID:   conv.LastMessageSenderID,
				SenderName: profiles[conv.LastMessageSenderID].DisplayName,
				Timestamp:  *conv.LastMessageAt,
			}
		}
		out = append(out, dto)
	}
	return out, nil
}
