package models

import "time"

// User rows are maintained by the identity service; this backend only reads
// them to decorate API responses with display names.
type User struct {
	ID          uint   `gorm:"primaryKey"`
	Username    string `gorm:"uniqueIndex;size:64;not null"`
	DisplayName string `gorm:"size:128"`
	AvatarURL   string `gorm:"size:512"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Conversation groups one fixed set of participants. ParticipantKey is the
// canonical sorted participant id list ("3:7:12"); the unique index on it is
// what keeps conversation dedup atomic under concurrent creates.
type Conversation struct {
	ID             uint   `gorm:"primaryKey"`
	ParticipantKey string `gorm:"uniqueIndex;size:512;not null"`
	CreatedAt      time.Time

	// Snapshot of the most recent message, written in the same transaction
	// as the message row itself.
	LastMessageContent  string `gorm:"type:text"`
	LastMessageSenderID uint
	LastMessageAt       *time.Time `gorm:"index"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID"`
}

type ConversationParticipant struct {
	ID             uint `gorm:"primaryKey"`
	ConversationID uint `gorm:"uniqueIndex:idx_conv_participant;not null"`
	UserID         uint `gorm:"uniqueIndex:idx_conv_participant;index;not null"`
}

// Message is append-only. Seq is assigned under the per-conversation append
// lock and is strictly increasing within a conversation, so (Seq, ID) totally
// orders the log no matter how rows are fetched.
type Message struct {
	ID             uint   `gorm:"primaryKey"`
	ConversationID uint   `gorm:"uniqueIndex:idx_conv_seq;index;not null"`
	SenderID       uint   `gorm:"index;not null"`
	Seq            uint64 `gorm:"uniqueIndex:idx_conv_seq;not null"`
	Content        string `gorm:"type:text;not null"`
	CreatedAt      time.Time

	ReadBy []MessageRead `gorm:"foreignKey:MessageID"`
}

// MessageRead records that a participant has seen a message. The unique index
// keeps markRead idempotent; the sender never gets a row for their own message.
type MessageRead struct {
	ID        uint `gorm:"primaryKey"`
	MessageID uint `gorm:"uniqueIndex:idx_msg_reader;not null"`
	UserID    uint `gorm:"uniqueIndex:idx_msg_reader;not null"`
	ReadAt    time.Time
}
