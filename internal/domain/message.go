package domain

import (
	"sort"
	"strings"
	"time"
)

// RoomSeparator joins the two sorted participant IDs of a conversation key
const RoomSeparator = ":"

// MaxUserIDLength sender_id/receiver_id column size
const MaxUserIDLength = 64

// Message a chat message between two users (chat_messages table)
type Message struct {
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index:idx_chat_messages_pair,priority:3;index" json:"createdAt"`
	DeliveredAt *time.Time `gorm:"column:delivered_at" json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `gorm:"column:read_at" json:"readAt,omitempty"`
	UpdatedAt   time.Time  `gorm:"column:updated_at" json:"updatedAt"`
	ReplyToID   *uint64    `gorm:"column:reply_to_id" json:"replyTo,omitempty"`
	SenderID    string     `gorm:"column:sender_id;size:64;not null;index:idx_chat_messages_pair,priority:1" json:"sender"`
	ReceiverID  string     `gorm:"column:receiver_id;size:64;not null;index:idx_chat_messages_pair,priority:2;index" json:"receiver"`
	Body        string     `gorm:"column:body;type:text;not null" json:"message"`
	ID          uint64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Delivered   bool       `gorm:"column:is_delivered;not null;default:false" json:"delivered"`
	Read        bool       `gorm:"column:is_read;not null;default:false" json:"read"`
	Edited      bool       `gorm:"column:is_edited;not null;default:false" json:"edited"`
}

func (Message) TableName() string {
	return "chat_messages"
}

// PeerOf returns the other participant of the message from userID's view
func (m *Message) PeerOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether userID is a participant of the message
func (m *Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// ValidUserID reports whether id may take part in a conversation.
// IDs containing RoomSeparator are rejected so that RoomKey stays
// unique per pair.
func ValidUserID(id string) bool {
	if id == "" || len(id) > MaxUserIDLength {
		return false
	}
	return !strings.ContainsAny(id, " \t\r\n"+RoomSeparator)
}

// RoomKey returns the conversation key for the unordered pair {a, b}
func RoomKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + RoomSeparator + pair[1]
}

// SendMessageRequest POST /message and send-message payload
type SendMessageRequest struct {
	ReceiverID string  `json:"receiverId" binding:"required"`
	Message    string  `json:"message" binding:"required"`
	ReplyTo    *uint64 `json:"replyTo,omitempty"`
}

// EditMessageRequest PUT /message/:id payload
type EditMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// ReplyPreview the quoted message shown above a reply
type ReplyPreview struct {
	Sender  *UserProfile `json:"sender"`
	Message string       `json:"message"`
	ID      uint64       `json:"id"`
	Missing bool         `json:"missing,omitempty"`
}

// MessageResponse a message enriched with display data
type MessageResponse struct {
	*Message
	SenderProfile   *UserProfile  `json:"senderProfile"`
	ReceiverProfile *UserProfile  `json:"receiverProfile"`
	ReplyPreview    *ReplyPreview `json:"replyPreview,omitempty"`
}

// ConversationSummary one entry of GET /conversations
type ConversationSummary struct {
	LastMessageAt time.Time    `json:"lastMessageAt"`
	Peer          *UserProfile `json:"peer"`
	LastMessage   *Message     `json:"lastMessage"`
	PeerID        string       `json:"peerId"`
	UnreadCount   int          `json:"unreadCount"`
	Unread        bool         `json:"unread"`
}

// SortConversations orders summaries newest first
func SortConversations(list []*ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
}
