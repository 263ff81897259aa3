package ws

import (
	"encoding/json"
	"time"

	"github.com/damoang/angple-social/internal/domain"
)

// Inbound event types
const (
	EventAuthenticate      = "authenticate"
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventTyping            = "typing"
	EventMessageDelivered  = "message-delivered"
	EventMarkRead          = "mark-read"
)

// Outbound event types
const (
	EventAuthenticated       = "authenticated"
	EventPresenceSnapshot    = "presence-snapshot"
	EventUserOnline          = "user-online"
	EventUserOffline         = "user-offline"
	EventJoined              = "joined"
	EventLeft                = "left"
	EventNewMessage          = "new-message"
	EventMessageAck          = "message-ack"
	EventUserTyping          = "user-typing"
	EventMessagesRead        = "messages-read"
	EventMessageUpdated      = "message-updated"
	EventMessageDeleted      = "message-deleted"
	EventConversationDeleted = "conversation-deleted"
	EventError               = "error"
)

// Realtime-only error codes, the rest are shared with the REST API
const (
	CodeRateLimited          = "RATE_LIMITED"
	CodeAlreadyAuthenticated = "ALREADY_AUTHENTICATED"
	CodeUnknownEvent         = "UNKNOWN_EVENT"
	CodeMalformedFrame       = "MALFORMED_FRAME"
)

// CloseAuthFailed websocket close code for failed or missing authentication
const CloseAuthFailed = 4401

// CloseTryAgainLater presence could not be recorded for the connection
const CloseTryAgainLater = 1013

// Frame an inbound client frame
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event an outbound server frame
type Event struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent creates an outbound event
func NewEvent(eventType string, payload interface{}) *Event {
	return &Event{Type: eventType, Payload: payload}
}

// Encode serializes the event for the wire
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// AuthenticatePayload authenticate
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// PartnerPayload join-conversation, leave-conversation, mark-read
type PartnerPayload struct {
	PartnerID string `json:"partnerId"`
}

// TypingPayload typing
type TypingPayload struct {
	PartnerID string `json:"partnerId"`
	IsTyping  bool   `json:"isTyping"`
}

// DeliveredPayload message-delivered (inbound)
type DeliveredPayload struct {
	MessageID uint64 `json:"messageId"`
}

// UserPayload authenticated, user-online, user-offline
type UserPayload struct {
	UserID string `json:"userId"`
}

// PresenceSnapshotPayload presence-snapshot
type PresenceSnapshotPayload struct {
	Online []string `json:"online"`
}

// RoomPayload joined, left
type RoomPayload struct {
	PartnerID string `json:"partnerId"`
	Room      string `json:"room"`
}

// UserTypingPayload user-typing
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// DeliveryReceiptPayload message-delivered (outbound)
type DeliveryReceiptPayload struct {
	DeliveredAt *time.Time `json:"deliveredAt"`
	MessageID   uint64     `json:"messageId"`
}

// ReadReceiptPayload messages-read
type ReadReceiptPayload struct {
	ReaderID string `json:"readerId"`
	Count    int64  `json:"count"`
}

// MessageDeletedPayload message-deleted
type MessageDeletedPayload struct {
	MessageID uint64 `json:"messageId"`
}

// ConversationDeletedPayload conversation-deleted
type ConversationDeletedPayload struct {
	Room    string `json:"room"`
	Deleted int64  `json:"deleted"`
}

// ErrorPayload error and failed ack details
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// AckPayload message-ack
type AckPayload struct {
	Message   *domain.MessageResponse `json:"message,omitempty"`
	Error     *ErrorPayload           `json:"error,omitempty"`
	RequestID string                  `json:"requestId"`
	Success   bool                    `json:"success"`
}
