package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/damoang/angple-social/internal/common"
	"github.com/damoang/angple-social/internal/domain"
	"github.com/damoang/angple-social/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateDisconnected
)

// CloseError asks the read pump to close the connection
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close %d: %s", e.Code, e.Reason)
}

type handlerFunc func(s *Session, ctx context.Context, requestID string, payload json.RawMessage) error

// dispatch table keyed by inbound event type
var handlers = map[string]handlerFunc{
	EventAuthenticate:      (*Session).handleAuthenticate,
	EventJoinConversation:  (*Session).handleJoin,
	EventLeaveConversation: (*Session).handleLeave,
	EventSendMessage:       (*Session).handleSendMessage,
	EventTyping:            (*Session).handleTyping,
	EventMessageDelivered:  (*Session).handleDelivered,
	EventMarkRead:          (*Session).handleMarkRead,
}

// Session per-connection protocol state. Only the connection's read
// goroutine touches it.
type Session struct {
	hub     *Hub
	client  *Client
	state   sessionState
	limiter *rate.Limiter
	joined  map[string]struct{}
	log     zerolog.Logger
}

// NewSession creates an unauthenticated session for client
func NewSession(hub *Hub, client *Client) *Session {
	return &Session{
		hub:     hub,
		client:  client,
		state:   stateUnauthenticated,
		limiter: rate.NewLimiter(rate.Limit(hub.opts.EventsPerSecond), hub.opts.EventBurst),
		joined:  make(map[string]struct{}),
		log:     logger.WithConnection(client.ID(), ""),
	}
}

// Authenticated reports whether the session completed authentication
func (s *Session) Authenticated() bool {
	return s.state == stateAuthenticated
}

// Start binds an identity verified at handshake. A non-nil CloseError
// means the connection could not be registered.
func (s *Session) Start(identity *Identity) *CloseError {
	ctx, cancel := context.WithTimeout(context.Background(), s.hub.opts.EventTimeout)
	defer cancel()
	if err := s.authenticated(ctx, identity); err != nil {
		return s.registerFailed("", err)
	}
	return nil
}

func (s *Session) authenticated(ctx context.Context, identity *Identity) error {
	s.client.setUserID(identity.UserID)
	greeting := NewEvent(EventAuthenticated, UserPayload{UserID: identity.UserID})
	if err := s.hub.Register(ctx, s.client, greeting); err != nil {
		s.client.setUserID("")
		return err
	}
	s.state = stateAuthenticated
	s.log = logger.WithConnection(s.client.ID(), identity.UserID)

	online, err := s.hub.presence.Online(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("presence snapshot failed")
		online = []string{}
	}
	s.client.SendEvent(NewEvent(EventPresenceSnapshot, PresenceSnapshotPayload{Online: online}))
	s.log.Debug().Msg("session authenticated")
	return nil
}

func (s *Session) registerFailed(requestID string, err error) *CloseError {
	s.log.Error().Err(err).Msg("register connection failed")
	s.sendError(requestID, common.CodeTransientStore, "presence is unavailable, try again later")
	return &CloseError{Code: CloseTryAgainLater, Reason: "presence unavailable"}
}

// Close unregisters the connection. Safe to call more than once.
func (s *Session) Close() {
	if s.state == stateDisconnected {
		return
	}
	s.state = stateDisconnected
	s.joined = map[string]struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), s.hub.opts.EventTimeout)
	defer cancel()
	s.hub.Unregister(ctx, s.client)
}

// Handle processes one inbound frame. A non-nil CloseError means the
// connection must be closed.
func (s *Session) Handle(raw []byte) *CloseError {
	if s.state == stateDisconnected {
		return nil
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		eventsTotal.WithLabelValues("unknown", "malformed").Inc()
		s.sendError("", CodeMalformedFrame, "frame must be a JSON object with a type")
		return nil
	}
	requestID := frame.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	handler, ok := handlers[frame.Type]
	if !ok {
		eventsTotal.WithLabelValues("unknown", "rejected").Inc()
		s.sendError(requestID, CodeUnknownEvent, fmt.Sprintf("unknown event %q", frame.Type))
		return nil
	}
	if !s.limiter.Allow() {
		eventsTotal.WithLabelValues(frame.Type, "rate_limited").Inc()
		s.sendError(requestID, CodeRateLimited, "too many events")
		return nil
	}

	switch {
	case s.state == stateUnauthenticated && frame.Type != EventAuthenticate:
		eventsTotal.WithLabelValues(frame.Type, "rejected").Inc()
		s.sendError(requestID, common.CodeAuthentication, "authenticate first")
		return nil
	case s.state == stateAuthenticated && frame.Type == EventAuthenticate:
		eventsTotal.WithLabelValues(frame.Type, "rejected").Inc()
		s.sendError(requestID, CodeAlreadyAuthenticated, "connection is already authenticated")
		return nil
	}

	ctx, cancel := context.WithTimeout(s.hub.ctx, s.hub.opts.EventTimeout)
	defer cancel()

	err := handler(s, ctx, requestID, frame.Payload)
	var ce *CloseError
	if errors.As(err, &ce) {
		eventsTotal.WithLabelValues(frame.Type, "closed").Inc()
		return ce
	}
	if err != nil {
		eventsTotal.WithLabelValues(frame.Type, "error").Inc()
		s.sendFailure(requestID, err)
		return nil
	}
	eventsTotal.WithLabelValues(frame.Type, "ok").Inc()
	return nil
}

func decodePayload(payload json.RawMessage, dest interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload is required", common.ErrValidation)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("%w: malformed payload", common.ErrValidation)
	}
	return nil
}

func (s *Session) partner(payload json.RawMessage) (string, error) {
	var p PartnerPayload
	if err := decodePayload(payload, &p); err != nil {
		return "", err
	}
	return s.validPartner(p.PartnerID)
}

func (s *Session) validPartner(partnerID string) (string, error) {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return "", fmt.Errorf("%w: partnerId is required", common.ErrValidation)
	}
	if !domain.ValidUserID(partnerID) {
		return "", fmt.Errorf("%w: partnerId is malformed", common.ErrValidation)
	}
	if partnerID == s.client.UserID() {
		return "", fmt.Errorf("%w: partnerId must be another user", common.ErrValidation)
	}
	return partnerID, nil
}

func (s *Session) handleAuthenticate(ctx context.Context, requestID string, payload json.RawMessage) error {
	var p AuthenticatePayload
	if err := decodePayload(payload, &p); err != nil {
		s.sendFailure(requestID, err)
		return &CloseError{Code: CloseAuthFailed, Reason: "malformed authenticate payload"}
	}
	identity, err := s.hub.auth.Authenticate(ctx, p.Token)
	if err != nil {
		s.log.Info().Err(err).Msg("authentication rejected")
		s.sendError(requestID, common.CodeAuthentication, "invalid or expired token")
		return &CloseError{Code: CloseAuthFailed, Reason: "authentication failed"}
	}
	if err := s.authenticated(ctx, identity); err != nil {
		return s.registerFailed(requestID, err)
	}
	return nil
}

func (s *Session) handleJoin(_ context.Context, _ string, payload json.RawMessage) error {
	partnerID, err := s.partner(payload)
	if err != nil {
		return err
	}
	key := s.hub.rooms.Join(s.client, partnerID)
	s.joined[key] = struct{}{}
	s.client.SendEvent(NewEvent(EventJoined, RoomPayload{PartnerID: partnerID, Room: key}))
	return nil
}

func (s *Session) handleLeave(_ context.Context, _ string, payload json.RawMessage) error {
	partnerID, err := s.partner(payload)
	if err != nil {
		return err
	}
	key, _ := s.hub.rooms.Leave(s.client, partnerID)
	delete(s.joined, key)
	s.client.SendEvent(NewEvent(EventLeft, RoomPayload{PartnerID: partnerID, Room: key}))
	return nil
}

// handleSendMessage persists, broadcasts to the room, then acks the sender.
// Failures are reported through the ack, not an error event.
func (s *Session) handleSendMessage(ctx context.Context, requestID string, payload json.RawMessage) error {
	var req domain.SendMessageRequest
	if err := decodePayload(payload, &req); err != nil {
		s.ack(requestID, nil, err)
		return nil
	}

	senderID := s.client.UserID()
	msg, err := s.hub.messages.Send(ctx, senderID, &req)
	if err != nil {
		if errors.Is(err, common.ErrStore) {
			s.log.Error().Err(err).Msg("persist message failed")
		}
		s.ack(requestID, nil, err)
		return nil
	}
	messagesSent.Inc()

	enriched := s.hub.messages.Enrich(ctx, msg)[0]
	s.hub.PublishToConversation(senderID, msg.ReceiverID, NewEvent(EventNewMessage, enriched))
	s.ack(requestID, enriched, nil)
	return nil
}

func (s *Session) handleTyping(_ context.Context, _ string, payload json.RawMessage) error {
	var p TypingPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	partnerID, err := s.validPartner(p.PartnerID)
	if err != nil {
		return err
	}
	s.hub.SendToUser(partnerID, NewEvent(EventUserTyping, UserTypingPayload{
		UserID:   s.client.UserID(),
		IsTyping: p.IsTyping,
	}))
	return nil
}

func (s *Session) handleDelivered(ctx context.Context, _ string, payload json.RawMessage) error {
	var p DeliveredPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	if p.MessageID == 0 {
		return fmt.Errorf("%w: messageId is required", common.ErrValidation)
	}
	msg, changed, err := s.hub.messages.MarkDelivered(ctx, p.MessageID, s.client.UserID())
	if err != nil {
		return err
	}
	if changed {
		s.hub.SendToUser(msg.SenderID, NewEvent(EventMessageDelivered, DeliveryReceiptPayload{
			MessageID:   msg.ID,
			DeliveredAt: msg.DeliveredAt,
		}))
	}
	return nil
}

func (s *Session) handleMarkRead(ctx context.Context, _ string, payload json.RawMessage) error {
	partnerID, err := s.partner(payload)
	if err != nil {
		return err
	}
	readerID := s.client.UserID()
	n, err := s.hub.messages.MarkRead(ctx, readerID, partnerID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.hub.SendToUser(partnerID, NewEvent(EventMessagesRead, ReadReceiptPayload{ReaderID: readerID, Count: n}))
	}
	return nil
}

func (s *Session) ack(requestID string, msg *domain.MessageResponse, err error) {
	payload := AckPayload{RequestID: requestID, Success: err == nil, Message: msg}
	if err != nil {
		_, code, message := common.ResolveError(err)
		payload.Error = &ErrorPayload{Code: code, Message: message}
	}
	ev := NewEvent(EventMessageAck, payload)
	ev.ID = requestID
	s.client.SendEvent(ev)
}

func (s *Session) sendFailure(requestID string, err error) {
	_, code, message := common.ResolveError(err)
	if code == common.CodeInternal || code == common.CodeTransientStore {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("event failed")
	}
	s.sendError(requestID, code, message)
}

func (s *Session) sendError(requestID, code, message string) {
	ev := NewEvent(EventError, ErrorPayload{Code: code, Message: message, RequestID: requestID})
	ev.ID = requestID
	s.client.SendEvent(ev)
}
