package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/damoang/angple-social/internal/common"
	"github.com/damoang/angple-social/internal/domain"
	"github.com/damoang/angple-social/internal/repository"
	"github.com/damoang/angple-social/pkg/logger"
	"gorm.io/gorm"
)

// MessagePolicy time windows and limits applied by the message store
type MessagePolicy struct {
	EditWindow    time.Duration
	Retention     time.Duration
	MaxBodyLength int
}

// DefaultMessagePolicy 5 minute edit window, 24 hour retention
func DefaultMessagePolicy() MessagePolicy {
	return MessagePolicy{
		EditWindow:    5 * time.Minute,
		Retention:     24 * time.Hour,
		MaxBodyLength: 4000,
	}
}

// MessageOption customizes a message service
type MessageOption func(*messageService)

// WithClock overrides the time source
func WithClock(now func() time.Time) MessageOption {
	return func(s *messageService) {
		s.now = now
	}
}

// MessageService business logic for one-to-one chat messages
type MessageService interface {
	Send(ctx context.Context, senderID string, req *domain.SendMessageRequest) (*domain.Message, error)
	History(ctx context.Context, userID, peerID string, limit int) ([]*domain.Message, error)
	Conversations(ctx context.Context, userID string) ([]*domain.ConversationSummary, error)
	MarkDelivered(ctx context.Context, messageID uint64, receiverID string) (*domain.Message, bool, error)
	MarkRead(ctx context.Context, readerID, peerID string) (int64, error)
	Edit(ctx context.Context, messageID uint64, requesterID, body string) (*domain.Message, error)
	Delete(ctx context.Context, messageID uint64, requesterID string) (*domain.Message, error)
	DeleteConversation(ctx context.Context, userID, peerID string) (int64, error)
	Enrich(ctx context.Context, messages ...*domain.Message) []*domain.MessageResponse
	PurgeExpired(ctx context.Context) (int64, error)
}

type messageService struct {
	repo   repository.MessageRepository
	users  UserDirectory
	policy MessagePolicy
	now    func() time.Time
}

// NewMessageService creates a new MessageService. users may be nil, in
// which case receivers are not checked and profiles are placeholders.
func NewMessageService(repo repository.MessageRepository, users UserDirectory, policy MessagePolicy, opts ...MessageOption) MessageService {
	s := &messageService{
		repo:   repo,
		users:  users,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", common.ErrStore, err)
}

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

func validateUserID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return validationErr("%s is required", field)
	}
	if !domain.ValidUserID(id) {
		return validationErr("%s is malformed", field)
	}
	return nil
}

func validatePair(userID, peerID string) error {
	if err := validateUserID("user id", userID); err != nil {
		return err
	}
	if err := validateUserID("peer id", peerID); err != nil {
		return err
	}
	if userID == peerID {
		return validationErr("a conversation needs two different users")
	}
	return nil
}

func (s *messageService) normalizeBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", validationErr("message body is empty")
	}
	if s.policy.MaxBodyLength > 0 && utf8.RuneCountInString(trimmed) > s.policy.MaxBodyLength {
		return "", validationErr("message body exceeds %d characters", s.policy.MaxBodyLength)
	}
	return trimmed, nil
}

// cutoff is the creation time at or before which messages are expired
func (s *messageService) cutoff() time.Time {
	return s.now().Add(-s.policy.Retention)
}

func (s *messageService) expired(msg *domain.Message) bool {
	return !msg.CreatedAt.After(s.cutoff())
}

// find loads a live message, treating expired rows as already gone
func (s *messageService) find(ctx context.Context, id uint64) (*domain.Message, error) {
	msg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrMessageNotFound
		}
		return nil, storeErr(err)
	}
	if s.expired(msg) {
		return nil, common.ErrMessageNotFound
	}
	return msg, nil
}

// Send validates and persists a new message
func (s *messageService) Send(ctx context.Context, senderID string, req *domain.SendMessageRequest) (*domain.Message, error) {
	if err := validatePair(senderID, req.ReceiverID); err != nil {
		return nil, err
	}
	body, err := s.normalizeBody(req.Message)
	if err != nil {
		return nil, err
	}

	if req.ReplyTo != nil {
		target, err := s.find(ctx, *req.ReplyTo)
		if err != nil {
			if errors.Is(err, common.ErrMessageNotFound) {
				return nil, validationErr("reply target %d does not exist", *req.ReplyTo)
			}
			return nil, err
		}
		if !target.Involves(senderID) || !target.Involves(req.ReceiverID) {
			return nil, validationErr("reply target %d belongs to another conversation", *req.ReplyTo)
		}
	}

	if s.users != nil {
		if _, err := s.users.Profile(ctx, req.ReceiverID); err != nil {
			return nil, err
		}
	}

	msg := &domain.Message{
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Body:       body,
		ReplyToID:  req.ReplyTo,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, storeErr(err)
	}
	return msg, nil
}

// History returns the conversation ascending, or the latest limit
// messages descending when limit > 0
func (s *messageService) History(ctx context.Context, userID, peerID string, limit int) ([]*domain.Message, error) {
	if err := validatePair(userID, peerID); err != nil {
		return nil, err
	}

	var (
		messages []*domain.Message
		err      error
	)
	if limit > 0 {
		messages, err = s.repo.FindRecent(ctx, userID, peerID, s.cutoff(), limit)
	} else {
		messages, err = s.repo.FindConversation(ctx, userID, peerID, s.cutoff())
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return messages, nil
}

// Conversations returns one summary per peer, newest first
func (s *messageService) Conversations(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	if err := validateUserID("user id", userID); err != nil {
		return nil, err
	}

	messages, err := s.repo.FindInvolving(ctx, userID, s.cutoff())
	if err != nil {
		return nil, storeErr(err)
	}

	byPeer := make(map[string]*domain.ConversationSummary)
	summaries := make([]*domain.ConversationSummary, 0)
	for _, m := range messages {
		peer := m.PeerOf(userID)
		sum, ok := byPeer[peer]
		if !ok {
			// newest first, so the first message seen is the last one sent
			sum = &domain.ConversationSummary{
				PeerID:        peer,
				LastMessage:   m,
				LastMessageAt: m.CreatedAt,
			}
			byPeer[peer] = sum
			summaries = append(summaries, sum)
		}
		if m.ReceiverID == userID && !m.Read {
			sum.UnreadCount++
			sum.Unread = true
		}
	}

	peers := make([]string, 0, len(summaries))
	for _, sum := range summaries {
		peers = append(peers, sum.PeerID)
	}
	profiles := s.profiles(ctx, peers...)
	for _, sum := range summaries {
		sum.Peer = profiles[sum.PeerID]
	}

	domain.SortConversations(summaries)
	return summaries, nil
}

// MarkDelivered records that the receiver's connection got the message.
// The bool reports whether the flag changed.
func (s *messageService) MarkDelivered(ctx context.Context, messageID uint64, receiverID string) (*domain.Message, bool, error) {
	msg, err := s.find(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if msg.ReceiverID != receiverID {
		return nil, false, fmt.Errorf("%w: only the receiver can acknowledge delivery", common.ErrForbidden)
	}
	if msg.Delivered {
		return msg, false, nil
	}

	at := s.now()
	changed, err := s.repo.MarkDelivered(ctx, messageID, at)
	if err != nil {
		return nil, false, storeErr(err)
	}
	if changed {
		msg.Delivered = true
		msg.DeliveredAt = &at
	}
	return msg, changed, nil
}

// MarkRead marks every unread message from peerID to readerID as read
func (s *messageService) MarkRead(ctx context.Context, readerID, peerID string) (int64, error) {
	if err := validatePair(readerID, peerID); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkReadFrom(ctx, peerID, readerID, s.now())
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

// Edit replaces the body of a message owned by requesterID within the edit window
func (s *messageService) Edit(ctx context.Context, messageID uint64, requesterID, body string) (*domain.Message, error) {
	msg, err := s.find(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, fmt.Errorf("%w: only the sender can edit a message", common.ErrForbidden)
	}
	if s.now().Sub(msg.CreatedAt) > s.policy.EditWindow {
		return nil, common.ErrEditWindowExpired
	}
	trimmed, err := s.normalizeBody(body)
	if err != nil {
		return nil, err
	}

	at := s.now()
	if err := s.repo.UpdateBody(ctx, messageID, trimmed, at); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrMessageNotFound
		}
		return nil, storeErr(err)
	}
	msg.Body = trimmed
	msg.Edited = true
	msg.UpdatedAt = at
	return msg, nil
}

// Delete removes a single message owned by requesterID
func (s *messageService) Delete(ctx context.Context, messageID uint64, requesterID string) (*domain.Message, error) {
	msg, err := s.find(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, fmt.Errorf("%w: only the sender can delete a message", common.ErrForbidden)
	}
	if err := s.repo.Delete(ctx, messageID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrMessageNotFound
		}
		return nil, storeErr(err)
	}
	return msg, nil
}

// DeleteConversation removes every message between userID and peerID
func (s *messageService) DeleteConversation(ctx context.Context, userID, peerID string) (int64, error) {
	if err := validatePair(userID, peerID); err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteConversation(ctx, userID, peerID)
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

// Enrich attaches sender, receiver and reply target display data. Lookup
// failures degrade to placeholders.
func (s *messageService) Enrich(ctx context.Context, messages ...*domain.Message) []*domain.MessageResponse {
	replyIDs := make([]uint64, 0)
	for _, m := range messages {
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	replies := make(map[uint64]*domain.Message, len(replyIDs))
	if len(replyIDs) > 0 {
		found, err := s.repo.FindByIDs(ctx, replyIDs)
		if err != nil {
			logger.Warn("reply lookup failed: %v", err)
		}
		for _, r := range found {
			if !s.expired(r) {
				replies[r.ID] = r
			}
		}
	}

	ids := make([]string, 0, len(messages)*2)
	for _, m := range messages {
		ids = append(ids, m.SenderID, m.ReceiverID)
	}
	for _, r := range replies {
		ids = append(ids, r.SenderID)
	}
	profiles := s.profiles(ctx, ids...)

	out := make([]*domain.MessageResponse, 0, len(messages))
	for _, m := range messages {
		resp := &domain.MessageResponse{
			Message:         m,
			SenderProfile:   profiles[m.SenderID],
			ReceiverProfile: profiles[m.ReceiverID],
		}
		if m.ReplyToID != nil {
			if r, ok := replies[*m.ReplyToID]; ok {
				resp.ReplyPreview = &domain.ReplyPreview{
					ID:      r.ID,
					Sender:  profiles[r.SenderID],
					Message: r.Body,
				}
			} else {
				resp.ReplyPreview = &domain.ReplyPreview{ID: *m.ReplyToID, Missing: true}
			}
		}
		out = append(out, resp)
	}
	return out
}

// PurgeExpired permanently removes messages past the retention window
func (s *messageService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteCreatedBefore(ctx, s.cutoff())
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

func (s *messageService) profiles(ctx context.Context, ids ...string) map[string]*domain.UserProfile {
	if s.users != nil {
		profiles, err := s.users.Profiles(ctx, ids...)
		if err == nil {
			return profiles
		}
		logger.Warn("profile lookup failed: %v", err)
	}
	profiles := make(map[string]*domain.UserProfile, len(ids))
	for _, id := range ids {
		profiles[id] = domain.UnknownProfile(id)
	}
	return profiles
}
