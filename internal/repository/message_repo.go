package repository

import (
	"context"
	"time"

	"github.com/damoang/angple-social/internal/domain"
	"gorm.io/gorm"
)

const pairCondition = "((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))"

// MessageRepository chat message data access interface
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	FindByID(ctx context.Context, id uint64) (*domain.Message, error)
	FindByIDs(ctx context.Context, ids []uint64) ([]*domain.Message, error)
	FindConversation(ctx context.Context, userA, userB string, since time.Time) ([]*domain.Message, error)
	FindRecent(ctx context.Context, userA, userB string, since time.Time, limit int) ([]*domain.Message, error)
	FindInvolving(ctx context.Context, userID string, since time.Time) ([]*domain.Message, error)
	MarkDelivered(ctx context.Context, id uint64, at time.Time) (bool, error)
	MarkReadFrom(ctx context.Context, senderID, receiverID string, at time.Time) (int64, error)
	UpdateBody(ctx context.Context, id uint64, body string, at time.Time) error
	Delete(ctx context.Context, id uint64) error
	DeleteConversation(ctx context.Context, userA, userB string) (int64, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) pair(ctx context.Context, userA, userB string) *gorm.DB {
	return r.db.WithContext(ctx).Where(pairCondition, userA, userB, userB, userA)
}

// Create inserts a message; ID and timestamps are filled in on msg
func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// FindByID finds a message by ID
func (r *messageRepository) FindByID(ctx context.Context, id uint64) (*domain.Message, error) {
	var msg domain.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// FindByIDs returns the messages that still exist among ids
func (r *messageRepository) FindByIDs(ctx context.Context, ids []uint64) ([]*domain.Message, error) {
	var messages []*domain.Message
	if len(ids) == 0 {
		return messages, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&messages).Error
	return messages, err
}

// FindConversation returns the whole conversation in ascending order
func (r *messageRepository) FindConversation(ctx context.Context, userA, userB string, since time.Time) ([]*domain.Message, error) {
	var messages []*domain.Message
	err := r.pair(ctx, userA, userB).
		Where("created_at > ?", since).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

// FindRecent returns the latest limit messages of a conversation, newest first
func (r *messageRepository) FindRecent(ctx context.Context, userA, userB string, since time.Time, limit int) ([]*domain.Message, error) {
	var messages []*domain.Message
	err := r.pair(ctx, userA, userB).
		Where("created_at > ?", since).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// FindInvolving returns every message sent or received by userID, newest first
func (r *messageRepository) FindInvolving(ctx context.Context, userID string, since time.Time) ([]*domain.Message, error) {
	var messages []*domain.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? OR receiver_id = ?)", userID, userID).
		Where("created_at > ?", since).
		Order("created_at DESC, id DESC").
		Find(&messages).Error
	return messages, err
}

// MarkDelivered flags a message delivered; false when it already was
func (r *messageRepository) MarkDelivered(ctx context.Context, id uint64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND is_delivered = ?", id, false).
		Updates(map[string]interface{}{
			"is_delivered": true,
			"delivered_at": at,
		})
	return result.RowsAffected > 0, result.Error
}

// MarkReadFrom flags every unread message from sender to receiver as read
func (r *messageRepository) MarkReadFrom(ctx context.Context, senderID, receiverID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": at,
		})
	return result.RowsAffected, result.Error
}

// UpdateBody replaces the body and sets the edited flag
func (r *messageRepository) UpdateBody(ctx context.Context, id uint64, body string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"body":       body,
			"is_edited":  true,
			"updated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete permanently removes a message
func (r *messageRepository) Delete(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteConversation removes every message between the two users
func (r *messageRepository) DeleteConversation(ctx context.Context, userA, userB string) (int64, error) {
	result := r.pair(ctx, userA, userB).Delete(&domain.Message{})
	return result.RowsAffected, result.Error
}

// DeleteCreatedBefore removes messages created at or before cutoff
func (r *messageRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at <= ?", cutoff).Delete(&domain.Message{})
	return result.RowsAffected, result.Error
}
