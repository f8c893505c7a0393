package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/morphly-app/morphly/internal/artifact"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// GetChatByID returns nil when the chat does not exist.
func (r *Repo) GetChatByID(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListChats returns the user's chats newest first.
func (r *Repo) ListChats(ctx context.Context, userID uint64, offset, limit int) ([]Chat, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var chats []Chat
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *Repo) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("title", title).Error
}

// SetChatPreview implements artifact.PreviewSetter.
func (r *Repo) SetChatPreview(ctx context.Context, chatID, svgURL string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("preview_image_url", svgURL).Error
}

// DeleteChat removes the chat and everything referencing it in one
// transaction, so readers never observe partially-deleted state.
func (r *Repo) DeleteChat(ctx context.Context, chatID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&Stream{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&artifact.Document{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", chatID).Delete(&Chat{}).Error
	})
}

// CreateMessages inserts a turn's messages in one batch write.
func (r *Repo) CreateMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&msgs).Error
}

// ListMessages returns the chat's full transcript, oldest first.
func (r *Repo) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// LastMessage returns the newest message of the chat, or nil when empty.
func (r *Repo) LastMessage(ctx context.Context, chatID string) (*Message, error) {
	var m Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *Repo) MessageBelongsToChat(ctx context.Context, chatID, messageID string) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND chat_id = ?", messageID, chatID).
		Count(&cnt).Error
	if err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// UpsertVote records a vote, overwriting any prior vote for the same
// (chat, message) pair rather than creating a duplicate row.
func (r *Repo) UpsertVote(ctx context.Context, v *Vote) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_upvote"}),
	}).Create(v).Error
}

func (r *Repo) ListVotes(ctx context.Context, chatID string) ([]Vote, error) {
	var votes []Vote
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Find(&votes).Error
	if err != nil {
		return nil, err
	}
	return votes, nil
}

func (r *Repo) CreateStream(ctx context.Context, s *Stream) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// LatestStream returns the chat's most recent stream handle, or nil.
func (r *Repo) LatestStream(ctx context.Context, chatID string) (*Stream, error) {
	var s Stream
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC"). // ULIDs sort by creation time
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
