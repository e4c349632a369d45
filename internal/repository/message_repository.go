package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"netsight-go/internal/model"
)

// MessageRepository 定义了会话消息的持久化操作。
type MessageRepository interface {
	Create(ctx context.Context, msg *model.ChatMessage) error
	CountBySession(ctx context.Context, sessionID string) (int64, error)
	// ListBySession 按时间升序返回会话的全部消息。
	ListBySession(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	// ListRecentIncluded 返回最近 limit 条参与上下文的消息，按时间升序。
	ListRecentIncluded(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error)
	// SetInclusion 全量替换：只有 includedIDs 中的消息保持参与上下文。
	SetInclusion(ctx context.Context, sessionID string, includedIDs []string) error
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, msg *model.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("create chat message failed: %w", err)
	}
	return nil
}

func (r *messageRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ChatMessage{}).Where("session_id = ?", sessionID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count chat messages failed: %w", err)
	}
	return count, nil
}

func (r *messageRepository) ListBySession(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	var list []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").Order("seq ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list chat messages failed: %w", err)
	}
	return list, nil
}

func (r *messageRepository) ListRecentIncluded(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	var list []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND included_in_context = ?", sessionID, true).
		Order("created_at DESC").Order("seq DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list recent chat messages failed: %w", err)
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func (r *messageRepository) SetInclusion(ctx context.Context, sessionID string, includedIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.ChatMessage{}).
			Where("session_id = ?", sessionID).
			UpdateColumn("included_in_context", false).Error
		if err != nil {
			return fmt.Errorf("reset message inclusion failed: %w", err)
		}
		if len(includedIDs) == 0 {
			return nil
		}
		err = tx.Model(&model.ChatMessage{}).
			Where("session_id = ? AND id IN ?", sessionID, includedIDs).
			UpdateColumn("included_in_context", true).Error
		if err != nil {
			return fmt.Errorf("set message inclusion failed: %w", err)
		}
		return nil
	})
}
