package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"netsight-go/internal/model"
)

// SessionRepository 定义了聊天会话的持久化操作。
type SessionRepository interface {
	Create(ctx context.Context, session *model.ChatSession) error
	GetByID(ctx context.Context, id string) (*model.ChatSession, error)
	GetByIDAndOwner(ctx context.Context, id, ownerID string) (*model.ChatSession, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.ChatSession, error)
	// SetTitle 只修改标题，不触碰 updated_at。
	SetTitle(ctx context.Context, id, title string) error
	Rename(ctx context.Context, id, title string, at time.Time) error
	SetSelectedDocuments(ctx context.Context, id string, documentIDs []string, at time.Time) error
	Touch(ctx context.Context, id string, at time.Time) error
	// DeleteWithMessages 在同一事务内删除会话及其全部消息。
	DeleteWithMessages(ctx context.Context, id string) (int64, error)
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, session *model.ChatSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("create chat session failed: %w", err)
	}
	return nil
}

// GetByID 未找到时返回 nil, nil。
func (r *sessionRepository) GetByID(ctx context.Context, id string) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat session failed: %w", err)
	}
	return &session, nil
}

// GetByIDAndOwner 会话不存在或不属于 owner 时都返回 nil, nil。
func (r *sessionRepository) GetByIDAndOwner(ctx context.Context, id, ownerID string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat session failed: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) ListByOwner(ctx context.Context, ownerID string) ([]model.ChatSession, error) {
	var list []model.ChatSession
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("updated_at DESC").Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list chat sessions failed: %w", err)
	}
	return list, nil
}

func (r *sessionRepository) SetTitle(ctx context.Context, id, title string) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"title": title})
}

func (r *sessionRepository) Rename(ctx context.Context, id, title string, at time.Time) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"title": title, "updated_at": at})
}

func (r *sessionRepository) SetSelectedDocuments(ctx context.Context, id string, documentIDs []string, at time.Time) error {
	return r.updateColumns(ctx, id, map[string]interface{}{
		"selected_document_ids": datatypes.NewJSONSlice(documentIDs),
		"updated_at":            at,
	})
}

func (r *sessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"updated_at": at})
}

// updateColumns 使用 UpdateColumns 跳过 GORM 的钩子和自动时间戳。
func (r *sessionRepository) updateColumns(ctx context.Context, id string, values map[string]interface{}) error {
	err := r.db.WithContext(ctx).Model(&model.ChatSession{}).Where("id = ?", id).UpdateColumns(values).Error
	if err != nil {
		return fmt.Errorf("update chat session failed: %w", err)
	}
	return nil
}

func (r *sessionRepository) DeleteWithMessages(ctx context.Context, id string) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("session_id = ?", id).Delete(&model.ChatMessage{})
		if res.Error != nil {
			return fmt.Errorf("delete chat messages failed: %w", res.Error)
		}
		removed = res.RowsAffected
		if err := tx.Where("id = ?", id).Delete(&model.ChatSession{}).Error; err != nil {
			return fmt.Errorf("delete chat session failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
