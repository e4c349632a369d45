// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"netsight-go/internal/model"
)

// ErrDuplicateDocument 表示同一归属下已存在相同内容哈希的文档。
var ErrDuplicateDocument = errors.New("document with the same content hash already exists")

// DocumentRepository 定义了文档元数据和隐藏记录的持久化操作。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.Document, error)
	// FindDuplicate 查找 owner 名下或共享文档中具有相同内容哈希的记录。
	FindDuplicate(ctx context.Context, ownerID, contentHash string) (*model.Document, error)
	FindSharedByHash(ctx context.Context, contentHash string) (*model.Document, error)
	ListVisible(ctx context.Context, identityID string) ([]model.Document, error)
	ListHiddenIDs(ctx context.Context, identityID string) ([]string, error)
	Hide(ctx context.Context, identityID, documentID string) error
	Delete(ctx context.Context, id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 违反 (owner_key, content_hash) 唯一索引时返回 ErrDuplicateDocument，需要以 TranslateError 打开 gorm。
func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateDocument
		}
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// FindByID 未找到时返回 nil, nil。
func (r *documentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *documentRepository) FindByIDs(ctx context.Context, ids []string) ([]model.Document, error) {
	var docs []model.Document
	if len(ids) == 0 {
		return docs, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("find documents failed: %w", err)
	}
	return docs, nil
}

func (r *documentRepository) FindDuplicate(ctx context.Context, ownerID, contentHash string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).
		Where("content_hash = ?", contentHash).
		Where(r.db.Where("visibility = ? AND owner_id = ?", model.VisibilityPrivate, ownerID).
			Or("visibility = ?", model.VisibilityShared)).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find duplicate document failed: %w", err)
	}
	return &doc, nil
}

func (r *documentRepository) FindSharedByHash(ctx context.Context, contentHash string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).
		Where("visibility = ? AND content_hash = ?", model.VisibilityShared, contentHash).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find shared document failed: %w", err)
	}
	return &doc, nil
}

// ListVisible 返回未被该身份隐藏的共享文档以及该身份自己的私有文档。
func (r *documentRepository) ListVisible(ctx context.Context, identityID string) ([]model.Document, error) {
	hidden := r.db.Model(&model.DocumentHide{}).Select("document_id").Where("identity_id = ?", identityID)
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Where("visibility = ? AND owner_id = ?", model.VisibilityPrivate, identityID).
		Or("visibility = ? AND id NOT IN (?)", model.VisibilityShared, hidden).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list visible documents failed: %w", err)
	}
	return docs, nil
}

func (r *documentRepository) ListHiddenIDs(ctx context.Context, identityID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.DocumentHide{}).
		Where("identity_id = ?", identityID).
		Pluck("document_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list hidden documents failed: %w", err)
	}
	return ids, nil
}

// Hide 重复调用不会报错。
func (r *documentRepository) Hide(ctx context.Context, identityID, documentID string) error {
	record := &model.DocumentHide{IdentityID: identityID, DocumentID: documentID}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error
	if err != nil {
		return fmt.Errorf("hide document failed: %w", err)
	}
	return nil
}

// Delete 删除文档元数据及其所有隐藏记录。
func (r *documentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.DocumentHide{}).Error; err != nil {
			return fmt.Errorf("delete document hides failed: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&model.Document{}).Error; err != nil {
			return fmt.Errorf("delete document failed: %w", err)
		}
		return nil
	})
}
