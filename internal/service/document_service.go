// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"netsight-go/internal/model"
	"netsight-go/internal/pipeline"
	"netsight-go/internal/repository"
	"netsight-go/pkg/es"
	"netsight-go/pkg/log"
	"netsight-go/pkg/storage"
)

// DocumentService 接口定义了文档登记、删除、隐藏与列表操作。
type DocumentService interface {
	Register(ctx context.Context, identity model.Identity, data []byte, filename string) (*model.Document, error)
	// RegisterSharedUpload 供管理员直接上传共享文档。
	RegisterSharedUpload(ctx context.Context, identity model.Identity, data []byte, filename string) (*model.Document, error)
	// RegisterShared 供共享目录导入流程使用，重复内容返回 pipeline.ErrAlreadyRegistered。
	RegisterShared(ctx context.Context, data []byte, filename string) error
	HasSharedHash(ctx context.Context, contentHash string) (bool, error)
	Delete(ctx context.Context, identity model.Identity, documentID string) error
	Hide(ctx context.Context, identity model.Identity, documentID string) error
	ListVisible(ctx context.Context, identity model.Identity) ([]model.Document, error)
}

// DocumentPolicy 是上传校验规则。
type DocumentPolicy struct {
	AllowedExtensions []string
	MaxSizeBytes      int64
}

type documentService struct {
	docRepo  repository.DocumentRepository
	index    es.Index
	store    storage.ObjectStore
	ingestor pipeline.Ingestor
	policy   DocumentPolicy
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, index es.Index, store storage.ObjectStore, ingestor pipeline.Ingestor, policy DocumentPolicy) DocumentService {
	return &documentService{
		docRepo:  docRepo,
		index:    index,
		store:    store,
		ingestor: ingestor,
		policy:   policy,
	}
}

func (s *documentService) Register(ctx context.Context, identity model.Identity, data []byte, filename string) (*model.Document, error) {
	ownerID := identity.ID
	return s.register(ctx, &ownerID, model.VisibilityPrivate, data, filename)
}

func (s *documentService) RegisterSharedUpload(ctx context.Context, identity model.Identity, data []byte, filename string) (*model.Document, error) {
	if !identity.IsAdmin() {
		return nil, ErrNotOwner
	}
	return s.register(ctx, nil, model.VisibilityShared, data, filename)
}

func (s *documentService) RegisterShared(ctx context.Context, data []byte, filename string) error {
	_, err := s.register(ctx, nil, model.VisibilityShared, data, filename)
	if errors.Is(err, ErrDuplicateContent) {
		return fmt.Errorf("%w: %w", err, pipeline.ErrAlreadyRegistered)
	}
	return err
}

func (s *documentService) HasSharedHash(ctx context.Context, contentHash string) (bool, error) {
	doc, err := s.docRepo.FindSharedByHash(ctx, contentHash)
	if err != nil {
		return false, err
	}
	return doc != nil, nil
}

// register 完成校验、去重、存储原文件、切块向量化、写索引、写元数据。
// 索引和元数据要么同时存在要么都不存在，任何一步失败都会回滚已完成的步骤。
func (s *documentService) register(ctx context.Context, ownerID *string, visibility string, data []byte, filename string) (*model.Document, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if err := s.validate(data, filename); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])
	log.Infof("[Registry] 开始登记文档, FileName: %s, hash: %s, visibility: %s", filename, contentHash, visibility)

	var existing *model.Document
	var err error
	if ownerID != nil {
		existing, err = s.docRepo.FindDuplicate(ctx, *ownerID, contentHash)
	} else {
		existing, err = s.docRepo.FindSharedByHash(ctx, contentHash)
	}
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Infof("[Registry] 内容重复, 已存在文档: %s", existing.ID)
		return nil, ErrDuplicateContent
	}

	doc := &model.Document{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Visibility:  visibility,
		Filename:    filename,
		ContentHash: contentHash,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	if ownerID != nil {
		doc.ObjectKey = storage.UserObjectKey(*ownerID, doc.ID, filename)
	} else {
		doc.ObjectKey = storage.SharedObjectKey(doc.ID, filename)
	}

	if err := s.store.Put(ctx, doc.ObjectKey, data, mimetype.Detect(data).String()); err != nil {
		return nil, fmt.Errorf("保存文件失败: %w", err)
	}
	log.Infof("[Registry] 步骤1: 文件已保存, Object: %s", doc.ObjectKey)

	cleanup := context.WithoutCancel(ctx)
	chunks, err := s.ingestor.Prepare(ctx, data, filename)
	if err != nil {
		s.removeObject(cleanup, doc.ObjectKey)
		return nil, fmt.Errorf("文档处理失败: %w", err)
	}

	esChunks := make([]model.EsChunk, len(chunks))
	for i, c := range chunks {
		esChunks[i] = model.EsChunk{
			ChunkID:    fmt.Sprintf("%s_%d", doc.ID, i),
			DocumentID: doc.ID,
			OwnerID:    doc.IndexOwner(),
			Visibility: visibility,
			Text:       c.Text,
			Vector:     c.Vector,
		}
	}
	if err := s.index.Add(ctx, esChunks); err != nil {
		s.dropIndex(cleanup, doc.ID)
		s.removeObject(cleanup, doc.ObjectKey)
		return nil, fmt.Errorf("写入向量索引失败: %w", err)
	}
	log.Infof("[Registry] 步骤2: 已写入 %d 个分块到向量索引", len(esChunks))

	if err := s.docRepo.Create(ctx, doc); err != nil {
		s.dropIndex(cleanup, doc.ID)
		s.removeObject(cleanup, doc.ObjectKey)
		// 并发上传相同内容时由唯一索引兜底
		if errors.Is(err, repository.ErrDuplicateDocument) {
			log.Infof("[Registry] 内容重复(并发写入), hash: %s", contentHash)
			return nil, ErrDuplicateContent
		}
		return nil, err
	}
	log.Infof("[Registry] 文档登记完成, DocumentID: %s", doc.ID)
	return doc, nil
}

func (s *documentService) validate(data []byte, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	allowed := false
	for _, e := range s.policy.AllowedExtensions {
		if strings.EqualFold(e, ext) {
			allowed = true
			break
		}
	}
	if !allowed {
		return invalidInput("unsupported file type %q", ext)
	}
	if len(data) == 0 {
		return invalidInput("file is empty")
	}
	if s.policy.MaxSizeBytes > 0 && int64(len(data)) > s.policy.MaxSizeBytes {
		return invalidInput("file exceeds %d bytes", s.policy.MaxSizeBytes)
	}
	return nil
}

// Delete 依次删除索引、元数据和原文件。
func (s *documentService) Delete(ctx context.Context, identity model.Identity, documentID string) error {
	doc, err := s.docRepo.FindByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrNotFound
	}
	if doc.IsShared() {
		return ErrImmutable
	}
	if !doc.IsOwnedBy(identity.ID) {
		return ErrNotOwner
	}

	if err := s.index.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("删除向量索引失败: %w", err)
	}
	if err := s.docRepo.Delete(ctx, doc.ID); err != nil {
		return err
	}
	s.removeObject(context.WithoutCancel(ctx), doc.ObjectKey)
	log.Infof("[Registry] 文档已删除, DocumentID: %s, identity: %s", doc.ID, identity.ID)
	return nil
}

func (s *documentService) Hide(ctx context.Context, identity model.Identity, documentID string) error {
	doc, err := s.docRepo.FindByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrNotFound
	}
	if !doc.IsShared() {
		// 他人的私有文档按不存在处理，不暴露其存在
		if !doc.IsOwnedBy(identity.ID) {
			return ErrNotFound
		}
		return ErrInvalidTarget
	}
	return s.docRepo.Hide(ctx, identity.ID, doc.ID)
}

func (s *documentService) ListVisible(ctx context.Context, identity model.Identity) ([]model.Document, error) {
	return s.docRepo.ListVisible(ctx, identity.ID)
}

func (s *documentService) dropIndex(ctx context.Context, documentID string) {
	if err := s.index.DeleteDocument(ctx, documentID); err != nil {
		log.Errorf("[Registry] 回滚向量索引失败, DocumentID: %s, err: %v", documentID, err)
	}
}

// removeObject 文件缺失或删除失败只记日志。
func (s *documentService) removeObject(ctx context.Context, key string) {
	if err := s.store.Remove(ctx, key); err != nil {
		log.Warnf("[Registry] 删除文件失败, Object: %s, err: %v", key, err)
	}
}
