package service

import (
	"context"
	"fmt"

	"netsight-go/internal/model"
	"netsight-go/internal/repository"
	"netsight-go/pkg/embedding"
	"netsight-go/pkg/es"
	"netsight-go/pkg/log"
)

// unknownFilename 用于无法解析文件名的命中。
const unknownFilename = "Unknown"

// RetrievalService 计算身份和会话可见的知识范围，并返回排序后的检索片段。
type RetrievalService interface {
	// Retrieve 会话不存在或没有命中时返回空列表；其余失败以 error 返回，由调用方降级处理。
	Retrieve(ctx context.Context, identity model.Identity, session *model.ChatSession, query string, k int) ([]model.Source, error)
}

type retrievalService struct {
	docRepo  repository.DocumentRepository
	embedder embedding.Client
	index    es.Index
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(docRepo repository.DocumentRepository, embedder embedding.Client, index es.Index) RetrievalService {
	return &retrievalService{docRepo: docRepo, embedder: embedder, index: index}
}

// scopeRule 是一条检索范围规则，按顺序匹配，第一条命中的规则生效。
type scopeRule struct {
	name    string
	applies func(session *model.ChatSession) bool
	narrow  func(session *model.ChatSession, filter *es.Filter)
}

var scopeRules = []scopeRule{
	{
		name:    "selected-documents",
		applies: func(s *model.ChatSession) bool { return len(s.SelectedDocumentIDs) > 0 },
		narrow: func(s *model.ChatSession, f *es.Filter) {
			f.DocumentIDs = append([]string(nil), s.SelectedDocumentIDs...)
		},
	},
	{
		name:    "default-visibility",
		applies: func(*model.ChatSession) bool { return true },
		narrow:  func(*model.ChatSession, *es.Filter) {},
	},
}

// resolveScope 构造索引过滤条件。两条规则都以"本人或共享、且未被本人隐藏"为基础。
func (s *retrievalService) resolveScope(ctx context.Context, identity model.Identity, session *model.ChatSession) (es.Filter, string, error) {
	hidden, err := s.docRepo.ListHiddenIDs(ctx, identity.ID)
	if err != nil {
		return es.Filter{}, "", err
	}
	filter := es.Filter{
		OwnerIDs:           []string{identity.ID, model.SharedOwner},
		ExcludeDocumentIDs: hidden,
	}
	for _, rule := range scopeRules {
		if rule.applies(session) {
			rule.narrow(session, &filter)
			return filter, rule.name, nil
		}
	}
	return filter, "", nil
}

func (s *retrievalService) Retrieve(ctx context.Context, identity model.Identity, session *model.ChatSession, query string, k int) ([]model.Source, error) {
	if session == nil || k <= 0 {
		return []model.Source{}, nil
	}

	filter, rule, err := s.resolveScope(ctx, identity, session)
	if err != nil {
		return nil, fmt.Errorf("resolve retrieval scope: %w", err)
	}
	log.Infof("[Retrieval] session: %s, scope rule: %s, hidden: %d", session.ID, rule, len(filter.ExcludeDocumentIDs))

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return []model.Source{}, nil
	}

	hits, err := s.index.Query(ctx, vectors[0], k, filter)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	if len(hits) == 0 {
		return []model.Source{}, nil
	}

	names := s.resolveFilenames(ctx, hits)
	sources := make([]model.Source, 0, len(hits))
	for _, h := range hits {
		name, ok := names[h.DocumentID]
		if !ok {
			name = unknownFilename
		}
		sources = append(sources, model.Source{
			DocumentID: h.DocumentID,
			Filename:   name,
			Text:       h.Text,
			Score:      h.Score,
		})
	}
	log.Infof("[Retrieval] 检索完成, 命中 %d 个片段", len(sources))
	return sources, nil
}

// resolveFilenames 解析失败时不影响检索结果，全部显示为 Unknown。
func (s *retrievalService) resolveFilenames(ctx context.Context, hits []model.ChunkHit) map[string]string {
	ids := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if !seen[h.DocumentID] {
			seen[h.DocumentID] = true
			ids = append(ids, h.DocumentID)
		}
	}
	names := make(map[string]string, len(ids))
	docs, err := s.docRepo.FindByIDs(ctx, ids)
	if err != nil {
		log.Warnf("[Retrieval] 解析文件名失败: %v", err)
		return names
	}
	for _, d := range docs {
		names[d.ID] = d.Filename
	}
	return names
}
