package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"netsight-go/internal/model"
	"netsight-go/internal/pipeline"
	"netsight-go/internal/repository"
	"netsight-go/pkg/es"
	"netsight-go/pkg/llm"
)

var (
	alice = model.Identity{ID: "alice", Name: "Alice"}
	bob   = model.Identity{ID: "bob", Name: "Bob"}
	admin = model.Identity{ID: "root", Name: "Root", Role: model.RoleAdmin}
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Document{}, &model.DocumentHide{}, &model.ChatSession{}, &model.ChatMessage{}))
	return db
}

// memoryIndex 在内存中模拟向量索引，按写入顺序给出递减的分数。
type memoryIndex struct {
	mu      sync.Mutex
	chunks  []model.EsChunk
	addErr  error
	queries []es.Filter
}

func (m *memoryIndex) Add(_ context.Context, chunks []model.EsChunk) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memoryIndex) Query(_ context.Context, _ []float32, k int, f es.Filter) ([]model.ChunkHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, f)
	var hits []model.ChunkHit
	for i, c := range m.chunks {
		if len(f.DocumentIDs) > 0 && !contains(f.DocumentIDs, c.DocumentID) {
			continue
		}
		if len(f.OwnerIDs) > 0 && !contains(f.OwnerIDs, c.OwnerID) {
			continue
		}
		if contains(f.ExcludeDocumentIDs, c.DocumentID) {
			continue
		}
		hits = append(hits, model.ChunkHit{DocumentID: c.DocumentID, Text: c.Text, Score: 1 / float64(i+1)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memoryIndex) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	m.chunks = kept
	return nil
}

func (m *memoryIndex) documentCount(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (s *memoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// textIngestor 把整个文件作为一个文本块。
type textIngestor struct {
	err error
}

func (i textIngestor) Prepare(_ context.Context, data []byte, _ string) ([]pipeline.Chunk, error) {
	if i.err != nil {
		return nil, i.err
	}
	return []pipeline.Chunk{{Text: string(data), Vector: []float32{1, 0}}}, nil
}

type staticEmbedder struct {
	err error
}

func (e staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

// scriptedLLM 依次回放片段，可在末尾返回错误。onStart 在输出任何片段前调用。
type scriptedLLM struct {
	mu        sync.Mutex
	fragments []string
	err       error
	onStart   func()
	calls     [][]llm.Message
}

func (s *scriptedLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, _ *llm.GenerationParams, onChunk func(string) error) error {
	s.mu.Lock()
	s.calls = append(s.calls, messages)
	onStart := s.onStart
	s.mu.Unlock()
	if onStart != nil {
		onStart()
	}
	for _, f := range s.fragments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(f); err != nil {
			return err
		}
	}
	return s.err
}

func (s *scriptedLLM) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	msgs := s.calls[len(s.calls)-1]
	return msgs[len(msgs)-1].Content
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (f fakeSummarizer) Build(context.Context, string) (string, error) {
	return f.summary, f.err
}

// memoryTurnLocks 模拟 Redis 会话锁。
type memoryTurnLocks struct {
	mu      sync.Mutex
	holders map[string]string
}

func newMemoryTurnLocks() *memoryTurnLocks {
	return &memoryTurnLocks{holders: make(map[string]string)}
}

func (l *memoryTurnLocks) Acquire(_ context.Context, sessionID, holder string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.holders[sessionID]; busy {
		return false, nil
	}
	l.holders[sessionID] = holder
	return true, nil
}

func (l *memoryTurnLocks) Release(_ context.Context, sessionID, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[sessionID] == holder {
		delete(l.holders, sessionID)
	}
	return nil
}

// fixture 把真实的 sqlite 仓储和内存替身组装在一起。
type fixture struct {
	db        *gorm.DB
	docRepo   repository.DocumentRepository
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	index     *memoryIndex
	store     *memoryStore
	llm       *scriptedLLM
	locks     *memoryTurnLocks
	documents DocumentService
	retrieval RetrievalService
	sessionSv SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:       db,
		docRepo:  repository.NewDocumentRepository(db),
		sessions: repository.NewSessionRepository(db),
		messages: repository.NewMessageRepository(db),
		index:    &memoryIndex{},
		store:    newMemoryStore(),
		llm:      &scriptedLLM{},
		locks:    newMemoryTurnLocks(),
	}
	f.documents = NewDocumentService(f.docRepo, f.index, f.store, textIngestor{}, DocumentPolicy{
		AllowedExtensions: []string{".pdf", ".txt", ".md"},
		MaxSizeBytes:      1 << 20,
	})
	f.retrieval = NewRetrievalService(f.docRepo, staticEmbedder{}, f.index)
	f.sessionSv = NewSessionService(f.sessions, f.messages)
	return f
}

func (f *fixture) chat(summarizer NetworkSummarizer) ChatService {
	return NewChatService(f.sessions, f.messages, f.locks, f.retrieval, summarizer, NewContextAssembler(0, nil), f.llm, ChatOptions{})
}

// collectSink 记录送达的片段，failAfter > 0 时第 failAfter 个片段写入失败且不记录。
type collectSink struct {
	fragments []string
	failAfter int
}

func (s *collectSink) WriteFragment(text string) error {
	if s.failAfter > 0 && len(s.fragments)+1 >= s.failAfter {
		return errors.New("broken pipe")
	}
	s.fragments = append(s.fragments, text)
	return nil
}
