package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"netsight-go/pkg/log"
	"netsight-go/pkg/storage"
	"netsight-go/pkg/tasks"
)

// TaskPublisher 发布共享文档任务，由 Kafka 生产者实现。
type TaskPublisher interface {
	ProduceSharedDocumentTask(ctx context.Context, task tasks.SharedDocumentTask) error
}

// SharedLookup 判断某个内容哈希是否已经是共享文档。
type SharedLookup interface {
	HasSharedHash(ctx context.Context, contentHash string) (bool, error)
}

// Seeder 在启动时扫描共享目录，把尚未登记的文件投递给异步处理流程。
type Seeder struct {
	dir        string
	extensions map[string]bool
	store      storage.ObjectStore
	publisher  TaskPublisher
	lookup     SharedLookup
}

// NewSeeder 创建一个新的 Seeder 实例。
func NewSeeder(dir string, extensions []string, store storage.ObjectStore, publisher TaskPublisher, lookup SharedLookup) *Seeder {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &Seeder{dir: dir, extensions: allowed, store: store, publisher: publisher, lookup: lookup}
}

// Seed 返回本次投递的任务数。目录不存在时直接返回 0。
func (s *Seeder) Seed(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("[Seeder] 共享目录 '%s' 不存在, 跳过", s.dir)
			return 0, nil
		}
		return 0, fmt.Errorf("读取共享目录失败: %w", err)
	}

	queued := 0
	for _, entry := range entries {
		if entry.IsDir() || !s.extensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("[Seeder] 读取文件失败 %s: %v", path, err)
			continue
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		exists, err := s.lookup.HasSharedHash(ctx, hash)
		if err != nil {
			return queued, err
		}
		if exists {
			continue
		}

		key := fmt.Sprintf("staging/shared/%s/%s", hash, entry.Name())
		if err := s.store.Put(ctx, key, data, mimetype.Detect(data).String()); err != nil {
			return queued, err
		}
		task := tasks.SharedDocumentTask{
			ContentHash: hash,
			ObjectKey:   key,
			FileName:    entry.Name(),
			Size:        int64(len(data)),
		}
		if err := s.publisher.ProduceSharedDocumentTask(ctx, task); err != nil {
			return queued, fmt.Errorf("投递共享文档任务失败: %w", err)
		}
		log.Infof("[Seeder] 已投递共享文档任务: %s", entry.Name())
		queued++
	}
	return queued, nil
}
