package pipeline

import (
	"context"
	"errors"
	"fmt"

	"netsight-go/pkg/log"
	"netsight-go/pkg/storage"
	"netsight-go/pkg/tasks"
)

// ErrAlreadyRegistered 表示相同内容的共享文档已经存在。
var ErrAlreadyRegistered = errors.New("shared document already registered")

// SharedRegistrar 登记共享文档，由文档服务实现。
type SharedRegistrar interface {
	RegisterShared(ctx context.Context, data []byte, filename string) error
}

// Processor 消费共享文档任务：从对象存储取回暂存文件并登记为共享文档。
type Processor struct {
	store     storage.ObjectStore
	registrar SharedRegistrar
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(store storage.ObjectStore, registrar SharedRegistrar) *Processor {
	return &Processor{store: store, registrar: registrar}
}

// Process 是共享文档任务的处理函数，重复内容视为成功。
func (p *Processor) Process(ctx context.Context, task tasks.SharedDocumentTask) error {
	log.Infof("[Processor] 开始处理共享文档, hash: %s, FileName: %s", task.ContentHash, task.FileName)

	data, err := p.store.Get(ctx, task.ObjectKey)
	if err != nil {
		return fmt.Errorf("从对象存储下载文件失败: %w", err)
	}
	if len(data) == 0 {
		return errors.New("文件内容为空")
	}

	err = p.registrar.RegisterShared(ctx, data, task.FileName)
	switch {
	case errors.Is(err, ErrAlreadyRegistered):
		log.Infof("[Processor] 共享文档已存在, 跳过: %s", task.FileName)
	case err != nil:
		return fmt.Errorf("登记共享文档失败: %w", err)
	default:
		log.Infof("[Processor] 共享文档登记成功: %s", task.FileName)
	}

	// 暂存对象只在登记完成后清理
	if err := p.store.Remove(ctx, task.ObjectKey); err != nil {
		log.Warnf("[Processor] 清理暂存对象失败: %v", err)
	}
	return nil
}
