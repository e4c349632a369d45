// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"netsight-go/internal/config"
	"netsight-go/pkg/log"
	"netsight-go/pkg/tasks"
)

// maxAttempts 是一条任务失败后允许的最大处理次数。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.SharedDocumentTask) error
}

// Producer 发送共享文档任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}}
}

// ProduceSharedDocumentTask 以内容哈希为 key 发送一个任务。
func (p *Producer) ProduceSharedDocumentTask(ctx context.Context, task tasks.SharedDocumentTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ContentHash),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个 Kafka 消费者处理共享文档任务，直到 ctx 被取消。
// 失败次数记录在 Redis 中，达到 maxAttempts 后提交 offset 放弃该任务。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("Kafka 消费者已停止")
			} else {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}

		var task tasks.SharedDocumentTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		log.Infof("开始处理共享文档任务: hash=%s, file=%s", task.ContentHash, task.FileName)
		if !processWithRetry(ctx, processor, rdb, task) && ctx.Err() != nil {
			// 关闭过程中中断的任务不提交，重启后重新消费
			return
		}
		commit(ctx, r, m)
	}
}

// processWithRetry 处理任务，失败时按 Redis 中的计数重试，直到成功或达到 maxAttempts。
func processWithRetry(ctx context.Context, processor TaskProcessor, rdb *redis.Client, task tasks.SharedDocumentTask) bool {
	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.ContentHash)
	for {
		err := processor.Process(ctx, task)
		if err == nil {
			log.Infof("共享文档任务处理成功: hash=%s", task.ContentHash)
			_ = rdb.Del(ctx, attemptsKey).Err()
			return true
		}
		log.Errorf("处理共享文档任务失败: hash=%s, Error: %v", task.ContentHash, err)

		attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			log.Error("记录任务失败次数失败，放弃该任务", incErr)
			return false
		}
		_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= maxAttempts {
			log.Errorf("共享文档任务多次失败(>=%d)，提交 offset 终止重试: hash=%s", maxAttempts, task.ContentHash)
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(attempts) * time.Second):
		}
	}
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
