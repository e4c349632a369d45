// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"netsight-go/internal/analyst"
	"netsight-go/internal/config"
	"netsight-go/internal/handler"
	"netsight-go/internal/model"
	"netsight-go/internal/pipeline"
	"netsight-go/internal/repository"
	"netsight-go/internal/service"
	"netsight-go/pkg/database"
	"netsight-go/pkg/embedding"
	"netsight-go/pkg/es"
	"netsight-go/pkg/kafka"
	"netsight-go/pkg/llm"
	"netsight-go/pkg/log"
	"netsight-go/pkg/storage"
	"netsight-go/pkg/token"
)

func main() {
	// 1. 加载配置
	configPath := os.Getenv("NETSIGHT_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志初始化成功")

	gin.SetMode(cfg.Server.Mode)

	rootCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// 3. 初始化数据库、缓存、对象存储和向量索引
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatal("MySQL 连接失败", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	rdb, err := database.NewRedis(rootCtx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatal("Redis 连接失败", err)
	}
	store, err := storage.NewMinIOStore(rootCtx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	index, err := es.NewIndex(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatal("Elasticsearch 初始化失败", err)
	}

	// 4. 初始化 Repository 层
	docRepo := repository.NewDocumentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	turnLocks := repository.NewTurnLockRepository(rdb)

	// 5. 初始化外部模型客户端与文档处理流程
	jwtManager := token.NewJWTManager(cfg.JWT.Secret)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	ingestor := pipeline.NewIngestor(
		pipeline.NewExtractor(cfg.Tika.ServerURL),
		embeddingClient,
		cfg.Documents.ChunkSize,
		cfg.Documents.ChunkOverlap,
	)

	// 6. 初始化 Service 层
	maxSizeBytes := int64(cfg.Documents.MaxSizeMB) << 20
	documentService := service.NewDocumentService(docRepo, index, store, ingestor, service.DocumentPolicy{
		AllowedExtensions: cfg.Documents.AllowedExtensions,
		MaxSizeBytes:      maxSizeBytes,
	})
	retrievalService := service.NewRetrievalService(docRepo, embeddingClient, index)
	sessionService := service.NewSessionService(sessionRepo, messageRepo)
	telemetryStore := analyst.NewStore(cfg.Analyst.DataDir)
	assembler := service.NewContextAssembler(cfg.Chat.HistoryLimit, map[string]string{
		model.ModeKnowledge: cfg.LLM.Prompt.Knowledge,
		model.ModeAnalyst:   cfg.LLM.Prompt.Analyst,
	})
	chatService := service.NewChatService(
		sessionRepo,
		messageRepo,
		turnLocks,
		retrievalService,
		analyst.NewSummaryBuilder(telemetryStore, cfg.Analyst.LastN),
		assembler,
		llmClient,
		service.ChatOptions{
			RetrievalTopK: cfg.Chat.RetrievalTopK,
			TurnLockTTL:   time.Duration(cfg.Chat.TurnLockTTLSeconds) * time.Second,
		},
	)

	// 7. 启动共享文档导入：消费者在后台运行，随后扫描共享目录投递任务
	producer := kafka.NewProducer(cfg.Kafka)
	go kafka.StartConsumer(rootCtx, cfg.Kafka, pipeline.NewProcessor(store, documentService), rdb)
	go func() {
		seeder := pipeline.NewSeeder(cfg.Documents.SharedDir, cfg.Documents.AllowedExtensions, store, producer, documentService)
		queued, err := seeder.Seed(rootCtx)
		if err != nil {
			log.Warnf("共享文档导入失败: %v", err)
			return
		}
		log.Infof("共享文档导入完成, 投递任务 %d 个", queued)
	}()

	// 8. 注册路由
	r := handler.NewRouter(handler.Handlers{
		Session:   handler.NewSessionHandler(sessionService),
		Chat:      handler.NewChatHandler(chatService, jwtManager),
		Document:  handler.NewDocumentHandler(documentService, maxSizeBytes),
		Telemetry: handler.NewTelemetryHandler(telemetryStore),
	}, jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者和导入协程
	stopBackground()
	if err := producer.Close(); err != nil {
		log.Warnf("关闭 Kafka 生产者失败: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Warnf("关闭 Redis 连接失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
