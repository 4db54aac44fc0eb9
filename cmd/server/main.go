// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"aero-doc-go/internal/config"
	"aero-doc-go/internal/handler"
	"aero-doc-go/internal/middleware"
	"aero-doc-go/internal/model"
	"aero-doc-go/internal/pipeline"
	"aero-doc-go/internal/repository"
	"aero-doc-go/internal/service"
	"aero-doc-go/pkg/chunker"
	"aero-doc-go/pkg/database"
	"aero-doc-go/pkg/embedding"
	"aero-doc-go/pkg/kafka"
	"aero-doc-go/pkg/llm"
	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/parser"
	"aero-doc-go/pkg/storage"
	"aero-doc-go/pkg/token"
	"aero-doc-go/pkg/vectorstore"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化数据库、Redis、对象存储和向量库
	database.InitMySQL(cfg.Database.MySQL.DSN, &model.User{}, &model.Document{}, &model.ChatSession{}, &model.ChatMessage{})
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	objectStore, err := storage.NewMinIOStore(rootCtx, cfg.MinIO)
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}
	index, err := vectorstore.NewFromConfig(rootCtx, cfg.VectorStore)
	if err != nil {
		log.Fatalf("向量库初始化失败: %v", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	docRepo := repository.NewDocumentRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)
	ingestLock := repository.NewRedisIngestLock(database.RDB)

	// 5. 初始化 RAG 核心组件
	splitter, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		log.Fatalf("分块器配置错误: %v", err)
	}
	embedder, err := embedding.NewFromConfig(cfg.Embedding, cfg.RAG, cfg.Timeouts.Embedding)
	if err != nil {
		log.Fatalf("Embedding 客户端初始化失败: %v", err)
	}
	docParser, err := parser.NewFromConfig(cfg.Document, cfg.Tika)
	if err != nil {
		log.Fatalf("解析器初始化失败: %v", err)
	}
	responder := service.NewResponder(embedder, index, llm.NewClient(cfg.LLM), service.ResponderOptions{
		TopK:            cfg.RAG.TopK,
		MaxContextChars: cfg.RAG.MaxContextChars,
		Rules:           cfg.LLM.Prompt.Rules,
		FallbackPhrase:  cfg.LLM.Prompt.FallbackPhrase,
		Timeouts:        cfg.Timeouts,
	})

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	userService := service.NewUserService(userRepo, jwtManager)
	documentService := service.NewDocumentService(docRepo, objectStore, producer, index, cfg.Document, cfg.Timeouts)
	chatService := service.NewChatService(chatRepo, responder)

	// 7. 初始化文件处理管道并启动后台 Kafka 消费者
	ingestor := pipeline.NewIngestor(splitter, embedder, index, cfg.Timeouts.VectorIndex)
	processor := pipeline.NewProcessor(docRepo, objectStore, docParser, ingestor, ingestLock, cfg.Timeouts)
	consumer := kafka.NewConsumer(cfg.Kafka, processor)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(rootCtx); err != nil {
			log.Errorf("Kafka 消费者异常退出: %v", err)
		}
	}()

	// 7.1 导入 initfile 目录下的文件，归属 admin 用户，已导入则跳过
	go initSeedFiles(rootCtx, "initfile", userRepo, documentService)

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := setupRouter(routerDeps{
		jwtManager:    jwtManager,
		userService:   userService,
		docService:    documentService,
		chatService:   chatService,
		maxUploadSize: cfg.Document.MaxUploadSize,
	})

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者；被中断的任务不写终态，重启后重新投递
	cancelRoot()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	log.Info("服务已优雅关闭")
}

type routerDeps struct {
	jwtManager    *token.JWTManager
	userService   service.UserService
	docService    service.DocumentService
	chatService   service.ChatService
	maxUploadSize int64
}

func setupRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), middleware.Metrics(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.AuthMiddleware(d.jwtManager, d.userService)
	userHandler := handler.NewUserHandler(d.userService)
	docHandler := handler.NewDocumentHandler(d.docService, d.maxUploadSize)
	chatHandler := handler.NewChatHandler(d.chatService, d.userService, d.jwtManager)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/auth/refresh", handler.NewAuthHandler(d.userService).RefreshToken)

		users := apiV1.Group("/users")
		{
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)
			users.GET("/me", auth, userHandler.GetProfile)
		}

		documents := apiV1.Group("/documents")
		documents.Use(auth)
		{
			documents.POST("/upload", docHandler.Upload)
			documents.GET("", docHandler.List)
			documents.GET("/stats", docHandler.Stats)
			documents.GET("/:id", docHandler.Get)
			documents.DELETE("/:id", docHandler.Delete)
		}

		chat := apiV1.Group("/chat")
		chat.Use(auth)
		{
			chat.POST("/sessions", chatHandler.CreateSession)
			chat.GET("/sessions", chatHandler.ListSessions)
			chat.GET("/sessions/:id", chatHandler.GetSession)
			chat.DELETE("/sessions/:id", chatHandler.DeleteSession)
			chat.POST("/sessions/:id/messages", chatHandler.SendMessage)
		}
	}
	// WebSocket 无法携带 Authorization 头，token 通过查询参数传递
	r.GET("/chat/ws", chatHandler.Handle)
	return r
}

// initSeedFiles 把目录下的文件以 admin 身份走一遍标准上传流程，同名文件已存在则跳过。
func initSeedFiles(ctx context.Context, dir string, userRepo repository.UserRepository, docService service.DocumentService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	admin, err := userRepo.FindByUsername("admin")
	if err != nil {
		log.Warnf("initSeedFiles: 未找到 admin 用户，跳过初始化导入")
		return
	}
	existing, err := docService.List(admin.ID)
	if err != nil {
		log.Warnf("initSeedFiles: 查询已有文档失败: %v", err)
		return
	}
	seen := make(map[string]bool, len(existing))
	for _, d := range existing {
		seen[d.Filename] = true
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := info.Name()
		if seen[name] {
			log.Infof("initSeedFiles: 已存在，跳过: %s", name)
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("initSeedFiles: 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()

		doc, err := docService.Upload(ctx, admin.ID, name, info.Size(), f)
		if err != nil {
			log.Warnf("initSeedFiles: 导入失败: %s, err=%v", path, err)
			return nil
		}
		log.Infof("initSeedFiles: 导入完成并已触发入库: %s (doc=%s)", name, doc.ID)
		return nil
	})
	if walkErr != nil {
		log.Warnf("initSeedFiles: 遍历目录发生错误: %v", walkErr)
	}
}
