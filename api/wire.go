package api

import (
	"os"
	"strconv"
	"strings"

	"backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/config"
	"backend/internal/document"
	"backend/internal/infra"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/notification"
	"backend/internal/signature"
	"backend/internal/storage"
	"backend/internal/tenant"
	"backend/internal/worker"
	"backend/internal/workflow"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用依赖容器
// 服务间的运行时依赖在此集中装配，避免散落在各处的初始化代码
type AppContainer struct {
	DB    *gorm.DB
	Cfg   *config.Config
	Redis redis.UniversalClient
	Queue queue.Client
	Store storage.Store

	JWT          *auth.JWTService
	Directory    *tenant.DirectoryService
	Documents    *document.Service
	Templates    *workflow.TemplateService
	Engine       *workflow.Engine
	Coordinator  *signature.Coordinator
	Finalizer    *signature.Finalizer
	Verification *signature.VerificationService
	Audit        *audit.Recorder
	Worker       *worker.Server
}

// NewAppContainer 装配全部服务
func NewAppContainer(db *gorm.DB, cfg *config.Config) (*AppContainer, error) {
	store, err := storage.NewDiskStore(cfg.Storage.BasePath)
	if err != nil {
		return nil, err
	}

	redisClient := infra.InitRedis(&cfg.Redis)
	queueClient := queue.NewClient(cfg.Redis)

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	if jwtSecret == "" {
		// 生产模式必须显式配置密钥，防止使用弱默认值
		if strings.EqualFold(cfg.Server.Mode, "release") {
			logger.Fatal("JWT_SECRET_KEY 未配置，生产环境禁止使用默认密钥")
		}
		jwtSecret = "default_jwt_secret_key_change_in_production"
		logger.Warn("JWT_SECRET_KEY 未配置，已回退为开发默认值")
	}
	jwtService := auth.NewJWTService(jwtSecret, "TrackDoc", redisClient)

	directory := tenant.NewDirectoryService(db)
	documents := document.NewService(db, store, &cfg.Storage)
	templates := workflow.NewTemplateService(db, cfg.Workflow.MaxStepsPerTemplate)

	stamper := signature.NewPDFStamper()
	finalizer := signature.NewFinalizer(db, store, stamper, directory, documents, cfg.Server.PublicURL)
	coordinator := signature.NewCoordinator(db, directory, documents, finalizer, &cfg.Signature,
		signature.WithQueue(queueClient),
	)

	notifier := notification.NewDirectoryNotifier(directory, buildNotifier())
	engine := workflow.NewEngine(db, templates, directory, documents,
		workflow.WithSignatureGateway(coordinator),
		workflow.WithNotifier(notifier),
	)
	// 引擎与协调器互相引用，回调在两者构造完成后注入
	coordinator.SetProcessCallback(engine)

	verification := signature.NewVerificationService(db, &cfg.Signature)
	auditRecorder := audit.NewRecorder(db, 0)
	workerServer := worker.NewServer(cfg.Redis, db, finalizer, logger.Get())

	return &AppContainer{
		DB:           db,
		Cfg:          cfg,
		Redis:        redisClient,
		Queue:        queueClient,
		Store:        store,
		JWT:          jwtService,
		Directory:    directory,
		Documents:    documents,
		Templates:    templates,
		Engine:       engine,
		Coordinator:  coordinator,
		Finalizer:    finalizer,
		Verification: verification,
		Audit:        auditRecorder,
		Worker:       workerServer,
	}, nil
}

// Close 释放容器持有的资源
func (a *AppContainer) Close() {
	if a.Audit != nil {
		a.Audit.Close()
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			logger.Warn("队列客户端关闭失败", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("Redis 客户端关闭失败", zap.Error(err))
		}
	}
}

// buildNotifier 按环境变量装配通知通道
// 未配置任何通道时 MultiNotifier 空转，通知失败不影响主流程
func buildNotifier() *notification.MultiNotifier {
	var emailCfg *notification.EmailConfig
	if host := strings.TrimSpace(os.Getenv("SMTP_HOST")); host != "" {
		port := 587
		if raw := os.Getenv("SMTP_PORT"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				port = parsed
			}
		}
		emailCfg = &notification.EmailConfig{
			SMTPHost: host,
			SMTPPort: port,
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			FromName: "TrackDoc",
		}
	}

	var webhookCfg *notification.WebhookConfig
	if url := strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL")); url != "" {
		webhookCfg = &notification.WebhookConfig{
			URL:    url,
			Secret: os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		}
	}

	return notification.NewMultiNotifier(emailCfg, webhookCfg)
}
