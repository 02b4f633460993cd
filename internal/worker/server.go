package worker

import (
	"context"

	"backend/internal/config"
	"backend/internal/signature"
	"backend/internal/worker/handlers"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server 后台任务服务器
// signatures 队列并发度为 1，保证定稿单写者执行
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建任务服务器
func NewServer(
	cfg config.RedisConfig,
	db *gorm.DB,
	finalizer *signature.Finalizer,
	logger *zap.Logger,
) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			// 并发度 1: 定稿任务严格串行，消除"最后同意者"双触发竞态
			Concurrency: 1,
			Queues: map[string]int{
				"signatures": 5,
				"default":    1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	finalizeHandler := handlers.NewFinalizeHandler(finalizer, logger)
	mux.HandleFunc(tasks.TypeFinalizeSignature, finalizeHandler.HandleFinalizeSignature)

	sweepHandler := handlers.NewSweepHandler(db, logger)
	mux.HandleFunc(tasks.TypeExpireSweep, sweepHandler.HandleExpireSweep)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 阻塞启动
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}
