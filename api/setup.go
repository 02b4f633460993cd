package api

import (
	auditHandlers "backend/api/handlers/audit"
	authHandlers "backend/api/handlers/auth"
	documentHandlers "backend/api/handlers/documents"
	signatureHandlers "backend/api/handlers/signatures"
	tenantHandlers "backend/api/handlers/tenant"
	"backend/api/handlers/workflows"
	"backend/internal/auth"
	"backend/internal/config"
	"backend/internal/metrics"
	middlewarepkg "backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter 设置并返回 Gin 路由与应用容器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *AppContainer, error) {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	container, err := NewAppContainer(db, cfg)
	if err != nil {
		return nil, nil, err
	}

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(middlewarepkg.RequestID())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.GinMiddleware())

	// 公开端点（不需要认证）
	router.GET("/health", HealthCheck(db))
	router.GET("/ready", ReadinessCheck(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 初始化 Handlers
	authHandler := authHandlers.NewAuthHandler(container.JWT, container.Directory, container.Audit)
	tenantHandler := tenantHandlers.NewTenantHandler(container.Directory, container.Audit)
	documentHandler := documentHandlers.NewDocumentHandler(container.Documents, container.Audit)
	templateHandler := workflows.NewTemplateHandler(container.Templates)
	processHandler := workflows.NewProcessHandler(container.Engine, container.Audit)
	signatureHandler := signatureHandlers.NewSignatureHandler(container.Coordinator, container.Finalizer, container.Store, container.Audit)
	verifyHandler := signatureHandlers.NewVerifyHandler(container.Verification)
	auditHandler := auditHandlers.NewAuditHandler(container.Audit)

	v1 := router.Group("/api/v1")

	// 无认证路由：登录、签名链接下载、公开验证
	v1.POST("/auth/login", authHandler.Login)
	v1.POST("/auth/refresh", authHandler.Refresh)
	v1.GET("/documents/:id/content", documentHandler.Content)
	v1.POST("/verify-signature", verifyHandler.Verify)
	v1.GET("/verify/:code", verifyHandler.VerifyByCode)

	// 认证路由
	authed := v1.Group("")
	authed.Use(auth.AuthMiddleware(container.JWT))
	{
		authed.POST("/auth/logout", authHandler.Logout)
		authed.GET("/auth/me", authHandler.Me)

		// 租户目录管理
		authed.POST("/users", auth.RequireRole("admin", "super_admin"), tenantHandler.CreateUser)
		authed.DELETE("/users/:id", auth.RequireRole("admin", "super_admin"), tenantHandler.DisableUser)
		authed.GET("/departments", tenantHandler.ListDepartments)
		authed.POST("/departments", auth.RequireRole("admin", "super_admin"), tenantHandler.CreateDepartment)
		authed.GET("/departments/:id/users", tenantHandler.ListDepartmentUsers)

		// 文档管理
		documents := authed.Group("/documents")
		{
			documents.POST("", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.GET("/:id/download-url", documentHandler.DownloadURL)
		}

		// 流程模板管理
		templates := authed.Group("/workflow-templates")
		{
			templates.POST("", templateHandler.Create)
			templates.GET("", templateHandler.List)
			templates.GET("/:id", templateHandler.Get)
			templates.POST("/:id/publish", templateHandler.Publish)
			templates.DELETE("/:id", templateHandler.Delete)
		}

		// 流程实例管理
		processes := authed.Group("/workflows")
		{
			processes.POST("", processHandler.Start)
			processes.GET("", processHandler.List)
			processes.GET("/:id", processHandler.Get)
			processes.DELETE("/:id", processHandler.Delete)
			processes.POST("/:id/actions", processHandler.Act)
			processes.POST("/:id/pause", processHandler.Pause)
			processes.POST("/:id/resume", processHandler.Resume)
			processes.POST("/:id/cancel", processHandler.Cancel)
		}

		// 多方签名
		signatures := authed.Group("/signatures")
		{
			signatures.POST("/requests", signatureHandler.Create)
			signatures.GET("/pending", signatureHandler.ListPending)
			signatures.GET("/requests/:id", signatureHandler.Get)
			signatures.POST("/requests/:id/decide", signatureHandler.Decide)
			signatures.POST("/requests/:id/finalize-multi-signature", signatureHandler.Finalize)
			signatures.GET("/artifacts/:bucket/*key", signatureHandler.Artifact)
		}

		// 审计日志
		authed.GET("/audit-logs", auth.RequireRole("admin", "super_admin"), auditHandler.Query)
	}

	return router, container, nil
}
