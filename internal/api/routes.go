package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"aihub/internal/ai"
	"aihub/internal/api/middleware"
	"aihub/internal/auth"
	"aihub/internal/config"
	"aihub/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
	storageClient *storage.Client,
	gateway ai.Completer,
) {
	authHandler := NewAuthHandler(db, authService, redisClient, logger,
		cfg.API.LoginRateLimitPerHour, cfg.API.LoginLockThreshold, cfg.API.LoginLockTTL(), cfg.API.CookieDomain)
	assistHandler := NewAssistHandler(db, gateway, redisClient, logger, cfg.API.AssistRateLimitPerMin)
	habitHandler := NewHabitHandler(db)
	resumeHandler := NewResumeHandler(db, cfg.API.MaxResumes)
	applicationHandler := NewApplicationHandler(db, asynqClient, storageClient, logger)
	conversationHandler := NewConversationHandler(db)
	knowledgeHandler := NewKnowledgeHandler(db)
	documentHandler := NewDocumentHandler(db, storageClient, logger, cfg.Clamd.Addr)
	profileHandler := NewProfileHandler(db)
	wsHandler := NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOriginList())
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		// AI 辅助端点：统一放开跨域（浏览器直连），预检请求直接放行。
		assistGroup := v1.Group("/assist")
		assistGroup.Use(middleware.AssistCORSMiddleware(), authMiddleware)
		{
			// 预检请求由 CORS 中间件直接应答。
			assistGroup.OPTIONS("/*path", func(*gin.Context) {})
			assistGroup.POST("/support-chat", assistHandler.SupportChat)
			assistGroup.POST("/habit-insights", assistHandler.HabitInsights)
			assistGroup.POST("/knowledge-query", assistHandler.KnowledgeQuery)
			assistGroup.POST("/ats-optimize", assistHandler.AtsOptimize)
			assistGroup.POST("/job-assist", assistHandler.JobAssist)
		}

		habitGroup := v1.Group("/habits")
		habitGroup.Use(authMiddleware)
		{
			habitGroup.POST("", habitHandler.CreateHabit)
			habitGroup.GET("", habitHandler.ListHabits)
			habitGroup.PUT("/:id", habitHandler.UpdateHabit)
			habitGroup.DELETE("/:id", habitHandler.DeleteHabit)
			habitGroup.PUT("/:id/logs", habitHandler.UpsertLog)
			habitGroup.GET("/:id/logs", habitHandler.ListLogs)
		}
		v1.GET("/insights", authMiddleware, habitHandler.ListInsights)

		resumeGroup := v1.Group("/resumes")
		resumeGroup.Use(authMiddleware)
		{
			resumeGroup.POST("", resumeHandler.CreateResume)
			resumeGroup.GET("", resumeHandler.ListResumes)
			resumeGroup.GET("/:id", resumeHandler.GetResume)
			resumeGroup.DELETE("/:id", resumeHandler.DeleteResume)
			resumeGroup.GET("/:id/scans", resumeHandler.ListScans)
		}

		applicationGroup := v1.Group("/applications")
		applicationGroup.Use(authMiddleware)
		{
			applicationGroup.GET("", applicationHandler.ListApplications)
			applicationGroup.GET("/:id", applicationHandler.GetApplication)
			applicationGroup.DELETE("/:id", applicationHandler.DeleteApplication)
			applicationGroup.POST("/:id/export", applicationHandler.ExportPDF)
			applicationGroup.GET("/:id/download-link", applicationHandler.DownloadLink)
		}

		conversationGroup := v1.Group("/conversations")
		conversationGroup.Use(authMiddleware)
		{
			conversationGroup.POST("", conversationHandler.CreateConversation)
			conversationGroup.GET("", conversationHandler.ListConversations)
			conversationGroup.GET("/:id", conversationHandler.GetConversation)
			conversationGroup.PATCH("/:id", conversationHandler.UpdateConversation)
		}

		knowledgeGroup := v1.Group("/knowledge")
		knowledgeGroup.Use(authMiddleware)
		{
			knowledgeGroup.POST("", knowledgeHandler.CreateEntry)
			knowledgeGroup.GET("", knowledgeHandler.ListEntries)
			knowledgeGroup.PUT("/:id", knowledgeHandler.UpdateEntry)
			knowledgeGroup.DELETE("/:id", knowledgeHandler.DeleteEntry)
		}

		documentGroup := v1.Group("/documents")
		documentGroup.Use(authMiddleware)
		{
			documentGroup.POST("", documentHandler.CreateDocument)
			documentGroup.POST("/upload", documentHandler.UploadDocument)
			documentGroup.GET("", documentHandler.ListDocuments)
			documentGroup.GET("/:id", documentHandler.GetDocument)
			documentGroup.GET("/:id/file", documentHandler.GetDocumentFileURL)
			documentGroup.GET("/:id/download", documentHandler.DownloadDocument)
			documentGroup.PUT("/:id", documentHandler.UpdateDocument)
			documentGroup.DELETE("/:id", documentHandler.DeleteDocument)
		}
		v1.GET("/queries", authMiddleware, documentHandler.ListQueries)

		profileGroup := v1.Group("/profile")
		profileGroup.Use(authMiddleware)
		{
			profileGroup.GET("", profileHandler.GetProfile)
			profileGroup.PUT("", profileHandler.UpdateProfile)
		}
	}
}
