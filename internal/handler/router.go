package handler

import (
	"github.com/gin-gonic/gin"

	"netsight-go/internal/middleware"
	"netsight-go/pkg/token"
)

// Handlers 汇总所有路由需要的处理器。
type Handlers struct {
	Session   *SessionHandler
	Chat      *ChatHandler
	Document  *DocumentHandler
	Telemetry *TelemetryHandler
}

// NewRouter 注册全部路由。
func NewRouter(h Handlers, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	apiV1 := r.Group("/api/v1")
	{
		// WebSocket 通过路径参数携带 token
		apiV1.GET("/chat/ws/:token", h.Chat.Handle)

		authed := apiV1.Group("/")
		authed.Use(middleware.AuthMiddleware(jwtManager))

		sessions := authed.Group("/chat/sessions")
		{
			sessions.POST("", h.Session.CreateSession)
			sessions.GET("", h.Session.ListSessions)
			sessions.GET("/:id/messages", h.Session.GetMessages)
			sessions.POST("/:id/messages", h.Chat.SendMessage)
			sessions.PATCH("/:id/memory", h.Session.UpdateMemorySelection)
			sessions.PATCH("/:id/documents", h.Session.UpdateSessionDocuments)
			sessions.PATCH("/:id/rename", h.Session.RenameSession)
			sessions.DELETE("/:id", h.Session.DeleteSession)
		}

		documents := authed.Group("/documents")
		{
			documents.GET("", h.Document.ListDocuments)
			documents.POST("", h.Document.Upload)
			documents.DELETE("/:id", h.Document.DeleteDocument)
			documents.POST("/:id/hide", h.Document.HideDocument)
			documents.POST("/shared", middleware.AdminAuthMiddleware(), h.Document.UploadShared)
		}

		telemetry := authed.Group("/telemetry")
		{
			telemetry.GET("/cities", h.Telemetry.ListCities)
			telemetry.GET("/cities/:city/cells", h.Telemetry.ListCells)
			telemetry.GET("/cities/:city/cells/:cell", h.Telemetry.CellSamples)
		}
	}
	return r
}
