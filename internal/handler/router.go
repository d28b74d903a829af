package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docqa/internal/middleware"
)

type RouterDeps struct {
	Health    *HealthHandler
	Sources   *SourceHandler
	Search    *SearchHandler
	Chats     *ChatHandler
	Index     *IndexHandler
	JWTSecret []byte
	RateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.Health.Health)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	authGroup.POST("/sources", deps.Sources.Create)
	authGroup.POST("/sources/upload", deps.Sources.Upload)
	authGroup.GET("/sources", deps.Sources.List)
	authGroup.GET("/sources/:id", deps.Sources.Get)
	authGroup.PUT("/sources/:id/active", deps.Sources.SetActive)
	authGroup.DELETE("/sources/:id", deps.Sources.Delete)
	authGroup.POST("/sources/:id/process", deps.Sources.Process)
	authGroup.GET("/sources/:id/chunks", deps.Sources.ListChunks)
	authGroup.DELETE("/chunks/:id", deps.Sources.DeleteChunk)

	limited := authGroup.Group("")
	limited.Use(middleware.RateLimit(deps.RateLimit))
	limited.POST("/search", deps.Search.Search)
	limited.POST("/chats/:id/ask", deps.Chats.Ask)
	limited.POST("/chats/:id/rename", deps.Chats.Rename)

	authGroup.POST("/chats", deps.Chats.Create)
	authGroup.GET("/chats", deps.Chats.List)
	authGroup.GET("/chats/:id/messages", deps.Chats.Messages)
	authGroup.DELETE("/chats/:id", deps.Chats.Delete)

	authGroup.GET("/index/status", deps.Index.Status)
	authGroup.POST("/index/audit", deps.Index.Audit)
	authGroup.POST("/index/rebuild", deps.Index.Rebuild)
}
