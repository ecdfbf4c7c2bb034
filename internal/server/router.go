package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gec682416/onchain-random-game/internal/handler"
	"github.com/gec682416/onchain-random-game/internal/handler/response"
	"github.com/gec682416/onchain-random-game/pkg/monitor"
	"github.com/gec682416/onchain-random-game/pkg/validator"
)

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h *handler.WagerHandler) *gin.Engine {
	// 0. 初始化监控指标和自定义校验规则
	monitor.Init()
	validator.Init()

	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 4. 注册 API 路由组
	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})

		session := api.Group("/session")
		{
			session.GET("", h.Board)
			session.POST("", h.Connect)
			session.DELETE("", h.Disconnect)
			session.POST("/account", h.SelectAccount)
		}
		api.GET("/notices/stream", h.Notices)

		api.GET("/status", h.Status)
		api.POST("/status/refresh", h.RefreshStatus)
		api.GET("/quote", h.Quote)

		api.POST("/dice", h.PlaceDice)

		lottery := api.Group("/lottery")
		{
			lottery.POST("", h.CreateLottery)
			lottery.POST("/:id/tickets", h.BuyTickets)
			lottery.POST("/:id/draw", h.RequestDraw)
		}

		api.GET("/wagers", h.ListWagers)
		api.GET("/wagers/:game/:id", h.GetWager)
		api.GET("/history", h.History)

		api.GET("/refunds", h.Refundable)
		api.POST("/refunds/:game/:id", h.Refund)

		admin := api.Group("/admin")
		{
			admin.POST("/fund", h.FundTreasury)
			admin.POST("/token-limits", h.SetTokenLimits)
		}
	}

	return r
}
