package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/middleware"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP surface of the engine.
func NewRouter(app *service.AppContext) *gin.Engine {
	cfg := app.Config
	keys := app.Privacy

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger(app.Metrics))
	router.Use(corsMiddleware())
	router.Use(noStoreMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(app.Metrics.Handler()))

	authHandler := NewAuthHandler(cfg, keys, app.ResetCredentials)
	contracts := NewContractHandler(app)
	payments := NewPaymentHandler(app)

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		if secret := cfg.Banks.Mercury.WebhookSecret; secret != "" {
			api.POST("/callbacks/deposits", NewCallbackHandler(app, secret).HandleDeposit)
		}
	}

	protected := api.Group("/")
	protected.Use(middleware.Auth(&cfg.Auth, keys))
	protected.Use(middleware.RateLimit(100, time.Minute))
	master := middleware.RequireMaster(keys)
	{
		protected.GET("/auth/me", authHandler.Me)
		protected.POST("/credentials/reset", master, authHandler.ResetCredentials)

		protected.GET("/banks/:bank/accounts", master, payments.Accounts)
		protected.GET("/banks/:bank/recipients", master, payments.Recipients)

		protected.GET("/contracts/:type", contracts.List)
		protected.GET("/contracts/:type/count", contracts.Count)
		protected.POST("/contracts/:type", master, contracts.Add)

		c := protected.Group("/contracts/:type/:idx")
		c.GET("", contracts.Get)
		c.PATCH("", master, contracts.Update)
		c.DELETE("", master, contracts.Delete)
		c.GET("/variables", contracts.Variables)

		c.GET("/parties", contracts.GetParties)
		c.POST("/parties", master, contracts.AddParties)
		c.DELETE("/parties", master, contracts.DeleteParties)
		c.POST("/parties/:party_idx/approve", contracts.ApproveParty)

		c.GET("/transactions", contracts.GetTransactions)
		c.POST("/transactions", master, contracts.AddTransactions)
		c.DELETE("/transactions", master, contracts.DeleteTransactions)

		c.GET("/settlements", contracts.GetSettlements)
		c.POST("/settlements", master, contracts.AddSettlements)
		c.DELETE("/settlements", master, contracts.DeleteSettlements)

		c.GET("/artifacts", contracts.GetArtifacts)
		c.POST("/artifacts", master, contracts.UploadArtifact)
		c.DELETE("/artifacts", master, contracts.DeleteArtifacts)

		c.GET("/advances", master, payments.GetAdvances())
		c.POST("/advances", master, payments.SettleAdvances())
		c.GET("/residuals", master, payments.GetResiduals())
		c.POST("/residuals", master, payments.SettleResiduals())
		c.GET("/distributions", master, payments.GetDistributions())
		c.POST("/distributions", master, payments.SettleDistributions())

		c.GET("/deposits", master, payments.GetDeposits)
		c.POST("/deposits", master, payments.PostDeposits)
		c.POST("/reconcile", master, payments.Reconcile)
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// noStoreMiddleware keeps decrypted API responses out of shared caches.
func noStoreMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}
