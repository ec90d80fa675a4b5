package routes

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/cppla/meritboard/config"
	"github.com/cppla/meritboard/controllers"
	"github.com/cppla/meritboard/middleware"
	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/services"
	"github.com/cppla/meritboard/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB, eco *services.Economy) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	if err := controllers.RegisterValidators(); err != nil {
		utils.Logger.Fatal("register validators", zap.Error(err))
	}

	r := gin.New()
	gl := accessLogger(cfg)
	r.Use(middleware.RequestID())
	r.Use(ginzap.GinzapWithConfig(gl, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health"},
		Context: ginzap.Fn(func(c *gin.Context) []zapcore.Field {
			fields := []zapcore.Field{zap.String("request_id", c.GetString(middleware.ContextRequestIDKey))}
			if id := c.GetUint(middleware.ContextUserIDKey); id != 0 {
				fields = append(fields, zap.Uint("user_id", id))
			}
			return fields
		}),
	}))
	r.Use(ginzap.RecoveryWithZap(gl, false))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", controllers.IdempotencyKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authController := controllers.NewAuthController(db)
	pointsController := controllers.NewPointsController(eco.Ledger)
	requestController := controllers.NewRequestController(eco.Redemptions)
	leaderboardController := controllers.NewLeaderboardController(eco.Ranking)
	catalogController := controllers.NewCatalogController(eco.Catalog)
	statsController := controllers.NewStatsController(db)

	limit := middleware.RateLimit(cfg.RateLimitPerMinute)
	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.POST("/login", limit, authController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)

	secured := api.Group("")
	secured.Use(middleware.AuthRequired(), limit)

	students := secured.Group("/students/:id")
	students.POST("/points", middleware.RequireRole(models.RoleAdmin, models.RoleTutor), pointsController.Award)
	students.GET("/points", pointsController.Balance)
	students.GET("/transactions", pointsController.History)
	students.GET("/ledger/audit", middleware.RequireRole(models.RoleAdmin), pointsController.Audit)
	students.GET("/rank", leaderboardController.Rank)

	secured.GET("/leaderboard", leaderboardController.Top)
	secured.GET("/stats", middleware.RequireRole(models.RoleAdmin), statsController.GetStats)

	items := secured.Group("/items")
	items.GET("", catalogController.List)
	items.GET("/:id", catalogController.Get)
	items.POST("", middleware.RequireRole(models.RoleAdmin), catalogController.Create)
	items.PATCH("/:id", middleware.RequireRole(models.RoleAdmin), catalogController.Update)
	items.POST("/:id/restock", middleware.RequireRole(models.RoleAdmin), catalogController.Restock)

	requests := secured.Group("/requests")
	requests.POST("", middleware.RequireRole(models.RoleStudent), requestController.Submit)
	requests.GET("", requestController.List)
	requests.GET("/:id", requestController.Get)
	requests.POST("/:id/approve", middleware.RequireRole(models.RoleTutor), requestController.Approve)
	requests.POST("/:id/reject", middleware.RequireRole(models.RoleTutor), requestController.Reject)
	requests.DELETE("/:id", middleware.RequireRole(models.RoleStudent), requestController.Cancel)

	return r
}

// accessLogger writes access logs to GinPath when set, otherwise to the application logger.
func accessLogger(cfg config.AppConfig) *zap.Logger {
	if cfg.GinPath == "" {
		return utils.Logger.Named("http")
	}
	ws := zapcore.AddSync(utils.NewRollingFileLogger(cfg, cfg.GinPath))
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), ws, zapcore.InfoLevel)
	return zap.New(core)
}
