package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/damoang/angple-social/internal/config"
	"github.com/damoang/angple-social/internal/database"
	"github.com/damoang/angple-social/internal/handler"
	"github.com/damoang/angple-social/internal/middleware"
	"github.com/damoang/angple-social/internal/repository"
	"github.com/damoang/angple-social/internal/retention"
	"github.com/damoang/angple-social/internal/routes"
	"github.com/damoang/angple-social/internal/service"
	"github.com/damoang/angple-social/internal/ws"
	pkgcache "github.com/damoang/angple-social/pkg/cache"
	"github.com/damoang/angple-social/pkg/jwt"
	pkglogger "github.com/damoang/angple-social/pkg/logger"
	pkgredis "github.com/damoang/angple-social/pkg/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Angple Social Chat API
// @version         1.0
// @description     Realtime one-to-one chat: REST conversation API and websocket channel
//
// @license.name    MIT
//
// @host            localhost:8082
// @BasePath        /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Authorization header using the Bearer scheme. Example: "Bearer {token}"

func main() {
	dotenvFiles := config.LoadDotEnv()

	// 로거 초기화
	env := config.Env()
	pkglogger.InitStructured(env)
	pkglogger.Info("APP_ENV=%s, loaded env files: %v", env, dotenvFiles)

	// 설정 로드
	configPath := config.Path()
	pkglogger.Info("Loading config from: %s", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.LogResolved(cfg)

	// DB 연결 (채팅은 DB 없이 동작할 수 없음)
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db, cfg.IsDevelopment()); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get sql.DB: %v", err)
	}
	pkglogger.Info("Connected to %s", cfg.Database.Driver)

	// Redis 연결 (optional)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
		)
		if err != nil {
			if cfg.Chat.PresenceBackend == "redis" {
				log.Fatalf("Redis is required for presence: %v", err)
			}
			pkglogger.Warn("Failed to connect to Redis: %v (continuing without Redis)", err)
			redisClient = nil
		} else {
			pkglogger.Info("Connected to Redis")
		}
	}

	// Cache Service
	var cacheService pkgcache.Service
	if redisClient != nil {
		cacheService = pkgcache.NewService(redisClient)
	}

	// Services
	users := service.NewUserDirectory(repository.NewUserRepository(db), cacheService)
	messages := service.NewMessageService(repository.NewMessageRepository(db), users, service.MessagePolicy{
		EditWindow:    cfg.Chat.EditWindow,
		Retention:     cfg.Chat.Retention,
		MaxBodyLength: cfg.Chat.MaxBodyLength,
	})

	// Presence
	var presence ws.Presence = ws.NewMemoryPresence()
	if cfg.Chat.PresenceBackend == "redis" {
		presence = ws.NewRedisPresence(redisClient)
	}
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := presence.Reset(resetCtx); err != nil {
		pkglogger.Warn("presence reset failed: %v", err)
	}
	resetCancel()

	// JWT Manager
	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.ExpiresIn, cfg.JWT.RefreshIn)
	authenticator := ws.NewJWTAuthenticator(jwtManager)

	// WebSocket Hub
	wsOpts := ws.DefaultOptions()
	wsOpts.AuthTimeout = cfg.Chat.AuthTimeout
	wsOpts.EventsPerSecond = cfg.Chat.EventsPerSecond
	wsOpts.EventBurst = cfg.Chat.EventBurst
	wsHub := ws.NewHub(presence, authenticator, messages, wsOpts)

	// 만료 메시지 정리
	sweeper, err := retention.NewSweeper(messages, cfg.Chat.RetentionCron)
	if err != nil {
		log.Fatalf("Retention sweeper: %v", err)
	}
	sweeper.Start(context.Background())

	stopStats := make(chan struct{})
	go middleware.ReportDBStats(sqlDB, 15*time.Second, stopStats)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS 설정
	allowOrigins := cfg.CORS.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "http://localhost:3000"
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     splitAndTrim(allowOrigins),
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining"},
		MaxAge:           24 * time.Hour,
	}))

	// Middleware
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		dbState := "ok"
		if err := sqlDB.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			dbState = err.Error()
		}
		// redis는 선택 사항이라 실패해도 degraded만 표시
		cacheState := "disabled"
		if cacheService != nil {
			cacheState = "ok"
			if err := cacheService.Ping(ctx); err != nil {
				cacheState = err.Error()
			}
		}
		lastSweep, purged, _ := sweeper.Status()
		c.JSON(status, gin.H{
			"status":      http.StatusText(status),
			"service":     "angple-social",
			"db":          dbState,
			"cache":       cacheState,
			"connections": wsHub.Connections(""),
			"last_sweep":  lastSweep,
			"last_purged": purged,
			"time":        time.Now().Unix(),
		})
	})

	// Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	rateLimit := middleware.DefaultRateLimitConfig()
	rateLimit.RequestsPerMinute = cfg.Chat.RESTRateLimitRPM
	routes.Setup(router,
		handler.NewConversationHandler(messages, wsHub),
		handler.NewWSHandler(wsHub, authenticator, cfg.CORS.AllowOrigins),
		jwtManager,
		redisClient,
		rateLimit,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		pkglogger.Info("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	pkglogger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		pkglogger.Error("server shutdown: %v", err)
	}
	wsHub.Stop()
	sweeper.Stop()
	close(stopStats)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = sqlDB.Close()
	pkglogger.Info("Server stopped")
}

// splitAndTrim splits comma-separated origins
func splitAndTrim(s string) []string {
	parts := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
