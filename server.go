package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/handlers"
	"github.com/mmdatafocus/hoa_backend/middlewares"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/mmdatafocus/hoa_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Routes are mounted once dependencies are connected; until then the gate above answers 503.
	app := &lazyRoutes{}
	r.NoRoute(app.serve)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	ledgerOpts := []workflow.LedgerOption{
		workflow.WithSubmissionGuard(workflow.NewRedisSubmissionGuard(config.GetRedisLock(), 30*time.Second)),
	}
	blobs, err := utils.NewGCSBlobStore(context.Background())
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "proof storage"}).Warn("proof uploads disabled: " + err.Error())
	} else {
		defer blobs.Close()
		ledgerOpts = append(ledgerOpts, workflow.WithBlobStore(blobs))
	}
	defer config.ClosePubSub()

	authorizer := workflow.RoleAuthorizer{}
	dues := workflow.NewDuesRegistry(db, authorizer)
	reconciler := workflow.NewReconcilerFromEnv(db)
	scheduler := workflow.NewReconcileScheduler(reconciler, config.GetRedisLock())
	h := handlers.New(handlers.Services{
		DB:         db,
		Members:    workflow.NewMemberRegistry(db, authorizer),
		Ledger:     workflow.NewLedger(db, dues, ledgerOpts...),
		Dues:       dues,
		Reconciler: reconciler,
		Scheduler:  scheduler,
		Reports:    workflow.NewFinancialAggregator(db, nil),
	})

	api := gin.New()
	if rateLimitEnabled() {
		limit, window := rateLimitSettings()
		api.Use(middlewares.NewRateLimiter(config.GetRedisDB(), limit, window).RateLimitMiddleware)
	}
	api.Use(middlewares.SessionMiddleware())
	api.Use(middlewares.AuthMiddleware())
	h.Register(api)
	api.NoRoute(customNotFoundHandler)
	app.set(api)

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	if config.ReconcileScheduleEnabled() {
		go scheduler.Start(schedulerCtx)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// lazyRoutes forwards to the API engine once it exists.
type lazyRoutes struct {
	mu      sync.RWMutex
	handler http.Handler
}

func (l *lazyRoutes) set(h http.Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *lazyRoutes) serve(c *gin.Context) {
	l.mu.RLock()
	h := l.handler
	l.mu.RUnlock()
	if h == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Optional rate limiting.
// Env:
// - RATE_LIMIT_ENABLED=true
// - RATE_LIMIT_WINDOW_SECONDS=60
// - RATE_LIMIT_MAX_REQUESTS=600
func rateLimitEnabled() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true")
}

func rateLimitSettings() (int64, time.Duration) {
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	windowSec := int64(60)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			windowSec = n
		}
	}
	return limit, time.Duration(windowSec) * time.Second
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
