package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"skylift/internal/config"
	"skylift/internal/service"
	"skylift/internal/storage"
)

// CredentialVault is the credential surface the handlers need.
type CredentialVault interface {
	Save(ctx context.Context, handle, password string) error
	Load(ctx context.Context) (handle, password string, err error)
}

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Store     service.PostStore
	Vault     CredentialVault
	Objects   storage.Store
	Sessions  *service.SessionLog
	Ingestor  *service.Ingestor
	Scheduler *service.Scheduler
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	objects, err := newObjectStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize services
	store := service.NewStore(db)
	vault, err := service.NewVault(db, cfg.Bluesky.CredentialKey, logger)
	if err != nil {
		return nil, err
	}
	sessions := service.NewSessionLog(32)
	ingestor := service.NewIngestor(objects, sessions, logger)
	publisher := service.NewBlueskyPublisher(&cfg.Bluesky, store, vault, objects, logger)

	var notifier service.Notifier
	if mail := service.NewMailNotifier(&cfg.Notify, logger); mail != nil {
		notifier = mail
	}
	scheduler := service.NewScheduler(&cfg.Scheduler, store, publisher, notifier, logger)

	// Create router
	router := gin.New()

	// Create server
	srv := &Server{
		Config:    cfg,
		DB:        db,
		Router:    router,
		Logger:    logger,
		Store:     store,
		Vault:     vault,
		Objects:   objects,
		Sessions:  sessions,
		Ingestor:  ingestor,
		Scheduler: scheduler,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func newObjectStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "s3":
		store, err := storage.NewS3Store(context.Background(), &cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		logger.Info("Using S3 object storage", zap.String("bucket", cfg.Storage.Bucket))
		return store, nil
	case "local":
		store, err := storage.NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		logger.Info("Using local object storage", zap.String("dir", cfg.Storage.LocalDir))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Upload-Id")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// Serve stored uploads directly when running on local storage
	if s.Config != nil && s.Config.Storage.Type == "local" {
		s.Router.Static("/uploads", s.Config.Storage.LocalDir)
	}

	// API routes
	api := s.Router.Group("/api/v1")
	{
		uploads := api.Group("/uploads")
		{
			uploads.POST("", s.handleIngestArchive)
			uploads.GET("", s.handleListUploads)
			uploads.GET("/:id/logs", s.handleUploadLogs)
		}

		posts := api.Group("/posts")
		{
			posts.POST("", s.handleSchedulePosts)
			posts.GET("", s.handleListPosts)
			posts.PATCH("/:id", s.handleUpdatePost)
			posts.DELETE("/:id", s.handleDeletePost)
		}

		credentials := api.Group("/credentials")
		{
			credentials.POST("", s.handleSaveCredentials)
			credentials.GET("", s.handleGetCredentials)
		}

		api.POST("/scheduler/run", s.handleRunScheduler)
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first
	s.Scheduler.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
