// Package app assembles the relay server: storage, hub, chat session and the
// HTTP API, built once from Config and torn down together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"studychat/internal/chat"
	"studychat/internal/config"
	"studychat/internal/db"
	"studychat/internal/handlers"
	"studychat/internal/hub"
	"studychat/internal/middleware"
	"studychat/internal/observability"
	"studychat/internal/rabbitmq"
	"studychat/internal/repositories"
	"studychat/internal/telemetry"
)

const (
	serviceName     = "studychat"
	auditRoutingKey = "audit.chat"
	shutdownTimeout = 10 * time.Second
)

// Stores groups the repositories for one storage backend.
type Stores struct {
	Messages repositories.MessageRepository
	Groups   repositories.GroupRepository
	Users    repositories.UserRepository

	db *sqlx.DB
}

// Close releases the database handle, if any.
func (s *Stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OpenStores builds the repositories for cfg.DBDriver.
func OpenStores(cfg config.Config) (*Stores, error) {
	if cfg.DBDriver == config.DriverMemory {
		users := repositories.NewMemoryUserRepo()
		return &Stores{
			Messages: repositories.NewMemoryMessageRepo(users),
			Groups:   repositories.NewMemoryGroupRepo(),
			Users:    users,
		}, nil
	}

	database, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Messages: repositories.NewMessageRepo(database),
		Groups:   repositories.NewGroupRepo(database),
		Users:    repositories.NewUserRepo(database),
		db:       database,
	}, nil
}

// App is the relay server's application context.
type App struct {
	cfg       config.Config
	stores    *Stores
	publisher rabbitmq.Publisher
	audit     *telemetry.AuditEmitter
	hub       *hub.Hub
	session   *chat.Session
	router    *gin.Engine
}

// New builds every component from cfg. Nothing listens until Run.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	stores, err := OpenStores(cfg)
	if err != nil {
		return nil, err
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	log.Printf("publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, serviceName, cfg.Environment)

	relay := hub.New(
		hub.WithQueueSize(cfg.SendQueue),
		hub.WithMaxLine(cfg.MaxLine),
		hub.WithPublisher(publisher),
	)
	session := chat.NewSession(stores.Messages, relay, chat.WithAudit(audit))

	a := &App{
		cfg:       cfg,
		stores:    stores,
		publisher: publisher,
		audit:     audit,
		hub:       relay,
		session:   session,
	}
	a.router = a.buildRouter()
	return a, nil
}

// Router exposes the HTTP handler, mainly for tests.
func (a *App) Router() http.Handler { return a.router }

// Hub exposes the relay.
func (a *App) Hub() *hub.Hub { return a.hub }

func (a *App) buildRouter() *gin.Engine {
	if a.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": a.hub.Count()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", hub.NewWebSocketHandler(a.hub).Handle)

	groups := handlers.NewGroupHandler(a.stores.Groups, a.session, a.audit)
	messages := handlers.NewMessageHandler(a.session, a.audit)

	api := router.Group("/", middleware.Identity())
	api.POST("/groups", groups.CreateGroup)
	api.GET("/groups/:group_id", groups.GetGroup)
	api.GET("/groups/:group_id/messages", groups.GetGroupMessages)
	api.POST("/groups/:group_id/messages", groups.PostGroupMessage)
	api.PATCH("/messages/:message_id", messages.EditMessage)
	api.DELETE("/messages/:message_id", messages.DeleteMessage)

	handlers.RegisterDebugRoutes(router, a.audit, a.hub, a.cfg.DebugRoutes)
	return router
}

// Run serves the TCP relay and the HTTP API until ctx is cancelled, then shuts
// both down and releases the stores and publisher.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.ChatAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.ChatAddr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run with a caller-provided relay listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("relay listening addr=%s", ln.Addr())
		if err := a.hub.Serve(ctx, ln); err != nil {
			errCh <- fmt.Errorf("relay: %w", err)
		}
	}()
	go func() {
		log.Printf("http listening addr=%s", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := a.hub.Shutdown(shutdownCtx); err != nil {
		log.Printf("relay shutdown: %v", err)
	}
	return runErr
}

func (a *App) close() {
	if err := a.publisher.Close(); err != nil {
		log.Printf("publisher close: %v", err)
	}
	if err := a.stores.Close(); err != nil {
		log.Printf("db close: %v", err)
	}
}
