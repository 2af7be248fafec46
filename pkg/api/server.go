// Package api provides the HTTP bridge between the page shell and the guard engine
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZentaChain/chatguard/pkg/guard"
	"github.com/ZentaChain/chatguard/pkg/network"
	"github.com/ZentaChain/chatguard/pkg/ratelimit"
)

// Transport is the subset of the libp2p transport the API drives
type Transport interface {
	ID() peer.ID
	Peers() []network.PeerInfo
	Send(ctx context.Context, to peer.ID, packet string) (string, error)
	Broadcast(ctx context.Context, packet string) ([]string, error)
}

// QueueStats reports the delivery outbox
type QueueStats interface {
	QueueSize(ctx context.Context) (int, error)
}

// Server represents the HTTP API server
type Server struct {
	engine     *guard.Engine
	transport  Transport
	outbox     QueueStats
	gatherer   prometheus.Gatherer
	router     *gin.Engine
	port       int
	httpServer *http.Server
	startedAt  time.Time
}

// Config holds server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute per client IP
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		RateLimit:    600,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Option configures a Server
type Option func(*Server)

// WithTransport enables delivery and peer endpoints
func WithTransport(t Transport) Option {
	return func(s *Server) { s.transport = t }
}

// WithOutbox reports the queued packet count on /health
func WithOutbox(q QueueStats) Option {
	return func(s *Server) { s.outbox = q }
}

// WithGatherer exposes the given registry on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new HTTP API server
func NewServer(engine *guard.Engine, config *Config, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:    engine,
		router:    gin.New(),
		port:      config.Port,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware(config)
	s.setupRoutes()
	return s
}

// Handler returns the router for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(ratelimit.PerMinute(config.RateLimit)))
	}
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/identity", s.handleRegister)
		v1.GET("/identity", s.handleIdentity)

		v1.GET("/handshake", s.handleHandshake)
		v1.POST("/packets", s.handlePacket)
		v1.POST("/messages", s.handleSend)

		contacts := v1.Group("/contacts")
		{
			contacts.GET("", s.handleContacts)
			contacts.GET("/:peerId", s.handleContact)
			contacts.PUT("/:peerId/enabled", s.handleSetEnabled)
		}

		v1.GET("/network/peers", s.handlePeers)
	}

	s.router.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 HTTP API server starting on port %d...", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down HTTP API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
