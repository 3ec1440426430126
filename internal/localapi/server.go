// Package localapi is the host's loopback HTTP surface. It serves the
// conversation UI: conversation CRUD, council runs with and without SSE
// streaming, and the scraped model directory.
package localapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"llm-council-relay/internal/catalog"
	"llm-council-relay/internal/council"
	"llm-council-relay/internal/provider"
	"llm-council-relay/internal/store"
)

// Runner executes a council run. Satisfied by host.Runner.
type Runner interface {
	Execute(ctx context.Context, query, tier string, onProgress council.ProgressFunc) (*council.Run, error)
	Busy() bool
}

// Config holds the local API tunables.
type Config struct {
	// AllowedOrigins restricts CORS. Empty means any localhost origin.
	AllowedOrigins []string
	// MaxBodySize caps request bodies in bytes.
	MaxBodySize int64
	// CatalogTTL is how long the scraped model directory stays fresh.
	CatalogTTL time.Duration
	// TitleProvider generates conversation titles. Zero value disables
	// title generation.
	TitleProvider provider.Resolved
}

func (c *Config) applyDefaults() {
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 1 << 20
	}
	if c.CatalogTTL <= 0 {
		c.CatalogTTL = time.Hour
	}
}

// Server handles the local API routes.
type Server struct {
	cfg           Config
	runner        Runner
	adapter       provider.Adapter
	conversations *store.ConversationStore
	fetcher       *catalog.Fetcher
	cache         *catalog.Cache
}

// New builds a server. The catalog fetcher may be nil to disable the
// models endpoint's live fetch.
func New(cfg Config, runner Runner, adapter provider.Adapter, conversations *store.ConversationStore, fetcher *catalog.Fetcher) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:           cfg,
		runner:        runner,
		adapter:       adapter,
		conversations: conversations,
		fetcher:       fetcher,
		cache:         catalog.NewCache(cfg.CatalogTTL),
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodySize)
		c.Next()
	})

	router.Use(cors.New(cors.Config{
		AllowOriginFunc:  s.allowOrigin,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	router.GET("/", s.healthCheck)
	router.GET("/api/conversations", s.listConversations)
	router.POST("/api/conversations", s.createConversation)
	router.GET("/api/conversations/:id", s.getConversation)
	router.DELETE("/api/conversations/:id", s.deleteConversation)
	router.POST("/api/conversations/:id/message", s.sendMessage)
	router.POST("/api/conversations/:id/message/stream", s.sendMessageStream)
	router.GET("/api/models", s.listModels)

	return router
}

func (s *Server) allowOrigin(origin string) bool {
	if len(s.cfg.AllowedOrigins) > 0 && s.cfg.AllowedOrigins[0] != "" {
		for _, allowed := range s.cfg.AllowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	}
	// Development default: any localhost or loopback origin.
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0")
}
