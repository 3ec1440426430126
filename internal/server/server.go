package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"llm-council-relay/internal/store"
)

// Config holds the tunables for the relay HTTP surface.
type Config struct {
	// DefaultTimeout is applied to POST /prompt when the caller does not
	// supply one.
	DefaultTimeout time.Duration
	// MaxTimeout caps whatever the caller asks for.
	MaxTimeout time.Duration
	// ProxyTimeout bounds pass-through requests to the host (auth status,
	// history operations).
	ProxyTimeout time.Duration
	// KeepRequests is how many finished request records to retain.
	KeepRequests int
}

func (c *Config) applyDefaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 2 * time.Minute
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 5 * time.Minute
	}
	if c.ProxyTimeout <= 0 {
		c.ProxyTimeout = 10 * time.Second
	}
	if c.KeepRequests <= 0 {
		c.KeepRequests = 50
	}
}

// Server is the public HTTP face of the relay. Callers that cannot hold
// credentials talk to it; the credentialed host connects over /ws.
type Server struct {
	cfg      Config
	hub      *Hub
	requests *store.RequestStore
}

// New builds the fiber app with all relay routes registered.
func New(cfg Config, hub *Hub, requests *store.RequestStore) (*Server, *fiber.App) {
	cfg.applyDefaults()
	s := &Server{cfg: cfg, hub: hub, requests: requests}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
	})

	app.Get("/health", s.handleHealth)
	app.Post("/prompt", s.handlePrompt)
	app.Get("/requests", s.handleListRequests)
	app.Get("/requests/:id", s.handleGetRequest)
	app.Delete("/requests/:id", s.handleDeleteRequest)
	app.Get("/active-request", s.handleActiveRequest)
	app.Get("/auth-status", s.handleAuthStatus)
	app.Get("/conversations", s.handleListConversations)
	app.Get("/conversations/:id", s.handleGetConversation)
	app.Delete("/conversations/:id", s.handleDeleteConversation)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(hub.HandleHost))

	return s, app
}
