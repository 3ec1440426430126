package server

import (
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"llm-council-relay/internal/council"
	"llm-council-relay/internal/relay"
	"llm-council-relay/internal/store"
)

// PromptRequest is the body of POST /prompt. Timeout is in milliseconds
// and is clamped to the server's configured maximum.
type PromptRequest struct {
	Query   string `json:"query"`
	Tier    string `json:"tier,omitempty"`
	Timeout int64  `json:"timeout,omitempty"`
}

// PromptResponse is returned for both success and failure so callers can
// always pick up the request id for later polling.
type PromptResponse struct {
	Success   bool                   `json:"success"`
	RequestID string                 `json:"requestId,omitempty"`
	Stage1    []council.Stage1Result `json:"stage1,omitempty"`
	Stage2    []council.Stage2Result `json:"stage2,omitempty"`
	Stage3    []council.Stage3Result `json:"stage3,omitempty"`
	Metadata  *council.Metadata      `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorCode string                 `json:"errorCode,omitempty"`
	Duration  int64                  `json:"duration,omitempty"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":             "ok",
		"extensionConnected": s.hub.HostConnected(),
		"uptime":             int64(s.hub.Uptime().Seconds()),
	})
}

func (s *Server) handlePrompt(c *fiber.Ctx) error {
	var req PromptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(PromptResponse{
			Success: false, Error: "invalid request body", ErrorCode: "INVALID_REQUEST",
		})
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(PromptResponse{
			Success: false, Error: "query is required", ErrorCode: "INVALID_REQUEST",
		})
	}

	if !s.hub.HostConnected() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(PromptResponse{
			Success: false, Error: "relay host not connected", ErrorCode: "NO_EXTENSION",
		})
	}

	timeout := s.cfg.DefaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Millisecond
		if timeout > s.cfg.MaxTimeout {
			timeout = s.cfg.MaxTimeout
		}
	}

	requestID := uuid.NewString()
	ctx := c.Context()

	// Persist before dispatch so a caller that loses its connection can
	// rediscover the run via GET /active-request and poll its status.
	if err := s.requests.Save(ctx, requestID, req.Query, req.Tier); err != nil {
		log.Printf("[server] failed to persist request %s: %v", requestID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(PromptResponse{
			Success: false, Error: "failed to persist request", ErrorCode: "SERVER_ERROR",
		})
	}

	ch, err := s.hub.RegisterCouncil(requestID)
	if err != nil {
		_ = s.requests.Fail(ctx, requestID, err.Error())
		return c.Status(fiber.StatusConflict).JSON(PromptResponse{
			Success: false, RequestID: requestID, Error: err.Error(), ErrorCode: "REQUEST_IN_PROGRESS",
		})
	}

	if err := s.requests.MarkProcessing(ctx, requestID); err != nil {
		log.Printf("[server] failed to mark request %s processing: %v", requestID, err)
	}

	dispatched := relay.CouncilRequest{
		RequestID: requestID,
		Query:     req.Query,
		Tier:      req.Tier,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.hub.SendCouncilRequest(dispatched); err != nil {
		s.hub.UnregisterCouncil(requestID)
		_ = s.requests.Fail(ctx, requestID, "failed to reach relay host")
		return c.Status(fiber.StatusServiceUnavailable).JSON(PromptResponse{
			Success: false, RequestID: requestID, Error: "failed to reach relay host", ErrorCode: "NO_EXTENSION",
		})
	}

	log.Printf("[server] dispatched request %s (timeout %s)", requestID, timeout)

	select {
	case resp := <-ch:
		if n, err := s.requests.Cleanup(ctx, s.cfg.KeepRequests); err == nil && n > 0 {
			log.Printf("[server] cleaned up %d old request records", n)
		}
		out := PromptResponse{
			Success:   resp.Success,
			RequestID: requestID,
			Stage1:    resp.Stage1,
			Stage2:    resp.Stage2,
			Stage3:    resp.Stage3,
			Metadata:  resp.Metadata,
			Error:     resp.Error,
			Duration:  resp.Duration,
		}
		if !resp.Success {
			out.ErrorCode = "COUNCIL_ERROR"
			return c.Status(fiber.StatusInternalServerError).JSON(out)
		}
		return c.JSON(out)
	case <-time.After(timeout):
		// The run may still finish; the hub persists the eventual result
		// so we leave the record in processing for pollers.
		s.hub.UnregisterCouncil(requestID)
		return c.Status(fiber.StatusGatewayTimeout).JSON(PromptResponse{
			Success: false, RequestID: requestID, Error: "timed out waiting for council response", ErrorCode: "TIMEOUT",
		})
	}
}

func (s *Server) handleListRequests(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	summaries, err := s.requests.Recent(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list requests"})
	}
	return c.JSON(fiber.Map{"requests": summaries})
}

func (s *Server) handleGetRequest(c *fiber.Ctx) error {
	rec, err := s.requests.Get(c.Context(), c.Params("id"))
	if err != nil {
		if err == store.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "request not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load request"})
	}
	return c.JSON(rec)
}

func (s *Server) handleDeleteRequest(c *fiber.Ctx) error {
	deleted, err := s.requests.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to delete request"})
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "request not found"})
	}
	return c.JSON(fiber.Map{"success": true})
}

// handleActiveRequest returns the newest non-terminal request, or null.
// Callers that lost their POST connection use this to rediscover the id
// they should be polling.
func (s *Server) handleActiveRequest(c *fiber.Ctx) error {
	rec, err := s.requests.Active(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load active request"})
	}
	if rec == nil {
		return c.JSON(fiber.Map{"active": nil})
	}
	return c.JSON(fiber.Map{"active": rec})
}

func (s *Server) handleAuthStatus(c *fiber.Ctx) error {
	return s.proxyToHost(c, relay.TypeGetAuthStatus, nil)
}

func (s *Server) handleListConversations(c *fiber.Ctx) error {
	return s.proxyToHost(c, relay.TypeGetHistoryList, nil)
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	return s.proxyToHost(c, relay.TypeGetConversation, relay.ConversationRef{ID: c.Params("id")})
}

func (s *Server) handleDeleteConversation(c *fiber.Ctx) error {
	return s.proxyToHost(c, relay.TypeDeleteConversation, relay.ConversationRef{ID: c.Params("id")})
}

// proxyToHost relays one request over the websocket and writes the
// response, or the error body, itself.
func (s *Server) proxyToHost(c *fiber.Ctx, t relay.MessageType, payload interface{}) error {
	if !s.hub.HostConnected() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "relay host not connected", "errorCode": "NO_EXTENSION",
		})
	}
	raw, err := s.hub.Proxy(c.Context(), t, uuid.NewString(), payload, s.cfg.ProxyTimeout)
	if err != nil {
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
			"error": err.Error(), "errorCode": "TIMEOUT",
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(raw)
}
