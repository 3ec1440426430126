package localapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"llm-council-relay/internal/council"
)

// SendMessageRequest is the body for both message endpoints.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Tier    string `json:"tier,omitempty"`
}

// SendMessageResponse carries all three stages at once.
type SendMessageResponse struct {
	Stage1   []council.Stage1Result `json:"stage1"`
	Stage2   []council.Stage2Result `json:"stage2"`
	Stage3   []council.Stage3Result `json:"stage3"`
	Metadata council.Metadata       `json:"metadata"`
}

// healthCheck returns a simple health check response.
// GET / - Returns service status information.
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "LLM Council API",
		"busy":    s.runner.Busy(),
	})
}

// listConversations lists all conversations with metadata only.
// GET /api/conversations - Returns array of conversation metadata sorted by date.
func (s *Server) listConversations(c *gin.Context) {
	conversations, err := s.conversations.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to list conversations: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// createConversation creates a new conversation.
// POST /api/conversations - Generates a new UUID and creates an empty conversation.
func (s *Server) createConversation(c *gin.Context) {
	conversation, err := s.conversations.Create(uuid.NewString())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to create conversation: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// getConversation gets a specific conversation by ID.
// GET /api/conversations/:id - Returns full conversation including all messages.
func (s *Server) getConversation(c *gin.Context) {
	conversation, err := s.conversations.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// deleteConversation removes a conversation.
// DELETE /api/conversations/:id
func (s *Server) deleteConversation(c *gin.Context) {
	deleted, err := s.conversations.Delete(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to delete conversation: %v", err),
		})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// sendMessage sends a message and runs the full council.
// POST /api/conversations/:id/message - Returns all stages at once.
// Use sendMessageStream for the SSE version.
func (s *Server) sendMessage(c *gin.Context) {
	conversationID := c.Param("id")

	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	conversation, err := s.conversations.Get(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	isFirstMessage := len(conversation.Messages) == 0

	if err := s.conversations.AddUserMessage(conversationID, request.Content); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to add user message: %v", err),
		})
		return
	}

	if isFirstMessage {
		go s.generateTitle(conversationID, request.Content, nil)
	}

	run, err := s.runner.Execute(c.Request.Context(), request.Content, request.Tier, nil)
	if err != nil {
		if errors.Is(err, council.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Council process failed: %v", err),
		})
		return
	}

	if err := s.conversations.AddAssistantMessage(conversationID, run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to add assistant message: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, SendMessageResponse{
		Stage1:   run.Stage1,
		Stage2:   run.Stage2,
		Stage3:   run.Stage3,
		Metadata: run.Metadata,
	})
}

// sendMessageStream sends a message and streams council progress via SSE.
// POST /api/conversations/:id/message/stream - Emits stage start and
// status events as the run advances, then a complete event carrying the
// full result.
func (s *Server) sendMessageStream(c *gin.Context) {
	conversationID := c.Param("id")

	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	conversation, err := s.conversations.Get(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	isFirstMessage := len(conversation.Messages) == 0

	if err := s.conversations.AddUserMessage(conversationID, request.Content); err != nil {
		sendSSEError(c, fmt.Sprintf("Failed to add user message: %v", err))
		return
	}

	var titleChan chan string
	if isFirstMessage {
		titleChan = make(chan string, 1)
		go s.generateTitle(conversationID, request.Content, titleChan)
	}

	run, err := s.runner.Execute(c.Request.Context(), request.Content, request.Tier, func(stage, status string) {
		sendSSEEvent(c, gin.H{"type": "progress", "stage": stage, "status": status})
	})
	if err != nil {
		if errors.Is(err, council.ErrBusy) {
			sendSSEError(c, err.Error())
			return
		}
		sendSSEError(c, fmt.Sprintf("Council process failed: %v", err))
		return
	}

	if titleChan != nil {
		if title := <-titleChan; title != "" {
			sendSSEEvent(c, gin.H{"type": "title_complete", "data": gin.H{"title": title}})
		}
	}

	if err := s.conversations.AddAssistantMessage(conversationID, run); err != nil {
		sendSSEError(c, fmt.Sprintf("Failed to save message: %v", err))
		return
	}

	sendSSEEvent(c, gin.H{
		"type": "complete",
		"data": SendMessageResponse{
			Stage1:   run.Stage1,
			Stage2:   run.Stage2,
			Stage3:   run.Stage3,
			Metadata: run.Metadata,
		},
	})
}

// listModels returns the scraped model directory.
// GET /api/models - Returns cached entries unless ?refresh=true.
func (s *Server) listModels(c *gin.Context) {
	if s.fetcher == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Model directory disabled"})
		return
	}

	forceRefresh := c.Query("refresh") == "true"

	if !forceRefresh {
		if entries, ok := s.cache.Get(); ok {
			c.JSON(http.StatusOK, gin.H{
				"models":       entries,
				"last_updated": s.cache.LastUpdated(),
			})
			return
		}
	}

	entries, err := s.fetcher.Fetch(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to fetch models: %v", err),
		})
		return
	}

	s.cache.Set(entries)

	c.JSON(http.StatusOK, gin.H{
		"models":       entries,
		"last_updated": s.cache.LastUpdated(),
	})
}

// generateTitle names a conversation after its first message. Closes
// titleChan when non-nil, sending the title only on success.
func (s *Server) generateTitle(conversationID, content string, titleChan chan string) {
	if titleChan != nil {
		defer close(titleChan)
	}
	if s.cfg.TitleProvider.Model == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	title, err := council.GenerateTitle(ctx, s.adapter, s.cfg.TitleProvider, content)
	if err != nil {
		log.Printf("[localapi] failed to generate title: %v", err)
		return
	}
	if err := s.conversations.UpdateTitle(conversationID, title); err != nil {
		log.Printf("[localapi] failed to update title: %v", err)
		return
	}
	if titleChan != nil {
		titleChan <- title
	}
}

// sendSSEEvent writes one Server-Sent Event frame.
func sendSSEEvent(c *gin.Context, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[localapi] failed to marshal SSE event: %v", err)
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", jsonData)
	c.Writer.Flush()
}

func sendSSEError(c *gin.Context, message string) {
	sendSSEEvent(c, gin.H{"type": "error", "message": message})
}
