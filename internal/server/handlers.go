package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskforge/internal/sandbox"
)

// Handlers contains the HTTP handlers for the task engine.
type Handlers struct {
	engine *Engine
	logger *zap.Logger
}

// NewHandlers creates handlers for the given engine.
func NewHandlers(engine *Engine, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{engine: engine, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (h *Handlers) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.HandleHealth)
	r.GET("/operations", h.HandleOperations)
	r.POST("/chat/init", h.HandleInitChat)
	r.POST("/process", h.HandleProcess)
	r.DELETE("/chat/:chat_id", h.HandleDeleteChat)

	return r
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleOperations handles GET /operations.
func (h *Handlers) HandleOperations(c *gin.Context) {
	c.JSON(http.StatusOK, OperationsResponse{Operations: h.engine.Operations()})
}

// HandleInitChat handles POST /chat/init. Creates a session sandbox and
// chat history and returns the generated chat id.
func (h *Handlers) HandleInitChat(c *gin.Context) {
	// Both fields are optional, so an empty body is fine.
	var req InitChatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}

	chatID := uuid.NewString()
	if err := h.engine.InitSession(chatID, req.Model, req.SystemPrompt); err != nil {
		h.logger.Error("session init failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "INIT_FAILED",
		})
		return
	}

	h.logger.Info("chat session created", zap.String("chat_id", chatID))
	c.JSON(http.StatusOK, InitChatResponse{ChatID: chatID})
}

// HandleProcess handles POST /process. With a chat_id it runs the
// conversation loop to completion (or the iteration cap) inside that
// session; without one it answers with a single one-shot query.
func (h *Handlers) HandleProcess(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	// No chat id means a single stateless query, no session and no
	// operation loop.
	if req.ChatID == "" {
		response, err := h.engine.OneShot(c.Request.Context(), req.Model, req.Prompt, req.Parameters)
		if err != nil {
			h.logger.Error("one-shot query failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, ErrorResponse{
				Error: err.Error(),
				Code:  "BACKEND_FAILED",
			})
			return
		}
		c.JSON(http.StatusOK, ProcessResponse{
			Response:   response,
			Completed:  true,
			Iterations: 1,
		})
		return
	}

	chatID := req.ChatID
	if !h.engine.HasSession(chatID) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "unknown chat id: " + chatID,
			Code:  "CHAT_NOT_FOUND",
		})
		return
	}

	outcome, err := h.engine.Process(c.Request.Context(), chatID, req.Prompt, req.Parameters)
	if err != nil {
		h.logger.Error("conversation failed",
			zap.String("chat_id", chatID),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: err.Error(),
			Code:  "BACKEND_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, ProcessResponse{
		ChatID:     chatID,
		Response:   outcome.Response,
		Completed:  outcome.Completed,
		Iterations: outcome.Iterations,
	})
}

// HandleDeleteChat handles DELETE /chat/:chat_id. Removes the chat
// history and deletes the session sandbox from disk.
func (h *Handlers) HandleDeleteChat(c *gin.Context) {
	chatID := c.Param("chat_id")
	if !h.engine.HasSession(chatID) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "unknown chat id: " + chatID,
			Code:  "CHAT_NOT_FOUND",
		})
		return
	}

	if err := h.engine.Teardown(chatID); err != nil && !errors.Is(err, sandbox.ErrSessionNotFound) {
		h.logger.Error("session teardown failed",
			zap.String("chat_id", chatID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "TEARDOWN_FAILED",
		})
		return
	}

	h.logger.Info("chat session deleted", zap.String("chat_id", chatID))
	c.JSON(http.StatusOK, gin.H{"deleted": chatID})
}
