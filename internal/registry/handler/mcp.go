package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/agntor/agntor-mcp/internal/mcpbridge"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MCPHandler serves the MCP streamable HTTP transport: one JSON-RPC message
// per POST, answered with a single JSON response.
type MCPHandler struct {
	server *mcpbridge.Server
	logger *zap.Logger
}

// NewMCPHandler creates a new MCPHandler.
func NewMCPHandler(server *mcpbridge.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{server: server, logger: logger}
}

// Register mounts the MCP endpoint on rg behind the given middlewares
// (typically the API key check).
func (h *MCPHandler) Register(rg gin.IRoutes, mw ...gin.HandlerFunc) {
	chain := func(last gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, mw...), last)
	}
	rg.POST("/mcp", chain(h.Post)...)
	rg.GET("/mcp", chain(h.MethodNotAllowed)...)
}

// Post handles POST /mcp.
func (h *MCPHandler) Post(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "read request body"})
		return
	}

	resp := h.server.Handle(c.Request.Context(), body)
	if resp == nil {
		// Notifications and responses are acknowledged without a body.
		c.Status(http.StatusAccepted)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// MethodNotAllowed answers GET /mcp: server-initiated streams are not offered.
func (h *MCPHandler) MethodNotAllowed(c *gin.Context) {
	c.Header("Allow", http.MethodPost)
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "server-sent event streams are not supported; use POST"})
}
