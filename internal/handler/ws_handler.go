package handler

import (
	"net/http"
	"strings"

	"github.com/damoang/angple-social/internal/common"
	"github.com/damoang/angple-social/internal/ws"
	"github.com/damoang/angple-social/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSHandler handles WebSocket connections
type WSHandler struct {
	hub            *ws.Hub
	auth           ws.Authenticator
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler
func NewWSHandler(hub *ws.Hub, auth ws.Authenticator, allowedOrigins string) *WSHandler {
	h := &WSHandler{
		hub:            hub,
		auth:           auth,
		allowedOrigins: parseOrigins(allowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// parseOrigins parses comma-separated origins string
func parseOrigins(origins string) []string {
	if origins == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" && trimmed != "*" {
			result = append(result, trimmed)
		}
	}
	return result
}

// checkOrigin validates the request origin against allowed origins
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // Same-origin requests don't have Origin header
	}

	// If no allowed origins configured, allow all (development mode)
	if len(h.allowedOrigins) == 0 {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	return false
}

// Connect handles GET /ws/chat (WebSocket upgrade)
// @Summary 실시간 채팅 WebSocket
// @Description Authorization 헤더 또는 token 쿼리로 인증. 둘 다 없으면 연결 후 authenticate 이벤트를 보내야 함
// @Tags chat
// @Param token query string false "access token"
// @Failure 401 {object} common.APIResponse
// @Router /ws/chat [get]
func (h *WSHandler) Connect(c *gin.Context) {
	var identity *ws.Identity
	if token := ws.ExtractToken(c.Request); token != "" {
		id, err := h.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			common.Fail(c, err)
			return
		}
		identity = id
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	go client.WritePump()
	go client.ReadPump(identity)
}
