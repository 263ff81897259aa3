package routes

import (
	"github.com/damoang/angple-social/internal/handler"
	"github.com/damoang/angple-social/internal/middleware"
	"github.com/damoang/angple-social/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Setup configures the chat REST and websocket routes
func Setup(
	router *gin.Engine,
	conversationHandler *handler.ConversationHandler,
	wsHandler *handler.WSHandler,
	jwtManager *jwt.Manager,
	redisClient *redis.Client,
	rateLimit middleware.RateLimitConfig,
) {
	// WebSocket (인증은 핸드셰이크 또는 첫 authenticate 이벤트)
	router.GET("/ws/chat", wsHandler.Connect)

	chat := router.Group("/api/v1/chat", middleware.JWTAuth(jwtManager), middleware.RateLimit(redisClient, rateLimit))

	chat.GET("/conversations", conversationHandler.ListConversations)            // 대화 목록
	chat.GET("/conversation/:peerId", conversationHandler.GetConversation)       // 대화 내역
	chat.DELETE("/conversation/:peerId", conversationHandler.DeleteConversation) // 대화 전체 삭제
	chat.POST("/message", conversationHandler.SendMessage)                       // 메시지 전송
	chat.PUT("/message/:id", conversationHandler.EditMessage)                    // 메시지 수정
	chat.DELETE("/message/:id", conversationHandler.DeleteMessage)               // 메시지 삭제
	chat.PUT("/read/:peerId", conversationHandler.MarkRead)                      // 읽음 처리
	chat.GET("/presence/:userId", conversationHandler.GetPresence)               // 접속 상태
}
