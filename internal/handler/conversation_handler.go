package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/damoang/angple-social/internal/common"
	"github.com/damoang/angple-social/internal/domain"
	"github.com/damoang/angple-social/internal/middleware"
	"github.com/damoang/angple-social/internal/service"
	"github.com/damoang/angple-social/internal/ws"
	"github.com/gin-gonic/gin"
)

const maxHistoryLimit = 500

// Notifier pushes REST mutations to realtime connections
type Notifier interface {
	PublishToConversation(a, b string, event *ws.Event) int
	SendToUser(userID string, event *ws.Event) int
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// ConversationHandler handles chat HTTP requests
type ConversationHandler struct {
	service  service.MessageService
	notifier Notifier
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(service service.MessageService, notifier Notifier) *ConversationHandler {
	return &ConversationHandler{service: service, notifier: notifier}
}

// ReadResult PUT /read/:peerId
type ReadResult struct {
	Updated int64 `json:"updated"`
}

// DeleteResult DELETE /conversation/:peerId
type DeleteResult struct {
	Deleted int64 `json:"deleted"`
}

// PresenceResult GET /presence/:userId
type PresenceResult struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

func requireUser(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

func parseMessageID(c *gin.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid message id", common.ErrValidation)
	}
	return id, nil
}

// GetConversation handles GET /conversation/:peerId
// @Summary 대화 내역 조회
// @Description limit 지정 시 최신 메시지부터 내림차순
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param peerId path string true "상대 사용자 ID"
// @Param limit query int false "최대 개수"
// @Success 200 {object} common.APIResponse{data=[]domain.MessageResponse}
// @Failure 400 {object} common.APIResponse
// @Router /chat/conversation/{peerId} [get]
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 1 || l > maxHistoryLimit {
			common.Fail(c, fmt.Errorf("%w: limit must be between 1 and %d", common.ErrValidation, maxHistoryLimit))
			return
		}
		limit = l
	}

	messages, err := h.service.History(c.Request.Context(), userID, c.Param("peerId"), limit)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Success(c, h.service.Enrich(c.Request.Context(), messages...))
}

// SendMessage handles POST /message
// @Summary 메시지 전송
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body domain.SendMessageRequest true "메시지 내용"
// @Success 201 {object} common.APIResponse{data=domain.MessageResponse}
// @Failure 400 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /chat/message [post]
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, fmt.Errorf("%w: receiverId and message are required", common.ErrValidation))
		return
	}

	msg, err := h.service.Send(c.Request.Context(), userID, &req)
	if err != nil {
		common.Fail(c, err)
		return
	}

	resp := h.service.Enrich(c.Request.Context(), msg)[0]
	if h.notifier != nil {
		h.notifier.PublishToConversation(userID, msg.ReceiverID, ws.NewEvent(ws.EventNewMessage, resp))
	}
	common.Created(c, resp)
}

// ListConversations handles GET /conversations
// @Summary 대화 목록
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Success 200 {object} common.APIResponse{data=[]domain.ConversationSummary}
// @Router /chat/conversations [get]
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	summaries, err := h.service.Conversations(c.Request.Context(), userID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Success(c, summaries)
}

// MarkRead handles PUT /read/:peerId
// @Summary 읽음 처리
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param peerId path string true "상대 사용자 ID"
// @Success 200 {object} common.APIResponse{data=ReadResult}
// @Router /chat/read/{peerId} [put]
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	peerID := c.Param("peerId")
	n, err := h.service.MarkRead(c.Request.Context(), userID, peerID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	if n > 0 && h.notifier != nil {
		h.notifier.SendToUser(peerID, ws.NewEvent(ws.EventMessagesRead, ws.ReadReceiptPayload{ReaderID: userID, Count: n}))
	}
	common.Success(c, ReadResult{Updated: n})
}

// EditMessage handles PUT /message/:id
// @Summary 메시지 수정 (작성 후 5분 이내)
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "메시지 ID"
// @Param request body domain.EditMessageRequest true "수정할 내용"
// @Success 200 {object} common.APIResponse{data=domain.MessageResponse}
// @Failure 403 {object} common.APIResponse
// @Failure 422 {object} common.APIResponse
// @Router /chat/message/{id} [put]
func (h *ConversationHandler) EditMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, err := parseMessageID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req domain.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, fmt.Errorf("%w: message is required", common.ErrValidation))
		return
	}

	msg, err := h.service.Edit(c.Request.Context(), id, userID, req.Message)
	if err != nil {
		common.Fail(c, err)
		return
	}

	resp := h.service.Enrich(c.Request.Context(), msg)[0]
	if h.notifier != nil {
		h.notifier.PublishToConversation(msg.SenderID, msg.ReceiverID, ws.NewEvent(ws.EventMessageUpdated, resp))
	}
	common.Success(c, resp)
}

// DeleteMessage handles DELETE /message/:id
// @Summary 메시지 삭제
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "메시지 ID"
// @Success 200 {object} common.APIResponse
// @Failure 403 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /chat/message/{id} [delete]
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, err := parseMessageID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	msg, err := h.service.Delete(c.Request.Context(), id, userID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	if h.notifier != nil {
		h.notifier.PublishToConversation(msg.SenderID, msg.ReceiverID,
			ws.NewEvent(ws.EventMessageDeleted, ws.MessageDeletedPayload{MessageID: msg.ID}))
	}
	common.Success(c, nil)
}

// DeleteConversation handles DELETE /conversation/:peerId
// @Summary 대화 전체 삭제
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param peerId path string true "상대 사용자 ID"
// @Success 200 {object} common.APIResponse{data=DeleteResult}
// @Router /chat/conversation/{peerId} [delete]
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	peerID := c.Param("peerId")
	n, err := h.service.DeleteConversation(c.Request.Context(), userID, peerID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	if h.notifier != nil {
		h.notifier.PublishToConversation(userID, peerID, ws.NewEvent(ws.EventConversationDeleted,
			ws.ConversationDeletedPayload{Room: domain.RoomKey(userID, peerID), Deleted: n}))
	}
	common.Success(c, DeleteResult{Deleted: n})
}

// GetPresence handles GET /presence/:userId
// @Summary 접속 상태 조회
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param userId path string true "사용자 ID"
// @Success 200 {object} common.APIResponse{data=PresenceResult}
// @Router /chat/presence/{userId} [get]
func (h *ConversationHandler) GetPresence(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}

	target := c.Param("userId")
	online := false
	if h.notifier != nil {
		var err error
		online, err = h.notifier.IsOnline(c.Request.Context(), target)
		if err != nil {
			common.Fail(c, fmt.Errorf("%w: %v", common.ErrStore, err))
			return
		}
	}
	common.Success(c, PresenceResult{UserID: target, Online: online})
}
