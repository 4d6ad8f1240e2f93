package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"aihub/internal/database"
)

// ConversationHandler 负责客服会话的创建与查询。
// 每轮问答由 AssistHandler.SupportChat 负责追加到 messages 数组。
type ConversationHandler struct {
	db *gorm.DB
}

// NewConversationHandler 构造 ConversationHandler。
func NewConversationHandler(db *gorm.DB) *ConversationHandler {
	return &ConversationHandler{db: db}
}

var errInvalidConversationID = errors.New("invalid conversation id")

type createConversationRequest struct {
	Subject string `json:"subject" binding:"required,max=255"`
}

type updateConversationRequest struct {
	Status   string `json:"status" binding:"omitempty,oneof=open pending resolved closed"`
	Priority string `json:"priority" binding:"omitempty,oneof=low medium high urgent"`
}

type conversationResponse struct {
	ID        uint           `json:"id"`
	Subject   string         `json:"subject"`
	Status    string         `json:"status"`
	Priority  string         `json:"priority"`
	Messages  datatypes.JSON `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CreateConversation 新建会话，messages 初始为空数组。
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	conversation := database.SupportConversation{
		UserID:   userID,
		Subject:  req.Subject,
		Status:   "open",
		Priority: "medium",
		Messages: datatypes.JSON([]byte("[]")),
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&conversation).Error; err != nil {
		Internal(c, "failed to create conversation")
		return
	}
	c.JSON(http.StatusCreated, newConversationResponse(conversation))
}

// ListConversations 列出用户全部会话，最近更新在前。
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var conversations []database.SupportConversation
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&conversations).Error; err != nil {
		Internal(c, "failed to list conversations")
		return
	}

	items := make([]conversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		items = append(items, newConversationResponse(conversation))
	}
	c.JSON(http.StatusOK, items)
}

// GetConversation 返回指定会话，含完整消息历史。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	conversation, err := h.getConversationForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyConversationLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConversationResponse(*conversation))
}

// UpdateConversation 修改会话状态或优先级。
func (h *ConversationHandler) UpdateConversation(c *gin.Context) {
	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	conversation, err := h.getConversationForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyConversationLookupError(c, err)
		return
	}

	updates := map[string]any{}
	if req.Status != "" {
		updates["status"] = req.Status
	}
	if req.Priority != "" {
		updates["priority"] = req.Priority
	}
	if len(updates) == 0 {
		BadRequest(c, "nothing to update")
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Model(conversation).Updates(updates).Error; err != nil {
		Internal(c, "failed to update conversation")
		return
	}
	if err := h.db.WithContext(c.Request.Context()).First(conversation, conversation.ID).Error; err != nil {
		Internal(c, "failed to reload conversation")
		return
	}
	c.JSON(http.StatusOK, newConversationResponse(*conversation))
}

func (h *ConversationHandler) getConversationForUser(ctx context.Context, idParam string, userID uint) (*database.SupportConversation, error) {
	conversationID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidConversationID
	}

	var conversation database.SupportConversation
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(conversationID), userID).
		First(&conversation).Error; err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (h *ConversationHandler) replyConversationLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidConversationID):
		BadRequest(c, "invalid conversation id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "conversation not found")
	default:
		Internal(c, "failed to query conversation")
	}
}

func newConversationResponse(conversation database.SupportConversation) conversationResponse {
	messages := conversation.Messages
	if len(messages) == 0 {
		messages = datatypes.JSON([]byte("[]"))
	}
	return conversationResponse{
		ID:        conversation.ID,
		Subject:   conversation.Subject,
		Status:    conversation.Status,
		Priority:  conversation.Priority,
		Messages:  messages,
		CreatedAt: conversation.CreatedAt,
		UpdatedAt: conversation.UpdatedAt,
	}
}
