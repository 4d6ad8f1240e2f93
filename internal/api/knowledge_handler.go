package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"aihub/internal/database"
)

// KnowledgeHandler 负责客服知识库条目的增删改查。
// 条目内容由前端拼进客服对话的知识库上下文。
type KnowledgeHandler struct {
	db *gorm.DB
}

// NewKnowledgeHandler 构造 KnowledgeHandler。
func NewKnowledgeHandler(db *gorm.DB) *KnowledgeHandler {
	return &KnowledgeHandler{db: db}
}

var errInvalidEntryID = errors.New("invalid knowledge entry id")

type knowledgeEntryRequest struct {
	Title    string `json:"title" binding:"required,max=255"`
	Content  string `json:"content" binding:"required"`
	Category string `json:"category" binding:"max=64"`
}

type knowledgeEntryResponse struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateEntry 新建知识库条目。
func (h *KnowledgeHandler) CreateEntry(c *gin.Context) {
	var req knowledgeEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	entry := database.KnowledgeEntry{
		UserID:   userID,
		Title:    req.Title,
		Content:  req.Content,
		Category: req.Category,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&entry).Error; err != nil {
		Internal(c, "failed to create entry")
		return
	}
	c.JSON(http.StatusCreated, newKnowledgeEntryResponse(entry))
}

// ListEntries 列出知识库条目，支持按分类过滤。
func (h *KnowledgeHandler) ListEntries(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID)
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}

	var entries []database.KnowledgeEntry
	if err := query.Order("updated_at DESC").Find(&entries).Error; err != nil {
		Internal(c, "failed to list entries")
		return
	}

	items := make([]knowledgeEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, newKnowledgeEntryResponse(entry))
	}
	c.JSON(http.StatusOK, items)
}

// UpdateEntry 覆盖指定条目。
func (h *KnowledgeHandler) UpdateEntry(c *gin.Context) {
	var req knowledgeEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	entry, err := h.getEntryForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyEntryLookupError(c, err)
		return
	}

	updates := map[string]any{
		"title":    req.Title,
		"content":  req.Content,
		"category": req.Category,
	}
	if err := h.db.WithContext(c.Request.Context()).Model(entry).Updates(updates).Error; err != nil {
		Internal(c, "failed to update entry")
		return
	}
	if err := h.db.WithContext(c.Request.Context()).First(entry, entry.ID).Error; err != nil {
		Internal(c, "failed to reload entry")
		return
	}
	c.JSON(http.StatusOK, newKnowledgeEntryResponse(*entry))
}

// DeleteEntry 删除指定条目。
func (h *KnowledgeHandler) DeleteEntry(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	entry, err := h.getEntryForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyEntryLookupError(c, err)
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Delete(&database.KnowledgeEntry{}, entry.ID).Error; err != nil {
		Internal(c, "failed to delete entry")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *KnowledgeHandler) getEntryForUser(ctx context.Context, idParam string, userID uint) (*database.KnowledgeEntry, error) {
	entryID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidEntryID
	}

	var entry database.KnowledgeEntry
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(entryID), userID).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (h *KnowledgeHandler) replyEntryLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidEntryID):
		BadRequest(c, "invalid knowledge entry id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "knowledge entry not found")
	default:
		Internal(c, "failed to query knowledge entry")
	}
}

func newKnowledgeEntryResponse(entry database.KnowledgeEntry) knowledgeEntryResponse {
	return knowledgeEntryResponse{
		ID:        entry.ID,
		Title:     entry.Title,
		Content:   entry.Content,
		Category:  entry.Category,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
}
