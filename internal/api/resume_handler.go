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

// ResumeHandler 负责简历原文的增删查。
// 简历被 ATS 评分与求职内容生成两个功能引用。
type ResumeHandler struct {
	db         *gorm.DB
	maxResumes int
}

// NewResumeHandler 构造 ResumeHandler。
func NewResumeHandler(db *gorm.DB, maxResumes int) *ResumeHandler {
	return &ResumeHandler{db: db, maxResumes: maxResumes}
}

var errInvalidResumeID = errors.New("invalid resume id")

type createResumeRequest struct {
	Title   string         `json:"title" binding:"required,max=255"`
	RawText string         `json:"raw_text" binding:"required"`
	Parsed  datatypes.JSON `json:"parsed"`
}

type resumeListItem struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type resumeResponse struct {
	ID        uint           `json:"id"`
	Title     string         `json:"title"`
	RawText   string         `json:"raw_text"`
	Parsed    datatypes.JSON `json:"parsed,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CreateResume 保存一份新的简历，超过限额则拒绝。
func (h *ResumeHandler) CreateResume(c *gin.Context) {
	var req createResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()

	var count int64
	if err := h.db.WithContext(ctx).
		Model(&database.Resume{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		Internal(c, "failed to count resumes")
		return
	}
	if h.maxResumes > 0 && count >= int64(h.maxResumes) {
		Forbidden(c, "resume limit reached")
		return
	}

	resume := database.Resume{
		UserID:  userID,
		Title:   req.Title,
		RawText: req.RawText,
		Parsed:  req.Parsed,
	}
	if err := h.db.WithContext(ctx).Create(&resume).Error; err != nil {
		Internal(c, "failed to create resume")
		return
	}

	c.JSON(http.StatusCreated, newResumeResponse(resume))
}

// ListResumes 列出用户全部简历（不含正文）。
func (h *ResumeHandler) ListResumes(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var resumes []database.Resume
	if err := h.db.WithContext(c.Request.Context()).
		Select("id", "title", "created_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&resumes).Error; err != nil {
		Internal(c, "failed to list resumes")
		return
	}

	items := make([]resumeListItem, 0, len(resumes))
	for _, r := range resumes {
		items = append(items, resumeListItem{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt})
	}
	c.JSON(http.StatusOK, items)
}

// GetResume 返回指定 ID 的简历。
func (h *ResumeHandler) GetResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyResumeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, newResumeResponse(*resume))
}

// DeleteResume 删除指定简历。关联的扫描与申请保留（ResumeID 悬空可空）。
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyResumeLookupError(c, err)
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Delete(&database.Resume{}, resume.ID).Error; err != nil {
		Internal(c, "failed to delete resume")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListScans 列出用户的 ATS 扫描历史。
func (h *ResumeHandler) ListScans(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var scans []database.AtsScan
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(100).
		Find(&scans).Error; err != nil {
		Internal(c, "failed to list scans")
		return
	}

	items := make([]gin.H, 0, len(scans))
	for _, scan := range scans {
		items = append(items, gin.H{
			"id":               scan.ID,
			"resume_id":        scan.ResumeID,
			"target_role":      scan.TargetRole,
			"score":            scan.Score,
			"missing_keywords": scan.MissingKeywords,
			"suggestions":      scan.Suggestions,
			"created_at":       scan.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}

func (h *ResumeHandler) getResumeForUser(ctx context.Context, idParam string, userID uint) (*database.Resume, error) {
	resumeID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidResumeID
	}

	var resume database.Resume
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(resumeID), userID).
		First(&resume).Error; err != nil {
		return nil, err
	}
	return &resume, nil
}

func (h *ResumeHandler) replyResumeLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidResumeID):
		BadRequest(c, "invalid resume id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "resume not found")
	default:
		Internal(c, "failed to query resume")
	}
}

func newResumeResponse(resume database.Resume) resumeResponse {
	return resumeResponse{
		ID:        resume.ID,
		Title:     resume.Title,
		RawText:   resume.RawText,
		Parsed:    resume.Parsed,
		CreatedAt: resume.CreatedAt,
		UpdatedAt: resume.UpdatedAt,
	}
}
