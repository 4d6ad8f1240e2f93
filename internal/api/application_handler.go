package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"aihub/internal/database"
	"aihub/internal/tasks"
)

// taskEnqueuer 抽象 asynq 客户端的入队操作，便于测试。
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ApplicationHandler 负责求职申请记录的查询与 PDF 导出。
// 申请本身由求职助手端点在生成时写入。
type ApplicationHandler struct {
	db       *gorm.DB
	Enqueuer taskEnqueuer
	Storage  ObjectStorage
	Logger   *slog.Logger
}

// NewApplicationHandler 构造 ApplicationHandler。
func NewApplicationHandler(db *gorm.DB, enqueuer taskEnqueuer, storage ObjectStorage, logger *slog.Logger) *ApplicationHandler {
	return &ApplicationHandler{db: db, Enqueuer: enqueuer, Storage: storage, Logger: logger}
}

var errInvalidApplicationID = errors.New("invalid application id")

// ListApplications 列出用户全部求职申请，最新在前。
func (h *ApplicationHandler) ListApplications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var applications []database.JobApplication
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&applications).Error; err != nil {
		Internal(c, "failed to list applications")
		return
	}

	items := make([]gin.H, 0, len(applications))
	for _, application := range applications {
		items = append(items, gin.H{
			"id":         application.ID,
			"summary":    application.Summary,
			"pdf_status": application.PdfStatus,
			"created_at": application.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}

// GetApplication 返回申请完整内容，包含生成的要点、求职信与摘要。
func (h *ApplicationHandler) GetApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	application, err := h.getApplicationForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyApplicationLookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":              application.ID,
		"resume_id":       application.ResumeID,
		"job_description": application.JobDescription,
		"bullets":         application.Bullets,
		"cover_letter":    application.CoverLetter,
		"summary":         application.Summary,
		"settings":        application.Settings,
		"pdf_status":      application.PdfStatus,
		"created_at":      application.CreatedAt,
	})
}

// DeleteApplication 删除申请记录及已导出的 PDF。
func (h *ApplicationHandler) DeleteApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	application, err := h.getApplicationForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyApplicationLookupError(c, err)
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Delete(&database.JobApplication{}, application.ID).Error; err != nil {
		Internal(c, "failed to delete application")
		return
	}
	if application.PdfKey != "" && h.Storage != nil {
		if err := h.Storage.DeleteObject(c.Request.Context(), application.PdfKey); err != nil {
			h.logger().Error("delete application pdf", slog.String("pdfKey", application.PdfKey), slog.String("error", err.Error()))
		}
	}
	c.Status(http.StatusNoContent)
}

// ExportPDF 将求职信导出任务入队，异步渲染。
func (h *ApplicationHandler) ExportPDF(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	application, err := h.getApplicationForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyApplicationLookupError(c, err)
		return
	}
	if application.CoverLetter == "" {
		Conflict(c, "application has no cover letter")
		return
	}
	if application.PdfStatus == database.PdfStatusPending {
		Conflict(c, "export already in progress")
		return
	}

	task, err := tasks.NewCoverLetterPDFTask(userID, application.ID)
	if err != nil {
		Internal(c, "failed to build export task")
		return
	}

	// 先置 pending 再入队：worker 可能在入队后立刻完成，
	// 入队后的状态写入会把 ready 打回 pending。
	if err := h.db.WithContext(c.Request.Context()).
		Model(&database.JobApplication{}).
		Where("id = ?", application.ID).
		Update("pdf_status", database.PdfStatusPending).Error; err != nil {
		Internal(c, "failed to update application")
		return
	}

	info, err := h.Enqueuer.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		h.logger().Error("enqueue pdf export", slog.String("error", err.Error()))
		if restoreErr := h.db.WithContext(c.Request.Context()).
			Model(&database.JobApplication{}).
			Where("id = ? AND pdf_status = ?", application.ID, database.PdfStatusPending).
			Update("pdf_status", application.PdfStatus).Error; restoreErr != nil {
			h.logger().Error("restore pdf status", slog.String("error", restoreErr.Error()))
		}
		Internal(c, "failed to enqueue export")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": info.ID,
		"status":  database.PdfStatusPending,
	})
}

// DownloadLink 返回已导出 PDF 的限时预签名链接。
func (h *ApplicationHandler) DownloadLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	application, err := h.getApplicationForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyApplicationLookupError(c, err)
		return
	}
	if application.PdfKey == "" {
		Conflict(c, "pdf not ready")
		return
	}

	signedURL, err := h.Storage.GeneratePresignedURL(c.Request.Context(), application.PdfKey, 15*time.Minute)
	if err != nil {
		h.logger().Error("generate pdf url", slog.String("error", err.Error()))
		Internal(c, "failed to generate url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

func (h *ApplicationHandler) getApplicationForUser(ctx context.Context, idParam string, userID uint) (*database.JobApplication, error) {
	applicationID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidApplicationID
	}

	var application database.JobApplication
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(applicationID), userID).
		First(&application).Error; err != nil {
		return nil, err
	}
	return &application, nil
}

func (h *ApplicationHandler) replyApplicationLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidApplicationID):
		BadRequest(c, "invalid application id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "application not found")
	default:
		Internal(c, "failed to query application")
	}
}

func (h *ApplicationHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
