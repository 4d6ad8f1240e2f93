package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"aihub/internal/database"
	"aihub/internal/errcode"
	"aihub/internal/pdf"
	"aihub/internal/storage"
	"aihub/internal/tasks"
)

// CoverLetterTaskHandler 消费求职信 PDF 导出任务：
// 渲染 HTML 模板、无头浏览器导出 PDF、上传对象存储并更新申请状态。
type CoverLetterTaskHandler struct {
	db          *gorm.DB
	storage     *storage.Client
	redisClient redis.UniversalClient
	logger      *slog.Logger

	// 测试中替换，避免依赖真实浏览器。
	renderPDF func(html string) ([]byte, error)
}

// NewCoverLetterTaskHandler 创建任务处理器。
func NewCoverLetterTaskHandler(db *gorm.DB, storage *storage.Client, redisClient redis.UniversalClient, logger *slog.Logger) *CoverLetterTaskHandler {
	return &CoverLetterTaskHandler{
		db:          db,
		storage:     storage,
		redisClient: redisClient,
		logger:      logger,
		renderPDF:   pdf.GeneratePDFFromHTML,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *CoverLetterTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload tasks.CoverLetterPDFPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log := h.logger.With(
		slog.Uint64("user_id", uint64(payload.UserID)),
		slog.Uint64("application_id", uint64(payload.ApplicationID)),
	)
	log.Info("Starting cover letter PDF export task...")

	var application database.JobApplication
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", payload.ApplicationID, payload.UserID).
		First(&application).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("application not found, skipping task")
			return nil
		}
		log.Error("query application failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		if err := h.db.WithContext(ctx).
			Model(&database.JobApplication{}).
			Where("id = ?", application.ID).
			Update("pdf_status", database.PdfStatusFailed).Error; err != nil {
			log.Error("mark export failed", slog.Any("error", err))
		}
		notify := PDFExportNotifyMessage{
			Kind:          "coverletter_pdf",
			Status:        "error",
			ApplicationID: application.ID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := publishNotify(ctx, h.redisClient, payload.UserID, notify); err != nil {
			log.Error("publish pdf error notification failed", slog.Any("error", err))
		}
	}()

	if strings.TrimSpace(application.CoverLetter) == "" {
		log.Warn("application has no cover letter, skipping task")
		notify := PDFExportNotifyMessage{
			Kind:          "coverletter_pdf",
			Status:        "error",
			ApplicationID: application.ID,
			ErrorCode:     errcode.ContentMissing,
			ErrorMessage:  "cover letter is empty",
		}
		if err := publishNotify(ctx, h.redisClient, payload.UserID, notify); err != nil {
			log.Error("publish notification failed", slog.Any("error", err))
		}
		return nil
	}

	html, err := renderCoverLetterHTML(&application)
	if err != nil {
		log.Error("render cover letter html failed", slog.Any("error", err))
		return err
	}

	pdfBytes, err := h.renderPDF(html)
	if err != nil {
		log.Error("generate pdf failed", slog.Any("error", err))
		return err
	}

	objectName := fmt.Sprintf("cover-letters/%d/%s.pdf", payload.UserID, uuid.NewString())
	if err := h.storage.UploadFile(ctx, objectName, bytes.NewReader(pdfBytes), int64(len(pdfBytes)), "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		return err
	}

	update := map[string]any{
		"pdf_key":    objectName,
		"pdf_status": database.PdfStatusReady,
	}
	if err := h.db.WithContext(ctx).Model(&application).Updates(update).Error; err != nil {
		log.Error("update application failed", slog.Any("error", err))
		return err
	}

	notify := PDFExportNotifyMessage{
		Kind:          "coverletter_pdf",
		Status:        "completed",
		ApplicationID: application.ID,
		ErrorCode:     errcode.OK,
	}
	if err := publishNotify(ctx, h.redisClient, payload.UserID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("cover letter PDF export task completed successfully.")
	return nil
}
