package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"aihub/internal/database"
	"aihub/internal/storage"
)

// ObjectStorage 抽象文档与导出文件所需的对象存储操作，测试时用假实现替换。
type ObjectStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, objectKey string) (io.ReadCloser, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// DocumentHandler 负责个人知识库文档的增删改查与文件上传。
type DocumentHandler struct {
	db        *gorm.DB
	Storage   ObjectStorage
	Logger    *slog.Logger
	ClamdAddr string
	MaxBytes  int64
}

// NewDocumentHandler 构造 DocumentHandler。
func NewDocumentHandler(db *gorm.DB, storage ObjectStorage, logger *slog.Logger, clamdAddr string) *DocumentHandler {
	return &DocumentHandler{
		db:        db,
		Storage:   storage,
		Logger:    logger,
		ClamdAddr: clamdAddr,
		MaxBytes:  10 * 1024 * 1024,
	}
}

var errInvalidDocumentID = errors.New("invalid document id")

type documentRequest struct {
	Title    string         `json:"title" binding:"required,max=255"`
	Content  string         `json:"content"`
	Type     string         `json:"type" binding:"max=64"`
	Metadata datatypes.JSON `json:"metadata"`
}

type documentResponse struct {
	ID        uint           `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	HasFile   bool           `json:"has_file"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CreateDocument 新建纯文本文档。
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	document := database.Document{
		UserID:   userID,
		Title:    req.Title,
		Content:  req.Content,
		Type:     req.Type,
		Metadata: req.Metadata,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&document).Error; err != nil {
		Internal(c, "failed to create document")
		return
	}
	c.JSON(http.StatusCreated, newDocumentResponse(document))
}

// UploadDocument 处理带文件的文档上传：先 clamd 扫描，再入对象存储，最后落库。
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if h.MaxBytes > 0 && file.Size > h.MaxBytes {
		BadRequest(c, "file too large")
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = file.Filename
	}
	docType := strings.TrimSpace(c.PostForm("type"))
	if docType == "" {
		docType = strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
	}

	if h.ClamdAddr != "" {
		infected, err := h.scanUpload(file)
		if err != nil {
			h.logger().Error("scan file", slog.String("error", err.Error()))
			Internal(c, "failed to scan file")
			return
		}
		if infected {
			BadRequest(c, "malicious file detected")
			return
		}
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer fileReader.Close()

	ext := strings.ToLower(filepath.Ext(file.Filename))
	objectKey := fmt.Sprintf("user-documents/%d/%s%s", userID, uuid.NewString(), ext)
	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := h.Storage.UploadFile(c.Request.Context(), objectKey, fileReader, file.Size, contentType); err != nil {
		h.logger().Error("upload file", slog.String("error", err.Error()))
		Internal(c, "failed to upload file")
		return
	}

	metadata, _ := json.Marshal(map[string]any{
		"original_filename": file.Filename,
		"size":              file.Size,
		"content_type":      contentType,
	})

	document := database.Document{
		UserID:    userID,
		Title:     title,
		Content:   strings.TrimSpace(c.PostForm("content")),
		Type:      docType,
		ObjectKey: objectKey,
		Metadata:  datatypes.JSON(metadata),
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&document).Error; err != nil {
		// 落库失败时清理已上传对象，避免存储泄漏。
		_ = h.Storage.DeleteObject(c.Request.Context(), objectKey)
		Internal(c, "failed to create document")
		return
	}

	c.JSON(http.StatusCreated, newDocumentResponse(document))
}

// ListDocuments 列出用户全部文档。
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID)
	if docType := c.Query("type"); docType != "" {
		query = query.Where("type = ?", docType)
	}

	var documents []database.Document
	if err := query.Order("updated_at DESC").Find(&documents).Error; err != nil {
		Internal(c, "failed to list documents")
		return
	}

	items := make([]documentResponse, 0, len(documents))
	for _, document := range documents {
		items = append(items, newDocumentResponse(document))
	}
	c.JSON(http.StatusOK, items)
}

// GetDocument 返回指定文档。
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	document, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyDocumentLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDocumentResponse(*document))
}

// GetDocumentFileURL 返回文档原始文件的限时预签名链接。
func (h *DocumentHandler) GetDocumentFileURL(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	document, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyDocumentLookupError(c, err)
		return
	}
	if document.ObjectKey == "" {
		NotFound(c, "document has no file")
		return
	}

	signedURL, err := h.Storage.GeneratePresignedURL(c.Request.Context(), document.ObjectKey, 15*time.Minute)
	if err != nil {
		h.logger().Error("generate presigned url", slog.String("error", err.Error()))
		Internal(c, "failed to generate url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

// DownloadDocument 经服务端转发文档原始文件，不向客户端暴露对象存储地址。
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	document, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyDocumentLookupError(c, err)
		return
	}
	if document.ObjectKey == "" {
		NotFound(c, "document has no file")
		return
	}

	reader, err := h.Storage.GetObject(c.Request.Context(), document.ObjectKey)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "document file is missing")
			return
		}
		h.logger().Error("fetch document object", slog.String("objectKey", document.ObjectKey), slog.String("error", err.Error()))
		Internal(c, "failed to fetch file")
		return
	}
	defer reader.Close()

	contentType, filename, size := documentFileInfo(document)
	c.DataFromReader(http.StatusOK, size, contentType, reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
	})
}

// documentFileInfo 从上传时记录的 metadata 恢复文件名、类型与大小。
// metadata 缺失或损坏时退回通用值，大小未知时返回 -1（不写 Content-Length）。
func documentFileInfo(document *database.Document) (contentType, filename string, size int64) {
	contentType = "application/octet-stream"
	filename = document.Title
	size = -1
	if len(document.Metadata) == 0 {
		return
	}

	var meta struct {
		OriginalFilename string `json:"original_filename"`
		ContentType      string `json:"content_type"`
		Size             int64  `json:"size"`
	}
	if err := json.Unmarshal(document.Metadata, &meta); err != nil {
		return
	}
	if meta.ContentType != "" {
		contentType = meta.ContentType
	}
	if meta.OriginalFilename != "" {
		filename = meta.OriginalFilename
	}
	if meta.Size > 0 {
		size = meta.Size
	}
	return
}

// UpdateDocument 覆盖文档的文本字段，不触碰已上传的文件。
func (h *DocumentHandler) UpdateDocument(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	document, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyDocumentLookupError(c, err)
		return
	}

	updates := map[string]any{
		"title":   req.Title,
		"content": req.Content,
		"type":    req.Type,
	}
	if len(req.Metadata) > 0 {
		updates["metadata"] = req.Metadata
	}
	if err := h.db.WithContext(c.Request.Context()).Model(document).Updates(updates).Error; err != nil {
		Internal(c, "failed to update document")
		return
	}
	if err := h.db.WithContext(c.Request.Context()).First(document, document.ID).Error; err != nil {
		Internal(c, "failed to reload document")
		return
	}
	c.JSON(http.StatusOK, newDocumentResponse(*document))
}

// DeleteDocument 删除文档，连同对象存储中的文件。
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	document, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyDocumentLookupError(c, err)
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Delete(&database.Document{}, document.ID).Error; err != nil {
		Internal(c, "failed to delete document")
		return
	}
	if document.ObjectKey != "" {
		if err := h.Storage.DeleteObject(c.Request.Context(), document.ObjectKey); err != nil {
			h.logger().Error("delete document object", slog.String("objectKey", document.ObjectKey), slog.String("error", err.Error()))
		}
	}
	c.Status(http.StatusNoContent)
}

// ListQueries 列出文档问答历史，最新在前。
func (h *DocumentHandler) ListQueries(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var queries []database.DocumentQuery
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(100).
		Find(&queries).Error; err != nil {
		Internal(c, "failed to list queries")
		return
	}

	items := make([]gin.H, 0, len(queries))
	for _, query := range queries {
		items = append(items, gin.H{
			"id":         query.ID,
			"query":      query.Query,
			"response":   query.Response,
			"citations":  query.Citations,
			"created_at": query.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}

// scanUpload 通过 clamd 流式扫描上传文件。
func (h *DocumentHandler) scanUpload(file *multipart.FileHeader) (bool, error) {
	clamdClient := clamd.NewClamd(h.ClamdAddr)

	fileReader, err := file.Open()
	if err != nil {
		return false, fmt.Errorf("open upload: %w", err)
	}
	defer fileReader.Close()

	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	if err != nil {
		return false, fmt.Errorf("scan stream: %w", err)
	}

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return true, nil
		}
	}
	return false, nil
}

func (h *DocumentHandler) getDocumentForUser(ctx context.Context, idParam string, userID uint) (*database.Document, error) {
	documentID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidDocumentID
	}

	var document database.Document
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(documentID), userID).
		First(&document).Error; err != nil {
		return nil, err
	}
	return &document, nil
}

func (h *DocumentHandler) replyDocumentLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidDocumentID):
		BadRequest(c, "invalid document id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "document not found")
	default:
		Internal(c, "failed to query document")
	}
}

func (h *DocumentHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func newDocumentResponse(document database.Document) documentResponse {
	return documentResponse{
		ID:        document.ID,
		Title:     document.Title,
		Content:   document.Content,
		Type:      document.Type,
		HasFile:   document.ObjectKey != "",
		Metadata:  document.Metadata,
		CreatedAt: document.CreatedAt,
		UpdatedAt: document.UpdatedAt,
	}
}
