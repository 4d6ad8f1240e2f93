package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"aihub/internal/database"
)

type fakeStorage struct {
	uploaded map[string][]byte
	deleted  []string

	uploadErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	b, _ := io.ReadAll(reader)
	s.uploaded[objectName] = b
	return nil
}

func (s *fakeStorage) GetObject(_ context.Context, objectKey string) (io.ReadCloser, error) {
	data, ok := s.uploaded[objectKey]
	if !ok {
		return nil, errors.New("The specified key does not exist.")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + objectKey, nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.deleted = append(s.deleted, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

func newDocumentTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.Document{}, &database.DocumentQuery{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newDocumentRouter(t *testing.T, db *gorm.DB, storage ObjectStorage, userID uint) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	// 测试不接 clamd，地址留空跳过扫描。
	handler := NewDocumentHandler(db, storage, nil, "")
	group := router.Group("/v1/documents")
	group.Use(setUserID(userID))
	{
		group.POST("", handler.CreateDocument)
		group.POST("/upload", handler.UploadDocument)
		group.GET("", handler.ListDocuments)
		group.GET("/:id/file", handler.GetDocumentFileURL)
		group.GET("/:id/download", handler.DownloadDocument)
		group.DELETE("/:id", handler.DeleteDocument)
	}
	return router
}

func newMultipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func TestUploadDocumentStoresObject(t *testing.T) {
	db := newDocumentTestDB(t)
	storage := newFakeStorage()
	router := newDocumentRouter(t, db, storage, 11)

	body, contentType := newMultipartUpload(t, "notes.txt", []byte("meeting notes"), map[string]string{
		"title": "Q3 Notes",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(storage.uploaded) != 1 {
		t.Fatalf("uploaded objects = %d, want 1", len(storage.uploaded))
	}
	for key, data := range storage.uploaded {
		if !strings.HasPrefix(key, "user-documents/11/") {
			t.Fatalf("object key = %q, want user-documents/11/ prefix", key)
		}
		if string(data) != "meeting notes" {
			t.Fatalf("object content = %q", data)
		}
	}

	var document database.Document
	if err := db.Where("user_id = ?", 11).First(&document).Error; err != nil {
		t.Fatalf("load document: %v", err)
	}
	if document.Title != "Q3 Notes" {
		t.Fatalf("title = %q", document.Title)
	}
	if document.ObjectKey == "" {
		t.Fatalf("object key not recorded")
	}
}

func TestUploadDocumentCleansUpOnDBError(t *testing.T) {
	db := newDocumentTestDB(t)
	storage := newFakeStorage()
	router := newDocumentRouter(t, db, storage, 12)

	// 断掉底层连接让落库失败。
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	body, contentType := newMultipartUpload(t, "doc.txt", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if len(storage.deleted) != 1 {
		t.Fatalf("deleted objects = %d, want uploaded object cleaned up", len(storage.deleted))
	}
}

func TestGetDocumentFileURL(t *testing.T) {
	db := newDocumentTestDB(t)
	storage := newFakeStorage()
	router := newDocumentRouter(t, db, storage, 13)

	withFile := database.Document{UserID: 13, Title: "report", ObjectKey: "user-documents/13/abc.pdf"}
	textOnly := database.Document{UserID: 13, Title: "snippet"}
	if err := db.Create(&withFile).Error; err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := db.Create(&textOnly).Error; err != nil {
		t.Fatalf("create document: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/documents/"+itoa(withFile.ID)+"/file", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "user-documents/13/abc.pdf") {
		t.Fatalf("body = %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/documents/"+itoa(textOnly.ID)+"/file", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for text-only document", w.Code)
	}
}

func TestDownloadDocumentStreamsObject(t *testing.T) {
	db := newDocumentTestDB(t)
	storage := newFakeStorage()
	router := newDocumentRouter(t, db, storage, 14)

	objectKey := "user-documents/14/report.pdf"
	storage.uploaded[objectKey] = []byte("%PDF-1.4 report body")
	document := database.Document{
		UserID:    14,
		Title:     "report",
		ObjectKey: objectKey,
		Metadata:  []byte(`{"original_filename":"report.pdf","content_type":"application/pdf","size":20}`),
	}
	if err := db.Create(&document).Error; err != nil {
		t.Fatalf("create document: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/documents/"+itoa(document.ID)+"/download", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "%PDF-1.4 report body" {
		t.Fatalf("body = %q", w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("content type = %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, `filename="report.pdf"`) {
		t.Fatalf("content disposition = %q", got)
	}
}

func TestDownloadDocumentMissingObjectIsNotFound(t *testing.T) {
	db := newDocumentTestDB(t)
	storage := newFakeStorage()
	router := newDocumentRouter(t, db, storage, 15)

	document := database.Document{UserID: 15, Title: "gone", ObjectKey: "user-documents/15/gone.txt"}
	if err := db.Create(&document).Error; err != nil {
		t.Fatalf("create document: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/documents/"+itoa(document.ID)+"/download", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for missing object", w.Code)
	}
}
