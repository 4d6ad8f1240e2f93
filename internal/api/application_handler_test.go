package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"aihub/internal/database"
)

type fakeEnqueuer struct {
	enqueueErr error
	// 入队瞬间执行，用来模拟任务立刻被 worker 消费完。
	onEnqueue func(task *asynq.Task)
	tasks     []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.tasks = append(f.tasks, task)
	if f.onEnqueue != nil {
		f.onEnqueue(task)
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: "pdf"}, nil
}

func newApplicationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.JobApplication{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newApplicationRouter(t *testing.T, db *gorm.DB, enqueuer taskEnqueuer, userID uint) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := NewApplicationHandler(db, enqueuer, newFakeStorage(), nil)
	group := router.Group("/v1/applications")
	group.Use(setUserID(userID))
	{
		group.GET("", handler.ListApplications)
		group.POST("/:id/export", handler.ExportPDF)
		group.GET("/:id/download-link", handler.DownloadLink)
	}
	return router
}

func TestExportPDFEnqueues(t *testing.T) {
	db := newApplicationTestDB(t)
	enqueuer := &fakeEnqueuer{}
	router := newApplicationRouter(t, db, enqueuer, 21)

	application := database.JobApplication{UserID: 21, CoverLetter: "Dear team,"}
	if err := db.Create(&application).Error; err != nil {
		t.Fatalf("create application: %v", err)
	}

	w := postJSON(router, "/v1/applications/"+itoa(application.ID)+"/export", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(enqueuer.tasks) != 1 {
		t.Fatalf("enqueued tasks = %d, want 1", len(enqueuer.tasks))
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != database.PdfStatusPending {
		t.Fatalf("status field = %v", body["status"])
	}

	var reloaded database.JobApplication
	if err := db.First(&reloaded, application.ID).Error; err != nil {
		t.Fatalf("reload application: %v", err)
	}
	if reloaded.PdfStatus != database.PdfStatusPending {
		t.Fatalf("pdf status = %q, want pending", reloaded.PdfStatus)
	}
}

// worker 在入队瞬间完成导出时，ready 状态不能被打回 pending。
func TestExportPDFKeepsFastWorkerResult(t *testing.T) {
	db := newApplicationTestDB(t)
	enqueuer := &fakeEnqueuer{}
	router := newApplicationRouter(t, db, enqueuer, 22)

	application := database.JobApplication{UserID: 22, CoverLetter: "Dear team,"}
	if err := db.Create(&application).Error; err != nil {
		t.Fatalf("create application: %v", err)
	}

	enqueuer.onEnqueue = func(_ *asynq.Task) {
		err := db.Model(&database.JobApplication{}).
			Where("id = ?", application.ID).
			Updates(map[string]any{
				"pdf_key":    "cover-letters/22/done.pdf",
				"pdf_status": database.PdfStatusReady,
			}).Error
		if err != nil {
			t.Fatalf("simulate worker completion: %v", err)
		}
	}

	w := postJSON(router, "/v1/applications/"+itoa(application.ID)+"/export", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var reloaded database.JobApplication
	if err := db.First(&reloaded, application.ID).Error; err != nil {
		t.Fatalf("reload application: %v", err)
	}
	if reloaded.PdfStatus != database.PdfStatusReady {
		t.Fatalf("pdf status = %q, want ready kept", reloaded.PdfStatus)
	}
	if reloaded.PdfKey == "" {
		t.Fatalf("pdf key lost")
	}
}

// 入队失败时 pending 要回滚，行不能卡在永远不会完成的状态上。
func TestExportPDFEnqueueFailureRestoresStatus(t *testing.T) {
	db := newApplicationTestDB(t)
	enqueuer := &fakeEnqueuer{enqueueErr: errors.New("redis down")}
	router := newApplicationRouter(t, db, enqueuer, 23)

	application := database.JobApplication{UserID: 23, CoverLetter: "Dear team,", PdfStatus: database.PdfStatusFailed}
	if err := db.Create(&application).Error; err != nil {
		t.Fatalf("create application: %v", err)
	}

	w := postJSON(router, "/v1/applications/"+itoa(application.ID)+"/export", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	var reloaded database.JobApplication
	if err := db.First(&reloaded, application.ID).Error; err != nil {
		t.Fatalf("reload application: %v", err)
	}
	if reloaded.PdfStatus != database.PdfStatusFailed {
		t.Fatalf("pdf status = %q, want failed restored", reloaded.PdfStatus)
	}
}

func TestExportPDFWithoutCoverLetterConflicts(t *testing.T) {
	db := newApplicationTestDB(t)
	router := newApplicationRouter(t, db, &fakeEnqueuer{}, 24)

	application := database.JobApplication{UserID: 24}
	if err := db.Create(&application).Error; err != nil {
		t.Fatalf("create application: %v", err)
	}

	w := postJSON(router, "/v1/applications/"+itoa(application.ID)+"/export", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}
