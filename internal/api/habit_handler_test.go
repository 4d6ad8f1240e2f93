package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"aihub/internal/database"
)

func newHabitTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.Habit{}, &database.HabitLog{}, &database.HabitInsight{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newHabitRouter(t *testing.T, db *gorm.DB, userID uint) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := NewHabitHandler(db)
	group := router.Group("/v1/habits")
	group.Use(setUserID(userID))
	{
		group.POST("", handler.CreateHabit)
		group.GET("", handler.ListHabits)
		group.PUT("/:id", handler.UpdateHabit)
		group.DELETE("/:id", handler.DeleteHabit)
		group.PUT("/:id/logs", handler.UpsertLog)
		group.GET("/:id/logs", handler.ListLogs)
	}
	return router
}

func TestCreateHabitValidation(t *testing.T) {
	router := newHabitRouter(t, newHabitTestDB(t), 1)

	w := postJSON(router, "/v1/habits", gin.H{"name": "Meditate", "frequency": "hourly"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid frequency", w.Code)
	}

	w = postJSON(router, "/v1/habits", gin.H{"name": "Meditate", "frequency": "daily"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
}

func TestUpsertLogOneRowPerDay(t *testing.T) {
	db := newHabitTestDB(t)
	router := newHabitRouter(t, db, 2)

	habit := database.Habit{UserID: 2, Name: "Read", Frequency: "daily"}
	if err := db.Create(&habit).Error; err != nil {
		t.Fatalf("create habit: %v", err)
	}
	path := fmt.Sprintf("/v1/habits/%d/logs", habit.ID)

	w := putJSON(router, path, gin.H{"date": "2024-03-10", "completed": true})
	if w.Code != http.StatusOK {
		t.Fatalf("first upsert status = %d: %s", w.Code, w.Body.String())
	}

	// 同一天重复写入：覆盖而不是新增。
	w = putJSON(router, path, gin.H{"date": "2024-03-10", "completed": false, "notes": "skipped"})
	if w.Code != http.StatusOK {
		t.Fatalf("second upsert status = %d: %s", w.Code, w.Body.String())
	}

	var logs []database.HabitLog
	if err := db.Where("habit_id = ?", habit.ID).Find(&logs).Error; err != nil {
		t.Fatalf("load logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].Completed {
		t.Fatalf("completed = true, want overwritten to false")
	}
	if logs[0].Notes != "skipped" {
		t.Fatalf("notes = %q", logs[0].Notes)
	}
}

func TestHabitOwnershipScoping(t *testing.T) {
	db := newHabitTestDB(t)

	habit := database.Habit{UserID: 3, Name: "Run", Frequency: "weekly"}
	if err := db.Create(&habit).Error; err != nil {
		t.Fatalf("create habit: %v", err)
	}

	// 其他用户访问同一 ID 必须拿到 404，不能泄露存在性。
	otherRouter := newHabitRouter(t, db, 4)
	w := putJSON(otherRouter, fmt.Sprintf("/v1/habits/%d", habit.ID), gin.H{"name": "Hijack", "frequency": "daily"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDeleteHabitRemovesLogs(t *testing.T) {
	db := newHabitTestDB(t)
	router := newHabitRouter(t, db, 5)

	habit := database.Habit{UserID: 5, Name: "Write", Frequency: "daily"}
	if err := db.Create(&habit).Error; err != nil {
		t.Fatalf("create habit: %v", err)
	}
	w := putJSON(router, fmt.Sprintf("/v1/habits/%d/logs", habit.ID), gin.H{"date": "2024-03-11", "completed": true})
	if w.Code != http.StatusOK {
		t.Fatalf("upsert status = %d: %s", w.Code, w.Body.String())
	}

	w = deleteReq(router, fmt.Sprintf("/v1/habits/%d", habit.ID))
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}

	var count int64
	if err := db.Model(&database.HabitLog{}).Where("habit_id = ?", habit.ID).Count(&count).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 0 {
		t.Fatalf("remaining logs = %d, want 0", count)
	}
}
