package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aihub/internal/database"
)

// HabitHandler 负责习惯与打卡记录的增删改查。
type HabitHandler struct {
	db *gorm.DB
}

// NewHabitHandler 构造 HabitHandler。
func NewHabitHandler(db *gorm.DB) *HabitHandler {
	return &HabitHandler{db: db}
}

var errInvalidHabitID = errors.New("invalid habit id")

type habitRequest struct {
	Name      string `json:"name" binding:"required,max=128"`
	Frequency string `json:"frequency" binding:"required,oneof=daily weekly"`
	Color     string `json:"color" binding:"max=16"`
}

type habitResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Frequency string    `json:"frequency"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateHabit 创建习惯。
func (h *HabitHandler) CreateHabit(c *gin.Context) {
	var req habitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	habit := database.Habit{
		UserID:    userID,
		Name:      req.Name,
		Frequency: req.Frequency,
		Color:     req.Color,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&habit).Error; err != nil {
		Internal(c, "failed to create habit")
		return
	}

	c.JSON(http.StatusCreated, newHabitResponse(habit))
}

// ListHabits 列出用户全部习惯。
func (h *HabitHandler) ListHabits(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var habits []database.Habit
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&habits).Error; err != nil {
		Internal(c, "failed to list habits")
		return
	}

	items := make([]habitResponse, 0, len(habits))
	for _, habit := range habits {
		items = append(items, newHabitResponse(habit))
	}
	c.JSON(http.StatusOK, items)
}

// UpdateHabit 覆盖指定习惯。
func (h *HabitHandler) UpdateHabit(c *gin.Context) {
	var req habitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	habit, err := h.getHabitForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyHabitLookupError(c, err)
		return
	}

	updates := map[string]any{
		"name":      req.Name,
		"frequency": req.Frequency,
		"color":     req.Color,
	}
	if err := h.db.WithContext(c.Request.Context()).Model(habit).Updates(updates).Error; err != nil {
		Internal(c, "failed to update habit")
		return
	}

	if err := h.db.WithContext(c.Request.Context()).First(habit, habit.ID).Error; err != nil {
		Internal(c, "failed to reload habit")
		return
	}
	c.JSON(http.StatusOK, newHabitResponse(*habit))
}

// DeleteHabit 删除习惯及其打卡记录。
func (h *HabitHandler) DeleteHabit(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	habit, err := h.getHabitForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyHabitLookupError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Where("habit_id = ?", habit.ID).Delete(&database.HabitLog{}).Error; err != nil {
		Internal(c, "failed to delete habit logs")
		return
	}
	if err := h.db.WithContext(ctx).Delete(&database.Habit{}, habit.ID).Error; err != nil {
		Internal(c, "failed to delete habit")
		return
	}

	c.Status(http.StatusNoContent)
}

type habitLogRequest struct {
	Date      string `json:"date" binding:"required"`
	Completed bool   `json:"completed"`
	Notes     string `json:"notes"`
}

type habitLogResponse struct {
	ID        uint   `json:"id"`
	HabitID   uint   `json:"habit_id"`
	Date      string `json:"date"`
	Completed bool   `json:"completed"`
	Notes     string `json:"notes"`
}

// UpsertLog 写入某天的打卡状态。
// 每个习惯每天一行：重复写入覆盖 completed/notes（后写覆盖，不回滚）。
func (h *HabitHandler) UpsertLog(c *gin.Context) {
	var req habitLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		BadRequest(c, "invalid date, expected YYYY-MM-DD")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	habit, err := h.getHabitForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyHabitLookupError(c, err)
		return
	}

	log := database.HabitLog{
		HabitID:   habit.ID,
		UserID:    userID,
		Completed: req.Completed,
		Notes:     req.Notes,
		Date:      day,
	}

	if err := h.db.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "habit_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"completed", "notes", "updated_at"}),
		}).
		Create(&log).Error; err != nil {
		Internal(c, "failed to save habit log")
		return
	}

	c.JSON(http.StatusOK, newHabitLogResponse(log))
}

// ListLogs 列出指定习惯的打卡历史，支持 from/to 过滤。
func (h *HabitHandler) ListLogs(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	habit, err := h.getHabitForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyHabitLookupError(c, err)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Where("habit_id = ?", habit.ID)
	if from := c.Query("from"); from != "" {
		if day, err := time.Parse("2006-01-02", from); err == nil {
			query = query.Where("date >= ?", day)
		}
	}
	if to := c.Query("to"); to != "" {
		if day, err := time.Parse("2006-01-02", to); err == nil {
			query = query.Where("date <= ?", day)
		}
	}

	var logs []database.HabitLog
	if err := query.Order("date ASC").Find(&logs).Error; err != nil {
		Internal(c, "failed to list habit logs")
		return
	}

	items := make([]habitLogResponse, 0, len(logs))
	for _, log := range logs {
		items = append(items, newHabitLogResponse(log))
	}
	c.JSON(http.StatusOK, items)
}

type insightResponse struct {
	ID        uint      `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ListInsights 列出定时分析产出的洞察，最新在前。
func (h *HabitHandler) ListInsights(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	var insights []database.HabitInsight
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&insights).Error; err != nil {
		Internal(c, "failed to list insights")
		return
	}

	items := make([]insightResponse, 0, len(insights))
	for _, insight := range insights {
		items = append(items, insightResponse{
			ID:        insight.ID,
			Type:      insight.Type,
			Message:   insight.Message,
			CreatedAt: insight.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}

func (h *HabitHandler) getHabitForUser(ctx context.Context, idParam string, userID uint) (*database.Habit, error) {
	habitID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidHabitID
	}

	var habit database.Habit
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(habitID), userID).
		First(&habit).Error; err != nil {
		return nil, err
	}
	return &habit, nil
}

func (h *HabitHandler) replyHabitLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidHabitID):
		BadRequest(c, "invalid habit id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "habit not found")
	default:
		Internal(c, "failed to query habit")
	}
}

func newHabitResponse(habit database.Habit) habitResponse {
	return habitResponse{
		ID:        habit.ID,
		Name:      habit.Name,
		Frequency: habit.Frequency,
		Color:     habit.Color,
		CreatedAt: habit.CreatedAt,
	}
}

func newHabitLogResponse(log database.HabitLog) habitLogResponse {
	return habitLogResponse{
		ID:        log.ID,
		HabitID:   log.HabitID,
		Date:      log.Date.Format("2006-01-02"),
		Completed: log.Completed,
		Notes:     log.Notes,
	}
}
