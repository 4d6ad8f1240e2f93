package worker

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"aihub/internal/database"
	"aihub/internal/tasks"
)

// DispatchHandler 处理定时触发的全量分析任务：
// 找出所有有习惯的用户，为每人派生一条独立的分析任务。
type DispatchHandler struct {
	db       *gorm.DB
	enqueuer *asynq.Client
	logger   *slog.Logger
}

// NewDispatchHandler 创建任务处理器。
func NewDispatchHandler(db *gorm.DB, enqueuer *asynq.Client, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{db: db, enqueuer: enqueuer, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *DispatchHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	var userIDs []uint
	if err := h.db.WithContext(ctx).
		Model(&database.Habit{}).
		Distinct("user_id").
		Pluck("user_id", &userIDs).Error; err != nil {
		h.logger.Error("query habit users failed", slog.Any("error", err))
		return err
	}

	enqueued := 0
	for _, userID := range userIDs {
		task, err := tasks.NewHabitAnalyzeTask(userID)
		if err != nil {
			h.logger.Error("build analyze task failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
			continue
		}
		if _, err := h.enqueuer.EnqueueContext(ctx, task); err != nil {
			h.logger.Error("enqueue analyze task failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
			continue
		}
		enqueued++
	}

	h.logger.Info("habit analysis dispatched", slog.Int("user_count", len(userIDs)), slog.Int("enqueued", enqueued))
	return nil
}
