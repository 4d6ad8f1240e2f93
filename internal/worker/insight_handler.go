package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"aihub/internal/ai"
	"aihub/internal/database"
	"aihub/internal/errcode"
	"aihub/internal/tasks"
)

// 定时分析回看的打卡窗口。
const insightLookback = 30 * 24 * time.Hour

// InsightTaskHandler 消费习惯分析任务：拉取用户习惯与近期打卡，
// 请求 AI 网关生成洞察并落库，完成后通过 Redis 通知前端。
type InsightTaskHandler struct {
	db          *gorm.DB
	gateway     ai.Completer
	redisClient redis.UniversalClient
	logger      *slog.Logger
}

// NewInsightTaskHandler 创建任务处理器。
func NewInsightTaskHandler(db *gorm.DB, gateway ai.Completer, redisClient redis.UniversalClient, logger *slog.Logger) *InsightTaskHandler {
	return &InsightTaskHandler{db: db, gateway: gateway, redisClient: redisClient, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *InsightTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload tasks.HabitAnalyzePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log := h.logger.With(slog.Uint64("user_id", uint64(payload.UserID)))

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		notify := HabitInsightNotifyMessage{
			Kind:         "habit_insights",
			Status:       "error",
			ErrorCode:    errcode.SystemError,
			ErrorMessage: retErr.Error(),
		}
		if err := publishNotify(ctx, h.redisClient, payload.UserID, notify); err != nil {
			log.Error("publish insight error notification failed", slog.Any("error", err))
		}
	}()

	var habits []database.Habit
	if err := h.db.WithContext(ctx).Where("user_id = ?", payload.UserID).Find(&habits).Error; err != nil {
		log.Error("query habits failed", slog.Any("error", err))
		return err
	}
	if len(habits) == 0 {
		log.Info("no habits to analyze, skipping task")
		return nil
	}

	habitNames := make(map[uint]string, len(habits))
	habitInputs := make([]ai.HabitInput, 0, len(habits))
	for _, habit := range habits {
		habitNames[habit.ID] = habit.Name
		habitInputs = append(habitInputs, ai.HabitInput{Name: habit.Name, Frequency: habit.Frequency})
	}

	since := time.Now().UTC().Add(-insightLookback)
	var logs []database.HabitLog
	if err := h.db.WithContext(ctx).
		Where("user_id = ? AND date >= ?", payload.UserID, since).
		Order("date ASC").
		Find(&logs).Error; err != nil {
		log.Error("query habit logs failed", slog.Any("error", err))
		return err
	}

	logInputs := make([]ai.HabitLogInput, 0, len(logs))
	for _, entry := range logs {
		logInputs = append(logInputs, ai.HabitLogInput{
			HabitName: habitNames[entry.HabitID],
			LoggedAt:  entry.Date.Format("2006-01-02"),
			Completed: entry.Completed,
		})
	}

	raw, err := h.gateway.Complete(ctx, ai.BuildHabitInsights(habitInputs, logInputs))
	if err != nil {
		if errors.Is(err, ai.ErrNotConfigured) {
			log.Warn("ai gateway not configured, skipping analysis")
			return nil
		}
		log.Error("gateway completion failed", slog.Any("error", err))
		return err
	}

	obj := ai.ExtractObjectOr(raw, ai.HabitInsightsFallback)
	insights := decodeInsightItems(obj)
	if len(insights) == 0 {
		log.Warn("analysis produced no insight items")
		return nil
	}

	// 覆盖式落库：旧洞察整体替换为本轮结果。
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", payload.UserID).Delete(&database.HabitInsight{}).Error; err != nil {
			return err
		}
		rows := make([]database.HabitInsight, 0, len(insights))
		for _, item := range insights {
			rows = append(rows, database.HabitInsight{
				UserID:  payload.UserID,
				Type:    item.Type,
				Message: item.Message,
			})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		log.Error("store insights failed", slog.Any("error", err))
		return err
	}

	notify := HabitInsightNotifyMessage{
		Kind:         "habit_insights",
		Status:       "completed",
		InsightCount: len(insights),
		ErrorCode:    errcode.OK,
	}
	if err := publishNotify(ctx, h.redisClient, payload.UserID, notify); err != nil {
		log.Error("publish insight notification failed", slog.Any("error", err))
		return err
	}

	log.Info("habit analysis task completed", slog.Int("insight_count", len(insights)))
	return nil
}

type insightItem struct {
	Type    string
	Message string
}

// decodeInsightItems 从网关返回对象里取出 insights 数组，容忍缺失字段。
func decodeInsightItems(obj map[string]any) []insightItem {
	rawItems, ok := obj["insights"].([]any)
	if !ok {
		return nil
	}
	items := make([]insightItem, 0, len(rawItems))
	for _, rawItem := range rawItems {
		entry, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		message, _ := entry["message"].(string)
		if message == "" {
			continue
		}
		itemType, _ := entry["type"].(string)
		if itemType == "" {
			itemType = "observation"
		}
		items = append(items, insightItem{Type: itemType, Message: message})
	}
	return items
}
