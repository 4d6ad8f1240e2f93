package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端解析保持一致。

// HabitInsightNotifyMessage 在定时习惯分析完成后推送。
type HabitInsightNotifyMessage struct {
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	InsightCount int    `json:"insight_count"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// PDFExportNotifyMessage 在求职信 PDF 导出完成或失败后推送。
type PDFExportNotifyMessage struct {
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	ApplicationID uint   `json:"application_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

// publishNotify 把消息发布到用户专属的 Redis 频道，由 WebSocket 网关转发。
func publishNotify(ctx context.Context, redisClient redis.UniversalClient, userID uint, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
