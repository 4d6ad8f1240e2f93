package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"aihub/internal/ai"
	"aihub/internal/api/middleware"
	"aihub/internal/database"
	"aihub/internal/metrics"
)

// 网关错误到用户可见响应的固定映射。
const (
	rateLimitedMessage      = "Rate limit exceeded. Please try again later."
	creditsExhaustedMessage = "AI credits exhausted. Please add funds."
	notConfiguredMessage    = "AI gateway is not configured"
)

// AssistHandler 承载五个 AI 接口。每个接口共用同一条管道：
// 绑定请求体 → 构造提示词 → 调网关 → 提取 JSON（失败走兜底）→
// 落库 → 返回。各接口只提供 promptBuilder、fallback 与 persist 三个变量。
type AssistHandler struct {
	db              *gorm.DB
	gateway         ai.Completer
	redis           redis.UniversalClient
	logger          *slog.Logger
	rateLimitPerMin int
}

// NewAssistHandler 构造 AI 接口处理器。
func NewAssistHandler(db *gorm.DB, gateway ai.Completer, redisClient redis.UniversalClient, logger *slog.Logger, rateLimitPerMin int) *AssistHandler {
	return &AssistHandler{
		db:              db,
		gateway:         gateway,
		redis:           redisClient,
		logger:          logger,
		rateLimitPerMin: rateLimitPerMin,
	}
}

// assistFeature 描述单个 AI 功能在共享管道中的可变部分。
type assistFeature struct {
	name     string
	messages []ai.Message
	fallback func(raw string) map[string]any
	// persist 在响应之前写库（write-then-respond），失败则整个请求失败，
	// 确保用户看到的结果一定能再次加载到。
	persist func(ctx context.Context, obj map[string]any, raw string) error
	// 仅求职内容生成接口把配额耗尽映射为 402，其余按通用失败处理。
	mapCreditsExhausted bool
}

func (h *AssistHandler) run(c *gin.Context, userID uint, feature assistFeature) {
	ctx := c.Request.Context()
	logger := h.requestLogger(c).With(
		slog.String("feature", feature.name),
		slog.Uint64("user_id", uint64(userID)),
	)

	if h.overRateLimit(ctx, userID, feature.name) {
		TooMany(c, "rate limit exceeded")
		return
	}

	start := time.Now()
	raw, err := h.gateway.Complete(ctx, feature.messages)
	metrics.ObserveGatewayCall(feature.name, gatewayOutcome(err), time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrNotConfigured):
			logger.Error("gateway credential missing")
			Internal(c, notConfiguredMessage)
		case errors.Is(err, ai.ErrRateLimited):
			logger.Warn("gateway rate limited")
			Error(c, http.StatusTooManyRequests, rateLimitedMessage)
		case errors.Is(err, ai.ErrCreditsExhausted) && feature.mapCreditsExhausted:
			logger.Warn("gateway credits exhausted")
			Error(c, http.StatusPaymentRequired, creditsExhaustedMessage)
		default:
			// 上游状态码只进日志，不透给调用方。
			logger.Error("gateway request failed", slog.Any("error", err))
			Internal(c, err.Error())
		}
		return
	}

	obj := ai.ExtractObjectOr(raw, feature.fallback)

	if feature.persist != nil {
		if err := feature.persist(ctx, obj, raw); err != nil {
			logger.Error("persist assist result failed", slog.Any("error", err))
			Internal(c, "failed to persist result")
			return
		}
	}

	c.JSON(http.StatusOK, obj)
}

func gatewayOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ai.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ai.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ai.ErrCreditsExhausted):
		return "credits_exhausted"
	default:
		return "error"
	}
}

// overRateLimit 以 用户+功能+分钟 为粒度限流。Redis 不可用时放行。
func (h *AssistHandler) overRateLimit(ctx context.Context, userID uint, feature string) bool {
	if h.redis == nil || h.rateLimitPerMin <= 0 {
		return false
	}
	key := fmt.Sprintf("rate:assist:%s:%d:%s", feature, userID, time.Now().UTC().Format("200601021504"))
	count, err := incrWithTTL(ctx, h.redis, key, time.Minute)
	if err != nil {
		return false
	}
	return count > int64(h.rateLimitPerMin)
}

func (h *AssistHandler) requestLogger(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

type supportChatRequest struct {
	Message             string             `json:"message" binding:"required"`
	ConversationHistory []ai.ChatTurn      `json:"conversationHistory"`
	KnowledgeBase       []ai.DocumentInput `json:"knowledgeBase"`
	ConversationID      *uint              `json:"conversation_id"`
}

// SupportChat 处理客服对话。带 conversation_id 时把本轮问答追加到会话。
func (h *AssistHandler) SupportChat(c *gin.Context) {
	var req supportChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	feature := assistFeature{
		name:     "support_chat",
		messages: ai.BuildSupportChat(req.Message, req.ConversationHistory, req.KnowledgeBase),
		fallback: ai.SupportChatFallback,
	}
	if req.ConversationID != nil {
		conversationID := *req.ConversationID
		feature.persist = func(ctx context.Context, obj map[string]any, raw string) error {
			return h.appendConversationTurn(ctx, userID, conversationID, req.Message, obj)
		}
	}

	h.run(c, userID, feature)
}

type habitInsightsRequest struct {
	Habits []ai.HabitInput    `json:"habits" binding:"required"`
	Logs   []ai.HabitLogInput `json:"logs"`
}

// HabitInsights 处理习惯洞察。不落库：持久化的洞察由定时分析任务产出。
func (h *AssistHandler) HabitInsights(c *gin.Context) {
	var req habitInsightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	h.run(c, userID, assistFeature{
		name:     "habit_insights",
		messages: ai.BuildHabitInsights(req.Habits, req.Logs),
		fallback: ai.HabitInsightsFallback,
	})
}

type knowledgeQueryRequest struct {
	Query     string             `json:"query" binding:"required"`
	Documents []ai.DocumentInput `json:"documents"`
}

// KnowledgeQuery 处理文档问答，问答历史 append-only 落库。
func (h *AssistHandler) KnowledgeQuery(c *gin.Context) {
	var req knowledgeQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	h.run(c, userID, assistFeature{
		name:     "knowledge_query",
		messages: ai.BuildKnowledgeQuery(req.Query, req.Documents),
		fallback: ai.KnowledgeQueryFallback,
		persist: func(ctx context.Context, obj map[string]any, raw string) error {
			query := database.DocumentQuery{
				UserID:    userID,
				Query:     req.Query,
				Response:  stringField(obj, "answer"),
				Citations: jsonField(obj, "citations"),
			}
			return h.db.WithContext(ctx).Create(&query).Error
		},
	})
}

type atsOptimizeRequest struct {
	ResumeContent string `json:"resumeContent" binding:"required"`
	TargetRole    string `json:"targetRole" binding:"required"`
	ResumeID      *uint  `json:"resume_id"`
}

// AtsOptimize 处理简历 ATS 评分，每次扫描落一行。
func (h *AssistHandler) AtsOptimize(c *gin.Context) {
	var req atsOptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	h.run(c, userID, assistFeature{
		name:     "ats_optimize",
		messages: ai.BuildAtsOptimize(req.ResumeContent, req.TargetRole),
		fallback: ai.AtsFallback,
		persist: func(ctx context.Context, obj map[string]any, raw string) error {
			scan := database.AtsScan{
				UserID:          userID,
				ResumeID:        req.ResumeID,
				TargetRole:      req.TargetRole,
				Score:           intField(obj, "score"),
				MissingKeywords: jsonField(obj, "missingKeywords"),
				Suggestions:     jsonField(obj, "suggestions"),
			}
			return h.db.WithContext(ctx).Create(&scan).Error
		},
	})
}

type jobAssistRequest struct {
	ResumeContent  string            `json:"resumeContent" binding:"required"`
	JobDescription string            `json:"jobDescription" binding:"required"`
	Settings       ai.AssistSettings `json:"settings"`
	ResumeID       *uint             `json:"resume_id"`
}

// JobAssist 处理求职内容生成。唯一把网关 402 映射为固定提示的接口。
func (h *AssistHandler) JobAssist(c *gin.Context) {
	var req jobAssistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	h.run(c, userID, assistFeature{
		name:                "job_assist",
		messages:            ai.BuildJobAssist(req.ResumeContent, req.JobDescription, req.Settings),
		fallback:            ai.JobAssistFallback,
		mapCreditsExhausted: true,
		persist: func(ctx context.Context, obj map[string]any, raw string) error {
			settings, err := json.Marshal(req.Settings)
			if err != nil {
				return fmt.Errorf("marshal settings: %w", err)
			}
			application := database.JobApplication{
				UserID:         userID,
				ResumeID:       req.ResumeID,
				JobDescription: req.JobDescription,
				Bullets:        jsonField(obj, "bullets"),
				CoverLetter:    stringField(obj, "coverLetter"),
				Summary:        stringField(obj, "summary"),
				Settings:       datatypes.JSON(settings),
			}
			return h.db.WithContext(ctx).Create(&application).Error
		},
	})
}

// appendConversationTurn 把用户消息与 AI 答复追加到会话的 messages 数组。
// 单行单语句写入，后写覆盖，不做乐观并发检查。
func (h *AssistHandler) appendConversationTurn(ctx context.Context, userID, conversationID uint, message string, obj map[string]any) error {
	var conversation database.SupportConversation
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", conversationID, userID).
		First(&conversation).Error; err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	var turns []map[string]any
	if len(conversation.Messages) > 0 {
		if err := json.Unmarshal(conversation.Messages, &turns); err != nil {
			return fmt.Errorf("decode conversation messages: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	turns = append(turns,
		map[string]any{"role": "user", "content": message, "timestamp": now},
		map[string]any{"role": "assistant", "content": stringField(obj, "reply"), "timestamp": now},
	)

	encoded, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode conversation messages: %w", err)
	}

	return h.db.WithContext(ctx).
		Model(&conversation).
		Update("messages", datatypes.JSON(encoded)).Error
}

// stringField 读取对象中的字符串字段，类型不符时返回空串。
// 提取出的对象不做 schema 校验，落库时按需宽松取值。
func stringField(obj map[string]any, key string) string {
	if value, ok := obj[key].(string); ok {
		return value
	}
	return ""
}

func intField(obj map[string]any, key string) int {
	switch v := obj[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func jsonField(obj map[string]any, key string) datatypes.JSON {
	value, exists := obj[key]
	if !exists || value == nil {
		return datatypes.JSON([]byte("[]"))
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(encoded)
}
