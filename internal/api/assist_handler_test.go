package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"aihub/internal/ai"
	"aihub/internal/api/middleware"
	"aihub/internal/database"
)

type fakeCompleter struct {
	reply    string
	err      error
	calls    int
	messages []ai.Message
}

func (f *fakeCompleter) Complete(_ context.Context, messages []ai.Message) (string, error) {
	f.calls++
	f.messages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newAssistTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&database.SupportConversation{},
		&database.DocumentQuery{},
		&database.AtsScan{},
		&database.JobApplication{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func setUserID(userID uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	}
}

func newAssistRouter(t *testing.T, db *gorm.DB, completer ai.Completer, userID uint) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := NewAssistHandler(db, completer, nil, nil, 0)
	group := router.Group("/v1/assist")
	group.Use(middleware.AssistCORSMiddleware(), setUserID(userID))
	{
		group.OPTIONS("/*path", func(*gin.Context) {})
		group.POST("/support-chat", handler.SupportChat)
		group.POST("/habit-insights", handler.HabitInsights)
		group.POST("/knowledge-query", handler.KnowledgeQuery)
		group.POST("/ats-optimize", handler.AtsOptimize)
		group.POST("/job-assist", handler.JobAssist)
	}
	return router
}

func doJSON(router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func postJSON(router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	return doJSON(router, http.MethodPost, path, payload)
}

func putJSON(router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	return doJSON(router, http.MethodPut, path, payload)
}

func deleteReq(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAssistPreflightReturnsEmptyOK(t *testing.T) {
	router := newAssistRouter(t, newAssistTestDB(t), &fakeCompleter{}, 1)

	req := httptest.NewRequest(http.MethodOptions, "/v1/assist/habit-insights", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "authorization, x-client-info, apikey, content-type" {
		t.Fatalf("allow-headers = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Fatalf("allow-methods = %q", got)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("body = %q, want empty", w.Body.String())
	}
}

func TestAssistGatewayRateLimited(t *testing.T) {
	completer := &fakeCompleter{err: ai.ErrRateLimited}
	router := newAssistRouter(t, newAssistTestDB(t), completer, 1)

	w := postJSON(router, "/v1/assist/habit-insights", gin.H{
		"habits": []gin.H{{"name": "Meditate", "frequency": "daily"}},
	})

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "Rate limit exceeded. Please try again later." {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestJobAssistCreditsExhausted(t *testing.T) {
	completer := &fakeCompleter{err: ai.ErrCreditsExhausted}
	router := newAssistRouter(t, newAssistTestDB(t), completer, 1)

	w := postJSON(router, "/v1/assist/job-assist", gin.H{
		"resumeContent":  "resume text",
		"jobDescription": "job text",
	})

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "AI credits exhausted. Please add funds." {
		t.Fatalf("error = %q", body["error"])
	}
}

// 配额耗尽只有求职内容生成映射为 402，其余接口按通用失败返回 500。
func TestSupportChatCreditsExhaustedIsInternal(t *testing.T) {
	completer := &fakeCompleter{err: ai.ErrCreditsExhausted}
	router := newAssistRouter(t, newAssistTestDB(t), completer, 1)

	w := postJSON(router, "/v1/assist/support-chat", gin.H{"message": "hello"})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestAssistGatewayNotConfigured(t *testing.T) {
	completer := &fakeCompleter{err: ai.ErrNotConfigured}
	router := newAssistRouter(t, newAssistTestDB(t), completer, 1)

	w := postJSON(router, "/v1/assist/support-chat", gin.H{"message": "hello"})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "AI gateway is not configured" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestHabitInsightsPassThrough(t *testing.T) {
	completer := &fakeCompleter{
		reply: `{"insights":[{"type":"pattern","message":"Great streak"}],"overallScore":88,"topPerformingHabit":"Meditate","needsAttention":[]}`,
	}
	router := newAssistRouter(t, newAssistTestDB(t), completer, 1)

	w := postJSON(router, "/v1/assist/habit-insights", gin.H{
		"habits": []gin.H{{"name": "Meditate", "frequency": "daily"}},
		"logs":   []gin.H{{"habit_name": "Meditate", "logged_at": "2024-01-01", "completed": true}},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if completer.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", completer.calls)
	}

	// 习惯数据必须插进系统提示词，而不是用户消息。
	if len(completer.messages) == 0 || completer.messages[0].Role != "system" {
		t.Fatalf("first message should be system prompt")
	}
	systemPrompt := completer.messages[0].Content
	if !strings.Contains(systemPrompt, "Meditate") || !strings.Contains(systemPrompt, "daily") {
		t.Fatalf("system prompt missing habit data: %q", systemPrompt)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["overallScore"] != float64(88) {
		t.Fatalf("overallScore = %v, want 88", body["overallScore"])
	}
	if body["topPerformingHabit"] != "Meditate" {
		t.Fatalf("topPerformingHabit = %v", body["topPerformingHabit"])
	}
}

func TestAtsOptimizeFallbackShape(t *testing.T) {
	raw := "Sure! Here's your analysis: the resume looks decent overall."
	completer := &fakeCompleter{reply: raw}
	db := newAssistTestDB(t)
	router := newAssistRouter(t, db, completer, 7)

	w := postJSON(router, "/v1/assist/ats-optimize", gin.H{
		"resumeContent": "resume text",
		"targetRole":    "Backend Engineer",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 3 {
		t.Fatalf("fallback keys = %d, want 3: %v", len(body), body)
	}
	if body["score"] != float64(50) {
		t.Fatalf("score = %v, want 50", body["score"])
	}
	if suggestions, ok := body["suggestions"].([]any); !ok || len(suggestions) != 0 {
		t.Fatalf("suggestions = %v, want empty array", body["suggestions"])
	}
	if body["rawAnalysis"] != raw {
		t.Fatalf("rawAnalysis = %v", body["rawAnalysis"])
	}

	var scan database.AtsScan
	if err := db.Where("user_id = ?", 7).First(&scan).Error; err != nil {
		t.Fatalf("load scan: %v", err)
	}
	if scan.Score != 50 {
		t.Fatalf("scan score = %d, want 50", scan.Score)
	}
	if scan.TargetRole != "Backend Engineer" {
		t.Fatalf("scan target role = %q", scan.TargetRole)
	}
}

func TestKnowledgeQueryPersistsHistory(t *testing.T) {
	completer := &fakeCompleter{
		reply: `{"answer":"Use the export button.","citations":[{"documentTitle":"Manual","relevantQuote":"export"}],"summary":"","actionItems":[],"confidence":"high"}`,
	}
	db := newAssistTestDB(t)
	router := newAssistRouter(t, db, completer, 3)

	w := postJSON(router, "/v1/assist/knowledge-query", gin.H{
		"query":     "How do I export?",
		"documents": []gin.H{{"title": "Manual", "content": "Press export."}},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var stored database.DocumentQuery
	if err := db.Where("user_id = ?", 3).First(&stored).Error; err != nil {
		t.Fatalf("load query: %v", err)
	}
	if stored.Query != "How do I export?" {
		t.Fatalf("query = %q", stored.Query)
	}
	if stored.Response != "Use the export button." {
		t.Fatalf("response = %q", stored.Response)
	}
}

func TestSupportChatAppendsConversationTurns(t *testing.T) {
	completer := &fakeCompleter{
		reply: `{"reply":"Happy to help!","shouldEscalate":false,"suggestedTicketPriority":"low","sentiment":"positive"}`,
	}
	db := newAssistTestDB(t)
	router := newAssistRouter(t, db, completer, 5)

	conversation := database.SupportConversation{
		UserID:   5,
		Subject:  "export question",
		Status:   "open",
		Priority: "medium",
		Messages: []byte("[]"),
	}
	if err := db.Create(&conversation).Error; err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	w := postJSON(router, "/v1/assist/support-chat", gin.H{
		"message":         "How do I export my data?",
		"conversation_id": conversation.ID,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var reloaded database.SupportConversation
	if err := db.First(&reloaded, conversation.ID).Error; err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	var turns []map[string]any
	if err := json.Unmarshal(reloaded.Messages, &turns); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0]["role"] != "user" || turns[0]["content"] != "How do I export my data?" {
		t.Fatalf("first turn = %v", turns[0])
	}
	if turns[1]["role"] != "assistant" || turns[1]["content"] != "Happy to help!" {
		t.Fatalf("second turn = %v", turns[1])
	}
}

// 会话不属于当前用户时写入失败，响应必须是 500 而不是把结果直接返回。
func TestSupportChatPersistFailureIsInternal(t *testing.T) {
	completer := &fakeCompleter{
		reply: `{"reply":"ok","shouldEscalate":false,"suggestedTicketPriority":"low","sentiment":"neutral"}`,
	}
	db := newAssistTestDB(t)
	router := newAssistRouter(t, db, completer, 5)

	missingID := uint(999999)
	w := postJSON(router, "/v1/assist/support-chat", gin.H{
		"message":         "hello",
		"conversation_id": missingID,
	})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
