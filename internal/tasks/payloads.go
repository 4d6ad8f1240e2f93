package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// 任务类型常量，worker 侧按类型注册处理器。
const (
	TypeHabitAnalyze    = "habits:analyze"
	TypeHabitAnalyzeAll = "habits:analyze_all"
	TypeCoverLetterPDF  = "coverletter:pdf"
)

// HabitAnalyzePayload 对单个用户的习惯数据做 AI 分析。
type HabitAnalyzePayload struct {
	UserID uint `json:"user_id"`
}

// CoverLetterPDFPayload 将求职申请的求职信渲染为 PDF。
type CoverLetterPDFPayload struct {
	UserID        uint `json:"user_id"`
	ApplicationID uint `json:"application_id"`
}

// NewHabitAnalyzeTask 构造习惯分析任务。
func NewHabitAnalyzeTask(userID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(HabitAnalyzePayload{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("marshal habit analyze payload: %w", err)
	}
	return asynq.NewTask(TypeHabitAnalyze, payload, asynq.MaxRetry(3)), nil
}

// NewHabitAnalyzeAllTask 构造全量习惯分析的调度任务（无载荷）。
// worker 收到后为每个有习惯的用户派生一条 TypeHabitAnalyze 任务。
func NewHabitAnalyzeAllTask() *asynq.Task {
	return asynq.NewTask(TypeHabitAnalyzeAll, nil, asynq.MaxRetry(1))
}

// NewCoverLetterPDFTask 构造求职信 PDF 导出任务。
func NewCoverLetterPDFTask(userID, applicationID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(CoverLetterPDFPayload{UserID: userID, ApplicationID: applicationID})
	if err != nil {
		return nil, fmt.Errorf("marshal cover letter pdf payload: %w", err)
	}
	return asynq.NewTask(TypeCoverLetterPDF, payload, asynq.MaxRetry(3), asynq.Queue("pdf")), nil
}
