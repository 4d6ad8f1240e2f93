package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的账号信息，同时承载对外展示的 Profile 字段。
// 所有业务数据通过 UserID 归属到账号，账号删除时级联清理。
type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;size:255"`
	FullName     string `gorm:"size:128"`
	PasswordHash string `gorm:"size:255"`

	Resumes       []Resume              `gorm:"constraint:OnDelete:CASCADE"`
	Habits        []Habit               `gorm:"constraint:OnDelete:CASCADE"`
	Conversations []SupportConversation `gorm:"constraint:OnDelete:CASCADE"`
	Documents     []Document            `gorm:"constraint:OnDelete:CASCADE"`
}

// Resume 表示用户上传的简历原文与解析结果。
type Resume struct {
	gorm.Model
	UserID  uint           `gorm:"index"`
	Title   string         `gorm:"size:255"`
	RawText string         `gorm:"type:text"`
	Parsed  datatypes.JSON `gorm:"type:jsonb"`
}

// 求职信 PDF 导出状态。
const (
	PdfStatusPending = "pending"
	PdfStatusReady   = "ready"
	PdfStatusFailed  = "failed"
)

// JobApplication 记录一次求职内容生成的输入与输出。
type JobApplication struct {
	gorm.Model
	UserID         uint           `gorm:"index"`
	ResumeID       *uint          `gorm:"index"`
	JobDescription string         `gorm:"type:text"`
	Bullets        datatypes.JSON `gorm:"type:jsonb"`
	CoverLetter    string         `gorm:"type:text"`
	Summary        string         `gorm:"type:text"`
	Settings       datatypes.JSON `gorm:"type:jsonb"`
	PdfKey         string         `gorm:"size:512"`
	PdfStatus      string         `gorm:"size:32"`
}

// Habit 表示用户自定义的习惯。
type Habit struct {
	gorm.Model
	UserID    uint   `gorm:"index"`
	Name      string `gorm:"size:128"`
	Frequency string `gorm:"size:32"`
	Color     string `gorm:"size:16"`

	Logs []HabitLog `gorm:"constraint:OnDelete:CASCADE"`
}

// HabitLog 记录某个习惯某一天的打卡状态。
// 每个习惯每天最多一行，重复打卡走 upsert（后写覆盖）。
type HabitLog struct {
	gorm.Model
	HabitID   uint      `gorm:"uniqueIndex:idx_habit_logs_day"`
	UserID    uint      `gorm:"index"`
	Completed bool      `gorm:"default:false"`
	Notes     string    `gorm:"type:text"`
	Date      time.Time `gorm:"type:date;uniqueIndex:idx_habit_logs_day"`
}

// HabitInsight 保存定时分析产出的洞察条目。
type HabitInsight struct {
	gorm.Model
	UserID  uint   `gorm:"index"`
	Type    string `gorm:"size:32"`
	Message string `gorm:"type:text"`
}

// AtsScan 记录一次简历 ATS 评分结果。
type AtsScan struct {
	gorm.Model
	UserID          uint           `gorm:"index"`
	ResumeID        *uint          `gorm:"index"`
	TargetRole      string         `gorm:"size:255"`
	Score           int
	MissingKeywords datatypes.JSON `gorm:"type:jsonb"`
	Suggestions     datatypes.JSON `gorm:"type:jsonb"`
}

// SupportConversation 表示一条客服会话。
// Messages 为按时间排序的 {role, content, timestamp} 数组（JSONB），
// 每轮对话向数组追加，不做多语句事务。
type SupportConversation struct {
	gorm.Model
	UserID   uint           `gorm:"index"`
	Subject  string         `gorm:"size:255"`
	Status   string         `gorm:"size:32;default:open"`
	Priority string         `gorm:"size:32;default:medium"`
	Messages datatypes.JSON `gorm:"type:jsonb"`
}

// KnowledgeEntry 表示客服知识库中的一条条目。
type KnowledgeEntry struct {
	gorm.Model
	UserID   uint   `gorm:"index"`
	Title    string `gorm:"size:255"`
	Content  string `gorm:"type:text"`
	Category string `gorm:"size:64"`
}

// Document 表示个人知识库中的文档。
// ObjectKey 指向对象存储中的原始文件（可为空，纯文本文档无文件）。
type Document struct {
	gorm.Model
	UserID    uint           `gorm:"index"`
	Title     string         `gorm:"size:255"`
	Content   string         `gorm:"type:text"`
	Type      string         `gorm:"size:64"`
	ObjectKey string         `gorm:"size:512"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
}

// DocumentQuery 记录一次文档问答，append-only 历史。
type DocumentQuery struct {
	gorm.Model
	UserID    uint           `gorm:"index"`
	Query     string         `gorm:"type:text"`
	Response  string         `gorm:"type:text"`
	Citations datatypes.JSON `gorm:"type:jsonb"`
}
