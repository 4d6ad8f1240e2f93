package ai

import (
	"fmt"
	"strings"
)

// 各功能的输入结构，字段名与前端请求体保持一致。
// 注意：调用方文本不做转义、不做截断，直接插入提示词（既定行为）。

// HabitInput 描述一个习惯。
type HabitInput struct {
	Name      string `json:"name"`
	Frequency string `json:"frequency"`
}

// HabitLogInput 描述一次打卡记录。
type HabitLogInput struct {
	HabitName string `json:"habit_name"`
	LoggedAt  string `json:"logged_at"`
	Completed bool   `json:"completed"`
}

// ChatTurn 描述会话中的一轮对话。
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DocumentInput 描述一篇参与问答的文档或知识库条目。
type DocumentInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// AssistSettings 描述求职内容生成的风格选项。
type AssistSettings struct {
	Tone              string `json:"tone"`
	CoverLetterLength string `json:"coverLetterLength"`
}

const supportChatSystemPrompt = `You are a friendly and professional customer support agent for a productivity application.

Your tasks:
1. Answer the user's question using the knowledge base articles when relevant
2. Decide whether the conversation should be escalated to a human agent
3. Suggest a ticket priority and assess the user's sentiment

You must output ONLY a JSON object with these exact fields:
- reply: your response to the user (string)
- shouldEscalate: boolean
- suggestedTicketPriority: one of "low", "medium", "high", "urgent"
- sentiment: one of "positive", "neutral", "frustrated", "angry"

Knowledge base articles:
%s

Output ONLY the JSON object, no markdown, no explanation.`

// BuildSupportChat 构造客服对话消息列表：系统提示 + 历史轮次 + 当前消息。
func BuildSupportChat(message string, history []ChatTurn, knowledgeBase []DocumentInput) []Message {
	var kb strings.Builder
	for _, entry := range knowledgeBase {
		fmt.Fprintf(&kb, "## %s\n%s\n\n", entry.Title, entry.Content)
	}
	if kb.Len() == 0 {
		kb.WriteString("(no articles available)")
	}

	messages := []Message{
		{Role: RoleSystem, Content: fmt.Sprintf(supportChatSystemPrompt, kb.String())},
	}
	for _, turn := range history {
		role := turn.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		messages = append(messages, Message{Role: role, Content: turn.Content})
	}
	return append(messages, Message{Role: RoleUser, Content: message})
}

const habitInsightsSystemPrompt = `You are a habit coach analyzing a user's habit tracking data.

Your tasks:
1. Identify streaks, gaps and patterns in the log history
2. Call out the best performing habit and any habit that needs attention
3. Give a concise overall consistency score from 0 to 100

You must output ONLY a JSON object with these exact fields:
- insights: array of {type, message} where type is one of "encouragement", "suggestion", "warning"
- overallScore: number 0 to 100
- topPerformingHabit: string or null
- needsAttention: string or null

The user's habits:
%s

Recent logs:
%s

Output ONLY the JSON object, no markdown, no explanation.`

// BuildHabitInsights 构造习惯洞察消息。习惯与打卡数据插入系统提示。
func BuildHabitInsights(habits []HabitInput, logs []HabitLogInput) []Message {
	var habitList strings.Builder
	for _, h := range habits {
		fmt.Fprintf(&habitList, "- %s (%s)\n", h.Name, h.Frequency)
	}
	if habitList.Len() == 0 {
		habitList.WriteString("(no habits yet)")
	}

	var logList strings.Builder
	for _, l := range logs {
		status := "skipped"
		if l.Completed {
			status = "completed"
		}
		fmt.Fprintf(&logList, "- %s on %s: %s\n", l.HabitName, l.LoggedAt, status)
	}
	if logList.Len() == 0 {
		logList.WriteString("(no logs yet)")
	}

	return []Message{
		{Role: RoleSystem, Content: fmt.Sprintf(habitInsightsSystemPrompt, habitList.String(), logList.String())},
		{Role: RoleUser, Content: "Analyze my habit data and give me actionable insights."},
	}
}

const knowledgeQuerySystemPrompt = `You are a personal knowledge assistant. Answer the user's question using ONLY the provided documents.

Your tasks:
1. Answer the question based on document content, citing the documents you used
2. Summarize the relevant material briefly
3. Extract any action items implied by the answer

You must output ONLY a JSON object with these exact fields:
- answer: string
- citations: array of document titles used (strings)
- summary: string
- actionItems: array of strings
- confidence: one of "high", "medium", "low"

If the documents do not contain the answer, say so in the answer field and set confidence to "low".

Output ONLY the JSON object, no markdown, no explanation.`

// BuildKnowledgeQuery 构造文档问答消息：文档内容进入用户消息。
func BuildKnowledgeQuery(query string, documents []DocumentInput) []Message {
	var docs strings.Builder
	for _, d := range documents {
		fmt.Fprintf(&docs, "# %s\n%s\n\n", d.Title, d.Content)
	}
	if docs.Len() == 0 {
		docs.WriteString("(no documents)")
	}

	user := fmt.Sprintf("Documents:\n%s\nQuestion: %s", docs.String(), query)
	return []Message{
		{Role: RoleSystem, Content: knowledgeQuerySystemPrompt},
		{Role: RoleUser, Content: user},
	}
}

const atsOptimizeSystemPrompt = `You are an ATS (Applicant Tracking System) analysis expert. Score how well a resume matches a target role.

Your tasks:
1. Score the resume from 0 to 100 for the target role
2. List keywords the resume is missing for that role
3. Identify weak sections and concrete improvement suggestions
4. Rewrite the professional summary and the top experience bullets, optimized for ATS

You must output ONLY a JSON object with these exact fields:
- score: number 0 to 100
- missingKeywords: array of strings
- weakSections: array of strings
- suggestions: array of strings
- optimizedSummary: string
- optimizedBullets: array of strings

Output ONLY the JSON object, no markdown, no explanation.`

// BuildAtsOptimize 构造 ATS 评分消息。
func BuildAtsOptimize(resumeContent, targetRole string) []Message {
	user := fmt.Sprintf("Target role: %s\n\nResume:\n%s", targetRole, resumeContent)
	return []Message{
		{Role: RoleSystem, Content: atsOptimizeSystemPrompt},
		{Role: RoleUser, Content: user},
	}
}

const jobAssistSystemPrompt = `You are an expert career writer generating tailored job application content.

Your tasks:
1. Rewrite the candidate's most relevant experience as achievement bullets matching the job description
2. Write a %s cover letter in a %s tone
3. Write a short professional summary tailored to the role

You must output ONLY a JSON object with these exact fields:
- bullets: array of strings
- coverLetter: string
- summary: string

Output ONLY the JSON object, no markdown, no explanation.`

// BuildJobAssist 构造求职内容生成消息，settings 控制语气与篇幅。
func BuildJobAssist(resumeContent, jobDescription string, settings AssistSettings) []Message {
	tone := settings.Tone
	if tone == "" {
		tone = "professional"
	}
	length := settings.CoverLetterLength
	if length == "" {
		length = "standard"
	}

	user := fmt.Sprintf("Job description:\n%s\n\nResume:\n%s", jobDescription, resumeContent)
	return []Message{
		{Role: RoleSystem, Content: fmt.Sprintf(jobAssistSystemPrompt, length, tone)},
		{Role: RoleUser, Content: user},
	}
}
