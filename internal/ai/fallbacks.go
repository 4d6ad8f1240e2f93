package ai

// 每个功能的兜底对象：当补全无法解析为 JSON 时返回，
// 原始文本始终进入该功能的人类可读字段。

// SupportChatFallback 把原始回复当作客服答复返回。
func SupportChatFallback(raw string) map[string]any {
	return map[string]any{
		"reply":                   raw,
		"shouldEscalate":          false,
		"suggestedTicketPriority": "medium",
		"sentiment":               "neutral",
	}
}

// HabitInsightsFallback 把原始回复包装成一条鼓励类洞察。
// insights 用 []any 承载，与 json.Unmarshal 解出的数组类型一致，
// 下游消费方不必区分解析结果与兜底结果。
func HabitInsightsFallback(raw string) map[string]any {
	return map[string]any{
		"insights": []any{
			map[string]any{"type": "encouragement", "message": raw},
		},
		"overallScore":       70,
		"topPerformingHabit": "",
		"needsAttention":     nil,
	}
}

// KnowledgeQueryFallback 把原始回复当作答案返回，引用为空。
func KnowledgeQueryFallback(raw string) map[string]any {
	return map[string]any{
		"answer":      raw,
		"citations":   []any{},
		"summary":     "",
		"actionItems": []any{},
		"confidence":  "low",
	}
}

// AtsFallback 返回固定的中间分与原始分析文本。
func AtsFallback(raw string) map[string]any {
	return map[string]any{
		"score":       50,
		"suggestions": []any{},
		"rawAnalysis": raw,
	}
}

// JobAssistFallback 把原始回复当作求职信正文返回。
func JobAssistFallback(raw string) map[string]any {
	return map[string]any{
		"bullets":     []any{},
		"coverLetter": raw,
		"summary":     "",
	}
}
