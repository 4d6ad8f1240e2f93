package ai

import (
	"encoding/json"
	"regexp"
)

// 模型输出经常是 JSON，但也可能被说明文字或 markdown 代码块包裹。
// 这里沿用"第一个 { 到最后一个 }"的贪婪匹配：当正文里混有多段
// JSON 或不配对的花括号时可能截错，但该启发式是既定行为，不改。
var objectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractObject 从补全文本中定位并解析第一段 {...}。
// 找不到或解析失败时返回 (nil, false)，从不返回错误。
func ExtractObject(raw string) (map[string]any, bool) {
	match := objectPattern.FindString(raw)
	if match == "" {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(match), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// ExtractObjectOr 返回解析出的对象；失败时返回 fallback(raw)。
// 所有 AI 接口共用这一条提取路径，fallback 按功能各自构造，
// 并保证把原始文本放进一个人类可读字段，用户不会看到硬失败。
func ExtractObjectOr(raw string, fallback func(raw string) map[string]any) map[string]any {
	if obj, ok := ExtractObject(raw); ok {
		return obj
	}
	return fallback(raw)
}
