package worker

import (
	"strings"
	"testing"

	"aihub/internal/ai"
	"aihub/internal/database"
)

func TestRenderCoverLetterHTML(t *testing.T) {
	application := database.JobApplication{
		CoverLetter: "Dear Hiring Manager,\n\nI am excited to apply.\nMy background fits well.\n\nSincerely,\nAlex",
		Summary:     "Strong match for the backend role.",
	}

	html, err := renderCoverLetterHTML(&application)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if !strings.Contains(html, "<p>Dear Hiring Manager,</p>") {
		t.Fatalf("missing first paragraph: %s", html)
	}
	// 段内换行折叠成空格，空行才开新段。
	if !strings.Contains(html, "<p>I am excited to apply. My background fits well.</p>") {
		t.Fatalf("paragraph merge failed: %s", html)
	}
	if !strings.Contains(html, "Strong match for the backend role.") {
		t.Fatalf("missing summary: %s", html)
	}
}

func TestRenderCoverLetterHTMLEscapes(t *testing.T) {
	application := database.JobApplication{
		CoverLetter: "I know <script>alert(1)</script> & more.",
	}

	html, err := renderCoverLetterHTML(&application)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Fatalf("cover letter text was not escaped: %s", html)
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Fatalf("expected escaped markup: %s", html)
	}
}

func TestDecodeInsightItems(t *testing.T) {
	obj := map[string]any{
		"insights": []any{
			map[string]any{"type": "pattern", "message": "You meditate most on weekdays"},
			map[string]any{"message": "Keep it up"},
			map[string]any{"type": "warning"},
			"not an object",
		},
	}

	items := decodeInsightItems(obj)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Type != "pattern" {
		t.Fatalf("type = %q", items[0].Type)
	}
	if items[1].Type != "observation" {
		t.Fatalf("missing type should default to observation, got %q", items[1].Type)
	}

	if items := decodeInsightItems(map[string]any{}); items != nil {
		t.Fatalf("expected nil for missing insights, got %v", items)
	}
}

// 补全无法解析时走兜底对象，定时分析也必须能落下这条兜底洞察。
func TestDecodeInsightItemsFromUnparsedReply(t *testing.T) {
	raw := "I could not produce a structured answer, sorry."
	obj := ai.ExtractObjectOr(raw, ai.HabitInsightsFallback)

	items := decodeInsightItems(obj)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1: %#v", len(items), obj["insights"])
	}
	if items[0].Type != "encouragement" {
		t.Fatalf("type = %q, want encouragement", items[0].Type)
	}
	if items[0].Message != raw {
		t.Fatalf("message = %q, want raw reply", items[0].Message)
	}
}
