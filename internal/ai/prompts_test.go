package ai

import (
	"strings"
	"testing"
)

func TestBuildHabitInsights_DataInterpolatedIntoSystemPrompt(t *testing.T) {
	habits := []HabitInput{{Name: "Meditate", Frequency: "daily"}}
	logs := []HabitLogInput{{HabitName: "Meditate", LoggedAt: "2024-01-01", Completed: true}}

	messages := BuildHabitInsights(habits, logs)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != RoleSystem {
		t.Fatalf("first message role = %s", messages[0].Role)
	}

	system := messages[0].Content
	if !strings.Contains(system, "Meditate") {
		t.Fatalf("system prompt missing habit name:\n%s", system)
	}
	if !strings.Contains(system, "daily") {
		t.Fatalf("system prompt missing frequency:\n%s", system)
	}
	if !strings.Contains(system, "2024-01-01") {
		t.Fatalf("system prompt missing log date:\n%s", system)
	}
}

func TestBuildSupportChat_HistoryBetweenSystemAndMessage(t *testing.T) {
	history := []ChatTurn{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	kb := []DocumentInput{{Title: "Billing FAQ", Content: "Refunds take 5 days."}}

	messages := BuildSupportChat("current question", history, kb)
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if !strings.Contains(messages[0].Content, "Billing FAQ") {
		t.Fatalf("knowledge base not in system prompt")
	}
	if messages[1].Content != "earlier question" || messages[2].Content != "earlier answer" {
		t.Fatalf("history out of order: %#v", messages[1:3])
	}
	if messages[2].Role != RoleAssistant {
		t.Fatalf("assistant turn role = %s", messages[2].Role)
	}
	if last := messages[len(messages)-1]; last.Role != RoleUser || last.Content != "current question" {
		t.Fatalf("last message = %#v", last)
	}
}

func TestBuildSupportChat_EmptyInputsStillProduceMessages(t *testing.T) {
	// 空输入静默通过，产出降级但不崩溃的提示词。
	messages := BuildSupportChat("", nil, nil)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content == "" {
		t.Fatalf("system prompt must never be empty")
	}
}

func TestBuildJobAssist_SettingsDefaults(t *testing.T) {
	messages := BuildJobAssist("resume text", "job text", AssistSettings{})
	system := messages[0].Content
	if !strings.Contains(system, "professional") {
		t.Fatalf("default tone missing:\n%s", system)
	}
	if !strings.Contains(system, "standard") {
		t.Fatalf("default length missing:\n%s", system)
	}

	messages = BuildJobAssist("resume text", "job text", AssistSettings{Tone: "enthusiastic", CoverLetterLength: "short"})
	system = messages[0].Content
	if !strings.Contains(system, "enthusiastic") || !strings.Contains(system, "short") {
		t.Fatalf("settings not interpolated:\n%s", system)
	}
}

func TestBuildAtsOptimize_CallerTextPassesThroughVerbatim(t *testing.T) {
	resume := `line with "quotes" and {braces}`
	messages := BuildAtsOptimize(resume, "Backend Engineer")
	if !strings.Contains(messages[1].Content, resume) {
		t.Fatalf("resume text not passed through verbatim")
	}
	if !strings.Contains(messages[1].Content, "Backend Engineer") {
		t.Fatalf("target role missing")
	}
}
