package openai

import (
	"testing"
	"time"

	"github.com/solenne-ai/solenne/pkg/provider/llm"
)

// TestBuildParams_SystemPromptFirst checks that the system prompt leads the
// message list.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a gentle companion.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Hello!"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Fatal("expected first message to be the system prompt")
	}
	if params.Messages[1].OfUser == nil {
		t.Fatal("expected second message to be the user turn")
	}
}

// TestBuildParams_Roles checks conversion of every supported role.
func TestBuildParams_Roles(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be kind"},
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected OfSystem for system role")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("expected OfUser for user role")
	}
	if params.Messages[2].OfAssistant == nil {
		t.Error("expected OfAssistant for assistant role")
	}
}

// TestBuildParams_UnknownRole checks that unknown roles return an error.
func TestBuildParams_UnknownRole(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	_, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "narrator", Content: "test"}},
	})
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

// TestBuildParams_Tuning checks temperature and max-token mapping.
func TestBuildParams_Tuning(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.7 {
		t.Errorf("expected temperature 0.7, got %+v", params.Temperature)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 256 {
		t.Errorf("expected max tokens 256, got %+v", params.MaxCompletionTokens)
	}
}

// TestBuildParams_ZeroTuningOmitted checks that provider defaults are kept
// when the request does not set tuning fields.
func TestBuildParams_ZeroTuningOmitted(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Temperature.Valid() {
		t.Error("expected temperature to be omitted when zero")
	}
	if params.MaxCompletionTokens.Valid() {
		t.Error("expected max tokens to be omitted when zero")
	}
}

// TestNew_MissingAPIKey ensures the constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("", "gpt-4o-mini")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures the constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	_, err := New("sk-test", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_Options checks that optional settings are accepted without error.
func TestNew_Options(t *testing.T) {
	_, err := New("sk-test", "gpt-4o-mini",
		WithBaseURL("https://openrouter.ai/api/v1"),
		WithTimeout(30*time.Second),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}
