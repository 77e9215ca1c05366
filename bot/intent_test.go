package bot

import (
	"context"
	"fmt"
	"testing"

	"github.com/frdeange/BotPlusAzureOpenAI/llm"
)

func TestRequiresDelegatedAccess(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{"show my recent files", true},
		{"List my documents please", true},
		{"what's in my onedrive?", true},
		{"search files about the merger", true},
		{"show me my calendar for tomorrow", true},
		{"/login", true},
		{"what is azure?", false},
		{"tell me a joke", false},
		{"how do files systems work?", false},
		{"", false},
		{"   ", false},
	}
	for _, tc := range cases {
		if got := RequiresDelegatedAccess(tc.in); got != tc.want {
			t.Fatalf("RequiresDelegatedAccess(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

type stubClient struct {
	text string
	err  error
}

func (s stubClient) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	if s.err != nil {
		return llm.Result{}, s.err
	}
	return llm.Result{Text: s.text}, nil
}

func TestInferAuthIntentParsesVerdict(t *testing.T) {
	t.Parallel()

	c := stubClient{text: "```json\n{\"needs_user_data\":true,\"reason\":\"asks for own mail\"}\n```"}
	intent, err := InferAuthIntent(context.Background(), c, "m", "did anyone reply to me?", nil, 0)
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if !intent.NeedsUserData {
		t.Fatalf("expected needs_user_data, got %+v", intent)
	}
}

func TestInferAuthIntentRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	if _, err := InferAuthIntent(context.Background(), stubClient{}, "m", "  ", nil, 0); err == nil {
		t.Fatalf("expected empty message error")
	}
	if _, err := InferAuthIntent(context.Background(), nil, "m", "x", nil, 0); err == nil {
		t.Fatalf("expected nil client error")
	}
}

func TestInferAuthIntentSurfacesProviderError(t *testing.T) {
	t.Parallel()

	c := stubClient{err: fmt.Errorf("timeout")}
	if _, err := InferAuthIntent(context.Background(), c, "m", "x", nil, 0); err == nil {
		t.Fatalf("expected provider error")
	}
}

func TestInferAuthIntentRejectsGarbageJSON(t *testing.T) {
	t.Parallel()

	c := stubClient{text: "I cannot answer that."}
	if _, err := InferAuthIntent(context.Background(), c, "m", "x", nil, 0); err == nil {
		t.Fatalf("expected invalid json error")
	}
}

func TestTrimIntentHistoryKeepsTail(t *testing.T) {
	t.Parallel()

	history := []llm.Message{
		{Role: "user", Content: "1"},
		{Role: "assistant", Content: "2"},
		{Role: "user", Content: "3"},
	}
	got := trimIntentHistory(history, 2)
	if len(got) != 2 || got[0].Content != "2" {
		t.Fatalf("unexpected trim: %+v", got)
	}
	if got := trimIntentHistory(history, 0); len(got) != 3 {
		t.Fatalf("default cap should keep short history: %+v", got)
	}
}
