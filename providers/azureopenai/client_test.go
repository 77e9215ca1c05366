package azureopenai

import (
	"context"
	"testing"

	"github.com/frdeange/BotPlusAzureOpenAI/llm"
)

func TestNewRejectsIncompleteConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing endpoint", Config{APIKey: "k", Deployment: "d"}},
		{"missing api key", Config{Endpoint: "https://x.openai.azure.com", Deployment: "d"}},
		{"missing deployment", Config{Endpoint: "https://x.openai.azure.com", APIKey: "k"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatalf("expected config error")
			}
		})
	}
}

func TestNilClientChatFails(t *testing.T) {
	t.Parallel()

	var c *Client
	if _, err := c.Chat(context.Background(), llm.Request{}); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if _, err := c.ChatStream(context.Background(), llm.Request{}, nil); err == nil {
		t.Fatalf("expected error from nil client")
	}
}

func TestConvertMessagesKeepsRoles(t *testing.T) {
	t.Parallel()

	out := convertMessages([]llm.Message{
		{Role: "system", Content: "a"},
		{Role: "user", Content: "b"},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != "system" || out[1].Role != "user" {
		t.Fatalf("roles not preserved: %#v", out)
	}
}
