package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frdeange/BotPlusAzureOpenAI/internal/jsonutil"
	"github.com/frdeange/BotPlusAzureOpenAI/llm"
)

// Keywords that signal the user wants their own data rather than a general
// answer. Matching is fast-path; the LLM classifier only refines negatives.
var authKeywords = []string{
	// file operations
	"my files", "my documents", "my sharepoint", "my onedrive",
	"list files", "search files", "find files", "show files",
	"recent files", "shared with me", "my folders",
	"upload", "download", "create file", "delete file",

	// sharepoint specific
	"sharepoint site", "team site", "document library",

	// mail/calendar, if those scopes get added
	"my emails", "my calendar", "my meetings",

	// teams specific
	"my teams", "my channels",

	// generic personal data
	"my data", "my information", "access my",
}

var possessivePatterns = []string{
	"show me my", "get my", "find my", "search my", "list my",
}

// RequiresDelegatedAccess reports whether the message asks for the user's
// own data based on keyword detection alone.
func RequiresDelegatedAccess(message string) bool {
	message = strings.TrimSpace(message)
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)

	if isLoginCommand(lower) {
		return true
	}
	for _, kw := range authKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, p := range possessivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// AuthIntent is the LLM classifier's verdict on whether answering needs
// the user's delegated data.
type AuthIntent struct {
	NeedsUserData bool   `json:"needs_user_data"`
	Reason        string `json:"reason,omitempty"`
}

// InferAuthIntent asks the model whether the message requires access to
// the user's own files or data. Used only when the keyword matcher said
// no, so a miss costs one cheap completion.
func InferAuthIntent(ctx context.Context, client llm.Client, model, message string, history []llm.Message, maxHistory int) (AuthIntent, error) {
	if client == nil {
		return AuthIntent{}, fmt.Errorf("nil llm client")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return AuthIntent{}, fmt.Errorf("empty message")
	}

	payload := map[string]any{
		"message": message,
		"history": trimIntentHistory(history, maxHistory),
		"rules": []string{
			"needs_user_data: true only if answering requires reading the user's own files, documents, mail, calendar, or other personal cloud data.",
			"General knowledge questions are false even when phrased personally.",
			"reason: one short sentence, same language as the user.",
			"Do not invent data requirements.",
		},
	}
	b, _ := json.Marshal(payload)
	sys := "You classify whether a chat message needs the user's delegated data. " +
		"Return ONLY JSON with keys: needs_user_data (boolean), reason (string)."

	res, err := client.Chat(ctx, llm.Request{
		Model:     model,
		ForceJSON: true,
		Messages: []llm.Message{
			{Role: "system", Content: sys},
			{Role: "user", Content: string(b)},
		},
		Parameters: map[string]any{
			"max_tokens":  256,
			"temperature": 0,
		},
	})
	if err != nil {
		return AuthIntent{}, err
	}
	raw := strings.TrimSpace(res.Text)
	if raw == "" {
		return AuthIntent{}, fmt.Errorf("empty intent response")
	}
	var out AuthIntent
	if err := jsonutil.DecodeWithFallback(raw, &out); err != nil {
		return AuthIntent{}, fmt.Errorf("invalid intent json")
	}
	return out, nil
}

func trimIntentHistory(history []llm.Message, maxHistory int) []llm.Message {
	if maxHistory <= 0 {
		maxHistory = 6
	}
	if len(history) <= maxHistory {
		return history
	}
	return history[len(history)-maxHistory:]
}

func isLoginCommand(lower string) bool {
	switch strings.TrimSpace(lower) {
	case "/login", "/signin", "login", "sign in":
		return true
	}
	return false
}

func isLogoutCommand(lower string) bool {
	switch strings.TrimSpace(lower) {
	case "/logout", "/signout", "logout", "signout", "sign out":
		return true
	}
	return false
}
