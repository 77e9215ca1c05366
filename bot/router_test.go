package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/frdeange/BotPlusAzureOpenAI/activity"
	"github.com/frdeange/BotPlusAzureOpenAI/connector"
	"github.com/frdeange/BotPlusAzureOpenAI/graph"
	"github.com/frdeange/BotPlusAzureOpenAI/guard"
	"github.com/frdeange/BotPlusAzureOpenAI/llm"
	"github.com/frdeange/BotPlusAzureOpenAI/state"
)

type fakeLLM struct {
	chatText    string
	chatErr     error
	chatCalls   int
	streamText  []string
	streamErr   error
	streamCalls int
	lastStream  llm.Request
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	f.chatCalls++
	if f.chatErr != nil {
		return llm.Result{}, f.chatErr
	}
	return llm.Result{Text: f.chatText}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, req llm.Request, onDelta func(llm.Delta) error) (llm.Result, error) {
	f.streamCalls++
	f.lastStream = req
	if f.streamErr != nil {
		return llm.Result{}, f.streamErr
	}
	var full strings.Builder
	for _, chunk := range f.streamText {
		full.WriteString(chunk)
		if err := onDelta(llm.Delta{Text: chunk}); err != nil {
			return llm.Result{}, err
		}
	}
	if err := onDelta(llm.Delta{Done: true}); err != nil {
		return llm.Result{}, err
	}
	return llm.Result{Text: full.String()}, nil
}

type fakeSender struct {
	activities []activity.Activity
	fail       bool
}

func (s *fakeSender) ReplyToActivity(ctx context.Context, a activity.Activity) (string, error) {
	if s.fail {
		return "", fmt.Errorf("channel down")
	}
	s.activities = append(s.activities, a)
	return fmt.Sprintf("id-%d", len(s.activities)), nil
}

func (s *fakeSender) SendToConversation(ctx context.Context, a activity.Activity) (string, error) {
	return s.ReplyToActivity(ctx, a)
}

func (s *fakeSender) lastText() string {
	if len(s.activities) == 0 {
		return ""
	}
	return s.activities[len(s.activities)-1].Text
}

func (s *fakeSender) finalMessage() (activity.Activity, bool) {
	for i := len(s.activities) - 1; i >= 0; i-- {
		if s.activities[i].Type == activity.TypeMessage {
			return s.activities[i], true
		}
	}
	return activity.Activity{}, false
}

type fakeTokens struct {
	token       string
	getErr      error
	signOutErr  error
	gotCode     string
	getCalls    int
	signOutDone bool
}

func (f *fakeTokens) GetUserToken(ctx context.Context, userID, connectionName, channelID, code string) (connector.TokenResponse, error) {
	f.getCalls++
	f.gotCode = code
	if f.getErr != nil {
		return connector.TokenResponse{}, f.getErr
	}
	return connector.TokenResponse{Token: f.token}, nil
}

func (f *fakeTokens) SignOut(ctx context.Context, userID, connectionName, channelID string) error {
	f.signOutDone = true
	return f.signOutErr
}

type fakeGraph struct {
	profile Profile
	err     error
	calls   int
}

type Profile = graph.Profile

func (f *fakeGraph) Me(ctx context.Context, tok string) (graph.Profile, error) {
	f.calls++
	if f.err != nil {
		return graph.Profile{}, f.err
	}
	return f.profile, nil
}

func (f *fakeGraph) RecentFiles(ctx context.Context, tok string, top int) ([]graph.DriveItem, error) {
	return []graph.DriveItem{{Name: "plan.docx"}}, nil
}

func (f *fakeGraph) SearchFiles(ctx context.Context, tok, q string, top int) ([]graph.DriveItem, error) {
	return nil, nil
}

type routerFixture struct {
	router *Router
	llm    *fakeLLM
	sender *fakeSender
	tokens *fakeTokens
	graph  *fakeGraph
	store  *state.MemoryStore
}

func newFixture(t *testing.T, cfg Config, mutate func(*routerFixture)) *routerFixture {
	t.Helper()
	f := &routerFixture{
		llm:    &fakeLLM{streamText: []string{"Hello ", "world"}},
		sender: &fakeSender{},
		tokens: &fakeTokens{token: "delegated-token"},
		graph:  &fakeGraph{profile: graph.Profile{DisplayName: "Ada"}},
		store:  state.NewMemoryStore(),
	}
	if mutate != nil {
		mutate(f)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-test"
	}
	if cfg.StreamInterval == 0 {
		cfg.StreamInterval = time.Nanosecond
	}
	r, err := New(cfg, Dependencies{
		LLM:    f.llm,
		Sender: f.sender,
		Tokens: f.tokens,
		Graph:  f.graph,
		Store:  f.store,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	f.router = r
	return f
}

func inbound(text string) activity.Activity {
	return activity.Activity{
		Type:         activity.TypeMessage,
		ID:           "act-1",
		Text:         text,
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example.com/emea/",
		From:         activity.ChannelAccount{ID: "user-1"},
		Recipient:    activity.ChannelAccount{ID: "bot-1"},
		Conversation: activity.ConversationAccount{ID: "conv-1", TenantID: "tenant-a"},
	}
}

func TestWelcomeOnMembersAdded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	a := inbound("")
	a.Type = activity.TypeConversationUpdate
	a.MembersAdded = []activity.ChannelAccount{{ID: "bot-1"}, {ID: "user-1"}}

	if _, err := f.router.Handle(context.Background(), a); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(f.sender.lastText(), "Welcome") {
		t.Fatalf("expected welcome message, got: %q", f.sender.lastText())
	}
}

func TestNoWelcomeWhenOnlyBotAdded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	a := inbound("")
	a.Type = activity.TypeConversationUpdate
	a.MembersAdded = []activity.ChannelAccount{{ID: "bot-1"}}

	if _, err := f.router.Handle(context.Background(), a); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.sender.activities) != 0 {
		t.Fatalf("expected no message, got %d", len(f.sender.activities))
	}
}

func TestInvokeReturnsAck(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	a := inbound("")
	a.Type = activity.TypeInvoke
	a.Name = "composeExtension/query"

	resp, err := f.router.Handle(context.Background(), a)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp == nil || resp.Type != activity.TypeInvokeResponse {
		t.Fatalf("expected invoke response, got %+v", resp)
	}
}

func TestTokenResponseEventCachesAndConfirms(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OAuthConnection: "GraphConnection"}, nil)
	a := inbound("")
	a.Type = activity.TypeEvent
	a.Name = activity.EventTokenResponse
	a.Value = json.RawMessage(`{"token":"fresh-token","connectionName":"GraphConnection"}`)

	if _, err := f.router.Handle(context.Background(), a); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(f.sender.lastText(), "Thank you for signing in") {
		t.Fatalf("expected confirmation, got: %q", f.sender.lastText())
	}
	tok, _ := f.store.CachedToken(context.Background(), state.UserKey("msteams", "user-1"))
	if tok != "fresh-token" {
		t.Fatalf("token not cached: %q", tok)
	}
}

func TestEmptyMessageShortCircuits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	if _, err := f.router.Handle(context.Background(), inbound("   ")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.llm.streamCalls != 0 {
		t.Fatalf("llm should not be called for empty message")
	}
	if f.sender.lastText() != emptyMessageText {
		t.Fatalf("unexpected reply: %q", f.sender.lastText())
	}
}

func TestLoginSendsCardWhenNoToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OAuthConnection: "GraphConnection"}, func(f *routerFixture) {
		f.tokens.getErr = connector.ErrNoToken
	})
	if _, err := f.router.Handle(context.Background(), inbound("/login")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	last := f.sender.activities[len(f.sender.activities)-1]
	if len(last.Attachments) != 1 || last.Attachments[0].ContentType != activity.OAuthCardContentType {
		t.Fatalf("expected oauth card, got: %+v", last)
	}
	pending, _ := f.store.PendingSignIn(context.Background(), state.UserKey("msteams", "user-1"))
	if !pending {
		t.Fatalf("pending sign-in not set")
	}
}

func TestLoginWhenAlreadySignedIn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OAuthConnection: "GraphConnection"}, nil)
	if _, err := f.router.Handle(context.Background(), inbound("sign in")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.sender.lastText() != alreadySignedInText {
		t.Fatalf("unexpected reply: %q", f.sender.lastText())
	}
	// The fetched token is kept, so the next delegated message skips the
	// token service.
	tok, _ := f.store.CachedToken(context.Background(), state.UserKey("msteams", "user-1"))
	if tok != "delegated-token" {
		t.Fatalf("token not cached after login: %q", tok)
	}

	if _, err := f.router.Handle(context.Background(), inbound("show my recent files")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.tokens.getCalls != 1 {
		t.Fatalf("expected one token service call, got %d", f.tokens.getCalls)
	}
}

func TestLogoutClearsState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OAuthConnection: "GraphConnection"}, nil)
	userKey := state.UserKey("msteams", "user-1")
	_ = f.store.CacheToken(context.Background(), userKey, "tok", time.Hour)

	if _, err := f.router.Handle(context.Background(), inbound("/logout")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !f.tokens.signOutDone {
		t.Fatalf("sign out not called")
	}
	if tok, _ := f.store.CachedToken(context.Background(), userKey); tok != "" {
		t.Fatalf("token not cleared: %q", tok)
	}
	if f.sender.lastText() != signedOutText {
		t.Fatalf("unexpected reply: %q", f.sender.lastText())
	}
}

func TestMagicCodeExchangeWhilePending(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OAuthConnection: "GraphConnection"}, nil)
	userKey := state.UserKey("msteams", "user-1")
	_ = f.store.SetPendingSignIn(context.Background(), userKey, time.Hour)

	if _, err := f.router.Handle(context.Background(), inbound("123456")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.tokens.gotCode != "123456" {
		t.Fatalf("magic code not forwarded: %q", f.tokens.gotCode)
	}
	if f.sender.lastText() != signedInText {
		t.Fatalf("unexpected reply: %q", f.sender.lastText())
	}
	if pending, _ := f.store.PendingSignIn(context.Background(), userKey); pending {
		t.Fatalf("pending not cleared")
	}
}

func TestMagicCodeWithoutPendingGoesToLLM(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OAuthConnection: "GraphConnection"}, nil)
	if _, err := f.router.Handle(context.Background(), inbound("123456")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.tokens.gotCode != "" {
		t.Fatalf("unexpected token exchange: %q", f.tokens.gotCode)
	}
	if f.llm.streamCalls != 1 {
		t.Fatalf("expected normal completion, got %d stream calls", f.llm.streamCalls)
	}
}

func TestTenantGateDenies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	f.router.guard = guard.New(guard.Config{AllowedTenants: []string{"tenant-x"}}, nil)

	if _, err := f.router.Handle(context.Background(), inbound("hello")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.sender.lastText() != tenantDeniedText {
		t.Fatalf("unexpected reply: %q", f.sender.lastText())
	}
	if f.llm.streamCalls != 0 {
		t.Fatalf("llm must not run for denied tenant")
	}
}

func TestAnonymousFlowStreamsAndRecordsHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	if _, err := f.router.Handle(context.Background(), inbound("what is azure?")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	final, ok := f.sender.finalMessage()
	if !ok || final.Text != "Hello world" {
		t.Fatalf("unexpected final message: %+v", final)
	}
	if f.lastSystemPrompt() != anonymousSystemPrompt {
		t.Fatalf("unexpected system prompt: %q", f.lastSystemPrompt())
	}

	history, _ := f.store.History(context.Background(), state.ConversationKey("msteams", "conv-1"), 0)
	if len(history) != 2 || history[1].Content != "Hello world" {
		t.Fatalf("history not recorded: %+v", history)
	}
}

func TestDelegatedFlowGroundsPromptInGraphData(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OAuthConnection: "GraphConnection"}, nil)
	if _, err := f.router.Handle(context.Background(), inbound("show my recent files")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.graph.calls != 1 {
		t.Fatalf("graph not called")
	}
	sys := f.lastSystemPrompt()
	if !strings.Contains(sys, "plan.docx") || !strings.Contains(sys, "Ada") {
		t.Fatalf("system prompt not grounded: %q", sys)
	}
}

func TestDelegatedFlowPromptsSignInWhenNoToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OAuthConnection: "GraphConnection"}, func(f *routerFixture) {
		f.tokens.getErr = connector.ErrNoToken
	})
	if _, err := f.router.Handle(context.Background(), inbound("list my files")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	last := f.sender.activities[len(f.sender.activities)-1]
	if len(last.Attachments) != 1 {
		t.Fatalf("expected sign-in card, got: %+v", last)
	}
	if f.llm.streamCalls != 0 {
		t.Fatalf("llm must not run before sign-in")
	}
}

func TestDelegatedFlowGraphFailureMessagesUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OAuthConnection: "GraphConnection"}, func(f *routerFixture) {
		f.graph.err = fmt.Errorf("graph http 503")
	})
	if _, err := f.router.Handle(context.Background(), inbound("show my recent files")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.sender.lastText() != graphErrorText {
		t.Fatalf("unexpected reply: %q", f.sender.lastText())
	}
	if f.llm.streamCalls != 0 {
		t.Fatalf("llm must not run after graph failure")
	}
}

func TestCompletionFailureStillEndsStreamWithErrorText(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, func(f *routerFixture) {
		f.llm.streamErr = fmt.Errorf("deployment overloaded")
	})
	if _, err := f.router.Handle(context.Background(), inbound("hello")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	final, ok := f.sender.finalMessage()
	if !ok {
		t.Fatalf("stream never finalized")
	}
	if !strings.Contains(final.Text, llmErrorText) {
		t.Fatalf("final message should carry error text: %q", final.Text)
	}
}

func TestIntentClassifierTriggersDelegatedFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{
		OAuthConnection: "GraphConnection",
		IntentEnabled:   true,
	}, func(f *routerFixture) {
		f.llm.chatText = `{"needs_user_data":true,"reason":"asks about their own spreadsheet"}`
	})
	if _, err := f.router.Handle(context.Background(), inbound("what changed in the budget spreadsheet?")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.llm.chatCalls != 1 {
		t.Fatalf("classifier not consulted")
	}
	if f.graph.calls != 1 {
		t.Fatalf("delegated flow not taken")
	}
}

func TestIntentClassifierFailureFallsBackToAnonymous(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{
		OAuthConnection: "GraphConnection",
		IntentEnabled:   true,
	}, func(f *routerFixture) {
		f.llm.chatErr = fmt.Errorf("classifier down")
	})
	if _, err := f.router.Handle(context.Background(), inbound("what is kubernetes?")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.graph.calls != 0 {
		t.Fatalf("should not take delegated flow")
	}
	if f.llm.streamCalls != 1 {
		t.Fatalf("anonymous completion should still run")
	}
}

func (f *routerFixture) lastSystemPrompt() string {
	for _, m := range f.lastStreamMessages() {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

func (f *routerFixture) lastStreamMessages() []llm.Message {
	return f.llm.lastStream.Messages
}
