// Package bot holds the conversational request router: the decision logic
// between a raw channel activity and the streamed completion that answers
// it. Everything external (connector, token service, graph, LLM) is an
// interface so each branch is testable without a channel.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/frdeange/BotPlusAzureOpenAI/activity"
	"github.com/frdeange/BotPlusAzureOpenAI/connector"
	"github.com/frdeange/BotPlusAzureOpenAI/graph"
	"github.com/frdeange/BotPlusAzureOpenAI/guard"
	"github.com/frdeange/BotPlusAzureOpenAI/internal/telemetry"
	"github.com/frdeange/BotPlusAzureOpenAI/llm"
	"github.com/frdeange/BotPlusAzureOpenAI/state"
)

// LLMClient is the provider surface the router needs: plain completions
// for classification, streaming for answers.
type LLMClient interface {
	llm.Client
	llm.Streamer
}

type Config struct {
	// Model sent with completion requests. Azure routes by deployment and
	// ignores it, but it still labels usage.
	Model string
	// OAuthConnection is the connection name configured on the channel's
	// OAuth settings. Empty disables the delegated flow entirely.
	OAuthConnection string
	HistoryMaxTurns int
	TokenTTL        time.Duration
	SignInTTL       time.Duration
	StreamInterval  time.Duration
	FeedbackLoop    bool

	IntentEnabled    bool
	IntentModel      string
	IntentMaxHistory int
}

type Dependencies struct {
	Logger *slog.Logger
	LLM    LLMClient
	Sender connector.Sender
	Tokens connector.UserTokenAPI
	Graph  graph.Fetcher
	Guard  *guard.Guard
	Store  state.Store
}

type Router struct {
	cfg    Config
	logger *slog.Logger
	llm    LLMClient
	sender connector.Sender
	tokens connector.UserTokenAPI
	graph  graph.Fetcher
	guard  *guard.Guard
	store  state.Store
}

func New(cfg Config, deps Dependencies) (*Router, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("connector sender is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryMaxTurns <= 0 {
		cfg.HistoryMaxTurns = 20
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	if cfg.SignInTTL <= 0 {
		cfg.SignInTTL = 10 * time.Minute
	}
	if cfg.IntentModel == "" {
		cfg.IntentModel = cfg.Model
	}
	return &Router{
		cfg:    cfg,
		logger: logger,
		llm:    deps.LLM,
		sender: deps.Sender,
		tokens: deps.Tokens,
		graph:  deps.Graph,
		guard:  deps.Guard,
		store:  deps.Store,
	}, nil
}

// Handle dispatches one inbound activity. A non-nil returned activity is
// the synchronous response the transport must write back (invoke
// acknowledgements); everything else goes out through the connector.
func (r *Router) Handle(ctx context.Context, a activity.Activity) (*activity.Activity, error) {
	ctx, span := telemetry.StartSpan(ctx, "bot.handle",
		attribute.String("activity.type", string(a.Type)),
		attribute.String("channel.id", a.ChannelID),
	)
	defer span.End()

	switch a.Type {
	case activity.TypeConversationUpdate:
		return nil, r.handleConversationUpdate(ctx, a)
	case activity.TypeEvent:
		return nil, r.handleEvent(ctx, a)
	case activity.TypeInvoke:
		resp := activity.NewInvokeResponse(200)
		r.logger.Info("invoke_ack", "name", a.Name, "conversation_id", a.Conversation.ID)
		return &resp, nil
	case activity.TypeMessage:
		return nil, r.handleMessage(ctx, a)
	default:
		r.logger.Debug("activity_ignored", "type", string(a.Type))
		return nil, nil
	}
}

func (r *Router) handleConversationUpdate(ctx context.Context, a activity.Activity) error {
	welcomed := false
	for _, m := range a.MembersAdded {
		if m.ID == "" || m.ID == a.Recipient.ID {
			continue
		}
		welcomed = true
		break
	}
	if !welcomed {
		return nil
	}
	r.logger.Info("members_added", "conversation_id", a.Conversation.ID)
	return r.reply(ctx, a, welcomeText)
}

// tokenResponseValue is the payload a tokens/response event may carry.
type tokenResponseValue struct {
	Token          string `json:"token"`
	ConnectionName string `json:"connectionName"`
}

func (r *Router) handleEvent(ctx context.Context, a activity.Activity) error {
	if a.Name != activity.EventTokenResponse {
		r.logger.Info("event_received", "name", a.Name)
		return nil
	}
	r.logger.Info("oauth_signin_completed", "user_id", a.From.ID)

	userKey := state.UserKey(a.ChannelID, a.From.ID)
	if len(a.Value) > 0 {
		var v tokenResponseValue
		if err := json.Unmarshal(a.Value, &v); err == nil && strings.TrimSpace(v.Token) != "" {
			if err := r.store.CacheToken(ctx, userKey, v.Token, r.cfg.TokenTTL); err != nil {
				r.logger.Warn("token_cache_failed", "error", err.Error())
			}
		}
	}
	if err := r.store.ClearPendingSignIn(ctx, userKey); err != nil {
		r.logger.Warn("pending_clear_failed", "error", err.Error())
	}
	return r.reply(ctx, a, signedInText)
}

var magicCodePattern = regexp.MustCompile(`^\d{6}$`)

func (r *Router) handleMessage(ctx context.Context, a activity.Activity) error {
	text := strings.TrimSpace(a.Text)
	lower := strings.ToLower(text)
	convKey := state.ConversationKey(a.ChannelID, a.Conversation.ID)
	userKey := state.UserKey(a.ChannelID, a.From.ID)

	r.logger.Info("message_received",
		"conversation_id", a.Conversation.ID,
		"user_id", a.From.ID,
		"chars", len(text),
	)

	if text == "" {
		return r.reply(ctx, a, emptyMessageText)
	}

	if r.delegationEnabled() {
		if isLoginCommand(lower) {
			return r.handleLogin(ctx, a, userKey)
		}
		if isLogoutCommand(lower) {
			return r.handleLogout(ctx, a, userKey)
		}
		if magicCodePattern.MatchString(text) {
			pending, err := r.store.PendingSignIn(ctx, userKey)
			if err != nil {
				r.logger.Warn("pending_lookup_failed", "error", err.Error())
			}
			if pending {
				return r.handleMagicCode(ctx, a, userKey, text)
			}
		}
	}

	meta := guard.Meta{UserID: a.From.ID, Channel: a.ChannelID}
	if res := r.guard.EvaluateTenant(ctx, meta, a.TenantID()); !res.Allowed() {
		r.logger.Warn("tenant_denied", "tenant_id", a.TenantID(), "reason", res.Reason)
		return r.reply(ctx, a, tenantDeniedText)
	}

	history, err := r.store.History(ctx, convKey, r.cfg.HistoryMaxTurns)
	if err != nil {
		r.logger.Warn("history_load_failed", "error", err.Error())
		history = nil
	}

	systemPrompt := anonymousSystemPrompt
	if r.delegationEnabled() && r.requiresDelegatedAccess(ctx, text, history) {
		prompt, handled, err := r.delegatedPrompt(ctx, a, userKey, text)
		if err != nil || handled {
			return err
		}
		systemPrompt = prompt
	}

	return r.streamCompletion(ctx, a, convKey, systemPrompt, history, text)
}

func (r *Router) delegationEnabled() bool {
	return strings.TrimSpace(r.cfg.OAuthConnection) != "" && r.tokens != nil
}

func (r *Router) handleLogin(ctx context.Context, a activity.Activity, userKey string) error {
	r.logger.Info("login_requested", "user_id", a.From.ID)
	res, err := r.tokens.GetUserToken(ctx, a.From.ID, r.cfg.OAuthConnection, a.ChannelID, "")
	switch {
	case err == nil:
		// Already signed in; keep the token so the next delegated message
		// skips the token service.
		if cerr := r.store.CacheToken(ctx, userKey, res.Token, r.cfg.TokenTTL); cerr != nil {
			r.logger.Warn("token_cache_failed", "error", cerr.Error())
		}
		if cerr := r.store.ClearPendingSignIn(ctx, userKey); cerr != nil {
			r.logger.Warn("pending_clear_failed", "error", cerr.Error())
		}
		return r.reply(ctx, a, alreadySignedInText)
	case errors.Is(err, connector.ErrNoToken):
		return r.sendSignInCard(ctx, a, userKey)
	default:
		r.logger.Error("login_failed", "error", err.Error())
		return r.reply(ctx, a, signInErrorText)
	}
}

func (r *Router) handleLogout(ctx context.Context, a activity.Activity, userKey string) error {
	if err := r.tokens.SignOut(ctx, a.From.ID, r.cfg.OAuthConnection, a.ChannelID); err != nil {
		r.logger.Error("signout_failed", "error", err.Error())
		return r.reply(ctx, a, signOutErrorText)
	}
	if err := r.store.ClearToken(ctx, userKey); err != nil {
		r.logger.Warn("token_clear_failed", "error", err.Error())
	}
	if err := r.store.ClearPendingSignIn(ctx, userKey); err != nil {
		r.logger.Warn("pending_clear_failed", "error", err.Error())
	}
	r.logger.Info("signed_out", "user_id", a.From.ID)
	return r.reply(ctx, a, signedOutText)
}

func (r *Router) handleMagicCode(ctx context.Context, a activity.Activity, userKey, code string) error {
	res, err := r.tokens.GetUserToken(ctx, a.From.ID, r.cfg.OAuthConnection, a.ChannelID, code)
	if err != nil {
		r.logger.Warn("magic_code_rejected", "user_id", a.From.ID, "error", err.Error())
		return r.reply(ctx, a, badMagicCodeText)
	}
	if cerr := r.store.CacheToken(ctx, userKey, res.Token, r.cfg.TokenTTL); cerr != nil {
		r.logger.Warn("token_cache_failed", "error", cerr.Error())
	}
	if cerr := r.store.ClearPendingSignIn(ctx, userKey); cerr != nil {
		r.logger.Warn("pending_clear_failed", "error", cerr.Error())
	}
	r.logger.Info("magic_code_accepted", "user_id", a.From.ID)
	return r.reply(ctx, a, signedInText)
}

func (r *Router) sendSignInCard(ctx context.Context, a activity.Activity, userKey string) error {
	if err := r.store.SetPendingSignIn(ctx, userKey, r.cfg.SignInTTL); err != nil {
		r.logger.Warn("pending_set_failed", "error", err.Error())
	}
	card := a.Reply(activity.TypeMessage, signInPromptText)
	card.Attachments = []activity.Attachment{
		activity.NewOAuthCardAttachment(r.cfg.OAuthConnection, signInCardTitle, signInCardText),
	}
	r.logger.Info("signin_card_sent", "user_id", a.From.ID)
	if _, err := r.sender.ReplyToActivity(ctx, card); err != nil {
		r.logger.Error("signin_card_send_failed", "error", err.Error())
		return err
	}
	return nil
}

// requiresDelegatedAccess combines the keyword fast path with the optional
// LLM classifier. Classifier failures fall back to the keyword verdict;
// authentication must never hinge on a flaky completion.
func (r *Router) requiresDelegatedAccess(ctx context.Context, text string, history []llm.Message) bool {
	if RequiresDelegatedAccess(text) {
		return true
	}
	if !r.cfg.IntentEnabled {
		return false
	}
	intent, err := InferAuthIntent(ctx, r.llm, r.cfg.IntentModel, text, history, r.cfg.IntentMaxHistory)
	if err != nil {
		r.logger.Warn("auth_intent_inference_failed", "error", err.Error())
		return false
	}
	if intent.NeedsUserData {
		r.logger.Info("auth_intent_inferred", "reason", intent.Reason)
	}
	return intent.NeedsUserData
}

// delegatedPrompt resolves the user's token and fetches graph context.
// handled=true means a response was already sent (sign-in card or error
// message) and the message flow must stop.
func (r *Router) delegatedPrompt(ctx context.Context, a activity.Activity, userKey, text string) (prompt string, handled bool, err error) {
	token, lerr := r.store.CachedToken(ctx, userKey)
	if lerr != nil {
		r.logger.Warn("token_cache_lookup_failed", "error", lerr.Error())
	}
	if token == "" {
		res, terr := r.tokens.GetUserToken(ctx, a.From.ID, r.cfg.OAuthConnection, a.ChannelID, "")
		switch {
		case errors.Is(terr, connector.ErrNoToken):
			r.logger.Info("user_not_authenticated", "user_id", a.From.ID)
			return "", true, r.sendSignInCard(ctx, a, userKey)
		case terr != nil:
			r.logger.Error("token_lookup_failed", "error", terr.Error())
			return "", true, r.reply(ctx, a, signInErrorText)
		}
		token = res.Token
		if cerr := r.store.CacheToken(ctx, userKey, token, r.cfg.TokenTTL); cerr != nil {
			r.logger.Warn("token_cache_failed", "error", cerr.Error())
		}
	}
	r.logger.Info("user_authenticated", "user_id", a.From.ID)

	ctx, span := telemetry.StartSpan(ctx, "bot.graph_context")
	summary, gerr := graph.ContextSummary(ctx, r.graph, token, text)
	span.End()
	if gerr != nil {
		r.logger.Error("graph_fetch_failed", "error", gerr.Error())
		return "", true, r.reply(ctx, a, graphErrorText)
	}
	return delegatedSystemPromptPrefix + summary + delegatedSystemPromptSuffix, false, nil
}

func (r *Router) streamCompletion(ctx context.Context, a activity.Activity, convKey, systemPrompt string, history []llm.Message, text string) error {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: text})

	ss, err := connector.NewStreamSender(r.sender, a, connector.StreamOptions{
		Interval:         r.cfg.StreamInterval,
		FeedbackLoop:     r.cfg.FeedbackLoop,
		AIGeneratedLabel: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if eerr := ss.EndStream(context.WithoutCancel(ctx)); eerr != nil {
			r.logger.Error("stream_end_failed", "error", eerr.Error())
		}
	}()

	ctx, span := telemetry.StartSpan(ctx, "bot.completion",
		attribute.String("llm.model", r.cfg.Model),
	)
	defer span.End()

	res, err := r.llm.ChatStream(ctx, llm.Request{
		Model:    r.cfg.Model,
		Messages: messages,
	}, func(d llm.Delta) error {
		if d.Done || d.Text == "" {
			return nil
		}
		if qerr := ss.QueueTextChunk(ctx, d.Text); qerr != nil {
			r.logger.Warn("stream_chunk_failed", "error", qerr.Error())
		}
		return nil
	})
	if err != nil {
		r.logger.Error("completion_failed", "error", err.Error(), "stream_id", ss.StreamID())
		if qerr := ss.QueueTextChunk(ctx, llmErrorText); qerr != nil {
			r.logger.Warn("stream_chunk_failed", "error", qerr.Error())
		}
		return nil
	}

	r.logger.Info("completion_streamed",
		"conversation_id", a.Conversation.ID,
		"stream_id", ss.StreamID(),
		"output_tokens", res.Usage.OutputTokens,
	)

	if herr := r.store.AppendHistory(ctx, convKey,
		llm.Message{Role: "user", Content: text},
		llm.Message{Role: "assistant", Content: res.Text},
	); herr != nil {
		r.logger.Warn("history_append_failed", "error", herr.Error())
	}
	return nil
}

func (r *Router) reply(ctx context.Context, a activity.Activity, text string) error {
	out := a.Reply(activity.TypeMessage, text)
	if _, err := r.sender.ReplyToActivity(ctx, out); err != nil {
		r.logger.Error("reply_failed", "error", err.Error())
		return err
	}
	return nil
}
