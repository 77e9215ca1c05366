package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/frdeange/BotPlusAzureOpenAI/bot"
	"github.com/frdeange/BotPlusAzureOpenAI/connector"
	"github.com/frdeange/BotPlusAzureOpenAI/graph"
	"github.com/frdeange/BotPlusAzureOpenAI/guard"
	"github.com/frdeange/BotPlusAzureOpenAI/internal/llmutil"
	"github.com/frdeange/BotPlusAzureOpenAI/state"
)

// runtime bundles everything a router needs besides the sender, which
// differs per transport (connector for serve, console for chat, websocket
// for the dev console).
type runtime struct {
	botCfg bot.Config
	llm    llmutil.StreamingClient
	store  state.Store
	guard  *guard.Guard
	audit  guard.AuditSink
	tokens connector.UserTokenAPI
	graph  graph.Fetcher
	logger *slog.Logger
}

func buildRuntime(ctx context.Context, logger *slog.Logger) (*runtime, error) {
	llmClient, err := llmutil.ClientFromConfig(llmutil.ConfigFromViper())
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	store, err := buildStore(ctx)
	if err != nil {
		return nil, err
	}

	g, audit, err := buildGuard()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	oauthConn := strings.TrimSpace(viper.GetString("connector.oauth_connection"))
	var tokens connector.UserTokenAPI
	if oauthConn != "" {
		tokens = connector.NewUserTokenClient(nil,
			viper.GetString("connector.token_service_url"),
			connector.StaticToken(viper.GetString("connector.app_token")))
	}

	return &runtime{
		botCfg: bot.Config{
			Model:            llmutil.ModelFromViper(),
			OAuthConnection:  oauthConn,
			HistoryMaxTurns:  viper.GetInt("state.history_max_turns"),
			TokenTTL:         viper.GetDuration("state.token_ttl"),
			SignInTTL:        viper.GetDuration("state.signin_ttl"),
			StreamInterval:   viper.GetDuration("stream.interval"),
			FeedbackLoop:     viper.GetBool("stream.feedback_loop"),
			IntentEnabled:    viper.GetBool("intent.enabled"),
			IntentModel:      viper.GetString("intent.model"),
			IntentMaxHistory: viper.GetInt("intent.max_history"),
		},
		llm:    llmClient,
		store:  store,
		guard:  g,
		audit:  audit,
		tokens: tokens,
		graph:  graph.New(nil, viper.GetString("graph.endpoint")),
		logger: logger,
	}, nil
}

// router builds a bot router on top of this runtime for the given sender.
func (rt *runtime) router(sender connector.Sender) (*bot.Router, error) {
	return bot.New(rt.botCfg, bot.Dependencies{
		Logger: rt.logger,
		LLM:    rt.llm,
		Sender: sender,
		Tokens: rt.tokens,
		Graph:  rt.graph,
		Guard:  rt.guard,
		Store:  rt.store,
	})
}

func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
	if rt.audit != nil {
		_ = rt.audit.Close()
	}
}

func buildStore(ctx context.Context) (state.Store, error) {
	backend := strings.ToLower(strings.TrimSpace(viper.GetString("state.backend")))
	switch backend {
	case "", "memory":
		return state.NewMemoryStore(), nil
	case "redis":
		store, err := state.NewRedisStore(state.RedisConfig{
			Addr:       viper.GetString("state.redis.addr"),
			Password:   viper.GetString("state.redis.password"),
			DB:         viper.GetInt("state.redis.db"),
			HistoryTTL: viper.GetDuration("state.redis.history_ttl"),
			KeyPrefix:  viper.GetString("state.redis.key_prefix"),
		})
		if err != nil {
			return nil, fmt.Errorf("build redis store: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown state.backend: %s", backend)
	}
}

func buildGuard() (*guard.Guard, guard.AuditSink, error) {
	cfg := guard.Config{
		AllowedTenants: viper.GetStringSlice("guard.allowed_tenants"),
		Audit: guard.AuditConfig{
			JSONLPath:      viper.GetString("guard.audit_jsonl_path"),
			RotateMaxBytes: viper.GetInt64("guard.audit_rotate_max_bytes"),
		},
	}
	cfg, err := guard.LoadPolicyFile(viper.GetString("guard.policy_file"), cfg)
	if err != nil {
		return nil, nil, err
	}

	var sink guard.AuditSink
	if strings.TrimSpace(cfg.Audit.JSONLPath) != "" {
		sink, err = guard.NewJSONLAuditSink(cfg.Audit.JSONLPath, cfg.Audit.RotateMaxBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit sink: %w", err)
		}
	}
	return guard.New(cfg, sink), sink, nil
}
