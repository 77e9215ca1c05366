package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "BOTPLUS"

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "botplus",
		Short: "Channel bot bridging chat to an LLM backend",
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))

	// Global logging flags, usable across serve/chat.
	cmd.PersistentFlags().String("log-level", "", "Logging level: debug|info|warn|error (defaults to info; debug if --trace).")
	cmd.PersistentFlags().String("log-format", "text", "Logging format: text|json.")
	cmd.PersistentFlags().Bool("log-add-source", false, "Include source file:line in logs.")
	cmd.PersistentFlags().Bool("trace", false, "Print extra debug info to stderr.")

	_ = viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", cmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.add_source", cmd.PersistentFlags().Lookup("log-add-source"))
	_ = viper.BindPFlag("trace", cmd.PersistentFlags().Lookup("trace"))

	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("trace", false)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func initConfig() {
	initViperDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}

func initViperDefaults() {
	viper.SetDefault("server.bind", "0.0.0.0")
	viper.SetDefault("server.port", 8000)

	viper.SetDefault("connector.token_service_url", "")
	viper.SetDefault("connector.oauth_connection", "")
	viper.SetDefault("connector.app_token", "")

	viper.SetDefault("guard.allowed_tenants", []string{})
	viper.SetDefault("guard.policy_file", "")
	viper.SetDefault("guard.audit_jsonl_path", "")
	viper.SetDefault("guard.audit_rotate_max_bytes", int64(10*1024*1024))

	viper.SetDefault("llm.provider", "azure")
	viper.SetDefault("llm.request_timeout", "90s")

	viper.SetDefault("graph.endpoint", "")

	viper.SetDefault("state.backend", "memory")
	viper.SetDefault("state.redis.addr", "127.0.0.1:6379")
	viper.SetDefault("state.redis.db", 0)
	viper.SetDefault("state.redis.history_ttl", "24h")
	viper.SetDefault("state.redis.key_prefix", "botplus")
	viper.SetDefault("state.history_max_turns", 20)
	viper.SetDefault("state.token_ttl", "5m")
	viper.SetDefault("state.signin_ttl", "10m")

	viper.SetDefault("intent.enabled", false)
	viper.SetDefault("intent.max_history", 6)

	viper.SetDefault("stream.interval", "1500ms")
	viper.SetDefault("stream.feedback_loop", true)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.console", false)
}
