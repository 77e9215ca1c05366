package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frdeange/BotPlusAzureOpenAI/activity"
	"github.com/frdeange/BotPlusAzureOpenAI/internal/logutil"
	"github.com/frdeange/BotPlusAzureOpenAI/internal/telemetry"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the bot from the terminal",
		Long:  "Runs the full routing path against stdin/stdout, no channel required. Useful for prompt and config debugging.",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx := cmd.Context()

	shutdownTelemetry, err := telemetry.Setup(ctx, "botplus", telemetry.Config{
		Enabled: viper.GetBool("telemetry.enabled"),
		Console: viper.GetBool("telemetry.console"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	rt, err := buildRuntime(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	router, err := rt.router(&consoleSender{out: os.Stdout})
	if err != nil {
		return err
	}

	conversationID := "console-" + uuid.NewString()
	fmt.Println("Type a message, Ctrl-D to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			break
		}

		a := activity.Activity{
			Type:         activity.TypeMessage,
			ID:           uuid.NewString(),
			ChannelID:    "console",
			Text:         text,
			From:         activity.ChannelAccount{ID: "console-user", Name: "console"},
			Recipient:    activity.ChannelAccount{ID: "botplus", Name: "botplus"},
			Conversation: activity.ConversationAccount{ID: conversationID},
		}
		if _, err := router.Handle(ctx, a); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
	return scanner.Err()
}

// consoleSender prints outbound activities. Streaming typing updates are
// skipped so each answer appears once, when the final message lands.
type consoleSender struct {
	out *os.File
}

func (s *consoleSender) ReplyToActivity(ctx context.Context, a activity.Activity) (string, error) {
	return s.print(a)
}

func (s *consoleSender) SendToConversation(ctx context.Context, a activity.Activity) (string, error) {
	return s.print(a)
}

func (s *consoleSender) print(a activity.Activity) (string, error) {
	if a.Type == activity.TypeTyping {
		return uuid.NewString(), nil
	}
	if a.Text != "" {
		_, _ = fmt.Fprintf(s.out, "bot> %s\n", a.Text)
	}
	for _, att := range a.Attachments {
		if att.ContentType == activity.OAuthCardContentType {
			_, _ = fmt.Fprintln(s.out, "bot> [sign-in card: complete the OAuth flow in a real channel]")
		}
	}
	return uuid.NewString(), nil
}
