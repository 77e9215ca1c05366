package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frdeange/BotPlusAzureOpenAI/activity"
	"github.com/frdeange/BotPlusAzureOpenAI/bot"
	"github.com/frdeange/BotPlusAzureOpenAI/connector"
	"github.com/frdeange/BotPlusAzureOpenAI/internal/configutil"
	"github.com/frdeange/BotPlusAzureOpenAI/internal/logutil"
	"github.com/frdeange/BotPlusAzureOpenAI/internal/retryutil"
	"github.com/frdeange/BotPlusAzureOpenAI/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the channel ingress HTTP server",
		RunE:  runServe,
	}

	cmd.Flags().String("bind", "0.0.0.0", "Address to bind.")
	cmd.Flags().Int("port", 8000, "Port to listen on.")
	cmd.Flags().String("auth-token", "", "Bearer token required on /api/messages (empty disables).")
	_ = viper.BindPFlag("server.auth_token", cmd.Flags().Lookup("auth-token"))

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "botplus", telemetry.Config{
		Enabled: viper.GetBool("telemetry.enabled"),
		Console: viper.GetBool("telemetry.console"),
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	rt, err := buildRuntime(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	sender := connector.New(nil, connector.StaticToken(viper.GetString("connector.app_token")))
	router, err := rt.router(sender)
	if err != nil {
		return err
	}

	srv := &server{
		logger:    logger,
		router:    router,
		rt:        rt,
		authToken: strings.TrimSpace(viper.GetString("server.auth_token")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", srv.handleMessages)
	mux.HandleFunc("/api/chat/ws", srv.handleChatWS)
	mux.HandleFunc("/healthz", srv.handleHealthz)

	bind := configutil.FlagOrViperString(cmd, "bind", "server.bind")
	port := configutil.FlagOrViperInt(cmd, "port", "server.port")
	addr := net.JoinHostPort(bind, strconv.Itoa(port))

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serve_listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("serve_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

type server struct {
	logger    *slog.Logger
	router    *bot.Router
	rt        *runtime
	authToken string
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleMessages is the channel ingress. The channel retries non-2xx
// deliveries, so handler failures after decode are logged and acknowledged
// rather than surfaced; a redelivered message would trigger a second
// completion.
func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	a, err := activity.Decode(r.Body)
	if err != nil {
		s.logger.Warn("activity_decode_failed", "error", err.Error())
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, err := s.router.Handle(r.Context(), a)
	if err != nil {
		s.logger.Error("activity_handle_failed",
			"type", string(a.Type),
			"conversation_id", a.Conversation.ID,
			"error", err.Error())
		if a.Type == activity.TypeConversationUpdate {
			// Welcome sends fail transiently when the channel is still
			// setting the conversation up.
			retryutil.AsyncRetry(s.logger, "welcome_send", 0, 0, func(ctx context.Context) error {
				_, err := s.router.Handle(ctx, a)
				return err
			})
		}
	}

	if resp != nil {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.Warn("invoke_response_write_failed", "error", err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.authToken)) == 1
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dev console is same-host tooling, not a public surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleChatWS is a development console: each connection gets its own
// conversation and a sender that writes outbound activities back over the
// socket, so the full routing path runs without a channel in front.
func (s *server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", "error", err.Error())
		return
	}
	defer conn.Close()

	sender := &wsSender{conn: conn}
	router, err := s.rt.router(sender)
	if err != nil {
		s.logger.Error("ws_router_build_failed", "error", err.Error())
		return
	}

	conversationID := "ws-" + uuid.NewString()
	s.logger.Info("ws_session_started", "conversation_id", conversationID)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("ws_read_failed", "error", err.Error())
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		text := strings.TrimSpace(string(payload))
		if text == "" {
			continue
		}

		a := activity.Activity{
			Type:         activity.TypeMessage,
			ID:           uuid.NewString(),
			ChannelID:    "webchat",
			Text:         text,
			From:         activity.ChannelAccount{ID: "ws-user", Name: "console"},
			Recipient:    activity.ChannelAccount{ID: "botplus", Name: "botplus"},
			Conversation: activity.ConversationAccount{ID: conversationID},
		}
		if _, err := router.Handle(r.Context(), a); err != nil {
			s.logger.Error("ws_handle_failed", "error", err.Error())
			_ = sender.writeError(fmt.Sprintf("handler error: %v", err))
		}
	}
}

// wsSender writes outbound activities as JSON text frames. Gorilla
// connections allow one concurrent writer, hence the mutex.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) ReplyToActivity(ctx context.Context, a activity.Activity) (string, error) {
	return s.write(a)
}

func (s *wsSender) SendToConversation(ctx context.Context, a activity.Activity) (string, error) {
	return s.write(a)
}

func (s *wsSender) write(a activity.Activity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(a); err != nil {
		return "", fmt.Errorf("write ws frame: %w", err)
	}
	return uuid.NewString(), nil
}

func (s *wsSender) writeError(text string) error {
	_, err := s.write(activity.Activity{
		Type: activity.TypeMessage,
		Text: text,
	})
	return err
}
