package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/campuslife/bookingagent/internal/agent"
	"github.com/campuslife/bookingagent/internal/bridge"
	"github.com/campuslife/bookingagent/internal/browser"
	"github.com/campuslife/bookingagent/internal/config"
	"github.com/campuslife/bookingagent/internal/llm"
	"github.com/campuslife/bookingagent/internal/memory"
	"github.com/campuslife/bookingagent/internal/observability"
	"github.com/campuslife/bookingagent/internal/planner"
	"github.com/campuslife/bookingagent/internal/scanner"
)

// sessionStore is the combined persistence surface a chat session needs:
// user facts for the profile tools and cookies for login reuse.
type sessionStore interface {
	memory.FactStore
	memory.CookieStore
}

// newChatCmd creates and configures the `chat` command.
func newChatCmd() *cobra.Command {
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Starts the interactive booking assistant",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so they override config file and environment values.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-resolve the config now that the flags are bound, so flag
			// values override the file and environment with the right
			// precedence.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to re-resolve config with flag overrides: %w", err)
			}
			appConfig = cfg

			userID := viper.GetString("user")
			local := viper.GetBool("local")

			store, err := newSessionStore(ctx, cfg, logger)
			if err != nil {
				return err
			}

			// The page surface: either a locally driven browser or a
			// websocket listener an embedded web view dials into.
			var (
				conn       bridge.PageConn
				setHandler func(func([]byte))
			)
			if local {
				page := browser.NewLocalPage(&cfg.Browser, logger)
				if err := page.Start(ctx); err != nil {
					return fmt.Errorf("failed to start local browser: %w", err)
				}
				defer page.Close()
				conn, setHandler = page, page.SetHandler
			} else {
				srv := bridge.NewWSServer(logger)
				defer srv.Close()
				httpSrv := &http.Server{Addr: cfg.Bridge.ListenAddr, Handler: srv}
				go func() {
					if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("Bridge listener failed", zap.Error(err))
					}
				}()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = httpSrv.Shutdown(shutdownCtx)
				}()
				logger.Info("Waiting for a page surface to connect",
					zap.String("listen_addr", cfg.Bridge.ListenAddr))
				conn, setHandler = srv, srv.SetHandler
			}

			b := bridge.New(logger, conn, store)
			setHandler(b.HandleRaw)

			actions := browser.NewActions(b, cfg, logger)
			sc := scanner.New(cfg.Scanner, cfg.Venue, logger)

			router, err := llm.NewRouterFromConfig(cfg.LLM, logger)
			if err != nil {
				return err
			}
			pl := planner.New(router, cfg.Venue, agent.DefaultToolCatalog(), logger)

			out := cmd.OutOrStdout()
			notifier := agent.NotifierFunc(func(message string) {
				fmt.Fprintln(out, message)
			})
			orch := agent.NewOrchestrator(actions, sc, router.Vision(), cfg, notifier, logger)

			session := agent.NewSession(userID, agent.SessionDeps{
				Planner:      pl,
				Orchestrator: orch,
				Facts:        store,
				MaxSteps:     cfg.Agent.MaxSteps,
				Logger:       logger,
			})

			if local {
				warmUp(ctx, actions, store, cfg.Venue.DefaultURL, logger)
			}

			return runChatLoop(ctx, cmd, session)
		},
	}

	chatCmd.Flags().Bool("local", false, "Drive a locally launched browser instead of listening for a web view")
	chatCmd.Flags().Bool("headless", true, "Run the local browser headless")
	chatCmd.Flags().String("user", "local", "User ID owning the session's facts and preferences")
	return chatCmd
}

// newSessionStore selects the persistence backend from config.
func newSessionStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (sessionStore, error) {
	switch cfg.Memory.Backend {
	case "redis":
		store, err := memory.NewRedisStore(ctx, cfg.Memory.RedisURL, cfg.Venue.CookieDomain, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, nil
	default:
		return memory.NewInMemoryStore(cfg.Venue.CookieDomain), nil
	}
}

// warmUp opens the venue entry page and replays any stored cookies so a
// returning user can skip the SSO flow. Failures are not fatal; the booking
// flow will fall back to the interactive login wait.
func warmUp(ctx context.Context, actions *browser.Actions, store sessionStore, url string, logger *zap.Logger) {
	if err := actions.Navigate(ctx, url); err != nil {
		logger.Warn("Initial navigation failed", zap.Error(err))
		return
	}
	script, err := store.LoadInjectionScript(ctx)
	if err != nil || script == "" {
		return
	}
	if err := actions.InjectScript(script); err != nil {
		logger.Debug("Cookie replay failed", zap.Error(err))
		return
	}
	// Reload so the restored cookies take effect, then keep the session
	// fresh while the user chats.
	if err := actions.Navigate(ctx, url); err != nil {
		logger.Debug("Reload after cookie replay failed", zap.Error(err))
		return
	}
	if err := actions.InjectScript(browser.CookieKeepAlive(5 * time.Minute)); err != nil {
		logger.Debug("Cookie keep-alive install failed", zap.Error(err))
	}
}

// runChatLoop reads user messages from stdin until EOF or an exit command.
func runChatLoop(ctx context.Context, cmd *cobra.Command, session *agent.Session) error {
	in := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "图书馆预约助手已就绪。输入 exit 退出，reset 开始新的对话。")
	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(in.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "reset":
			session.Reset()
			fmt.Fprintln(out, "已开始新的对话。")
			continue
		}

		resp := session.Process(ctx, line)
		fmt.Fprintln(out, resp.FinalAnswer)
		for _, quick := range resp.QuickReplies {
			fmt.Fprintf(out, "  [%s]\n", quick)
		}
	}
	return in.Err()
}
