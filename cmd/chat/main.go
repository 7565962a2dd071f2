package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-chat/internal/client/api"
	"github.com/zhouzirui/z-chat/internal/client/session"
	"github.com/zhouzirui/z-chat/internal/client/syncerr"
	"github.com/zhouzirui/z-chat/internal/config"
	"github.com/zhouzirui/z-chat/internal/logging"
)

const appName = "chat"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// env is what every subcommand shares once the persistent flags are parsed.
type env struct {
	cfg    *config.ClientConfig
	holder *session.Holder
}

func newRootCmd() *cobra.Command {
	e := &env{}
	var (
		logLevel    string
		apiURL      string
		sessionFile string
	)

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Terminal client for z-chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("api-url") {
				cfg.APIURL = apiURL
				if os.Getenv("CHAT_PUSH_URL") == "" {
					cfg.PushURL = config.DerivePushURL(apiURL)
				}
			}
			if cmd.Flags().Changed("session-file") {
				cfg.SessionFile = sessionFile
			}
			if err := logging.Init(logging.Settings{Level: cfg.LogLevel}); err != nil {
				return errors.Wrap(err, "invalid log level")
			}

			e.cfg = cfg
			e.holder = session.NewHolder(cfg.SessionFile)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API base URL, e.g. http://localhost:8080/api")
	cmd.PersistentFlags().StringVar(&sessionFile, "session-file", "", "where the login session is stored")

	cmd.AddCommand(
		newLoginCmd(e),
		newLogoutCmd(e),
		newChannelsCmd(e),
		newHistoryCmd(e),
		newSendCmd(e),
		newTailCmd(e),
	)
	return cmd
}

// client builds an API client authenticated with the stored session.
func (e *env) client(requireSession bool) (*api.Client, error) {
	if requireSession {
		if _, err := e.holder.Load(); err != nil {
			if errors.Is(err, session.ErrNoSession) {
				return nil, errors.New("not logged in, run `chat login <username>` first")
			}
			return nil, err
		}
	}
	return api.NewClient(e.cfg.APIURL, e.holder)
}

// explain turns an expired session into a hint and forgets it.
func (e *env) explain(err error) error {
	if err != nil && syncerr.IsAuth(err) {
		_ = e.holder.Remove()
		return errors.New("session expired or revoked, run `chat login <username>` again")
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}
