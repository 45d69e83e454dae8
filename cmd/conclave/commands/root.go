package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"conclave/internal/app"
)

var (
	home     string
	user     string
	relayURL string
	verbose  bool
	groupID  string

	wire *app.Wire
)

// Execute runs the CLI. The context ends on SIGINT or SIGTERM so the
// receive stream shuts down cleanly.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "conclave",
		Short:         "End-to-end encrypted group chat CLI",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".conclave")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			log, err := buildLogger(verbose)
			if err != nil {
				return err
			}

			wire, err = app.NewWire(app.Config{
				Home:     home,
				User:     user,
				RelayURL: relayURL,
				Logger:   log,
			})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.conclave)")
	root.PersistentFlags().StringVarP(&user, "user", "u", "", "your username")
	root.PersistentFlags().StringVar(&relayURL, "relay", defaultRelay(), "relay base URL")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log protocol chatter")
	_ = root.MarkPersistentFlagRequired("user")

	root.AddCommand(
		registerCmd(),
		createGroupCmd(),
		addMemberCmd(),
		removeMemberCmd(),
		updateGroupCmd(),
		membersCmd(),
		sendCmd(),
		recvCmd(),
	)
	return root.ExecuteContext(ctx)
}

func defaultRelay() string {
	if v := os.Getenv("CONCLAVE_RELAY"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// buildLogger writes console output to stderr so it never mixes with
// message output; --verbose adds the dropped-frame chatter.
func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
