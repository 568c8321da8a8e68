package main

import (
	"os"
	"os/signal"
	"syscall"

	"haine/internal/service/app"
	"haine/internal/utils/log"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		server   string
		name     string
		password string
		peerID   int64
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "haine-client --name <name> --peer <user id>",
		Short: "Terminal chat client with end-to-end encrypted messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || peerID <= 0 {
				return errors.New("--name and --peer are required")
			}
			if password == "" {
				password = os.Getenv("HAINE_PASSWORD")
			}
			if err := log.Init(logLevel, true); err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a := app.NewApp(app.NewClient(server, nil))
			go func() {
				<-ctx.Done()
				a.Stop()
			}()
			return a.Run(ctx, name, password, peerID)
		},
	}

	f := cmd.Flags()
	f.StringVar(&server, "server", "http://localhost:9090", "server base URL")
	f.StringVar(&name, "name", "", "account name, created on first use")
	f.StringVar(&password, "password", "", "account password (or HAINE_PASSWORD)")
	f.Int64Var(&peerID, "peer", 0, "user id to chat with")
	f.StringVar(&logLevel, "log-level", "error", "log level")
	return cmd
}
