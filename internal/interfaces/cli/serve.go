package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	enginehttp "github.com/benderhq/engine/internal/interfaces/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCommand starts the localhost-only status/attach HTTP server
// (spec §6's gin+websocket surface) standalone, so a remote dashboard
// can watch a run started from another terminal via `bender run`.
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the status/attach HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := buildEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			srv := enginehttp.New(engine, log, cfg.HTTP.Addr)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sig
				log.Info("received shutdown signal")
				cancel()
			}()

			log.Info("serving status/attach HTTP", zap.String("addr", cfg.HTTP.Addr))
			return srv.Run(ctx)
		},
	}
}
