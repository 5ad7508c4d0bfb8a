// Package cli implements the engine's command-line surface (spec §6):
// run, status, attach, serve, version, doctor. Grounded on the teacher's own
// cobra root-command wiring (a single root with global flags plus
// independent subcommands, each building whatever it needs from
// internal/app.Engine).
package cli

import (
	"fmt"
	"os"

	"github.com/benderhq/engine/internal/app"
	"github.com/benderhq/engine/internal/infrastructure/config"
	"github.com/benderhq/engine/internal/infrastructure/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	namespace string
	cfg       *config.Config
	log       *zap.Logger
)

// NewRootCommand builds the engine's root cobra command and all its
// subcommands.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "bender",
		Short: "Autonomous supervision engine for interactive coding-assistant CLIs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err = logger.NewLogger(logger.Config{
				Level:      cfg.Log.Level,
				Format:     cfg.Log.Format,
				OutputPath: "stdout",
			})
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&namespace, "namespace", "bender", "multiplexer session namespace")

	root.AddCommand(newRunCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newAttachCommand())
	root.AddCommand(newVersionCommand())
	root.AddCommand(newDoctorCommand())
	root.AddCommand(newServeCommand())
	return root
}

// buildEngine is the one place every subcommand goes to get a wired
// Engine, so namespace/cfg/log stay consistent across commands.
func buildEngine() (*app.Engine, error) {
	return app.New(cfg, log, namespace)
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
