package cli

import (
	"github.com/benderhq/engine/internal/interfaces/tui"
	"github.com/spf13/cobra"
)

func newAttachCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Open a live dashboard over the running session",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := buildEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			return tui.Run(engine)
		},
	}
}
