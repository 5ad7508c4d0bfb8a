package cli

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
)

// newDoctorCommand checks the engine's external prerequisites and
// provider reachability, printing a human-readable report.
func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external prerequisites (tmux, git) and LLM provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok := true
			ok = checkBinary("tmux") && ok
			ok = checkBinary("git") && ok

			engine, err := buildEngine()
			if err != nil {
				fmt.Println("[FAIL] build engine:", err)
				return nil
			}
			defer engine.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, h := range engine.Router.HealthCheck(ctx, 10*time.Second) {
				if h.OK {
					fmt.Println("[ OK ] provider", h.Name)
				} else {
					fmt.Println("[FAIL] provider", h.Name, h.Error)
					ok = false
				}
			}

			if !ok {
				fmt.Println("doctor found problems")
			} else {
				fmt.Println("all checks passed")
			}
			return nil
		},
	}
}

func checkBinary(name string) bool {
	if _, err := exec.LookPath(name); err != nil {
		fmt.Printf("[FAIL] %s not found on PATH\n", name)
		return false
	}
	fmt.Printf("[ OK ] %s found\n", name)
	return true
}
