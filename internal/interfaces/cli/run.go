package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/benderhq/engine/internal/app"
	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagSimple             bool
	flagMedium             bool
	flagComplex            bool
	flagAuto               bool
	flagVisible            bool
	flagReviewLoop         bool
	flagMaxIterations      int
	flagReviewerMode       bool
	flagSkipFirstExecution bool
)

// newRunCommand implements spec §6's `run [TASK]`: worker selection is
// mutually exclusive simple/medium/complex/auto (default auto), with
// an optional review-loop mode that iterates executor/reviewer passes
// instead of a single-shot supervised run.
func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [TASK]",
		Short: "Run the supervision engine once against TASK",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			return runOnce(cmd.Context(), task)
		},
	}
	cmd.Flags().BoolVar(&flagSimple, "simple", false, "force the simple worker tier")
	cmd.Flags().BoolVar(&flagMedium, "medium", false, "force the medium worker tier")
	cmd.Flags().BoolVar(&flagComplex, "complex", false, "force the complex worker tier")
	cmd.Flags().BoolVar(&flagAuto, "auto", true, "infer the worker tier with quick_assess (default)")
	cmd.Flags().BoolVar(&flagVisible, "visible", false, "open native terminal windows instead of the multiplexer")
	cmd.Flags().BoolVar(&flagReviewLoop, "review-loop", false, "iterate executor/reviewer passes instead of a single supervised run")
	cmd.Flags().IntVar(&flagMaxIterations, "max-iterations", 10, "review-loop iteration budget")
	cmd.Flags().BoolVar(&flagReviewerMode, "reviewer-mode", false, "skip LLM findings analysis, use the severity heuristic")
	cmd.Flags().BoolVar(&flagSkipFirstExecution, "skip-first-execution", false, "skip the first executor pass (task was already partially done)")
	return cmd
}

func selectedTier() (entity.WorkerTier, bool) {
	switch {
	case flagSimple:
		return entity.TierSimple, true
	case flagMedium:
		return entity.TierMedium, true
	case flagComplex:
		return entity.TierComplex, true
	default:
		return "", false
	}
}

func runOnce(parentCtx context.Context, task string) error {
	if flagVisible {
		cfg.Session.DisplayMode = "visible"
	}
	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()
	engine.CleanupStaleSessions(parentCtx)

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := checkRecovery(ctx, engine); err != nil {
		log.Warn("recovery check failed, continuing as a fresh run", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		<-sigCh
		engine.ReviewLoop.RequestStop()
		cancel()
		close(interrupted)
	}()

	var runErr error
	var success bool
	if flagReviewLoop {
		result, err := engine.ReviewLoop.RunLoop(ctx, task, flagMaxIterations, flagReviewerMode, flagSkipFirstExecution)
		runErr = err
		success = result.Success
		if err == nil {
			printLoopResult(result)
		}
	} else {
		success, runErr = runSingleShot(ctx, engine, task)
	}

	select {
	case <-interrupted:
		fmt.Fprintln(os.Stderr, "interrupted")
		os.Exit(130)
	default:
	}
	if runErr != nil {
		return runErr
	}
	if !success {
		os.Exit(1)
	}
	return nil
}

// runSingleShot implements the non-review-loop path: clarify the task,
// pick a tier (explicit flag, or quick_assess when --auto), start the
// worker, wait for its completion oracle to resolve, and hand the
// final output to the Supervisor for one CONTINUE/NEW_CHAT/ASK_DROID/
// ENFORCE_TASK/ESCALATE decision (spec §4.J).
func runSingleShot(ctx context.Context, engine *app.Engine, rawTask string) (bool, error) {
	clarified := engine.Clarifier.Clarify(ctx, rawTask, promptUserForCriteria)

	tier, explicit := selectedTier()
	if !explicit {
		tier = service.QuickAssess(rawTask)
	}

	if err := engine.Workers.StartTask(ctx, clarified, tier, ""); err != nil {
		return false, fmt.Errorf("start worker: %w", err)
	}
	defer engine.Workers.Stop(ctx)

	success, scrollback, err := engine.Workers.WaitForCompletion(ctx, engine.Config.Session.IdleTimeout)
	if err != nil {
		return false, fmt.Errorf("wait for completion: %w", err)
	}

	decision := engine.Supervisor.AnalyzeResponse(ctx, scrollback, clarified.Clarified, "single-shot", 1, 1, clarified.Criteria)
	fmt.Printf("worker_completed=%v supervisor_action=%s\n", success, decision.Action)
	if decision.Message != "" {
		fmt.Println("supervisor message:", decision.Message)
	}
	return success && decision.Action != service.ActionEscalate, nil
}

// checkRecovery surfaces a prior interrupted run, if one exists, and
// offers to restore its stashed working-tree changes before a fresh
// run begins (spec §4.L's recovery flow). It never blocks a run that
// has nothing to resume.
func checkRecovery(ctx context.Context, engine *app.Engine) error {
	info, err := engine.Recovery.CheckRecoveryNeeded(ctx, engine.Config.Session.ProjectPath)
	if err != nil {
		return err
	}
	if !info.CanResume {
		return nil
	}

	fmt.Printf("found an interrupted run (step=%s, iteration=%d, uncommitted=%v)\n",
		info.State.CurrentStep, info.State.CurrentIteration, info.HasUncommitted)
	if !info.HasRecoveryStash {
		return nil
	}

	fmt.Print("restore the stashed changes from that run before continuing? [y/N] ")
	var reply string
	_, _ = fmt.Scanln(&reply)
	if strings.ToLower(strings.TrimSpace(reply)) != "y" {
		return nil
	}
	return engine.Recovery.PrepareRecovery(ctx, engine.Config.Session.ProjectPath, info, true)
}

func promptUserForCriteria(criteria []string) string {
	fmt.Println("proposed acceptance criteria:")
	for _, c := range criteria {
		fmt.Println(" -", c)
	}
	fmt.Print("approve? [Y/n/replace] ")
	var reply string
	_, _ = fmt.Scanln(&reply)
	return reply
}

func printLoopResult(result entity.LoopResult) {
	fmt.Printf("success=%v iterations=%d findings=%d fixed=%d cycle_detected=%v\n",
		result.Success, result.Iterations, result.TotalFindings, result.FixedFindings, result.CycleDetected)
	if result.CycleDetected {
		fmt.Println("cycle reason:", result.CycleReason)
	}
}
