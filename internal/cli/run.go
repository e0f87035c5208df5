package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/strider/internal/kernel"
	"github.com/me/strider/internal/trace"
	"github.com/me/strider/internal/workload"
)

func newRunCmd() *cobra.Command {
	var (
		dbPath        string
		noRecord      bool
		maxDispatches int
		bigStride     uint64
		policy        string
	)

	cmd := &cobra.Command{
		Use:   "run <workload>",
		Short: "Boot the kernel on a workload file and report the schedule",
		Long: "Run loads a YAML (.yaml, .yml) or HCL (.hcl) workload, spawns its start\n" +
			"programs and schedules them until every task exits, the dispatch budget\n" +
			"is used up, or the command is interrupted. The run is recorded in the\n" +
			"trace database unless --no-record is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := workload.Load(args[0])
			if err != nil {
				return err
			}

			runCfg := cfg
			if cmd.Flags().Changed("max-dispatches") {
				runCfg.Kernel.MaxDispatches = maxDispatches
			}
			if cmd.Flags().Changed("big-stride") {
				runCfg.Kernel.BigStride = bigStride
			}
			if cmd.Flags().Changed("policy") {
				runCfg.Kernel.Policy = policy
			}
			if err := runCfg.Validate(); err != nil {
				return err
			}
			kcfg := runCfg.Kernel

			rec := trace.NewRecorder(w.Name, kcfg.Policy, kcfg.BigStride)
			build := workload.NewBuild(w, logger)
			k, err := kernel.New(kcfg, logger,
				kernel.WithDispatchObserver(rec),
				kernel.WithLifecycleObserver(rec),
			)
			if err != nil {
				return err
			}
			if err := build.Install(k); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("run starting", "run_id", rec.ID(), "workload", w.Name, "path", args[0])
			res, err := k.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s: %w", w.Name, err)
			}

			run := rec.Finish(res, build.Checks.Mismatches, k.Tasks())
			out := cmd.OutOrStdout()
			printRun(out, run)
			fmt.Fprintf(out, "  Checks:     %d checked, %d mismatched\n", build.Checks.Checked, build.Checks.Mismatches)
			printShares(out, sharesFromRun(run))

			if !noRecord {
				// The run context may already be cancelled; recording still happens.
				st, err := openStore(context.Background(), dbPath)
				if err != nil {
					return err
				}
				defer st.Close()
				if err := rec.Flush(context.Background(), st); err != nil {
					return err
				}
				fmt.Fprintf(out, "\nRecorded run %s\n", rec.ID())
			}

			if n := build.Checks.Mismatches; n > 0 {
				return fmt.Errorf("%d of %d syscall expectations failed", n, build.Checks.Checked)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Trace database path (default from config, ~/.strider/strider.db)")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "Do not write the run to the trace database")
	cmd.Flags().IntVar(&maxDispatches, "max-dispatches", 0, "Stop after this many dispatches (0 for no limit)")
	cmd.Flags().Uint64Var(&bigStride, "big-stride", 0, "Override the BigStride constant")
	cmd.Flags().StringVar(&policy, "policy", "", "Ready queue policy (stride, fifo)")

	return cmd
}
