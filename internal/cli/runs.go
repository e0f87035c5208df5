package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/strider/pkg/model"
)

func newRunsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Trace database path (default from config, ~/.strider/strider.db)")

	cmd.AddCommand(
		newRunsListCmd(&dbPath),
		newRunsShowCmd(&dbPath),
		newRunsDispatchesCmd(&dbPath),
		newRunsDeleteCmd(&dbPath),
	)
	return cmd
}

func newRunsListCmd(dbPath *string) *cobra.Command {
	var (
		limit int
		state string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := model.ListOptions{Limit: limit, State: model.RunState(strings.ToUpper(state))}
			runs, total, err := st.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-20s  %-10s  %-10s  %s\n", "ID", "WORKLOAD", "STATE", "DISPATCHES", "STARTED")
			fmt.Fprintf(out, "%-40s  %-20s  %-10s  %-10s  %s\n", "----", "--------", "-----", "----------", "-------")
			for _, r := range runs {
				fmt.Fprintf(out, "%-40s  %-20s  %-10s  %-10s  %s\n",
					r.ID, r.Workload, r.State, humanize.Comma(int64(r.Dispatches)), humanize.Time(r.StartedAt))
			}
			if len(runs) < total {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&state, "state", "", "Only list runs in this state (completed, stopped, failed)")
	return cmd
}

func newRunsShowCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run_id>",
		Short: "Show a run with its tasks and CPU shares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			shares, err := st.Shares(cmd.Context(), run.ID)
			if err != nil {
				return fmt.Errorf("shares: %w", err)
			}

			out := cmd.OutOrStdout()
			printRun(out, run)
			fmt.Fprintf(out, "  Mismatches: %d\n", run.Mismatches)
			printTasks(out, run.Tasks)
			printShares(out, shares)
			return nil
		},
	}
}

func newRunsDispatchesCmd(dbPath *string) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "dispatches <run_id>",
		Short: "Print the dispatch trace of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			ds, total, err := st.ListDispatches(cmd.Context(), args[0], model.ListOptions{Limit: limit, Offset: offset})
			if err != nil {
				return fmt.Errorf("list dispatches: %w", err)
			}
			out := cmd.OutOrStdout()
			if total == 0 {
				fmt.Fprintf(out, "No dispatches recorded for %s.\n", args[0])
				return nil
			}

			fmt.Fprintf(out, "%-8s  %-5s  %-8s  %-20s  %s\n", "SEQ", "PID", "PRIORITY", "STRIDE BEFORE", "STRIDE AFTER")
			for _, d := range ds {
				fmt.Fprintf(out, "%-8d  %-5d  %-8d  %-20d  %d\n", d.Seq, d.Pid, d.Priority, d.StrideBefore, d.StrideAfter)
			}
			if offset+len(ds) < total {
				fmt.Fprintf(out, "\n(%d-%d of %s shown)\n", offset+1, offset+len(ds), humanize.Comma(int64(total)))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of dispatches to print")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many dispatches")
	return cmd
}

func newRunsDeleteCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run_id>",
		Short: "Delete a recorded run and its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteRun(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}
