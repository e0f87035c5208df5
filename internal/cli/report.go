package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/strider/pkg/model"
)

func printRun(out io.Writer, run *model.Run) {
	fmt.Fprintf(out, "Run: %s\n", run.ID)
	fmt.Fprintf(out, "  Workload:   %s\n", run.Workload)
	fmt.Fprintf(out, "  Policy:     %s (big stride %s)\n", run.Policy, humanize.Comma(int64(run.BigStride)))
	fmt.Fprintf(out, "  State:      %s", run.State)
	if run.Reason != "" {
		fmt.Fprintf(out, " (%s)", run.Reason)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Dispatches: %s\n", humanize.Comma(int64(run.Dispatches)))
	fmt.Fprintf(out, "  Started:    %s (%s)\n", run.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "  Took:       %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Microsecond))
	}
	if len(run.Syscalls) > 0 {
		names := make([]string, 0, len(run.Syscalls))
		for name := range run.Syscalls {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, humanize.Comma(int64(run.Syscalls[name]))))
		}
		fmt.Fprintf(out, "  Syscalls:   %s\n", strings.Join(parts, " "))
	}
}

func printTasks(out io.Writer, tasks []model.RunTask) {
	if len(tasks) == 0 {
		return
	}
	fmt.Fprintln(out, "  Tasks:")
	fmt.Fprintf(out, "    %-5s  %-6s  %-20s  %-8s  %-10s  %s\n", "PID", "PARENT", "NAME", "PRIORITY", "DISPATCHES", "EXIT")
	for _, t := range tasks {
		exit := "-"
		if t.ExitCode != nil {
			exit = fmt.Sprint(*t.ExitCode)
		}
		parent := "-"
		if t.Parent >= 0 {
			parent = fmt.Sprint(t.Parent)
		}
		fmt.Fprintf(out, "    %-5d  %-6s  %-20s  %-8d  %-10s  %s\n",
			t.Pid, parent, t.Name, t.Priority, humanize.Comma(int64(t.Dispatches)), exit)
	}
}

func printShares(out io.Writer, shares []model.Share) {
	if len(shares) == 0 {
		return
	}
	fmt.Fprintln(out, "  Shares:")
	fmt.Fprintf(out, "    %-5s  %-20s  %-8s  %-10s  %-8s  %s\n", "PID", "NAME", "PRIORITY", "DISPATCHES", "OBSERVED", "EXPECTED")
	for _, s := range shares {
		fmt.Fprintf(out, "    %-5d  %-20s  %-8d  %-10s  %-8s  %s\n",
			s.Pid, s.Name, s.Priority, humanize.Comma(int64(s.Dispatches)),
			percent(s.Observed), percent(s.Expected))
	}
}

func percent(f float64) string {
	return humanize.FtoaWithDigits(f*100, 2) + "%"
}

// sharesFromRun derives CPU shares from the per-task counts of a finished
// run, matching what the store computes from its dispatch table.
func sharesFromRun(run *model.Run) []model.Share {
	shares := make([]model.Share, 0, len(run.Tasks))
	for _, t := range run.Tasks {
		shares = append(shares, model.Share{Pid: t.Pid, Name: t.Name, Priority: t.Priority, Dispatches: t.Dispatches})
	}
	model.ComputeShares(shares)
	return shares
}
