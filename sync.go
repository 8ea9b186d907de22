package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/propscout/propsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Long: `Push queued local writes to the server, then pull server changes since
the saved cursor.

The server health endpoint is probed first; when it is unreachable the cycle
is not started and queued writes stay queued. Pull failures are reported but
do not fail the command.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
}

// cycleOutput is the --json shape of a cycle report.
type cycleOutput struct {
	Trigger      string    `json:"trigger"`
	Started      time.Time `json:"started"`
	DurationMS   int64     `json:"duration_ms"`
	Pushed       int       `json:"pushed"`
	Failed       int       `json:"failed"`
	DeadLettered int       `json:"dead_lettered"`
	Deferred     int       `json:"deferred"`
	Pulled       int       `json:"pulled"`
	PullError    string    `json:"pull_error,omitempty"`
	Conflicts    []string  `json:"conflicts,omitempty"`
}

func newCycleOutput(r *sync.CycleReport, conflicts []string) cycleOutput {
	out := cycleOutput{
		Trigger:      string(r.Trigger),
		Started:      r.Started,
		DurationMS:   r.Duration.Milliseconds(),
		Pushed:       r.Push.Processed,
		Failed:       r.Push.Failed,
		DeadLettered: r.Push.DeadLettered,
		Deferred:     r.Push.Deferred,
		Pulled:       r.Pulled,
		Conflicts:    conflicts,
	}

	if r.PullErr != nil {
		out.PullError = r.PullErr.Error()
	}

	return out
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	sess, err := newSyncSession(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.Monitor.Update(sess.Prober.Probe(ctx))

	var conflicts []string

	unsub := sess.Bus.Subscribe(func(ev sync.Event) {
		if ev.Type == sync.EventConflict && ev.Conflict != nil {
			conflicts = append(conflicts, formatConflict(ev.Conflict))
		}
	})
	defer unsub()

	if showProgress(cc) {
		progress := newPushProgress(os.Stderr)
		defer progress.finish()
		defer sess.Bus.Subscribe(progress.Handle)()
	}

	report, err := sess.Engine.SyncNow(ctx)
	if errors.Is(err, sync.ErrOffline) {
		return fmt.Errorf("server unreachable at %s, local changes remain queued: %w", cc.Cfg.CheckURL, err)
	}

	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), newCycleOutput(report, conflicts))
	}

	printCycleText(cmd.OutOrStdout(), report, conflicts)

	return nil
}

// showProgress reports whether a progress bar should be drawn.
func showProgress(cc *CLIContext) bool {
	return !cc.Flags.Quiet && !cc.Flags.JSON && isatty.IsTerminal(os.Stderr.Fd())
}

func formatConflict(d *sync.ConflictDecision) string {
	return fmt.Sprintf("%s/%s: %s", d.Table, d.RecordID, d.Resolution)
}

func printCycleText(w io.Writer, r *sync.CycleReport, conflicts []string) {
	fmt.Fprintf(w, "Sync complete in %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  pushed:        %d\n", r.Push.Processed)

	if r.Push.Failed > 0 {
		fmt.Fprintf(w, "  failed:        %d (will retry)\n", r.Push.Failed)
	}

	if r.Push.DeadLettered > 0 {
		fmt.Fprintf(w, "  dead-lettered: %d (see 'propsync queue list --dead')\n", r.Push.DeadLettered)
	}

	if r.Push.Deferred > 0 {
		fmt.Fprintf(w, "  deferred:      %d (behind an unsent change to the same record)\n", r.Push.Deferred)
	}

	fmt.Fprintf(w, "  pulled:        %d\n", r.Pulled)

	if r.PullErr != nil {
		fmt.Fprintf(w, "  pull error:    %v\n", r.PullErr)
	}

	for _, c := range conflicts {
		fmt.Fprintf(w, "  conflict:      %s\n", c)
	}
}
