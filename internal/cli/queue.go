package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/roach88/nbkernel/internal/engine"
	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/projection"
	"github.com/roach88/nbkernel/internal/queue"
	"github.com/roach88/nbkernel/internal/session"
)

// waitPoll is how often request --wait re-reads the log.
const waitPoll = 200 * time.Millisecond

// RequestOptions holds flags for the request and requeue commands.
type RequestOptions struct {
	*RootOptions
	Wait  time.Duration
	Force bool
}

// RequestResult is the output of request and requeue.
type RequestResult struct {
	EntryID string       `json:"entryId"`
	CellID  string       `json:"cellId"`
	Seq     int64        `json:"seq"`
	Entry   *queue.Entry `json:"entry,omitempty"` // settled entry, with --wait
}

// NewRequestCommand creates the request command.
func NewRequestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RequestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "request <cell-id>",
		Short: "Queue a cell for execution",
		Long: `Append an execution request for a cell. The eligible kernel picks it up
in log order. With --wait the command follows the log until the entry
settles and prints its outputs.

Exit codes:
  0 - request written (and, with --wait, completed)
  1 - request rejected, execution failed, or --wait timed out
  2 - command error

Examples:
  nbkernel request c1
  nbkernel request c1 --wait 1m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(opts, cmd, args[0])
		},
	}
	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "wait up to this long for the entry to settle")
	return cmd
}

// NewRequeueCommand creates the requeue command.
func NewRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RequestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "requeue <entry-id>",
		Short: "Request a fresh execution for an entry's cell",
		Long: `Queue a new entry for the cell of an existing entry. Entries held by a
dead kernel are never reassigned automatically; requeue is how they are
recovered. The old entry stays in the log as it is.

Requeueing an entry that is still pending, or in flight on a live kernel,
fails unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequeue(opts, cmd, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "requeue even if the entry is pending or owned by a live kernel")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "wait up to this long for the new entry to settle")
	return cmd
}

func runRequest(opts *RequestOptions, cmd *cobra.Command, cellID string) error {
	ctx := cmd.Context()
	l, err := opts.openLog(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	return request(ctx, opts, cmd, l, cellID)
}

func runRequeue(opts *RequestOptions, cmd *cobra.Command, entryID string) error {
	ctx := cmd.Context()
	l, err := opts.openLog(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	state := l.engine.State()
	old, ok := state.Entry(entryID)
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("unknown entry %s", entryID))
	}
	if !opts.Force {
		if err := requeueAllowed(state, old, opts.clock().Now(), l.cfg.HeartbeatTimeout); err != nil {
			return err
		}
	}
	slog.Info("requeueing entry", "entry", old.ID, "cell", old.CellID, "status", old.Status)
	return request(ctx, opts, cmd, l, old.CellID)
}

// requeueAllowed refuses entries that will still run without help.
func requeueAllowed(s *projection.State, e queue.Entry, now time.Time, timeout time.Duration) error {
	switch {
	case e.Status == queue.StatusPending:
		return NewExitError(ExitFailure, fmt.Sprintf("entry %s is still pending (use --force)", e.ID))
	case e.Status.InFlight():
		for _, orphan := range s.Orphans(now, timeout) {
			if orphan.ID == e.ID {
				return nil
			}
		}
		return NewExitError(ExitFailure,
			fmt.Sprintf("entry %s is %s on live session %s (use --force)", e.ID, e.Status, e.AssignedSession))
	}
	return nil
}

func request(ctx context.Context, opts *RequestOptions, cmd *cobra.Command, l *notebookLog, cellID string) error {
	entryID := l.engine.NewID()
	ev, err := l.emit(ctx, ir.ExecutionRequested{EntryID: entryID, CellID: cellID, RequestedBy: opts.Actor})
	if err != nil {
		return err
	}
	result := RequestResult{EntryID: entryID, CellID: cellID, Seq: ev.Seq}
	out := newFormatter(opts.RootOptions, cmd)

	if opts.Wait <= 0 {
		return out.Success(result, func(w io.Writer) { fmt.Fprintln(w, entryID) })
	}

	entry, err := waitSettled(ctx, l.engine, opts.clock(), entryID, opts.Wait)
	if err != nil {
		return err
	}
	result.Entry = &entry
	text := func(w io.Writer) { writeSettled(w, entry) }
	if entry.Status == queue.StatusFailed {
		return out.Failure(ExitFailure, "E_EXECUTION_FAILED",
			fmt.Sprintf("entry %s failed: %s", entryID, entry.Error.Name), result, text)
	}
	return out.Success(result, text)
}

// waitSettled follows the log until entryID reaches a terminal status.
func waitSettled(ctx context.Context, eng *engine.Engine, clock clockwork.Clock, entryID string, wait time.Duration) (queue.Entry, error) {
	deadline := clock.After(wait)
	ticker := clock.NewTicker(waitPoll)
	defer ticker.Stop()

	for {
		if _, err := eng.CatchUp(ctx); err != nil {
			if ctx.Err() != nil {
				return queue.Entry{}, WrapExitError(ExitFailure, "interrupted while waiting", ctx.Err())
			}
			return queue.Entry{}, WrapExitError(ExitCommandError, "failed to read event log", err)
		}
		var e queue.Entry
		var ok bool
		eng.View(func(s *projection.State) { e, ok = s.Entry(entryID) })
		if ok && e.Status.Terminal() {
			return e, nil
		}

		select {
		case <-ctx.Done():
			return queue.Entry{}, WrapExitError(ExitFailure, "interrupted while waiting", ctx.Err())
		case <-deadline:
			return queue.Entry{}, NewExitError(ExitFailure,
				fmt.Sprintf("timed out after %s waiting for entry %s (status %s)", wait, entryID, e.Status))
		case <-ticker.Chan():
		}
	}
}

func writeSettled(w io.Writer, e queue.Entry) {
	fmt.Fprintf(w, "%s %s\n", e.ID, e.Status)
	for _, o := range e.Outputs {
		fmt.Fprint(w, o.Text)
		if !strings.HasSuffix(o.Text, "\n") {
			fmt.Fprintln(w)
		}
	}
	if e.Error != nil {
		fmt.Fprintf(w, "%s: %s\n", e.Error.Name, e.Error.Value)
		for _, line := range e.Error.Traceback {
			fmt.Fprintln(w, line)
		}
	}
}

// QueueOptions holds flags for the queue command.
type QueueOptions struct {
	*RootOptions
	Active bool
}

// QueueRow is one entry in the queue listing.
type QueueRow struct {
	queue.Entry
	Orphaned bool `json:"orphaned"`
}

// QueueResult is the queue command's output.
type QueueResult struct {
	Entries []QueueRow     `json:"entries"`
	Counts  map[string]int `json:"counts"`
	Orphans []string       `json:"orphans"`
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the execution queue",
		Long: `List queue entries in request order. Entries whose owning kernel is no
longer eligible are flagged as orphaned; recover them with requeue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Active, "active", false, "only pending and in-flight entries")
	return cmd
}

func runQueue(opts *QueueOptions, cmd *cobra.Command) error {
	l, err := opts.openLog(cmd.Context())
	if err != nil {
		return err
	}
	defer l.Close()

	result := buildQueueResult(l.engine.State(), opts.clock().Now(), l.cfg.HeartbeatTimeout, opts.Active)
	return newFormatter(opts.RootOptions, cmd).Success(result, func(w io.Writer) {
		tw := table(w)
		fmt.Fprintln(tw, "ENTRY\tCELL\tSTATUS\tSESSION\tREQUESTED BY\tSEQ\t")
		for _, r := range result.Entries {
			status := string(r.Status)
			if r.Orphaned {
				status += " (orphaned)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t\n",
				r.ID, r.CellID, status, dash(r.AssignedSession), dash(r.RequestedBy), r.RequestedSeq)
		}
		tw.Flush()
	})
}

func buildQueueResult(s *projection.State, now time.Time, timeout time.Duration, activeOnly bool) QueueResult {
	orphaned := map[string]bool{}
	result := QueueResult{Entries: []QueueRow{}, Counts: map[string]int{}, Orphans: []string{}}
	for _, e := range s.Orphans(now, timeout) {
		orphaned[e.ID] = true
		result.Orphans = append(result.Orphans, e.ID)
	}

	entries := s.QueueOrder()
	for status, n := range queue.Counts(entries) {
		result.Counts[string(status)] = n
	}
	for _, e := range entries {
		if activeOnly && e.Status.Terminal() {
			continue
		}
		result.Entries = append(result.Entries, QueueRow{Entry: e, Orphaned: orphaned[e.ID]})
	}
	return result
}

// SessionRow is one kernel session in the sessions listing.
type SessionRow struct {
	session.Session
	State    string `json:"state"` // status as shown to users, including stale and superseded
	Eligible bool   `json:"eligible"`
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "Show kernel sessions",
		Long: `List every kernel session in start order. A session that missed its
heartbeat window shows as stale; a ready session replaced by a newer one
shows as superseded. At most one session is eligible for new work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(rootOpts, cmd)
		},
	}
}

func runSessions(opts *RootOptions, cmd *cobra.Command) error {
	l, err := opts.openLog(cmd.Context())
	if err != nil {
		return err
	}
	defer l.Close()

	now := opts.clock().Now()
	timeout := l.cfg.HeartbeatTimeout
	rows := []SessionRow{}
	for _, s := range l.engine.State().SessionList() {
		rows = append(rows, SessionRow{
			Session:  s,
			State:    session.Describe(s, now, timeout),
			Eligible: session.IsEligible(s, now, timeout),
		})
	}

	return newFormatter(opts, cmd).Success(rows, func(w io.Writer) {
		tw := table(w)
		fmt.Fprintln(tw, "SESSION\tKERNEL\tSTATE\tLAST HEARTBEAT\tELIGIBLE\t")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t\n",
				r.ID, dash(r.KernelType), r.State,
				time.UnixMilli(r.LastHeartbeat).UTC().Format(time.RFC3339), r.Eligible)
		}
		tw.Flush()
	})
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
