package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/nbkernel/internal/projection"
	"github.com/roach88/nbkernel/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Show bool
}

// ReplayResult is the replay command's output.
type ReplayResult struct {
	Events        int            `json:"events"`
	LastSeq       int64          `json:"lastSeq"`
	Rejected      int            `json:"rejected"`
	Counts        map[string]int `json:"counts"`
	Deterministic bool           `json:"deterministic"`
	BadDigests    []int64        `json:"badDigests"`
	State         *rawState      `json:"state,omitempty"`
}

// rawState embeds a snapshot in JSON output without re-encoding it.
type rawState []byte

func (r rawState) MarshalJSON() ([]byte, error) { return r, nil }

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the event log and verify determinism",
		Long: `Fold the whole event log from scratch twice and check both folds produce
byte-identical state. Every stored payload digest is recomputed as well.

Exit codes:
  0 - replay is deterministic and every digest matches
  1 - the folds differ or a payload digest does not match
  2 - command error (bad config, unreadable log)

Examples:
  nbkernel replay --notebook-id analysis
  nbkernel replay --notebook-id analysis --show --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Show, "show", false, "include the replayed state")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	l, err := opts.openLog(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	result, snapshot, err := verifyReplay(ctx, l.store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay event log", err)
	}
	if opts.Show {
		s := rawState(snapshot)
		result.State = &s
	}

	out := newFormatter(opts.RootOptions, cmd)
	text := func(w io.Writer) { writeReplayResult(w, result, snapshot, opts.Show) }
	switch {
	case !result.Deterministic:
		return out.Failure(ExitFailure, "E_DETERMINISM", "replay is not deterministic", result, text)
	case len(result.BadDigests) > 0:
		return out.Failure(ExitFailure, "E_DIGEST",
			fmt.Sprintf("%d payload digests do not match", len(result.BadDigests)), result, text)
	}
	return out.Success(result, text)
}

// verifyReplay folds the log twice and compares the snapshots.
func verifyReplay(ctx context.Context, st *store.Store) (ReplayResult, []byte, error) {
	fold := func() ([]byte, []projection.Outcome, error) {
		events, err := st.ReadAll(ctx)
		if err != nil {
			return nil, nil, err
		}
		state, outcomes := projection.Replay(events)
		snapshot, err := state.Snapshot()
		return snapshot, outcomes, err
	}

	first, outcomes, err := fold()
	if err != nil {
		return ReplayResult{}, nil, fmt.Errorf("first replay: %w", err)
	}
	second, _, err := fold()
	if err != nil {
		return ReplayResult{}, nil, fmt.Errorf("second replay: %w", err)
	}

	bad, err := st.VerifyDigests(ctx)
	if err != nil {
		return ReplayResult{}, nil, err
	}
	counts, err := st.CountByName(ctx)
	if err != nil {
		return ReplayResult{}, nil, err
	}

	result := ReplayResult{
		Events:        len(outcomes),
		Counts:        make(map[string]int, len(counts)),
		Deterministic: bytes.Equal(first, second),
		BadDigests:    []int64{},
	}
	result.BadDigests = append(result.BadDigests, bad...)
	for name, n := range counts {
		result.Counts[string(name)] = n
	}
	for _, o := range outcomes {
		if !o.Applied {
			result.Rejected++
		}
		result.LastSeq = o.Seq
	}
	return result, first, nil
}

func writeReplayResult(w io.Writer, result ReplayResult, snapshot []byte, show bool) {
	fmt.Fprintf(w, "Replayed %d events (last seq %d, %d rejected)\n", result.Events, result.LastSeq, result.Rejected)

	names := make([]string, 0, len(result.Counts))
	for name := range result.Counts {
		names = append(names, name)
	}
	sort.Strings(names)
	tw := table(w)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%d\t\n", name, result.Counts[name])
	}
	tw.Flush()

	if result.Deterministic {
		fmt.Fprintln(w, "✓ replay is deterministic")
	} else {
		fmt.Fprintln(w, "✗ replay is not deterministic")
	}
	if len(result.BadDigests) == 0 {
		fmt.Fprintln(w, "✓ all payload digests match")
	} else {
		fmt.Fprintf(w, "✗ digest mismatch at seq %v\n", result.BadDigests)
	}
	if show {
		fmt.Fprintf(w, "%s\n", snapshot)
	}
}
