package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/nbkernel/internal/config"
	"github.com/roach88/nbkernel/internal/engine"
	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	Actor      string

	// Clock and IDs replace the wall clock and UUIDv7 ids in tests.
	Clock clockwork.Clock
	IDs   engine.IDGenerator

	v *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the nbkernel command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.v == nil {
		opts.v = config.New()
	}

	cmd := &cobra.Command{
		Use:     "nbkernel",
		Short:   "Notebook execution queue and kernel",
		Version: fmt.Sprintf("%s (event format v%s)", ir.KernelVersion, ir.IRVersion),
		Long: `nbkernel drives execution for a collaborative notebook.

Every change (cells, execution requests, kernel liveness) is an event in the
notebook's append-only log. The queue is a fold over that log: a kernel
claims the oldest pending entry, runs it and records the result, and any
reader replaying the log sees the same state.

Configuration comes from flags, NBKERNEL_* environment variables and an
optional YAML file (--config), in that order of precedence:
  NBKERNEL_NOTEBOOK_ID   notebook to operate on (required)
  NBKERNEL_SYNC_URL      event log location (default <notebook-id>.db)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			configureLogging(cmd.ErrOrStderr(), opts.Verbose)
			if opts.ConfigFile != "" {
				if err := config.ReadFile(opts.v, opts.ConfigFile); err != nil {
					return WrapExitError(ExitCommandError, "failed to load config", err)
				}
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigFile, "config", "", "YAML config file")
	flags.StringVar(&opts.Actor, "actor", defaultActor(), "user recorded as the origin of written events")
	config.Register(flags, opts.v)

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewTitleCommand(opts))
	cmd.AddCommand(NewCellCommand(opts))
	cmd.AddCommand(NewRequestCommand(opts))
	cmd.AddCommand(NewRequeueCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewKernelCommand(opts))

	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func configureLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func (o *RootOptions) origin() string {
	return "user:" + o.Actor
}

func (o *RootOptions) clock() clockwork.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clockwork.NewRealClock()
}

func (o *RootOptions) ids() engine.IDGenerator {
	if o.IDs != nil {
		return o.IDs
	}
	return engine.UUIDv7Generator{}
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.v)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// notebookLog is an opened, caught-up event log for one command.
type notebookLog struct {
	cfg    config.Config
	store  *store.Store
	engine *engine.Engine
	origin string
}

// openLog opens the configured log, checks it belongs to the notebook and
// folds it.
func (o *RootOptions) openLog(ctx context.Context) (*notebookLog, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	slog.Debug("opening event log", "notebook", cfg.NotebookID, "path", cfg.SyncURL)

	st, err := store.Open(cfg.SyncURL)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open event log", err)
	}
	if _, err := st.BindNotebook(ctx, cfg.NotebookID); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open event log", err)
	}

	eng := engine.New(st, o.ids())
	if _, err := eng.CatchUp(ctx); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read event log", err)
	}
	return &notebookLog{cfg: cfg, store: st, engine: eng, origin: o.origin()}, nil
}

func (l *notebookLog) Close() {
	if err := l.store.Close(); err != nil {
		slog.Error("error closing event log", "error", err)
	}
}

// emit appends p. A rejected event is a command failure.
func (l *notebookLog) emit(ctx context.Context, p ir.Payload) (ir.Event, error) {
	ev, out, err := l.engine.Emit(ctx, p, l.origin)
	if err != nil {
		return ir.Event{}, WrapExitError(ExitCommandError, "failed to write event", err)
	}
	if !out.Applied {
		return ev, NewExitError(ExitFailure, fmt.Sprintf("%s rejected: %s", p.EventName(), out.Reason))
	}
	slog.Debug("event written", "event", ev.Name, "id", ev.ID, "seq", ev.Seq)
	return ev, nil
}
