package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/nbkernel/internal/ir"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Title string
	Owner string
}

// InitResult is the init command's output.
type InitResult struct {
	NotebookID string `json:"notebookId"`
	Log        string `json:"log"`
	Seq        int64  `json:"seq"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a notebook's event log",
		Long: `Create the event log for a notebook and record its title, owner and
kernel type. Initializing an already initialized notebook fails.

Examples:
  nbkernel init --notebook-id analysis --title "Q3 analysis"
  nbkernel init --notebook-id analysis --sync-url /data/analysis.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "notebook title")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "notebook owner (default --actor)")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	l, err := opts.openLog(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	owner := opts.Owner
	if owner == "" {
		owner = opts.Actor
	}
	ev, err := l.emit(ctx, ir.NotebookInitialized{
		Title:      opts.Title,
		Owner:      owner,
		KernelType: l.cfg.KernelType,
	})
	if err != nil {
		return err
	}

	result := InitResult{NotebookID: l.cfg.NotebookID, Log: l.cfg.SyncURL, Seq: ev.Seq}
	return newFormatter(opts.RootOptions, cmd).Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Initialized notebook %s in %s\n", result.NotebookID, result.Log)
	})
}

// NewTitleCommand creates the title command.
func NewTitleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "title <title>",
		Short: "Rename the notebook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := rootOpts.openLog(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			if _, err := l.emit(ctx, ir.NotebookTitleChanged{Title: args[0]}); err != nil {
				return err
			}
			return newFormatter(rootOpts, cmd).Success(map[string]string{"title": args[0]}, func(w io.Writer) {
				fmt.Fprintln(w, args[0])
			})
		},
	}
}
