package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/projection"
)

// CellOptions holds flags for the cell subcommands.
type CellOptions struct {
	*RootOptions
	ID       string
	Type     string
	Position int64
	Source   string
	File     string
}

// CellResult is the output of every cell subcommand.
type CellResult struct {
	CellID string `json:"cellId"`
	Event  string `json:"event"`
	Seq    int64  `json:"seq"`
}

// NewCellCommand creates the cell command group.
func NewCellCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cell",
		Short: "Create, edit, move and delete cells",
	}
	cmd.AddCommand(newCellAddCommand(&CellOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newCellEditCommand(&CellOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newCellMoveCommand(&CellOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newCellDeleteCommand(&CellOptions{RootOptions: rootOpts}))
	return cmd
}

func newCellAddCommand(opts *CellOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a cell",
		Long: `Create a cell. Without --position the cell goes after the last live cell.

Examples:
  nbkernel cell add --source "print(2+2)"
  nbkernel cell add --type sql --file query.sql
  nbkernel cell add --type markdown --position 0 --source "# Notes"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCellAdd(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "cell id (default generated)")
	cmd.Flags().StringVar(&opts.Type, "type", string(ir.CellCode), "cell type (code|markdown|raw|sql|ai)")
	cmd.Flags().Int64Var(&opts.Position, "position", -1, "cell position (default last)")
	addSourceFlags(cmd, opts)
	return cmd
}

func newCellEditCommand(opts *CellOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <cell-id>",
		Short: "Replace a cell's source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := opts.source(cmd)
			if err != nil {
				return err
			}
			return runCellEvent(opts, cmd, args[0], ir.CellSourceChanged{ID: args[0], Source: source})
		},
	}
	addSourceFlags(cmd, opts)
	return cmd
}

func newCellMoveCommand(opts *CellOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <cell-id> <position>",
		Short: "Move a cell",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid position", err)
			}
			return runCellEvent(opts, cmd, args[0], ir.CellMoved{ID: args[0], NewPosition: pos})
		},
	}
}

func newCellDeleteCommand(opts *CellOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <cell-id>",
		Short: "Delete a cell",
		Long: `Tombstone a cell. Pending entries for it are skipped by kernels; an entry
already executing finishes, but its outputs are not attached to the cell.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCellEvent(opts, cmd, args[0], ir.CellDeleted{ID: args[0]})
		},
	}
}

func addSourceFlags(cmd *cobra.Command, opts *CellOptions) {
	cmd.Flags().StringVar(&opts.Source, "source", "", "cell source")
	cmd.Flags().StringVar(&opts.File, "file", "", "read cell source from a file (- for stdin)")
	cmd.MarkFlagsMutuallyExclusive("source", "file")
}

func (o *CellOptions) source(cmd *cobra.Command) (string, error) {
	if o.File == "" {
		return o.Source, nil
	}
	var data []byte
	var err error
	if o.File == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(o.File)
	}
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to read source", err)
	}
	return string(data), nil
}

func runCellAdd(opts *CellOptions, cmd *cobra.Command) error {
	cellType := ir.CellType(opts.Type)
	if !cellType.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid cell type %q", opts.Type))
	}
	source, err := opts.source(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	l, err := opts.openLog(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	id := opts.ID
	if id == "" {
		id = l.engine.NewID()
	}
	pos := opts.Position
	if pos < 0 {
		pos = nextPosition(l.engine.State())
	}

	ev, err := l.emit(ctx, ir.CellCreated{
		ID:        id,
		Position:  pos,
		CellType:  cellType,
		Source:    source,
		CreatedBy: opts.Actor,
	})
	if err != nil {
		return err
	}
	return writeCellResult(opts, cmd, id, ev)
}

// nextPosition is one past the highest live position.
func nextPosition(s *projection.State) int64 {
	cells := s.OrderedCells()
	if len(cells) == 0 {
		return 0
	}
	return cells[len(cells)-1].Position + 1
}

func runCellEvent(opts *CellOptions, cmd *cobra.Command, cellID string, p ir.Payload) error {
	ctx := cmd.Context()
	l, err := opts.openLog(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	ev, err := l.emit(ctx, p)
	if err != nil {
		return err
	}
	return writeCellResult(opts, cmd, cellID, ev)
}

func writeCellResult(opts *CellOptions, cmd *cobra.Command, cellID string, ev ir.Event) error {
	result := CellResult{CellID: cellID, Event: string(ev.Name), Seq: ev.Seq}
	return newFormatter(opts.RootOptions, cmd).Success(result, func(w io.Writer) {
		fmt.Fprintln(w, cellID)
	})
}
