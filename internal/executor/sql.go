package executor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"text/tabwriter"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/nbkernel/internal/ir"
)

// SQLRunner executes sql cells against a SQLite database. All cells of a
// notebook share one connection, so temp tables and attached databases
// persist between cells like variables do in a code kernel.
type SQLRunner struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQL opens the database at path. An empty path uses a private
// in-memory database.
func OpenSQL(path string) (*SQLRunner, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sql database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sql database: %w", err)
	}
	return &SQLRunner{db: db}, nil
}

// Close closes the database.
func (r *SQLRunner) Close() error {
	return r.db.Close()
}

// Run executes the cell's statements. The result of the last statement is
// rendered as a text table; statements without rows report "OK".
func (r *SQLRunner) Run(ctx context.Context, req Request) ([]ir.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(req.Source) == "" {
		return nil, nil
	}

	stmts := splitStatements(req.Source)
	if len(stmts) == 0 {
		return nil, nil
	}
	for _, stmt := range stmts[:len(stmts)-1] {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return nil, &ExecError{Name: ErrNameSQL, Value: err.Error(), Err: err}
		}
	}

	rows, err := r.db.QueryContext(ctx, stmts[len(stmts)-1])
	if err != nil {
		return nil, &ExecError{Name: ErrNameSQL, Value: err.Error(), Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &ExecError{Name: ErrNameSQL, Value: err.Error(), Err: err}
	}
	if len(cols) == 0 {
		// Stepping the statement is what executes it.
		for rows.Next() {
		}
		if err := rows.Err(); err != nil {
			return nil, &ExecError{Name: ErrNameSQL, Value: err.Error(), Err: err}
		}
		return []ir.Output{{OutputType: "execute_result", MimeType: "text/plain", Text: "OK"}}, nil
	}

	var buf strings.Builder
	tw := tabwriter.NewWriter(&buf, 0, 0, 1, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t|\t"))
	seps := make([]string, len(cols))
	for i, c := range cols {
		seps[i] = strings.Repeat("-", len(c))
	}
	fmt.Fprintln(tw, strings.Join(seps, "\t|\t"))

	n := 0
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &ExecError{Name: ErrNameSQL, Value: err.Error(), Err: err}
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatSQLValue(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t|\t"))
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, &ExecError{Name: ErrNameSQL, Value: err.Error(), Err: err}
	}
	tw.Flush()
	fmt.Fprintf(&buf, "(%d rows)\n", n)

	return []ir.Output{{OutputType: "execute_result", MimeType: "text/plain", Text: buf.String()}}, nil
}

func formatSQLValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

// splitStatements splits source on semicolons outside quotes and comments.
// Empty statements are dropped.
func splitStatements(source string) []string {
	var stmts []string
	var cur strings.Builder
	flush := func() {
		if stmt := strings.TrimSpace(cur.String()); stmt != "" {
			stmts = append(stmts, stmt)
		}
		cur.Reset()
	}

	var quote byte
	for i := 0; i < len(source); i++ {
		c := source[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
			cur.WriteByte(c)
		case c == '-' && i+1 < len(source) && source[i+1] == '-':
			for i < len(source) && source[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case c == '/' && i+1 < len(source) && source[i+1] == '*':
			end := strings.Index(source[i+2:], "*/")
			if end < 0 {
				i = len(source)
			} else {
				i += end + 3
			}
			cur.WriteByte(' ')
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return stmts
}
