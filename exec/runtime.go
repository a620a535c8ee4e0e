// Package exec compiles optimized query trees into plans of Go closures and
// runs them against a Runtime. A plan formats every command once; executing
// it only evaluates parameter values, runs commands and rebuilds results
// from rows.
package exec

import (
	"context"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/visitors"
)

// Command is formatted command text with the parameters it binds.
type Command struct {
	Text string
	// Params lists the distinct parameters in order of first appearance.
	// Runtimes receive one value per entry, in this order.
	Params []visitors.Param
	// Placeholders names the parameter bound at each ? for the ordinal
	// style.
	Placeholders []string
	Style        dialect.ParamStyle
	// Sources holds the trees the text was formatted from.
	Sources []nodes.Node
}

// Index returns the position of the named parameter in Params, or -1.
func (c *Command) Index(name string) int {
	for i, p := range c.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Prepared is a command a runtime has readied for repeated execution.
type Prepared interface {
	Command() *Command
	Close() error
}

// Cursor is a single-pass reader over the rows of a query.
type Cursor interface {
	Next() bool
	IsNull(i int) bool
	Value(i int) any
	Err() error
	Close() error
}

// Runtime runs commands. Values passed to Execute and ExecuteNonQuery line
// up with the command's Params.
type Runtime interface {
	Prepare(ctx context.Context, cmd *Command) (Prepared, error)
	Execute(ctx context.Context, p Prepared, values []any) (Cursor, error)
	ExecuteNonQuery(ctx context.Context, p Prepared, values []any) (int64, error)
}

// BatchRuntime runs one command for many sets of values, batchSize sets
// per round trip.
type BatchRuntime interface {
	Runtime
	ExecuteBatch(ctx context.Context, p Prepared, values [][]any, batchSize int) ([]BatchResult, error)
}

// BatchResult is the outcome of one batch item. Rows is the affected row
// count; Value is the read-back result of commands that have one.
type BatchResult struct {
	Index int
	Rows  int64
	Value any
	Err   error
}

// RowCursor is a Cursor over rows held in memory.
type RowCursor struct {
	rows [][]any
	pos  int
}

// NewRowCursor returns a cursor over rows.
func NewRowCursor(rows [][]any) *RowCursor {
	return &RowCursor{rows: rows, pos: -1}
}

func (c *RowCursor) Next() bool {
	if c.pos+1 >= len(c.rows) {
		c.pos = len(c.rows)
		return false
	}
	c.pos++
	return true
}

func (c *RowCursor) Value(i int) any {
	row := c.rows[c.pos]
	if i >= len(row) {
		return nil
	}
	return row[i]
}

func (c *RowCursor) IsNull(i int) bool { return c.Value(i) == nil }
func (c *RowCursor) Err() error        { return nil }
func (c *RowCursor) Close() error      { return nil }

// readRow copies the current row of cur.
func readRow(cur Cursor, width int) []any {
	row := make([]any, width)
	for i := range row {
		if !cur.IsNull(i) {
			row[i] = cur.Value(i)
		}
	}
	return row
}

// drain reads every remaining row of cur into memory and closes it.
func drain(cur Cursor, width int) (*RowCursor, error) {
	defer func() { _ = cur.Close() }()
	var rows [][]any
	for cur.Next() {
		rows = append(rows, readRow(cur, width))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return NewRowCursor(rows), nil
}
