// Package sqldb runs plans through database/sql.
//
// Plans that read back generated values run the command and the read-back
// query as separate statements unless the dialect sends them as one text;
// the runtime must then be pinned to a single connection (a *sql.Conn, a
// *sql.Tx, or a *sql.DB limited to one open connection) for functions such
// as last_insert_rowid() to see the insert.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/model"
)

// DB is what *sql.DB, *sql.Conn and *sql.Tx have in common.
type DB interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Runtime implements exec.BatchRuntime over a DB.
type Runtime struct {
	db        DB
	noPrepare bool
	batchTx   bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithoutPrepare sends command text with every execution instead of
// preparing statements, for poolers and drivers without prepared
// statement support.
func WithoutPrepare() Option {
	return func(r *Runtime) { r.noPrepare = true }
}

// WithoutBatchTransactions runs batch chunks without wrapping each in a
// transaction.
func WithoutBatchTransactions() Option {
	return func(r *Runtime) { r.batchTx = false }
}

// New returns a runtime over db.
func New(db DB, opts ...Option) *Runtime {
	r := &Runtime{db: db, batchTx: true}
	for _, o := range opts {
		o(r)
	}
	return r
}

type prepared struct {
	cmd  *exec.Command
	stmt *sql.Stmt
}

func (p *prepared) Command() *exec.Command { return p.cmd }

func (p *prepared) Close() error {
	if p.stmt == nil {
		return nil
	}
	return p.stmt.Close()
}

func (r *Runtime) Prepare(ctx context.Context, cmd *exec.Command) (exec.Prepared, error) {
	if r.noPrepare {
		return &prepared{cmd: cmd}, nil
	}
	stmt, err := r.db.PrepareContext(ctx, cmd.Text)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	return &prepared{cmd: cmd, stmt: stmt}, nil
}

func (r *Runtime) Execute(ctx context.Context, p exec.Prepared, values []any) (exec.Cursor, error) {
	pp, err := own(p)
	if err != nil {
		return nil, err
	}
	args := Args(pp.cmd, values)
	var rows *sql.Rows
	if pp.stmt != nil {
		rows, err = pp.stmt.QueryContext(ctx, args...)
	} else {
		rows, err = r.db.QueryContext(ctx, pp.cmd.Text, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return newCursor(rows)
}

func (r *Runtime) ExecuteNonQuery(ctx context.Context, p exec.Prepared, values []any) (int64, error) {
	pp, err := own(p)
	if err != nil {
		return 0, err
	}
	return r.exec(ctx, r.db, pp, values)
}

func (r *Runtime) exec(ctx context.Context, db DB, pp *prepared, values []any) (int64, error) {
	args := Args(pp.cmd, values)
	var res sql.Result
	var err error
	switch {
	case pp.stmt == nil:
		res, err = db.ExecContext(ctx, pp.cmd.Text, args...)
	case db == r.db:
		res, err = pp.stmt.ExecContext(ctx, args...)
	default:
		res, err = db.(*sql.Tx).StmtContext(ctx, pp.stmt).ExecContext(ctx, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ExecuteBatch runs each chunk of batchSize value sets in a transaction.
// When an item of a chunk fails the chunk is rolled back and its items run
// again one at a time, so every item reports its own outcome.
func (r *Runtime) ExecuteBatch(ctx context.Context, p exec.Prepared, values [][]any, batchSize int) ([]exec.BatchResult, error) {
	pp, err := own(p)
	if err != nil {
		return nil, err
	}
	if batchSize < 1 {
		batchSize = 1
	}
	out := make([]exec.BatchResult, 0, len(values))
	for start := 0; start < len(values); start += batchSize {
		end := min(start+batchSize, len(values))
		rs, ok := r.chunkTx(ctx, pp, values[start:end], start)
		if !ok {
			rs = r.chunk(ctx, r.db, pp, values[start:end], start)
		}
		out = append(out, rs...)
	}
	return out, nil
}

func (r *Runtime) chunkTx(ctx context.Context, pp *prepared, values [][]any, offset int) ([]exec.BatchResult, bool) {
	b, ok := r.db.(txBeginner)
	if !ok || !r.batchTx {
		return nil, false
	}
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return nil, false
	}
	rs := r.chunk(ctx, tx, pp, values, offset)
	for _, res := range rs {
		if res.Err != nil {
			_ = tx.Rollback()
			return nil, false
		}
	}
	if err := tx.Commit(); err != nil {
		for i := range rs {
			rs[i].Rows, rs[i].Err = 0, fmt.Errorf("commit: %w", err)
		}
	}
	return rs, true
}

func (r *Runtime) chunk(ctx context.Context, db DB, pp *prepared, values [][]any, offset int) []exec.BatchResult {
	rs := make([]exec.BatchResult, len(values))
	for i, vals := range values {
		n, err := r.exec(ctx, db, pp, vals)
		rs[i] = exec.BatchResult{Index: offset + i, Rows: n, Err: err}
	}
	return rs
}

func own(p exec.Prepared) (*prepared, error) {
	pp, ok := p.(*prepared)
	if !ok {
		return nil, errors.New("sqldb: command was prepared by another runtime")
	}
	return pp, nil
}

// Args lays values, given in the order of cmd.Params, out the way the
// command text consumes them: named arguments for @name, one argument per
// distinct parameter for $n, and one argument per ? for the ordinal style.
func Args(cmd *exec.Command, values []any) []any {
	switch cmd.Style {
	case dialect.ParamNamed:
		out := make([]any, len(cmd.Params))
		for i, p := range cmd.Params {
			out[i] = sql.Named(p.Name, model.DriverValue(values[i]))
		}
		return out
	case dialect.ParamOrdinal:
		out := make([]any, len(cmd.Placeholders))
		for i, name := range cmd.Placeholders {
			if j := cmd.Index(name); j >= 0 {
				out[i] = model.DriverValue(values[j])
			}
		}
		return out
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = model.DriverValue(v)
	}
	return out
}

type cursor struct {
	rows *sql.Rows
	vals []any
	ptrs []any
}

func newCursor(rows *sql.Rows) (*cursor, error) {
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("columns: %w", err)
	}
	c := &cursor{rows: rows, vals: make([]any, len(cols)), ptrs: make([]any, len(cols))}
	for i := range c.vals {
		c.ptrs[i] = &c.vals[i]
	}
	return c, nil
}

func (c *cursor) Next() bool {
	if !c.rows.Next() {
		return false
	}
	if err := c.rows.Scan(c.ptrs...); err != nil {
		// Scan errors surface through Err once the rows are closed.
		_ = c.rows.Close()
		return false
	}
	return true
}

func (c *cursor) IsNull(i int) bool { return i >= len(c.vals) || c.vals[i] == nil }

func (c *cursor) Value(i int) any {
	if i >= len(c.vals) {
		return nil
	}
	return c.vals[i]
}

func (c *cursor) Err() error   { return c.rows.Err() }
func (c *cursor) Close() error { return c.rows.Close() }
