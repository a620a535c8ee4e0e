package main

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/model"
)

// driverName maps a dialect to the database/sql driver that speaks it.
// Dialects without an entry need --driver.
var driverName = map[string]string{
	"postgres": "pgx",
	"mysql":    "mysql",
	"sqlite":   "sqlite",
}

const maxRows = 1000

func connect(dialectName, driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("no DSN (use --dsn or DATABASE_URL)")
	}
	if driver == "" {
		d, ok := driverName[dialectName]
		if !ok {
			return nil, fmt.Errorf("no driver for dialect %q (use --driver)", dialectName)
		}
		driver = d
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if driver == "sqlite" {
		// Every statement must see the same in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// formatResult renders what a plan produced: a table for sequences, the
// value for singletons and an affected-row count for commands.
func formatResult(v any, kind exec.Kind) (string, error) {
	switch kind {
	case exec.KindCommand:
		if n, ok := v.(int64); ok {
			return fmt.Sprintf("(%s affected)\n", plural(n, "row")), nil
		}
		return formatValues([]any{v}, false), nil
	case exec.KindSingleton:
		return cell(v) + "\n", nil
	}
	it, ok := v.(*exec.Iterator)
	if !ok {
		return "", fmt.Errorf("unexpected result %T", v)
	}
	rows, truncated, err := drain(it, maxRows)
	if err != nil {
		return "", err
	}
	return formatValues(rows, truncated), nil
}

// drain reads at most limit values and closes the iterator.
func drain(it *exec.Iterator, limit int) (rows []any, truncated bool, err error) {
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()
	for it.Next() {
		if len(rows) >= limit {
			return rows, true, nil
		}
		rows = append(rows, it.Value())
	}
	return rows, false, it.Err()
}

func formatValues(rows []any, truncated bool) string {
	columns := []string{"value"}
	if len(rows) > 0 {
		if rec, ok := rows[0].(*model.Record); ok {
			columns = make([]string, len(rec.Type.Fields))
			for i, f := range rec.Type.Fields {
				columns[i] = f.Name
			}
		}
	}
	data := make([][]string, len(rows))
	for i, r := range rows {
		if rec, ok := r.(*model.Record); ok && len(columns) == len(rec.Values) {
			row := make([]string, len(rec.Values))
			for j, v := range rec.Values {
				row[j] = cell(v)
			}
			data[i] = row
			continue
		}
		data[i] = []string{cell(r)}
	}
	result := formatTable(columns, data)
	if truncated {
		result += fmt.Sprintf("(truncated at %s rows)\n", humanize.Comma(maxRows))
	}
	return result
}

// cell renders one value for a table cell. Strings are shown unquoted and
// nested sequences by their length.
func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case []any:
		return "[" + plural(int64(len(x)), "item") + "]"
	case *model.Grouping:
		return fmt.Sprintf("%s [%s]", cell(x.Key), plural(int64(len(x.Elems)), "item"))
	}
	return model.FormatValue(v)
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return humanize.Comma(n) + " " + unit + "s"
}

func formatTable(columns []string, rows [][]string) string {
	if len(columns) == 0 {
		return "(0 rows)\n"
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i, c := range row {
			if len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}

	var b strings.Builder
	sep := buildSeparator(widths)

	b.WriteString(sep)
	b.WriteByte('|')
	for i, c := range columns {
		fmt.Fprintf(&b, " %-*s |", widths[i], c)
	}
	b.WriteByte('\n')
	b.WriteString(sep)

	for _, row := range rows {
		b.WriteByte('|')
		for i, c := range row {
			fmt.Fprintf(&b, " %-*s |", widths[i], c)
		}
		b.WriteByte('\n')
	}

	b.WriteString(sep)
	fmt.Fprintf(&b, "(%s)\n", plural(int64(len(rows)), "row"))
	return b.String()
}

func buildSeparator(widths []int) string {
	var b strings.Builder
	b.WriteByte('+')
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteByte('+')
	}
	b.WriteByte('\n')
	return b.String()
}

// sanitizeDSN masks the password in a DSN for display.
func sanitizeDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err == nil && u.Scheme != "" && u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			// Rebuild manually to avoid percent-encoding the mask.
			masked := u.Scheme + "://" + u.User.Username() + ":****@" + u.Host + u.Path
			if u.RawQuery != "" {
				masked += "?" + u.RawQuery
			}
			return masked
		}
		return dsn
	}

	// MySQL style: user:pass@tcp(host)/db
	if atIdx := strings.Index(dsn, "@"); atIdx > 0 {
		userPass := dsn[:atIdx]
		if colonIdx := strings.Index(userPass, ":"); colonIdx >= 0 {
			return userPass[:colonIdx+1] + "****" + dsn[atIdx:]
		}
	}
	return dsn
}
