package main

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bawdo/relq/internal/testutil"
)

const (
	northwindMapping = "testdata/northwind.yaml"
	londonDoc        = "testdata/london.yaml"
)

// seedDB writes the Northwind fixture to a fresh SQLite file and returns
// its path.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "northwind.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	for _, stmt := range []string{testutil.NorthwindSchema, testutil.NorthwindData} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

// runCLI executes the root command with args and returns its output.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("RELQ_DIALECT", "")
	t.Setenv("DATABASE_URL", "")
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// --- Root ---

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := newRootCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"translate", "run", "repl"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"dialect", "dsn", "driver", "mapping", "pagination", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing flag --%s", name)
	}
	assert.Equal(t, "sqlite", cmd.PersistentFlags().Lookup("dialect").DefValue)
}

func TestUnknownDialect(t *testing.T) {
	_, err := runCLI(t, "", "translate", "--dialect", "oracle", "-m", northwindMapping, londonDoc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown dialect "oracle"`)
}

func TestDialectFromEnv(t *testing.T) {
	cmd := newRootCommand()
	t.Setenv("RELQ_DIALECT", "Postgres")
	cmd.SetArgs([]string{"translate", "-m", northwindMapping, londonDoc})
	cmd.SetOut(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "postgres", cmd.PersistentFlags().Lookup("dialect").Value.String())
}

// --- Translate ---

func TestTranslate(t *testing.T) {
	out, err := runCLI(t, "", "translate", "-m", northwindMapping, londonDoc)
	require.NoError(t, err)
	assert.Contains(t, out, `FROM "Customers"`)
	assert.Contains(t, out, `'London'`)
	assert.Contains(t, out, "-- arguments: country\n")
}

func TestTranslateStdin(t *testing.T) {
	doc := "from: Customer\nops:\n  - count: null\n"
	out, err := runCLI(t, doc, "translate", "-m", northwindMapping, "-")
	require.NoError(t, err)
	assert.Contains(t, out, "COUNT(")
	assert.NotContains(t, out, "-- arguments")
}

func TestTranslatePretty(t *testing.T) {
	out, err := runCLI(t, "", "translate", "--pretty", "-m", northwindMapping, londonDoc)
	require.NoError(t, err)
	assert.Contains(t, out, "\nFROM ")
	assert.Contains(t, out, "\nORDER BY ")
}

func TestTranslateDot(t *testing.T) {
	out, err := runCLI(t, "", "translate", "--dot", "-m", northwindMapping, londonDoc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "digraph"), out)
}

func TestTranslateErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing document", []string{"translate", "-m", northwindMapping, "testdata/missing.yaml"}, "open document"},
		{"missing mapping", []string{"translate", "-m", "testdata/missing.yaml", londonDoc}, "open mapping"},
		{"no entities", []string{"translate", londonDoc}, "Customer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// --- Run ---

func TestRun(t *testing.T) {
	dsn := seedDB(t)
	out, err := runCLI(t, "", "run", "--dsn", dsn, "-m", northwindMapping, "--arg", "country=UK", londonDoc)
	require.NoError(t, err)
	for _, id := range []string{"AROUT", "BSBEV", "CONSH", "SEVES"} {
		assert.Contains(t, out, id)
	}
	assert.NotContains(t, out, "FISSA")
	assert.Contains(t, out, "(4 rows)")
}

func TestRunSingleton(t *testing.T) {
	dsn := seedDB(t)
	doc := "from: Order\nops:\n  - where: {eq: [{m: CustomerID}, ALFKI]}\n  - count: null\n"
	out, err := runCLI(t, doc, "run", "--dsn", dsn, "-m", northwindMapping, "-")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}

func TestRunCommand(t *testing.T) {
	dsn := seedDB(t)
	doc := "from: Customer\ncommand: delete\nwhere: {eq: [{m: City}, Madrid]}\n"
	out, err := runCLI(t, doc, "run", "--dsn", dsn, "-m", northwindMapping, "-")
	require.NoError(t, err)
	assert.Equal(t, "(1 row affected)\n", out)

	out, err = runCLI(t, "from: Customer\nops:\n  - count: null\n", "run", "--dsn", dsn, "-m", northwindMapping, "-")
	require.NoError(t, err)
	assert.Equal(t, "6\n", out)
}

func TestRunNeedsDSN(t *testing.T) {
	_, err := runCLI(t, "", "run", "-m", northwindMapping, londonDoc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no DSN")
}
