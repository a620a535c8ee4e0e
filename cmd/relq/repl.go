package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"github.com/spf13/cobra"
)

const replPrompt = "relq> "

func newReplCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Build and run query documents interactively",
		Long: `Start an interactive session. Queries are built one operator at a
time from the entities in --mapping, shown as SQL for the selected dialect
and run against --dsn (or a database chosen with 'connect').`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRepl(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runRepl(opts *rootOptions, out, errOut io.Writer) error {
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:          replPrompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer func() { _ = rl.Close() }()

	sess, err := NewSession(opts, rl)
	if err != nil {
		return err
	}
	defer sess.close()
	sess.out = out

	_ = rl.SetConfig(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyPath(),
		HistoryLimit:    500,
		AutoComplete:    &replCompleter{sess: sess},
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})

	if opts.DSN != "" {
		if err := sess.cmdConnect(opts.DSN); err != nil {
			_, _ = fmt.Fprintf(errOut, "  Warning: connect failed: %v\n", err)
		}
	}

	_, _ = fmt.Fprintf(out, "\nrelq %s (%s) - type 'help' for commands, 'exit' to quit\n\n",
		opts.Dialect, plural(int64(len(sess.schema.types)), "entity"))

	for {
		line, err := rl.ReadLine()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			// io.EOF ends the session too.
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if lower == "exit" || lower == "quit" {
			break
		}
		if err := sess.Execute(line); err != nil {
			_, _ = fmt.Fprintf(errOut, "  Error: %v\n", err)
		}
	}
	_, _ = fmt.Fprintln(out)
	return nil
}

// prompt prints a label with an optional default and returns the user's input
// (or the default if they press enter).
func prompt(rl *readline.Instance, label, defaultVal string) string {
	if rl == nil {
		return defaultVal
	}
	if defaultVal != "" {
		rl.SetPrompt(fmt.Sprintf("  %s [%s]: ", label, defaultVal))
	} else {
		rl.SetPrompt(fmt.Sprintf("  %s: ", label))
	}
	defer rl.SetPrompt(replPrompt)
	line, err := rl.ReadLine()
	if err != nil {
		return defaultVal
	}
	val := strings.TrimSpace(line)
	if val == "" {
		return defaultVal
	}
	return val
}

// cmdConnectInteractive reconnects to the previous DSN, or walks through
// building one for the current dialect.
func (s *Session) cmdConnectInteractive() error {
	if s.lastDSN != "" {
		return s.cmdConnect(s.lastDSN)
	}
	if s.rl == nil {
		return errors.New("usage: connect <dsn>")
	}
	var dsn string
	switch s.opts.Dialect {
	case "sqlite":
		dsn = prompt(s.rl, "Database path", ":memory:")
	case "mysql":
		dsn = s.buildMySQLDSN()
	case "postgres":
		dsn = s.buildPostgresDSN()
	default:
		dsn = prompt(s.rl, "DSN", "")
	}
	if dsn == "" {
		return errors.New("no DSN given")
	}
	return s.cmdConnect(dsn)
}

func (s *Session) buildPostgresDSN() string {
	s.printf("  PostgreSQL connection setup:\n")

	defaultUser := "postgres"
	if u, err := user.Current(); err == nil && u.Username != "" {
		defaultUser = u.Username
	}

	dbUser := prompt(s.rl, "User", defaultUser)
	dbPass := prompt(s.rl, "Password", "")
	host := prompt(s.rl, "Host", "localhost")
	port := prompt(s.rl, "Port", "5432")
	dbName := prompt(s.rl, "Database", dbUser)
	sslMode := prompt(s.rl, "SSL mode (disable/require/verify-full)", "disable")

	userInfo := url.User(dbUser)
	if dbPass != "" {
		userInfo = url.UserPassword(dbUser, dbPass)
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     host + ":" + port,
		Path:     "/" + dbName,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

func (s *Session) buildMySQLDSN() string {
	s.printf("  MySQL connection setup:\n")

	dbUser := prompt(s.rl, "User", "root")
	dbPass := prompt(s.rl, "Password", "")
	host := prompt(s.rl, "Host", "localhost")
	port := prompt(s.rl, "Port", "3306")
	dbName := prompt(s.rl, "Database", "")
	if dbName == "" {
		return ""
	}

	// Format: user:pass@tcp(host:port)/dbname
	auth := dbUser
	if dbPass != "" {
		auth += ":" + dbPass
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s", auth, host, port, dbName)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".relq_history")
}
