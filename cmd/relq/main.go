// Command relq compiles query documents to SQL, runs them against a
// database and hosts an interactive shell for building them.
//
// Configuration (flags, with env fallbacks):
//
//	--dialect  RELQ_DIALECT   tsql|access|sqlite|postgres|mysql
//	--dsn      DATABASE_URL   connection string for run and repl
//	--mapping                 YAML schema declaring entities and tables
//
// Usage:
//
//	relq translate --mapping northwind.yaml query.yaml
//	relq run --dialect sqlite --dsn northwind.db --mapping northwind.yaml query.yaml
//	relq repl --mapping northwind.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
