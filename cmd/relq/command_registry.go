package main

import (
	"sort"
	"strings"
)

// commandEntry maps a REPL prefix to its handler and optional tab-completer.
type commandEntry struct {
	prefix    string
	handler   func(args string) error
	completer func(args string) (completionContext, string) // nil = no arg completion
	hidden    bool                                          // excluded from commandNames()
}

// initCommands builds the command registry and sorts by prefix length descending.
func (s *Session) initCommands() {
	s.commands = []commandEntry{
		// --- display ---
		{prefix: "sql", handler: func(_ string) error { return s.cmdSQL(false) }},
		{prefix: "pretty", handler: func(_ string) error { return s.cmdSQL(true) }},
		{prefix: "ast", handler: func(_ string) error { return s.cmdAST() }},
		{prefix: "doc", handler: func(_ string) error { return s.cmdDoc() }},
		{prefix: "show", handler: func(_ string) error { return s.cmdDoc() }, hidden: true},
		{prefix: "dot ", handler: func(a string) error { return s.cmdDot(a) }},
		{prefix: "dot", handler: func(_ string) error { return s.cmdDot("") }},
		{prefix: "params", handler: func(_ string) error { return s.cmdParams() }},
		{prefix: "entities", handler: func(_ string) error { return s.cmdEntities() }},
		{prefix: "reset", handler: func(_ string) error { return s.cmdReset() }},
		{prefix: "undo", handler: func(_ string) error { return s.cmdUndo() }},
		{prefix: "help", handler: func(_ string) error { s.cmdHelp(); return nil }},

		// --- documents ---
		{prefix: "from ", handler: func(a string) error { return s.cmdFrom(a) }, completer: completeEntityArgs},
		{prefix: "load ", handler: func(a string) error { return s.cmdLoad(a) }},
		{prefix: "save ", handler: func(a string) error { return s.cmdSave(a) }},
		{prefix: "schema ", handler: func(a string) error { return s.cmdSchema(a) }},

		// --- arguments ---
		{prefix: "arg ", handler: func(a string) error { return s.cmdArg(a) }},
		{prefix: "set ", handler: func(a string) error { return s.cmdSet(a) }},
		{prefix: "unset ", handler: func(a string) error { return s.cmdUnset(strings.TrimSpace(a)) }},

		// --- commands ---
		{prefix: "insert ", handler: func(a string) error { return s.cmdCommand("insert", a) }, completer: completeMemberArgs},
		{prefix: "update ", handler: func(a string) error { return s.cmdCommand("update", a) }, completer: completeMemberArgs},
		{prefix: "upsert ", handler: func(a string) error { return s.cmdCommand("upsert", a) }, completer: completeMemberArgs},
		{prefix: "delete ", handler: func(a string) error { return s.cmdCommand("delete", a) }, completer: completeMemberArgs},
		{prefix: "delete", handler: func(_ string) error { return s.cmdCommand("delete", "") }},
		{prefix: "check ", handler: func(a string) error { return s.cmdCheck(a) }, completer: completeMemberArgs},

		// --- database connectivity ---
		{prefix: "dialect ", handler: func(a string) error { return s.cmdDialect(a) }, completer: completeDialectArgs},
		{prefix: "connect ", handler: func(a string) error { return s.cmdConnect(a) }},
		{prefix: "connect", handler: func(_ string) error { return s.cmdConnectInteractive() }},
		{prefix: "disconnect", handler: func(_ string) error { return s.cmdDisconnect() }},
		{prefix: "exec", handler: func(_ string) error { return s.cmdExec() }},
		{prefix: "run", handler: func(_ string) error { return s.cmdExec() }},
		{prefix: "cache ", handler: func(a string) error { return s.cmdCache(a) }},
		{prefix: "cache", handler: func(_ string) error { return s.cmdCache("") }},

		// --- OPA commands ---
		{prefix: "opa conditions", handler: func(_ string) error { return s.cmdOPAConditions() }},
		{prefix: "opa explain ", handler: func(a string) error { return s.cmdOPAExplain(strings.TrimSpace(a)) }, completer: completeEntityArgs},
		{prefix: "opa explain", handler: func(_ string) error { return s.cmdOPAExplain("") }},
		{prefix: "opa inputs", handler: func(_ string) error { return s.cmdOPAInputs() }},
		{prefix: "opa input ", handler: func(a string) error { return s.cmdOPAInput(strings.TrimSpace(a)) }},
		{prefix: "opa input", handler: func(_ string) error { return s.cmdOPAInput("") }},
		{prefix: "opa masks", handler: func(_ string) error { return s.cmdOPAMasks() }},
		{prefix: "opa policy ", handler: func(a string) error { return s.cmdOPAPolicy(strings.TrimSpace(a)) }},
		{prefix: "opa policy", handler: func(_ string) error { return s.cmdOPAPolicy("") }},
		{prefix: "opa reload", handler: func(_ string) error { return s.cmdOPAReload() }},
		{prefix: "opa status", handler: func(_ string) error { s.cmdOPAStatus(); return nil }},
		{prefix: "opa url ", handler: func(a string) error { return s.cmdOPAUrl(strings.TrimSpace(a)) }},
		{prefix: "opa url", handler: func(_ string) error { return s.cmdOPAUrl("") }},
		{prefix: "opa off", handler: func(_ string) error { return s.cmdOPAOff() }},
		{prefix: "opa", handler: func(_ string) error { return s.cmdOPASetup() }},

		// --- plugins ---
		{prefix: "plugin ", handler: func(a string) error { return s.cmdPlugin(a) }, completer: completePluginArgs},
		{prefix: "plugins", handler: func(_ string) error { s.cmdPlugins(); return nil }},
	}

	// One entry per query operator; operators with an optional lambda also
	// accept the bare name.
	for name, arity := range opArity {
		name := name
		if arity != argNone {
			s.commands = append(s.commands, commandEntry{
				prefix:    name + " ",
				handler:   func(a string) error { return s.cmdOp(name, a) },
				completer: completeMemberArgs,
			})
		}
		if arity != argRequired {
			s.commands = append(s.commands, commandEntry{
				prefix:  name,
				handler: func(_ string) error { return s.cmdOp(name, "") },
			})
		}
	}

	// Sort by prefix length descending so longest prefixes match first.
	sort.SliceStable(s.commands, func(i, j int) bool {
		return len(s.commands[i].prefix) > len(s.commands[j].prefix)
	})
}

// commandNames derives the command name list from the registry for tab completion.
func (s *Session) commandNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, cmd := range s.commands {
		if cmd.hidden {
			continue
		}
		name := strings.TrimRight(cmd.prefix, " ")
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	// exit/quit are handled by the REPL loop, not Execute().
	for _, extra := range []string{"exit", "quit"} {
		if !seen[extra] {
			names = append(names, extra)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Session) cmdHelp() {
	s.printf(`Documents:
  from <Entity>                  Start a query over an entity
  <operator> <expr> [as <name>]  Append an operator (where, select, orderby,
                                 groupby, take, skip, count, first, any, ...)
  insert|update|upsert <values>  Make the document a command
  delete [where <expr>]          Delete by predicate, or by identity in values
  check <expr>                   Guard an update
  undo                           Drop the last operator or command
  arg <name> <type>              Declare an argument (arg <name> removes it)
  set <name> <value>             Give an argument a value
  unset <name>                   Clear an argument value
  load <file> | save <file>      Read or write the document as YAML
  reset                          Start over

Display:
  doc            Show the document as YAML
  sql | pretty   Show the compiled SQL
  ast            Show the expression tree
  dot <file>     Write the compiled trees as Graphviz DOT
  params         List the arguments the plan needs

Schema and database:
  schema <file>      Load entity mappings
  entities           List entities and members
  dialect <name>     Switch dialect (%s)
  connect [dsn]      Connect to a database
  disconnect         Close the connection
  exec | run         Run the document
  cache [clear]      Show plan cache statistics

Plugins:
  plugin softdelete [column [on tables...] | table.column, ...]
  plugin opa          Set up the OPA row filter
  plugin off [name]   Disable plugins
  plugins             List enabled plugins
  opa status|url|policy|input|inputs|conditions|masks|explain|reload|off

  exit | quit
`, strings.Join(dialectNames(), ", "))
}

// --- Shared completion helpers ---

// completeEntityArgs completes entity names for from and opa explain.
func completeEntityArgs(args string) (completionContext, string) {
	return contextEntity, strings.TrimSpace(args)
}

// completeMemberArgs completes members of the entity being queried inside
// operator expressions.
func completeMemberArgs(args string) (completionContext, string) {
	if strings.HasSuffix(args, " ") {
		return contextMember, ""
	}
	return contextMember, lastToken(args)
}

func completeDialectArgs(args string) (completionContext, string) {
	return contextDialect, strings.TrimSpace(args)
}

// completePluginArgs handles completion for the plugin command:
// plugin names, or after "off" the names of enabled plugins.
func completePluginArgs(args string) (completionContext, string) {
	if strings.HasPrefix(strings.ToLower(args), "off ") {
		partial := strings.TrimSpace(args[4:])
		return contextPluginOff, partial
	}
	arg := strings.TrimSpace(args)
	if !strings.Contains(arg, " ") {
		return contextPlugin, arg
	}
	return contextCommand, ""
}
