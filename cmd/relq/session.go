package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ergochat/readline"
	"gopkg.in/yaml.v3"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/exec/sqldb"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/provider"
	"github.com/bawdo/relq/querydoc"
)

var errNoQuery = errors.New("no query defined (use 'from <entity>' first)")

// opLine is one operator of the document being built. value is YAML flow
// text; empty means null.
type opLine struct {
	name  string
	value string
	as    string
}

// docState is the query document the session is building.
type docState struct {
	from     string
	args     map[string]string
	argOrder []string
	ops      []opLine

	command string
	as      string
	where   string
	values  string
}

func newDocState(from string) *docState {
	return &docState{from: from, args: make(map[string]string)}
}

// yaml renders the document in the form querydoc reads.
func (d *docState) yaml() string {
	var b strings.Builder
	fmt.Fprintf(&b, "from: %s\n", d.from)
	if len(d.argOrder) > 0 {
		b.WriteString("args:\n")
		for _, name := range d.argOrder {
			fmt.Fprintf(&b, "  %s: %s\n", name, d.args[name])
		}
	}
	if d.command != "" {
		fmt.Fprintf(&b, "command: %s\n", d.command)
		if d.as != "" {
			fmt.Fprintf(&b, "as: %s\n", d.as)
		}
		if d.where != "" {
			fmt.Fprintf(&b, "where: %s\n", d.where)
		}
		if d.values != "" {
			fmt.Fprintf(&b, "values: %s\n", d.values)
		}
		return b.String()
	}
	if len(d.ops) == 0 {
		b.WriteString("ops: []\n")
		return b.String()
	}
	b.WriteString("ops:\n")
	for _, op := range d.ops {
		v := op.value
		if v == "" {
			v = "null"
		}
		fmt.Fprintf(&b, "  - %s: %s\n", op.name, v)
		if op.as != "" {
			fmt.Fprintf(&b, "    as: %s\n", op.as)
		}
	}
	return b.String()
}

// docStateOf converts a parsed document back into editable lines.
func docStateOf(d *querydoc.Document) (*docState, error) {
	st := newDocState(d.From)
	names := make([]string, 0, len(d.Args))
	for name := range d.Args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st.declare(name, d.Args[name])
	}
	st.command, st.as = d.Command, d.As
	var err error
	if st.where, err = flow(&d.Where); err != nil {
		return nil, err
	}
	if st.values, err = flow(&d.Values); err != nil {
		return nil, err
	}
	for i := range d.Ops {
		n := &d.Ops[i]
		if n.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: expected an operator mapping", n.Line)
		}
		var op opLine
		for j := 0; j+1 < len(n.Content); j += 2 {
			k, v := n.Content[j].Value, n.Content[j+1]
			if k == "as" {
				op.as = v.Value
				continue
			}
			op.name = k
			if op.value, err = flow(v); err != nil {
				return nil, err
			}
		}
		st.ops = append(st.ops, op)
	}
	return st, nil
}

// flow renders n as single-line YAML, or "" when n is absent or null.
func flow(n *yaml.Node) (string, error) {
	if n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Tag == "!!null") {
		return "", nil
	}
	c := *n
	setFlow(&c)
	out, err := yaml.Marshal(&c)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func setFlow(n *yaml.Node) {
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		n.Style |= yaml.FlowStyle
	}
	for _, c := range n.Content {
		setFlow(c)
	}
}

func (d *docState) declare(name, typ string) {
	if _, ok := d.args[name]; !ok {
		d.argOrder = append(d.argOrder, name)
	}
	d.args[name] = typ
}

func (d *docState) undeclare(name string) bool {
	if _, ok := d.args[name]; !ok {
		return false
	}
	delete(d.args, name)
	for i, n := range d.argOrder {
		if n == name {
			d.argOrder = append(d.argOrder[:i], d.argOrder[i+1:]...)
			break
		}
	}
	return true
}

// Session holds the REPL state: the schema, the document being built, the
// argument values, the dialect, the enabled plugins and the connection.
type Session struct {
	opts        *rootOptions
	lang        *dialect.Language
	schema      *schema
	doc         *docState
	args        exec.Args
	plugins     pluginRegistry     // enabled plugins
	configurers []pluginConfigurer // all known plugins
	opaConfig   *opaPluginRef      // OPA server config (nil when not set up)
	cache       *provider.PlanCache
	commands    []commandEntry // command registry (sorted by prefix length desc)
	db          *sql.DB        // nil when disconnected
	lastDSN     string         // remembers the previous DSN for reconnect
	rl          *readline.Instance
	logger      *slog.Logger
	out         io.Writer // destination for REPL output (default os.Stdout)
}

// NewSession creates a session for the dialect and mapping file in opts.
func NewSession(opts *rootOptions, rl *readline.Instance) (*Session, error) {
	lang, err := opts.language()
	if err != nil {
		return nil, err
	}
	s, err := loadSchema(opts.Mapping)
	if err != nil {
		return nil, err
	}
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}
	sess := &Session{
		opts:   opts,
		lang:   lang,
		schema: s,
		args:   make(exec.Args),
		cache:  provider.NewPlanCache(),
		rl:     rl,
		logger: logger,
		out:    os.Stdout,
	}
	sess.configurers = []pluginConfigurer{
		{name: "softdelete", configure: configureSoftdelete},
		{name: "opa", configure: configureOPA},
	}
	sess.initCommands()
	return sess, nil
}

func (s *Session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

// Execute parses and runs a single REPL command.
func (s *Session) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	lower := strings.ToLower(line)

	for _, cmd := range s.commands {
		if strings.HasSuffix(cmd.prefix, " ") {
			if strings.HasPrefix(lower, cmd.prefix) {
				return cmd.handler(strings.TrimSpace(line[len(cmd.prefix):]))
			}
		} else if lower == cmd.prefix {
			return cmd.handler("")
		}
	}

	word := strings.Fields(line)[0]
	return fmt.Errorf("unknown command: %s (type 'help' for commands)", word)
}

// provider builds a provider for the current dialect, plugins and
// connection. Plans are shared through the session cache unless a plugin
// reads outside state.
func (s *Session) provider() *provider.Provider {
	var rt exec.Runtime
	if s.db != nil {
		rt = sqldb.New(s.db)
	}
	opts := []provider.Option{provider.WithLogger(s.logger), provider.WithPlugins(s.plugins.transformers()...)}
	if s.plugins.volatile() {
		opts = append(opts, provider.WithoutCache())
	} else {
		opts = append(opts, provider.WithCache(s.cache))
	}
	return provider.New(mapping.NewMapper(s.schema.mapping, s.lang), rt, opts...)
}

// build parses the current document and builds its expression.
func (s *Session) build() (provider.Expression, error) {
	if s.doc == nil {
		return nil, errNoQuery
	}
	d, err := querydoc.ParseString(s.doc.yaml())
	if err != nil {
		return nil, err
	}
	return buildDocument(d, s.schema)
}

func (s *Session) plan() (*exec.Plan, error) {
	q, err := s.build()
	if err != nil {
		return nil, err
	}
	return s.provider().Plan(q)
}

// GenerateSQL returns the command text of the current document.
func (s *Session) GenerateSQL() (string, error) {
	q, err := s.build()
	if err != nil {
		return "", err
	}
	return s.provider().QueryText(q)
}

// --- Document commands ---

func (s *Session) cmdFrom(args string) error {
	name := strings.TrimSpace(args)
	if name == "" {
		return errors.New("usage: from <entity>")
	}
	if !s.knownEntity(name) {
		return fmt.Errorf("unknown entity %q (entities: %s)", name, strings.Join(s.schema.entityNames(), ", "))
	}
	prev := s.doc
	s.doc = newDocState(name)
	if prev != nil {
		for _, a := range prev.argOrder {
			s.doc.declare(a, prev.args[a])
		}
	}
	s.printf("  Query from %s\n", name)
	return nil
}

func (s *Session) knownEntity(name string) bool {
	for _, n := range s.schema.entityNames() {
		if n == name {
			return true
		}
	}
	return false
}

// opArity says whether an operator's lambda is required, optional or
// not taken.
var opArity = map[string]int{
	"where": argRequired, "select": argRequired, "selectmany": argRequired,
	"orderby": argRequired, "orderbydesc": argRequired, "thenby": argRequired,
	"thenbydesc": argRequired, "groupby": argRequired, "take": argRequired,
	"skip": argRequired, "all": argRequired,
	"count": argOptional, "sum": argOptional, "min": argOptional, "max": argOptional,
	"average": argOptional, "first": argOptional, "firstordefault": argOptional,
	"single": argOptional, "singleordefault": argOptional, "any": argOptional,
	"distinct": argNone,
}

const (
	argRequired = iota
	argOptional
	argNone
)

// splitAs strips a trailing "as <name>" from an operator argument.
func splitAs(args string) (string, string) {
	fields := strings.Fields(args)
	if len(fields) >= 2 && strings.EqualFold(fields[len(fields)-2], "as") {
		idx := strings.LastIndex(strings.ToLower(args), " as ")
		if idx < 0 {
			return "", fields[len(fields)-1]
		}
		return strings.TrimSpace(args[:idx]), fields[len(fields)-1]
	}
	if len(fields) == 2 && strings.EqualFold(fields[0], "as") {
		return "", fields[1]
	}
	return args, ""
}

func (s *Session) cmdOp(name, args string) error {
	if s.doc == nil {
		return errNoQuery
	}
	if s.doc.command != "" {
		return fmt.Errorf("the document is a %s; use 'from <entity>' to start a query", s.doc.command)
	}
	value, as := splitAs(args)
	switch opArity[name] {
	case argRequired:
		if value == "" {
			return fmt.Errorf("usage: %s <expression> [as <name>]", name)
		}
	case argNone:
		if value != "" {
			return fmt.Errorf("%s takes no argument", name)
		}
	}
	s.doc.ops = append(s.doc.ops, opLine{name: name, value: value, as: as})
	if _, err := s.build(); err != nil {
		s.doc.ops = s.doc.ops[:len(s.doc.ops)-1]
		return err
	}
	return nil
}

func (s *Session) cmdUndo() error {
	if s.doc == nil {
		return errNoQuery
	}
	switch {
	case s.doc.command != "":
		s.printf("  Dropped %s\n", s.doc.command)
		s.doc.command, s.doc.as, s.doc.where, s.doc.values = "", "", "", ""
	case len(s.doc.ops) > 0:
		op := s.doc.ops[len(s.doc.ops)-1]
		s.doc.ops = s.doc.ops[:len(s.doc.ops)-1]
		s.printf("  Dropped %s\n", op.name)
	default:
		return errors.New("nothing to undo")
	}
	return nil
}

// cmdCommand turns the document into a mutation. insert, update and
// upsert take the values mapping; delete takes a where expression or
// nothing (delete by the identity in values).
func (s *Session) cmdCommand(kind, args string) error {
	if s.doc == nil {
		return errNoQuery
	}
	if len(s.doc.ops) > 0 {
		return fmt.Errorf("a %s takes no operators; use 'from %s' to start over", kind, s.doc.from)
	}
	prev := *s.doc
	s.doc.command = kind
	switch kind {
	case "delete":
		where, as := splitAs(strings.TrimPrefix(strings.TrimSpace(args), "where "))
		s.doc.where, s.doc.as = where, as
	default:
		if args == "" {
			return fmt.Errorf("usage: %s <values>", kind)
		}
		s.doc.values = args
	}
	if _, err := s.build(); err != nil {
		*s.doc = prev
		return err
	}
	return nil
}

func (s *Session) cmdCheck(args string) error {
	if s.doc == nil || s.doc.command != "update" {
		return errors.New("check applies to an update")
	}
	prev := *s.doc
	s.doc.where, s.doc.as = splitAs(args)
	if _, err := s.build(); err != nil {
		*s.doc = prev
		return err
	}
	return nil
}

func (s *Session) cmdArg(args string) error {
	if s.doc == nil {
		return errNoQuery
	}
	parts := strings.Fields(args)
	switch len(parts) {
	case 1:
		if !s.doc.undeclare(parts[0]) {
			return fmt.Errorf("argument %q is not declared", parts[0])
		}
		s.printf("  Removed argument %s\n", parts[0])
		return nil
	case 2:
		if _, err := querydoc.ParseType(parts[1]); err != nil {
			return err
		}
		s.doc.declare(parts[0], parts[1])
		s.printf("  Argument %s: %s\n", parts[0], parts[1])
		return nil
	}
	return errors.New("usage: arg <name> <type> | arg <name>")
}

func (s *Session) cmdSet(args string) error {
	name, value, ok := strings.Cut(args, " ")
	if !ok || strings.TrimSpace(value) == "" {
		return errors.New("usage: set <argument> <value>")
	}
	value = strings.TrimSpace(value)
	if value == "null" {
		s.args[name] = nil
	} else {
		s.args[name] = strings.Trim(value, `'"`)
	}
	s.printf("  %s = %s\n", name, value)
	return nil
}

func (s *Session) cmdUnset(args string) error {
	if _, ok := s.args[args]; !ok {
		return fmt.Errorf("argument %q has no value", args)
	}
	delete(s.args, args)
	return nil
}

// --- Display commands ---

func (s *Session) cmdDoc() error {
	if s.doc == nil {
		return errNoQuery
	}
	s.printf("%s", s.doc.yaml())
	return nil
}

func (s *Session) cmdSQL(pretty bool) error {
	plan, err := s.plan()
	if err != nil {
		return err
	}
	text, err := renderPlan(plan, false, pretty)
	if err != nil {
		return err
	}
	s.printf("%s", text)
	return nil
}

func (s *Session) cmdAST() error {
	q, err := s.build()
	if err != nil {
		return err
	}
	s.printf("  %s\n", nodes.String(q.Expr()))
	return nil
}

func (s *Session) cmdDot(args string) error {
	path := strings.TrimSpace(args)
	if path == "" {
		return errors.New("usage: dot <filepath>")
	}
	plan, err := s.plan()
	if err != nil {
		return err
	}
	text, err := renderPlan(plan, true, false)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write DOT file: %w", err)
	}
	s.printf("  DOT written to %s\n", path)
	return nil
}

func (s *Session) cmdParams() error {
	plan, err := s.plan()
	if err != nil {
		return err
	}
	params := plan.Params()
	if len(params) == 0 {
		s.printf("  No arguments\n")
		return nil
	}
	for _, name := range params {
		if v, ok := s.args[name]; ok {
			s.printf("  %s = %v\n", name, v)
		} else {
			s.printf("  %s (unset)\n", name)
		}
	}
	return nil
}

func (s *Session) cmdCache(args string) error {
	if strings.TrimSpace(args) == "clear" {
		s.cache.Clear()
		s.printf("  Plan cache cleared\n")
		return nil
	}
	hits, misses := s.cache.Stats()
	s.printf("  %s cached, %s hits, %s misses\n",
		plural(int64(s.cache.Len()), "plan"), humanize.Comma(hits), humanize.Comma(misses))
	return nil
}

// --- Files ---

func (s *Session) cmdLoad(args string) error {
	path := strings.TrimSpace(args)
	if path == "" {
		return errors.New("usage: load <doc.yaml>")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	d, err := querydoc.Parse(f)
	if err != nil {
		return err
	}
	if _, err := buildDocument(d, s.schema); err != nil {
		return err
	}
	st, err := docStateOf(d)
	if err != nil {
		return err
	}
	s.doc = st
	s.printf("  Loaded %s\n", path)
	return nil
}

func (s *Session) cmdSave(args string) error {
	path := strings.TrimSpace(args)
	if path == "" {
		return errors.New("usage: save <doc.yaml>")
	}
	if s.doc == nil {
		return errNoQuery
	}
	if err := os.WriteFile(path, []byte(s.doc.yaml()), 0o644); err != nil {
		return err
	}
	s.printf("  Saved %s\n", path)
	return nil
}

func (s *Session) cmdSchema(args string) error {
	path := strings.TrimSpace(args)
	sc, err := loadSchema(path)
	if err != nil {
		return err
	}
	s.schema, s.doc = sc, nil
	s.cache.Clear()
	s.printf("  Loaded %s\n", plural(int64(len(sc.types)), "entity"))
	return nil
}

func (s *Session) cmdEntities() error {
	if len(s.schema.types) == 0 {
		s.printf("  No entities (use 'schema <mapping.yaml>')\n")
		return nil
	}
	for _, t := range s.schema.types {
		e, err := s.schema.mapping.Entity(t)
		if err != nil {
			return err
		}
		s.printf("  %s -> %s\n", t.Name, s.schema.mapping.TableName(e))
		for _, m := range s.schema.mapping.Members(e) {
			f, _ := t.Field(m)
			s.printf("    %s %s\n", m, f.Type)
		}
	}
	return nil
}

// --- Dialect and connection ---

func (s *Session) cmdDialect(args string) error {
	name := strings.ToLower(strings.TrimSpace(args))
	prev := s.opts.Dialect
	s.opts.Dialect = name
	lang, err := s.opts.language()
	if err != nil {
		s.opts.Dialect = prev
		return err
	}
	s.lang = lang
	s.cache.Clear()
	s.printf("  Dialect set to %s\n", name)
	return nil
}

func (s *Session) cmdConnect(args string) error {
	dsn := strings.TrimSpace(args)
	if dsn == "" {
		dsn = s.lastDSN
	}
	if dsn == "" {
		return errors.New("usage: connect <dsn>")
	}
	db, err := connect(s.opts.Dialect, s.opts.Driver, dsn)
	if err != nil {
		return err
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	s.db, s.lastDSN = db, dsn
	s.printf("  Connected to %s (%s)\n", sanitizeDSN(dsn), s.opts.Dialect)
	return nil
}

func (s *Session) cmdDisconnect() error {
	if s.db == nil {
		return errors.New("not connected")
	}
	err := s.db.Close()
	s.db = nil
	s.printf("  Disconnected\n")
	return err
}

func (s *Session) cmdExec() error {
	if s.db == nil {
		return errors.New("not connected (use 'connect <dsn>')")
	}
	q, err := s.build()
	if err != nil {
		return err
	}
	text, err := execute(context.Background(), s.provider(), q, s.args)
	if err != nil {
		return err
	}
	s.printf("%s", text)
	return nil
}

func (s *Session) cmdReset() error {
	s.doc = nil
	s.args = make(exec.Args)
	s.printf("  Query reset\n")
	return nil
}

func (s *Session) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}
