package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/plugins/opa"
	"github.com/bawdo/relq/provider"
	"github.com/bawdo/relq/visitors"
)

var errOPAOff = errors.New("OPA is not enabled")

// opaPluginRef holds OPA server configuration.
type opaPluginRef struct {
	url       string
	policy    string
	input     map[string]any
	dataTable string // table name for data discovery (e.g. "Customers")
}

func (s *Session) opaClient() *opa.Client {
	return opa.NewClient(s.opaConfig.url, s.opaConfig.policy, s.opaConfig.input)
}

func (s *Session) cmdOPAOff() error {
	if s.opaConfig == nil {
		return errOPAOff
	}
	s.plugins.deregister("opa")
	s.opaConfig = nil
	s.printf("  OPA disabled\n")
	s.pluginsChanged()
	return nil
}

func (s *Session) cmdOPAStatus() {
	if s.opaConfig == nil {
		s.printf("  OPA: off\n")
		return
	}
	s.printf("  OPA: on\n")
	s.printf("    Server: %s\n", s.opaConfig.url)
	s.printf("    Policy: %s\n", s.opaConfig.policy)
	if s.opaConfig.dataTable != "" {
		s.printf("    Data table: %s\n", s.opaConfig.dataTable)
	}
	if len(s.opaConfig.input) > 0 {
		s.printf("    Inputs:\n")
		s.printInputMap(s.opaConfig.input, "      ")
	} else {
		s.printf("    Inputs: (none)\n")
	}
	masks, err := s.opaClient().FetchMasks()
	if err == nil && len(masks) > 0 {
		n := 0
		for _, cols := range masks {
			n += len(cols)
		}
		s.printf("    Masks: %s masked\n", plural(int64(n), "column"))
	} else {
		s.printf("    Masks: none\n")
	}
}

func (s *Session) printInputMap(m map[string]any, indent string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := m[k]
		if nested, ok := v.(map[string]any); ok {
			s.printf("%s%s:\n", indent, k)
			s.printInputMap(nested, indent+"  ")
		} else {
			s.printf("%s%s: %v\n", indent, k, v)
		}
	}
}

// printMasks lists mask actions as table.column lines.
func (s *Session) printMasks(masks map[string]map[string]opa.MaskAction, indent string) {
	tables := make([]string, 0, len(masks))
	for tbl := range masks {
		tables = append(tables, tbl)
	}
	sort.Strings(tables)
	for _, tbl := range tables {
		cols := make([]string, 0, len(masks[tbl]))
		for col := range masks[tbl] {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			if action := masks[tbl][col]; action.Replace != nil {
				s.printf("%s%s.%s -> replace: '%s'\n", indent, tbl, col, action.Replace.Value)
			}
		}
	}
}

// configureOPA registers the OPA plugin using the current opaConfig. Its
// plans depend on server state, so the entry is volatile.
func configureOPA(s *Session, _ string) error {
	if s.opaConfig == nil {
		return errors.New("OPA not configured (run 'opa' first)")
	}
	cfg := s.opaConfig
	s.plugins.register(pluginEntry{
		name: "opa",
		factory: func() plugins.Transformer {
			return opa.NewFromServer(cfg.url, cfg.policy, cfg.input)
		},
		status:   func() string { return "policy: " + cfg.policy },
		volatile: true,
	})
	s.pluginsChanged()
	return nil
}

func (s *Session) cmdOPAReload() error {
	if s.opaConfig == nil {
		return errOPAOff
	}
	s.opaPromptRediscover()
	return nil
}

// opaPromptRediscover asks whether to re-discover inputs when interactive,
// otherwise reloads the plugin with the current configuration.
func (s *Session) opaPromptRediscover() {
	if s.rl != nil {
		answer := strings.ToLower(prompt(s.rl, "Re-discover inputs from server? (y/n)", "n"))
		if answer == "y" || answer == "yes" {
			if err := s.cmdOPAInputs(); err != nil {
				s.printf("  Error: %v\n", err)
			}
			return
		}
	}
	_ = configureOPA(s, "")
	s.printf("  OPA plugin reloaded.\n")
}

func (s *Session) cmdOPAUrl(args string) error {
	if s.opaConfig == nil {
		return errOPAOff
	}
	if args == "" {
		return errors.New("usage: opa url <url>")
	}
	s.opaConfig.url = args
	s.printf("  OPA server URL set to %s\n", args)
	s.opaPromptRediscover()
	return nil
}

func (s *Session) cmdOPAPolicy(args string) error {
	if s.opaConfig == nil {
		return errOPAOff
	}
	if args == "" {
		return errors.New("usage: opa policy <path>")
	}
	s.opaConfig.policy = args
	s.printf("  OPA policy path set to %s\n", args)
	s.opaPromptRediscover()
	return nil
}

func (s *Session) cmdOPAInput(args string) error {
	if s.opaConfig == nil {
		return errOPAOff
	}
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return errors.New("usage: opa input <key> [value]")
	}
	key := parts[0]
	if len(parts) == 1 {
		deleteNestedValue(s.opaConfig.input, key)
		s.printf("  Removed input %s\n", key)
	} else {
		val := parseOPAValue(strings.Join(parts[1:], " "))
		if s.opaConfig.input == nil {
			s.opaConfig.input = map[string]any{}
		}
		setNestedValue(s.opaConfig.input, key, val)
		s.printf("  Set input %s = %v\n", key, val)
	}
	s.opaPromptRediscover()
	return nil
}

// discoverInputs asks the server which input paths the policy reads and
// prompts for each, offering current values as defaults.
func (s *Session) discoverInputs(url, policy, table string, current map[string]any) (map[string]any, error) {
	client := opa.NewClient(url, policy, nil)
	var unknowns []string
	if table != "" {
		unknowns = append(unknowns, "data."+table)
	}
	paths, err := client.DiscoverInputs(unknowns...)
	if err != nil {
		return nil, fmt.Errorf("OPA: cannot reach server at %s: %w", url, err)
	}
	input := map[string]any{}
	if len(paths) == 0 {
		s.printf("  No inputs required by policy\n")
		return input, nil
	}
	s.printf("  Policy requires %s:\n", plural(int64(len(paths)), "input"))
	for _, path := range paths {
		def := ""
		if v := getNestedValue(current, path); v != nil {
			def = fmt.Sprintf("%v", v)
		}
		if val := prompt(s.rl, path, def); val != "" {
			setNestedValue(input, path, parseOPAValue(val))
		}
	}
	return input, nil
}

func (s *Session) cmdOPAInputs() error {
	if s.opaConfig == nil {
		return errOPAOff
	}
	if s.rl == nil {
		return errors.New("opa inputs requires an interactive session")
	}
	input, err := s.discoverInputs(s.opaConfig.url, s.opaConfig.policy, s.opaConfig.dataTable, s.opaConfig.input)
	if err != nil {
		return err
	}
	s.opaConfig.input = input
	_ = configureOPA(s, "")
	s.printf("  OPA inputs updated and reloaded.\n")
	return nil
}

// cmdOPAExplain shows how the policy's partial evaluation for a table
// translates to SQL. "verbose" adds the raw request and response.
func (s *Session) cmdOPAExplain(args string) error {
	if s.opaConfig == nil {
		return errOPAOff
	}
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return errors.New("usage: opa explain <table> [verbose]")
	}
	table := parts[0]
	verbose := len(parts) > 1 && strings.EqualFold(parts[1], "verbose")

	res, err := s.opaClient().Explain(s.lang, table)
	if err != nil {
		return fmt.Errorf("OPA explain: %w", err)
	}
	s.printf("  OPA explain for table %q:\n", table)
	if verbose {
		s.printf("    Request:\n      %s\n", res.RequestJSON)
		s.printf("    Response:\n      %s\n", res.RawJSON)
	}
	switch {
	case res.AccessDenied:
		s.printf("    Access denied (no matching rules)\n")
		return nil
	case res.UnconditionalAllow:
		s.printf("    Unconditional allow (no conditions)\n")
	default:
		if verbose {
			s.printf("    Translation:\n")
			for i, tr := range res.Translations {
				s.printf("      [%d] %s(data.%s.%s, %v) -> %s\n", i+1, tr.Operator, table, tr.Column, tr.Value, tr.SQL)
			}
		}
		s.printf("    %s, %s\n", plural(int64(res.QueryCount), "query"), plural(int64(res.ExpressionCount), "expression"))
		s.printf("    Condition: %s\n", conditionSQL(s, table, res.Condition))
	}
	if len(res.Masks) > 0 {
		s.printf("    Masks:\n")
		s.printMasks(res.Masks, "      ")
	}
	return nil
}

// conditionSQL renders a row filter as it would appear in a WHERE clause.
func conditionSQL(s *Session, table string, cond nodes.Node) string {
	if cond == nil {
		return "(none)"
	}
	text := visitors.String(s.lang, &nodes.Delete{Table: nodes.NewTable(nil, table), Where: cond})
	_, where, _ := strings.Cut(text, "WHERE ")
	return where
}

// queryTables lists the tables the current document reads or writes. The
// document is compiled without plugins so the server is not consulted.
func (s *Session) queryTables() ([]plugins.TableRef, error) {
	q, err := s.build()
	if err != nil {
		return nil, err
	}
	p := provider.New(mapping.NewMapper(s.schema.mapping, s.lang), nil,
		provider.WithLogger(s.logger), provider.WithoutCache())
	plan, err := p.Plan(q)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var refs []plugins.TableRef
	add := func(ref plugins.TableRef) {
		if !seen[ref.Name] {
			seen[ref.Name] = true
			refs = append(refs, ref)
		}
	}
	for _, cmd := range plan.Commands {
		for _, src := range cmd.Sources {
			nodes.Inspect(src, func(n nodes.Node) bool {
				switch x := n.(type) {
				case *nodes.Select:
					for _, ref := range plugins.CollectTables(x) {
						add(ref)
					}
				case *nodes.Update:
					add(plugins.TableRef{Alias: x.Table.Alias, Name: x.Table.Name, Table: x.Table})
				case *nodes.Delete:
					add(plugins.TableRef{Alias: x.Table.Alias, Name: x.Table.Name, Table: x.Table})
				}
				return true
			})
		}
	}
	return refs, nil
}

func (s *Session) cmdOPAConditions() error {
	if s.opaConfig == nil {
		return errOPAOff
	}
	refs, err := s.queryTables()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		s.printf("  No tables in query\n")
		return nil
	}
	client := s.opaClient()
	s.printf("  OPA conditions:\n")
	for _, ref := range refs {
		cond, err := client.Compile(ref)
		if err != nil {
			s.printf("    %s: %v\n", ref.Name, err)
			continue
		}
		if cond == nil {
			s.printf("    %s: (unconditional allow)\n", ref.Name)
			continue
		}
		s.printf("    %s: %s\n", ref.Name, conditionSQL(s, ref.Name, cond))
	}
	return nil
}

func (s *Session) cmdOPAMasks() error {
	if s.opaConfig == nil {
		return errOPAOff
	}
	masks, err := s.opaClient().FetchMasks()
	if err != nil {
		return fmt.Errorf("OPA masks: %w", err)
	}
	if len(masks) == 0 {
		s.printf("  No masks active.\n")
		return nil
	}
	s.printMasks(masks, "  ")
	return nil
}

// cmdOPASetup runs the interactive OPA setup wizard: server URL, policy
// path and table name, then the inputs the policy reads.
func (s *Session) cmdOPASetup() error {
	if s.rl == nil {
		return errors.New("opa setup requires an interactive session")
	}
	s.printf("  OPA setup:\n")
	url := prompt(s.rl, "OPA server URL", "http://localhost:8181")
	policy := prompt(s.rl, "Policy path (e.g. data.authz.allow)", "")
	if policy == "" {
		return errors.New("policy path is required")
	}
	table := prompt(s.rl, "Table name (for data discovery)", "")
	input, err := s.discoverInputs(url, policy, table, nil)
	if err != nil {
		return err
	}
	s.opaConfig = &opaPluginRef{url: url, policy: policy, input: input, dataTable: table}
	if err := configureOPA(s, ""); err != nil {
		return err
	}
	s.printf("  OPA enabled (policy: %s)\n", policy)
	return nil
}

func parseOPAValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

func setNestedValue(m map[string]any, path string, val any) {
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		next, ok := current[parts[i]].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[parts[i]] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = val
}

func deleteNestedValue(m map[string]any, path string) {
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		next, ok := current[parts[i]].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

func getNestedValue(m map[string]any, path string) any {
	if m == nil {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		next, ok := current[parts[i]].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current[parts[len(parts)-1]]
}
