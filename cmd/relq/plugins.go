package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/plugins/softdelete"
)

// pluginEntry represents an enabled plugin in the registry.
type pluginEntry struct {
	name    string                     // "softdelete", "opa"
	factory func() plugins.Transformer // fresh instance per provider
	status  func() string              // human-readable status for display
	// volatile plugins read outside state, so their plans are not cached.
	volatile bool
}

// pluginRegistry holds the enabled plugins in the order they apply.
type pluginRegistry struct {
	entries []pluginEntry
}

// register adds or replaces a plugin by name.
func (r *pluginRegistry) register(entry pluginEntry) {
	for i, e := range r.entries {
		if e.name == entry.name {
			r.entries[i] = entry
			return
		}
	}
	r.entries = append(r.entries, entry)
}

// deregister removes a plugin by name. Returns false if not found.
func (r *pluginRegistry) deregister(name string) bool {
	for i, e := range r.entries {
		if e.name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *pluginRegistry) names() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.name
	}
	return out
}

func (r *pluginRegistry) transformers() []plugins.Transformer {
	out := make([]plugins.Transformer, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.factory()
	}
	return out
}

func (r *pluginRegistry) volatile() bool {
	for _, e := range r.entries {
		if e.volatile {
			return true
		}
	}
	return false
}

// pluginConfigurer defines a known plugin that can be enabled via the plugin command.
type pluginConfigurer struct {
	name      string
	configure func(s *Session, args string) error
}

// configureSoftdelete parses softdelete arguments and registers the plugin.
//
//	plugin softdelete
//	plugin softdelete removed_at
//	plugin softdelete removed_at on Customers Orders
//	plugin softdelete Customers.deleted_at, Orders.removed_at
func configureSoftdelete(s *Session, args string) error {
	rest := strings.TrimSpace(args)
	var opts []softdelete.Option
	var statusFn func() string

	switch {
	case strings.Contains(rest, "."):
		columns := map[string]string{}
		for _, pair := range strings.Split(rest, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			dot := strings.IndexByte(pair, '.')
			if dot <= 0 || dot == len(pair)-1 {
				return fmt.Errorf("invalid table.column pair: %q", pair)
			}
			table, col := pair[:dot], pair[dot+1:]
			opts = append(opts, softdelete.WithTableColumn(table, col))
			columns[table] = col
		}
		statusFn = func() string {
			pairs := make([]string, 0, len(columns))
			for t, c := range columns {
				pairs = append(pairs, t+"."+c)
			}
			sort.Strings(pairs)
			return strings.Join(pairs, ", ")
		}
		s.printf("  Soft-delete enabled (per-table columns)\n")

	case strings.Contains(strings.ToLower(rest), " on "):
		idx := strings.Index(strings.ToLower(rest), " on ")
		col := strings.TrimSpace(rest[:idx])
		tables := strings.Fields(rest[idx+4:])
		if col == "" || len(tables) == 0 {
			return errors.New("usage: plugin softdelete <column> on <table1> [table2 ...]")
		}
		opts = append(opts, softdelete.WithColumn(col), softdelete.WithTables(tables...))
		statusFn = func() string {
			return fmt.Sprintf("column: %s, tables: %s", col, strings.Join(tables, ", "))
		}
		s.printf("  Soft-delete enabled (column: %s, tables: %s)\n", col, strings.Join(tables, ", "))

	case rest != "":
		col := strings.Fields(rest)[0]
		opts = append(opts, softdelete.WithColumn(col))
		statusFn = func() string { return "column: " + col }
		s.printf("  Soft-delete enabled (column: %s)\n", col)

	default:
		statusFn = func() string { return "column: deleted_at" }
		s.printf("  Soft-delete enabled (column: deleted_at)\n")
	}

	s.plugins.register(pluginEntry{
		name:    "softdelete",
		factory: func() plugins.Transformer { return softdelete.New(opts...) },
		status:  statusFn,
	})
	s.pluginsChanged()
	return nil
}

func (s *Session) pluginNames() []string {
	names := make([]string, len(s.configurers))
	for i, c := range s.configurers {
		names[i] = c.name
	}
	return names
}

func (s *Session) cmdPlugin(args string) error {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return errors.New("usage: plugin <name> [args] | plugin off [name]")
	}
	name := strings.ToLower(parts[0])
	if name == "off" {
		return s.cmdPluginOff(parts[1:])
	}
	for _, c := range s.configurers {
		if c.name == name {
			return c.configure(s, strings.TrimSpace(args[len(parts[0]):]))
		}
	}
	return fmt.Errorf("unknown plugin %q (available: %s)", name, strings.Join(s.pluginNames(), ", "))
}

func (s *Session) cmdPluginOff(names []string) error {
	if len(names) == 0 {
		s.plugins.entries = nil
		s.opaConfig = nil
		s.printf("  All plugins disabled\n")
		s.pluginsChanged()
		return nil
	}
	for _, name := range names {
		if !s.plugins.deregister(name) {
			return fmt.Errorf("plugin %q is not enabled", name)
		}
		if name == "opa" {
			s.opaConfig = nil
		}
		s.printf("  Plugin %s disabled\n", name)
	}
	s.pluginsChanged()
	return nil
}

func (s *Session) cmdPlugins() {
	if len(s.plugins.entries) == 0 {
		s.printf("  No plugins enabled\n")
		return
	}
	for _, e := range s.plugins.entries {
		s.printf("  %s: %s\n", e.name, e.status())
	}
}

// pluginsChanged drops cached plans, which were compiled with the old
// plugin set.
func (s *Session) pluginsChanged() {
	s.cache.Clear()
}
