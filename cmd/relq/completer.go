package main

import (
	"strings"

	"github.com/bawdo/relq/dialect"
)

// completionContext describes what kind of completion is appropriate.
type completionContext int

const (
	contextCommand   completionContext = iota // start of line or partial command
	contextEntity                             // after from
	contextMember                             // inside operator expressions
	contextDialect                            // after dialect
	contextPlugin                             // after plugin
	contextPluginOff                          // after plugin off
)

// expression keys offered alongside member names.
var exprKeywords = []string{
	"m:", "arg:", "lit:", "type:", "rec:", "from:",
	"eq:", "ne:", "lt:", "le:", "gt:", "ge:", "and:", "or:", "not:", "in:", "if:",
	"add:", "sub:", "mul:", "div:", "mod:", "neg:", "concat:", "coalesce:",
	"upper:", "lower:", "trim:", "length:", "substring:", "abs:", "round:",
	"year:", "month:", "day:", "hour:", "minute:", "second:",
	"count:", "sum:", "min:", "max:", "average:", "any:", "all:", "first:", "firstordefault:",
}

func dialectNames() []string { return dialect.Names() }

// replCompleter implements readline's AutoCompleter interface.
type replCompleter struct {
	sess *Session
}

// Do returns completion candidates for the current line/cursor position.
// length is the number of chars from end of line[:pos] that form the prefix being completed.
// newLine contains the suffixes to append for each candidate.
func (c *replCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	lineStr := string(line[:pos])
	ctx, prefix := c.parseContext(lineStr)

	var candidates []string
	switch ctx {
	case contextCommand:
		candidates = filterPrefix(c.sess.commandNames(), prefix)
	case contextEntity:
		candidates = filterPrefix(c.sess.schema.entityNames(), prefix)
	case contextMember:
		candidates = append(filterPrefix(c.sess.memberNames(), prefix), filterPrefix(exprKeywords, prefix)...)
	case contextDialect:
		candidates = filterPrefix(dialectNames(), prefix)
	case contextPlugin:
		candidates = filterPrefix(append([]string{"off"}, c.sess.pluginNames()...), prefix)
	case contextPluginOff:
		candidates = filterPrefix(c.sess.plugins.names(), prefix)
	}

	for _, cand := range candidates {
		suffix := cand[len(prefix):]
		if !strings.HasSuffix(suffix, " ") {
			suffix += " "
		}
		newLine = append(newLine, []rune(suffix))
	}
	length = len([]rune(prefix))
	return
}

// parseContext examines the line up to cursor and determines what kind of
// completion is needed and the current prefix being typed.
func (c *replCompleter) parseContext(line string) (completionContext, string) {
	lower := strings.ToLower(line)

	for _, cmd := range c.sess.commands {
		if !strings.HasSuffix(cmd.prefix, " ") {
			continue // exact-match commands have no arg completion
		}
		if strings.HasPrefix(lower, cmd.prefix) && cmd.completer != nil {
			return cmd.completer(line[len(cmd.prefix):])
		}
	}

	// Default: command completion.
	return contextCommand, strings.TrimSpace(line)
}

// memberNames lists the members of the entity the document starts from.
func (s *Session) memberNames() []string {
	if s.doc == nil {
		return nil
	}
	for _, t := range s.schema.types {
		if t.Name != s.doc.from {
			continue
		}
		names := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			names[i] = f.Name
		}
		return names
	}
	return nil
}

// filterPrefix returns items that start with prefix (case-insensitive).
func filterPrefix(items []string, prefix string) []string {
	if prefix == "" {
		result := make([]string, len(items))
		copy(result, items)
		return result
	}
	lowerPrefix := strings.ToLower(prefix)
	var result []string
	for _, item := range items {
		if strings.HasPrefix(strings.ToLower(item), lowerPrefix) {
			result = append(result, item)
		}
	}
	return result
}

// lastToken returns the last token, splitting on whitespace, commas and
// YAML flow brackets.
func lastToken(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case ' ', ',', '\t', '[', '{':
			return s[i+1:]
		}
	}
	return s
}
