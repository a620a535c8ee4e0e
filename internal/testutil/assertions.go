// Package testutil provides shared test helpers for the relq project.
package testutil

import (
	"testing"

	"github.com/bawdo/relq/nodes"
)

// AssertSQL accepts a visitor and node, renders the SQL, and compares it with the expected string.
func AssertSQL(t *testing.T, v nodes.Visitor, node nodes.Node, expected string) {
	t.Helper()
	got := node.Accept(v)
	if got != expected {
		t.Errorf("expected:\n  %s\ngot:\n  %s", expected, got)
	}
}

// AssertTree compares the debug rendering of a node.
func AssertTree(t *testing.T, node nodes.Node, expected string) {
	t.Helper()
	if got := nodes.String(node); got != expected {
		t.Errorf("expected tree:\n  %s\ngot:\n  %s", expected, got)
	}
}
