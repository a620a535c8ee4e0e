package visitors

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// FormattingVisitor produces human-readable multi-line SQL: every clause on
// its own line, subqueries indented one level per nesting depth. Constant
// parameters are inlined so the output can be pasted into a SQL console.
type FormattingVisitor struct {
	Formatter
}

// NewFormattingVisitor constructs a FormattingVisitor for lang.
func NewFormattingVisitor(lang *dialect.Language, opts ...Option) *FormattingVisitor {
	opts = append([]Option{WithPretty(), WithoutParams()}, opts...)
	return &FormattingVisitor{Formatter: New(lang, opts...)}
}

// Pretty renders n as multi-line SQL.
func Pretty(lang *dialect.Language, n nodes.Node) (string, error) {
	cmd, err := NewFormattingVisitor(lang).Format(n)
	if err != nil {
		return "", err
	}
	return cmd.Text, nil
}
