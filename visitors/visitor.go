// Package visitors renders bound and optimized trees as SQL command text for
// each supported dialect.
package visitors

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SQL strings for comparison and arithmetic operators. Concat, modulo and
// coalesce vary by dialect and are rendered separately.
var binaryOpSQL = [...]string{
	nodes.OpPlus:     "+",
	nodes.OpMinus:    "-",
	nodes.OpMultiply: "*",
	nodes.OpDivide:   "/",
	nodes.OpModulo:   "%",
	nodes.OpEq:       "=",
	nodes.OpNotEq:    "<>",
	nodes.OpLt:       "<",
	nodes.OpLtEq:     "<=",
	nodes.OpGt:       ">",
	nodes.OpGtEq:     ">=",
	nodes.OpAnd:      "AND",
	nodes.OpOr:       "OR",
}

// Param describes one distinct command parameter.
type Param struct {
	Name      string
	Type      model.Type
	QueryType *nodes.QueryType
}

// Command is formatted command text. Params lists distinct parameters in
// order of first appearance. For ordinal placeholder dialects Placeholders
// names the parameter bound at each ? in order.
type Command struct {
	Text         string
	Params       []Param
	Placeholders []string
}

// Formatter renders a tree as a command.
type Formatter interface {
	nodes.Visitor
	Format(n nodes.Node) (*Command, error)
}

// Option configures a visitor at construction time.
type Option func(*baseVisitor)

// WithoutParams inlines parameters whose value is a constant as SQL
// literals. Only meant for diagnostics.
func WithoutParams() Option {
	return func(b *baseVisitor) {
		b.parameterize = false
	}
}

// WithPretty renders each clause on its own line and indents subqueries.
func WithPretty() Option {
	return func(b *baseVisitor) {
		b.pretty = true
	}
}

// New returns the formatter for lang.
func New(lang *dialect.Language, opts ...Option) Formatter {
	switch lang.Name {
	case "tsql":
		return NewTSQLVisitor(lang, opts...)
	case "access":
		return NewAccessVisitor(lang, opts...)
	case "postgres":
		return NewPostgresVisitor(lang, opts...)
	case "mysql":
		return NewMySQLVisitor(lang, opts...)
	}
	return NewSQLiteVisitor(lang, opts...)
}

// Format renders n with the formatter for lang.
func Format(lang *dialect.Language, n nodes.Node, opts ...Option) (*Command, error) {
	return New(lang, opts...).Format(n)
}

// baseVisitor implements the SQL generation shared by all dialects.
// Dialect visitors embed *baseVisitor and set outer to themselves so that
// recursive Accept calls reach their overrides. The small per-dialect
// differences are function fields set by each constructor.
type baseVisitor struct {
	outer nodes.Visitor
	lang  *dialect.Language

	parameterize bool
	pretty       bool
	indent       int
	bareColumns  bool

	aliases      map[*nodes.TableAlias]string
	params       []Param
	paramIndex   map[string]int
	placeholders []string

	concat      func(a, b string) string
	modulo      func(a, b string) string
	coalesce    func(a, b string) string
	top         func(n string) string
	skipOnly    string
	funcs       map[nodes.Method]string
	datePart    func(part, arg string) string
	trim        func(arg string) string
	timeFormat  func(t time.Time) string
	bytesFormat func(b []byte) string
}

func newBase(lang *dialect.Language) *baseVisitor {
	return &baseVisitor{
		lang:         lang,
		parameterize: true,
		concat:       func(a, b string) string { return a + " || " + b },
		modulo:       func(a, b string) string { return a + " % " + b },
		coalesce:     func(a, b string) string { return "COALESCE(" + a + ", " + b + ")" },
		top:          func(n string) string { return "TOP (" + n + ") " },
		funcs: map[nodes.Method]string{
			nodes.MethodToUpper:   "UPPER",
			nodes.MethodToLower:   "LOWER",
			nodes.MethodLength:    "LENGTH",
			nodes.MethodSubstring: "SUBSTRING",
			nodes.MethodAbs:       "ABS",
			nodes.MethodRound:     "ROUND",
		},
		datePart: func(part, arg string) string {
			return "EXTRACT(" + strings.ToUpper(part) + " FROM " + arg + ")"
		},
		trim: func(arg string) string { return "TRIM(" + arg + ")" },
		timeFormat: func(t time.Time) string {
			return "'" + t.Format("2006-01-02 15:04:05.999999999") + "'"
		},
		bytesFormat: func(b []byte) string { return "X'" + hex.EncodeToString(b) + "'" },
	}
}

func (b *baseVisitor) applyOptions(opts []Option) {
	for _, o := range opts {
		o(b)
	}
}

// Format renders n. Projections render their select; batches render their
// operation. A node the dialect cannot express yields an unsupported_shape
// error.
func (b *baseVisitor) Format(n nodes.Node) (cmd *Command, err error) {
	b.aliases = make(map[*nodes.TableAlias]string)
	b.params = nil
	b.paramIndex = make(map[string]int)
	b.placeholders = nil
	b.indent = 0
	defer func() {
		if r := recover(); r != nil {
			qe, ok := r.(*qerrors.Error)
			if !ok {
				panic(r)
			}
			cmd, err = nil, qe
		}
	}()
	text := b.command(n)
	return &Command{Text: text, Params: b.params, Placeholders: b.placeholders}, nil
}

func (b *baseVisitor) command(n nodes.Node) string {
	switch x := n.(type) {
	case *nodes.Projection:
		return x.Select.Accept(b.outer)
	case *nodes.Batch:
		return b.command(x.Operation.Body)
	}
	return n.Accept(b.outer)
}

func (b *baseVisitor) fail(n nodes.Node, format string, args ...any) {
	panic(qerrors.New(qerrors.ErrUnsupported, format, args...).WithExpr(nodes.String(n)))
}

// --- Layout ---

// nl separates clauses: a space, or a newline at the current indent.
func (b *baseVisitor) nl() string {
	if !b.pretty {
		return " "
	}
	return "\n" + strings.Repeat("  ", b.indent)
}

func (b *baseVisitor) subquery(s *nodes.Select) string {
	if !b.pretty {
		return "(" + s.Accept(b.outer) + ")"
	}
	b.indent++
	body := b.nl() + s.Accept(b.outer)
	b.indent--
	return "(" + body + b.nl() + ")"
}

// --- Aliases ---

func (b *baseVisitor) aliasName(a *nodes.TableAlias) string {
	if b.aliases == nil {
		b.aliases = make(map[*nodes.TableAlias]string)
	}
	if name, ok := b.aliases[a]; ok {
		return name
	}
	name := "t" + strconv.Itoa(len(b.aliases))
	b.aliases[a] = name
	return name
}

// declare names the aliases a source introduces before any column that
// reads them is written.
func (b *baseVisitor) declare(source nodes.Node) {
	switch x := source.(type) {
	case *nodes.Table:
		b.aliasName(x.Alias)
	case *nodes.Select:
		b.aliasName(x.Alias)
	case *nodes.Join:
		b.declare(x.Left)
		b.declare(x.Right)
	}
}

func (b *baseVisitor) quote(name string) string { return b.lang.QuoteIdent(name) }

// --- Predicates and values ---

func isPredicate(n nodes.Node) bool {
	switch x := n.(type) {
	case *nodes.Binary:
		return x.Op.IsComparison() || x.Op.IsLogical()
	case *nodes.Unary:
		return x.Op == nodes.OpNot
	case *nodes.Exists, *nodes.In, *nodes.IsNull, *nodes.Between:
		return true
	case *nodes.Call:
		switch x.Method {
		case nodes.MethodStartsWith, nodes.MethodEndsWith, nodes.MethodContainsString:
			return true
		}
	}
	return false
}

// predicate renders n where the grammar expects a condition.
func (b *baseVisitor) predicate(n nodes.Node) string {
	s := n.Accept(b.outer)
	if !b.lang.BooleanValues && !isPredicate(n) {
		return s + " <> 0"
	}
	return s
}

// value renders n where the grammar expects a scalar.
func (b *baseVisitor) value(n nodes.Node) string {
	s := n.Accept(b.outer)
	if !b.lang.BooleanValues && isPredicate(n) {
		return "CASE WHEN " + s + " THEN 1 ELSE 0 END"
	}
	return s
}

func (b *baseVisitor) values(ns []nodes.Node) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = b.value(n)
	}
	return strings.Join(parts, ", ")
}

// operand wraps nested arithmetic in parentheses.
func (b *baseVisitor) operand(n nodes.Node) string {
	s := b.value(n)
	if x, ok := n.(*nodes.Binary); ok && !x.Op.IsComparison() && !x.Op.IsLogical() {
		return "(" + s + ")"
	}
	return s
}

func (b *baseVisitor) logicalOperand(n nodes.Node, parent nodes.BinaryOp) string {
	s := b.predicate(n)
	if x, ok := n.(*nodes.Binary); ok && x.Op.IsLogical() && x.Op != parent {
		return "(" + s + ")"
	}
	return s
}

// --- Literals ---

func (b *baseVisitor) literal(val any) string {
	switch v := val.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + b.lang.EscapeString(v) + "'"
	case bool:
		switch {
		case b.lang.BooleanValues && v:
			return "TRUE"
		case b.lang.BooleanValues:
			return "FALSE"
		case v:
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return b.timeFormat(v)
	case []byte:
		return b.bytesFormat(v)
	case uuid.UUID:
		return "'" + v.String() + "'"
	}
	panic(qerrors.New(qerrors.ErrUnsupported, "cannot render literal of type %T", val))
}

// --- Scalar kinds ---

func (b *baseVisitor) VisitConstant(n *nodes.Constant) string { return b.literal(n.Value) }

func (b *baseVisitor) VisitParameter(n *nodes.Parameter) string {
	b.fail(n, "unbound parameter %s", n.Name)
	return ""
}

func (b *baseVisitor) VisitLambda(n *nodes.Lambda) string {
	b.fail(n, "lambda cannot be translated")
	return ""
}

func (b *baseVisitor) VisitMember(n *nodes.Member) string {
	b.fail(n, "member %s cannot be translated", n.Name)
	return ""
}

func (b *baseVisitor) VisitNew(n *nodes.New) string {
	b.fail(n, "record construction cannot be translated")
	return ""
}

func (b *baseVisitor) VisitBinary(n *nodes.Binary) string {
	switch n.Op {
	case nodes.OpAnd, nodes.OpOr:
		return b.logicalOperand(n.Left, n.Op) + " " + binaryOpSQL[n.Op] + " " + b.logicalOperand(n.Right, n.Op)
	case nodes.OpEq, nodes.OpNotEq:
		if isNullConstant(n.Right) || isNullConstant(n.Left) {
			operand := n.Left
			if isNullConstant(n.Left) {
				operand = n.Right
			}
			if n.Op == nodes.OpEq {
				return b.operand(operand) + " IS NULL"
			}
			return b.operand(operand) + " IS NOT NULL"
		}
	case nodes.OpConcat:
		return b.concat(b.operand(n.Left), b.operand(n.Right))
	case nodes.OpModulo:
		return b.modulo(b.operand(n.Left), b.operand(n.Right))
	case nodes.OpCoalesce:
		return b.coalesce(b.value(n.Left), b.value(n.Right))
	}
	return b.operand(n.Left) + " " + binaryOpSQL[n.Op] + " " + b.operand(n.Right)
}

func isIntegral(n nodes.Node) bool {
	return model.KindOf(n.Type()) == model.KindInt
}

func isNullConstant(n nodes.Node) bool {
	c, ok := n.(*nodes.Constant)
	return ok && c.Value == nil
}

func (b *baseVisitor) VisitUnary(n *nodes.Unary) string {
	switch n.Op {
	case nodes.OpNot:
		if _, ok := n.Expr.(*nodes.Binary); ok {
			return "NOT (" + b.predicate(n.Expr) + ")"
		}
		return "NOT " + b.predicate(n.Expr)
	case nodes.OpNegate:
		return "-" + b.operand(n.Expr)
	}
	if model.KindOf(n.Typ) == model.KindOf(n.Expr.Type()) {
		return n.Expr.Accept(b.outer)
	}
	qt := b.lang.Types.ColumnType(n.Typ)
	if qt == nil {
		b.fail(n, "no column type for %s", n.Typ)
	}
	return "CAST(" + b.value(n.Expr) + " AS " + qt.String() + ")"
}

func (b *baseVisitor) VisitConditional(n *nodes.Conditional) string {
	return "CASE WHEN " + b.predicate(n.Test) + " THEN " + b.value(n.Then) + " ELSE " + b.value(n.Else) + " END"
}

func (b *baseVisitor) VisitCall(n *nodes.Call) string {
	args := n.Args
	switch n.Method {
	case nodes.MethodStartsWith:
		return b.value(args[0]) + " LIKE " + b.concat(b.operand(args[1]), "'%'")
	case nodes.MethodEndsWith:
		return b.value(args[0]) + " LIKE " + b.concat("'%'", b.operand(args[1]))
	case nodes.MethodContainsString:
		return b.value(args[0]) + " LIKE " + b.concat(b.concat("'%'", b.operand(args[1])), "'%'")
	case nodes.MethodTrim:
		return b.trim(b.value(args[0]))
	case nodes.MethodSubstring:
		start := b.oneBased(args[1])
		if len(args) > 2 {
			return b.funcs[n.Method] + "(" + b.value(args[0]) + ", " + start + ", " + b.value(args[2]) + ")"
		}
		return b.funcs[n.Method] + "(" + b.value(args[0]) + ", " + start + ")"
	case nodes.MethodRound:
		if len(args) == 1 {
			return b.funcs[n.Method] + "(" + b.value(args[0]) + ", 0)"
		}
	case nodes.MethodYear, nodes.MethodMonth, nodes.MethodDay, nodes.MethodHour, nodes.MethodMinute, nodes.MethodSecond:
		return b.datePart(strings.ToLower(string(n.Method)), b.value(args[0]))
	}
	if name, ok := b.funcs[n.Method]; ok {
		return name + "(" + b.values(args) + ")"
	}
	b.fail(n, "method %s cannot be translated", n.Method)
	return ""
}

// oneBased renders a zero-based string index as a one-based SQL position.
func (b *baseVisitor) oneBased(n nodes.Node) string {
	if c, ok := n.(*nodes.Constant); ok {
		if i, ok := c.Value.(int64); ok {
			return strconv.FormatInt(i+1, 10)
		}
	}
	return b.operand(n) + " + 1"
}

func (b *baseVisitor) VisitRoot(n *nodes.Root) string {
	b.fail(n, "unbound query root")
	return ""
}

// --- Relational kinds ---

func (b *baseVisitor) VisitTable(n *nodes.Table) string { return b.quote(n.Name) }

func (b *baseVisitor) VisitColumn(n *nodes.Column) string {
	if b.bareColumns {
		return b.quote(n.Name)
	}
	return b.quote(b.aliasName(n.Alias)) + "." + b.quote(n.Name)
}

func (b *baseVisitor) VisitSelect(n *nodes.Select) string {
	b.declare(n.From)
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if n.Distinct {
		sb.WriteString("DISTINCT ")
	}
	if n.Take != nil && b.lang.Limit == dialect.LimitTop {
		sb.WriteString(b.top(n.Take.Accept(b.outer)))
	}
	b.writeColumns(&sb, n.Columns)
	if n.From != nil {
		sb.WriteString(b.nl() + "FROM " + b.source(n.From))
	}
	if n.Where != nil {
		sb.WriteString(b.nl() + "WHERE " + b.predicate(n.Where))
	}
	if len(n.GroupBy) > 0 {
		sb.WriteString(b.nl() + "GROUP BY " + b.values(n.GroupBy))
	}
	if len(n.OrderBy) > 0 {
		sb.WriteString(b.nl() + "ORDER BY " + b.orderBy(n.OrderBy))
	}
	b.writeLimit(&sb, n)
	return sb.String()
}

func (b *baseVisitor) writeColumns(sb *strings.Builder, cols []nodes.ColumnDeclaration) {
	if len(cols) == 0 {
		sb.WriteString("NULL")
		return
	}
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.value(c.Expr))
		if col, ok := c.Expr.(*nodes.Column); (ok && col.Name == c.Name) || c.Name == "" {
			continue
		}
		sb.WriteString(" AS " + b.quote(c.Name))
	}
}

func (b *baseVisitor) writeLimit(sb *strings.Builder, n *nodes.Select) {
	if b.lang.Limit == dialect.LimitTop {
		if n.Skip != nil {
			b.fail(n, "skip must be rewritten for %s", b.lang.Name)
		}
		return
	}
	switch {
	case n.Take != nil:
		sb.WriteString(b.nl() + "LIMIT " + n.Take.Accept(b.outer))
	case n.Skip != nil && b.skipOnly != "":
		sb.WriteString(b.nl() + "LIMIT " + b.skipOnly)
	}
	if n.Skip != nil {
		sb.WriteString(" OFFSET " + n.Skip.Accept(b.outer))
	}
}

func (b *baseVisitor) orderBy(os []nodes.OrderExpression) string {
	parts := make([]string, len(os))
	for i, o := range os {
		parts[i] = b.value(o.Expr)
		if o.Direction == nodes.Desc {
			parts[i] += " DESC"
		}
	}
	return strings.Join(parts, ", ")
}

func (b *baseVisitor) source(n nodes.Node) string {
	switch x := n.(type) {
	case *nodes.Table:
		return b.quote(x.Name) + " AS " + b.quote(b.aliasName(x.Alias))
	case *nodes.Select:
		return b.subquery(x) + " AS " + b.quote(b.aliasName(x.Alias))
	case *nodes.Join:
		return x.Accept(b.outer)
	}
	b.fail(n, "not a row source")
	return ""
}

func (b *baseVisitor) VisitJoin(n *nodes.Join) string {
	left := b.source(n.Left)
	var kind, suffix string
	switch n.Kind {
	case nodes.CrossJoin, nodes.InnerJoin, nodes.LeftOuterJoin:
		kind = n.Kind.String()
	case nodes.CrossApply, nodes.OuterApply:
		switch b.lang.Apply {
		case dialect.ApplyNative:
			kind = n.Kind.String()
		case dialect.ApplyLateral:
			kind = "CROSS JOIN LATERAL"
			if n.Kind == nodes.OuterApply {
				kind, suffix = "LEFT JOIN LATERAL", " ON TRUE"
			}
		default:
			b.fail(n, "%s cannot express %s", b.lang.Name, n.Kind)
		}
	}
	s := left + b.nl() + kind + " " + b.source(n.Right)
	if n.Condition != nil {
		return s + " ON " + b.predicate(n.Condition)
	}
	return s + suffix
}

func (b *baseVisitor) VisitOuterJoined(n *nodes.OuterJoined) string {
	b.fail(n, "outer-joined test is only valid in a projector")
	return ""
}

func (b *baseVisitor) VisitAggregate(n *nodes.Aggregate) string {
	if n.Arg == nil {
		return n.Func.String() + "(*)"
	}
	arg := b.value(n.Arg)
	if n.Distinct {
		arg = "DISTINCT " + arg
	}
	return n.Func.String() + "(" + arg + ")"
}

func (b *baseVisitor) VisitAggregateSubquery(n *nodes.AggregateSubquery) string {
	return n.Subquery.Accept(b.outer)
}

func (b *baseVisitor) VisitScalar(n *nodes.Scalar) string { return b.subquery(n.Select) }

func (b *baseVisitor) VisitExists(n *nodes.Exists) string { return "EXISTS" + b.subquery(n.Select) }

func (b *baseVisitor) VisitIn(n *nodes.In) string {
	if n.Select != nil {
		return b.value(n.Expr) + " IN " + b.subquery(n.Select)
	}
	if len(n.Values) == 0 {
		return "0 = 1"
	}
	return b.value(n.Expr) + " IN (" + b.values(n.Values) + ")"
}

func (b *baseVisitor) VisitIsNull(n *nodes.IsNull) string { return b.operand(n.Expr) + " IS NULL" }

func (b *baseVisitor) VisitBetween(n *nodes.Between) string {
	return b.operand(n.Expr) + " BETWEEN " + b.operand(n.Lower) + " AND " + b.operand(n.Upper)
}

func (b *baseVisitor) VisitRowNumber(n *nodes.RowNumber) string {
	return "ROW_NUMBER() OVER(ORDER BY " + b.orderBy(n.OrderBy) + ")"
}

func (b *baseVisitor) VisitNamedValue(n *nodes.NamedValue) string {
	if !b.parameterize {
		if c, ok := n.Value.(*nodes.Constant); ok {
			return b.literal(c.Value)
		}
	}
	if b.paramIndex == nil {
		b.paramIndex = make(map[string]int)
	}
	idx, seen := b.paramIndex[n.Name]
	if !seen {
		idx = len(b.params)
		b.paramIndex[n.Name] = idx
		qt := n.QueryType
		if qt == nil {
			qt = b.lang.Types.ColumnType(n.Type())
		}
		b.params = append(b.params, Param{Name: n.Name, Type: n.Type(), QueryType: qt})
	}
	switch b.lang.Params {
	case dialect.ParamNamed:
		return "@" + n.Name
	case dialect.ParamPositional:
		return "$" + strconv.Itoa(idx+1)
	}
	b.placeholders = append(b.placeholders, n.Name)
	return "?"
}

func (b *baseVisitor) VisitFunction(n *nodes.Function) string {
	if strings.HasPrefix(n.Name, "@@") {
		return n.Name
	}
	return n.Name + "(" + b.values(n.Args) + ")"
}

func (b *baseVisitor) VisitEntity(n *nodes.Entity) string {
	b.fail(n, "entity construction cannot be translated")
	return ""
}

func (b *baseVisitor) VisitGrouping(n *nodes.Grouping) string {
	b.fail(n, "grouping cannot be translated")
	return ""
}

func (b *baseVisitor) VisitProjection(n *nodes.Projection) string {
	b.fail(n, "nested projection cannot be translated")
	return ""
}

func (b *baseVisitor) VisitClientJoin(n *nodes.ClientJoin) string {
	b.fail(n, "client join must be rewritten before formatting")
	return ""
}

// --- Commands ---

func (b *baseVisitor) VisitInsert(n *nodes.Insert) string {
	if len(n.Assignments) == 0 {
		return "INSERT INTO " + b.quote(n.Table.Name) + " DEFAULT VALUES"
	}
	cols := make([]string, len(n.Assignments))
	vals := make([]string, len(n.Assignments))
	for i, a := range n.Assignments {
		cols[i] = b.quote(a.Column.Name)
		vals[i] = b.value(a.Expr)
	}
	return "INSERT INTO " + b.quote(n.Table.Name) + "(" + strings.Join(cols, ", ") + ")" +
		b.nl() + "VALUES (" + strings.Join(vals, ", ") + ")"
}

func (b *baseVisitor) assignments(as []nodes.ColumnAssignment) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = b.quote(a.Column.Name) + " = " + b.value(a.Expr)
	}
	return strings.Join(parts, ", ")
}

func (b *baseVisitor) VisitUpdate(n *nodes.Update) string {
	b.bareColumns = true
	defer func() { b.bareColumns = false }()
	s := "UPDATE " + b.quote(n.Table.Name) + b.nl() + "SET " + b.assignments(n.Assignments)
	if n.Where != nil {
		s += b.nl() + "WHERE " + b.predicate(n.Where)
	}
	return s
}

func (b *baseVisitor) VisitDelete(n *nodes.Delete) string {
	b.bareColumns = true
	defer func() { b.bareColumns = false }()
	s := "DELETE FROM " + b.quote(n.Table.Name)
	if n.Where != nil {
		s += b.nl() + "WHERE " + b.predicate(n.Where)
	}
	return s
}

func (b *baseVisitor) VisitUpsert(n *nodes.Upsert) string {
	switch b.lang.Upsert {
	case dialect.UpsertIfExists:
		check := b.predicate(n.Check)
		return "IF " + check + b.nl() + n.Update.Accept(b.outer) + b.nl() + "ELSE" + b.nl() + n.Insert.Accept(b.outer)
	case dialect.UpsertOnConflict:
		keys := make([]string, len(n.Keys))
		for i, k := range n.Keys {
			keys[i] = b.quote(k.Name)
		}
		s := n.Insert.Accept(b.outer) + b.nl() + "ON CONFLICT(" + strings.Join(keys, ", ") + ") DO UPDATE SET "
		b.bareColumns = true
		defer func() { b.bareColumns = false }()
		s += b.assignments(n.Update.Assignments)
		if n.Update.Where != nil {
			s += b.nl() + "WHERE " + b.predicate(n.Update.Where)
		}
		return s
	}
	b.fail(n, "%s runs upserts as separate commands", b.lang.Name)
	return ""
}

func (b *baseVisitor) VisitBatch(n *nodes.Batch) string {
	return n.Operation.Body.Accept(b.outer)
}

// String renders an unparameterized single-line form of n, for logs and
// error messages.
func String(lang *dialect.Language, n nodes.Node) string {
	cmd, err := Format(lang, n, WithoutParams())
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return cmd.Text
}
