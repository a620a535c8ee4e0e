package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// TypeSystem maps scalar kinds to the dialect's column types and parses
// declared column types such as "nvarchar(40)".
type TypeSystem struct {
	defaults map[model.Kind]nodes.QueryType
	names    map[string]model.Kind
}

func newTypeSystem(defaults map[model.Kind]nodes.QueryType, extra map[string]model.Kind) *TypeSystem {
	ts := &TypeSystem{defaults: defaults, names: make(map[string]model.Kind)}
	for k, qt := range defaults {
		ts.names[strings.ToLower(qt.Name)] = k
	}
	for n, k := range extra {
		ts.names[n] = k
	}
	return ts
}

// ColumnType returns the default column type for t. Non-scalar types map to
// nil.
func (ts *TypeSystem) ColumnType(t model.Type) *nodes.QueryType {
	s, ok := t.(*model.Scalar)
	if !ok {
		return nil
	}
	qt, ok := ts.defaults[s.Kind]
	if !ok {
		return nil
	}
	qt.NotNull = !s.Nullable
	return &qt
}

// Parse reads a declared column type: a name, an optional (length),
// (precision, scale) or (max) suffix and an optional NOT NULL.
func (ts *TypeSystem) Parse(decl string) (*nodes.QueryType, error) {
	s := strings.TrimSpace(decl)
	qt := &nodes.QueryType{}
	if upper := strings.ToUpper(s); strings.HasSuffix(upper, " NOT NULL") {
		qt.NotNull = true
		s = strings.TrimSpace(s[:len(s)-len(" NOT NULL")])
	}
	name, args, hasArgs := strings.Cut(s, "(")
	qt.Name = strings.TrimSpace(name)
	if qt.Name == "" {
		return nil, fmt.Errorf("relq: empty column type in %q", decl)
	}
	if hasArgs {
		args, ok := strings.CutSuffix(strings.TrimSpace(args), ")")
		if !ok {
			return nil, fmt.Errorf("relq: unterminated column type %q", decl)
		}
		parts := strings.Split(args, ",")
		switch {
		case len(parts) == 1 && strings.EqualFold(strings.TrimSpace(parts[0]), "max"):
			qt.Length = -1
		case len(parts) == 1:
			n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
			if err != nil {
				return nil, fmt.Errorf("relq: bad size in column type %q: %w", decl, err)
			}
			if ts.isExact(qt.Name) {
				qt.Precision = n
			} else {
				qt.Length = n
			}
		case len(parts) == 2:
			p, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
			sc, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("relq: bad precision in column type %q", decl)
			}
			qt.Precision, qt.Scale = p, sc
		default:
			return nil, fmt.Errorf("relq: too many arguments in column type %q", decl)
		}
	}
	return qt, nil
}

// Kind returns the scalar kind a column type holds, or KindInvalid.
func (ts *TypeSystem) Kind(qt *nodes.QueryType) model.Kind {
	if qt == nil {
		return model.KindInvalid
	}
	return ts.names[strings.ToLower(qt.Name)]
}

func (ts *TypeSystem) isExact(name string) bool {
	return ts.names[strings.ToLower(name)] == model.KindDecimal
}

var tsqlTypes = newTypeSystem(map[model.Kind]nodes.QueryType{
	model.KindBool:    {Name: "bit"},
	model.KindInt:     {Name: "bigint"},
	model.KindFloat:   {Name: "float"},
	model.KindDecimal: {Name: "decimal", Precision: 29, Scale: 4},
	model.KindString:  {Name: "nvarchar", Length: -1},
	model.KindTime:    {Name: "datetime2"},
	model.KindBytes:   {Name: "varbinary", Length: -1},
	model.KindUUID:    {Name: "uniqueidentifier"},
}, map[string]model.Kind{
	"int": model.KindInt, "smallint": model.KindInt, "tinyint": model.KindInt,
	"real": model.KindFloat, "money": model.KindDecimal, "numeric": model.KindDecimal,
	"varchar": model.KindString, "nchar": model.KindString, "char": model.KindString,
	"ntext": model.KindString, "text": model.KindString,
	"datetime": model.KindTime, "date": model.KindTime, "smalldatetime": model.KindTime,
	"binary": model.KindBytes, "image": model.KindBytes,
})

var accessTypes = newTypeSystem(map[model.Kind]nodes.QueryType{
	model.KindBool:    {Name: "bit"},
	model.KindInt:     {Name: "long"},
	model.KindFloat:   {Name: "double"},
	model.KindDecimal: {Name: "decimal", Precision: 28, Scale: 4},
	model.KindString:  {Name: "text", Length: 255},
	model.KindTime:    {Name: "datetime"},
	model.KindBytes:   {Name: "binary"},
	model.KindUUID:    {Name: "guid"},
}, map[string]model.Kind{
	"integer": model.KindInt, "counter": model.KindInt, "currency": model.KindDecimal,
	"memo": model.KindString, "longtext": model.KindString,
})

var sqliteTypes = newTypeSystem(map[model.Kind]nodes.QueryType{
	model.KindBool:    {Name: "BOOLEAN"},
	model.KindInt:     {Name: "INTEGER"},
	model.KindFloat:   {Name: "REAL"},
	model.KindDecimal: {Name: "NUMERIC"},
	model.KindString:  {Name: "TEXT"},
	model.KindTime:    {Name: "DATETIME"},
	model.KindBytes:   {Name: "BLOB"},
	model.KindUUID:    {Name: "UUID"},
}, map[string]model.Kind{
	"int": model.KindInt, "double": model.KindFloat, "decimal": model.KindDecimal,
	"varchar": model.KindString, "nvarchar": model.KindString, "date": model.KindTime,
})

var postgresTypes = newTypeSystem(map[model.Kind]nodes.QueryType{
	model.KindBool:    {Name: "boolean"},
	model.KindInt:     {Name: "bigint"},
	model.KindFloat:   {Name: "double precision"},
	model.KindDecimal: {Name: "numeric", Precision: 29, Scale: 4},
	model.KindString:  {Name: "text"},
	model.KindTime:    {Name: "timestamp"},
	model.KindBytes:   {Name: "bytea"},
	model.KindUUID:    {Name: "uuid"},
}, map[string]model.Kind{
	"integer": model.KindInt, "int": model.KindInt, "smallint": model.KindInt, "serial": model.KindInt,
	"real": model.KindFloat, "decimal": model.KindDecimal, "varchar": model.KindString,
	"character varying": model.KindString, "timestamptz": model.KindTime, "date": model.KindTime,
})

var mysqlTypes = newTypeSystem(map[model.Kind]nodes.QueryType{
	model.KindBool:    {Name: "boolean"},
	model.KindInt:     {Name: "bigint"},
	model.KindFloat:   {Name: "double"},
	model.KindDecimal: {Name: "decimal", Precision: 29, Scale: 4},
	model.KindString:  {Name: "longtext"},
	model.KindTime:    {Name: "datetime"},
	model.KindBytes:   {Name: "longblob"},
	model.KindUUID:    {Name: "char", Length: 36},
}, map[string]model.Kind{
	"int": model.KindInt, "integer": model.KindInt, "tinyint": model.KindInt,
	"float": model.KindFloat, "numeric": model.KindDecimal,
	"varchar": model.KindString, "text": model.KindString,
	"timestamp": model.KindTime, "date": model.KindTime, "blob": model.KindBytes,
})
