package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Record is a materialized struct value.
type Record struct {
	Type   *Struct
	Values []any
}

// NewRecord returns a record of type t with every field set to its zero value.
func NewRecord(t *Struct) *Record {
	r := &Record{Type: t, Values: make([]any, len(t.Fields))}
	for i, f := range t.Fields {
		r.Values[i] = Zero(f.Type)
	}
	return r
}

// RecordOf builds a record from alternating field names and values. Unset
// fields keep their zero values.
func RecordOf(t *Struct, kv ...any) *Record {
	r := NewRecord(t)
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

// Get returns the value of the named field, or nil when the field is unknown.
func (r *Record) Get(name string) any {
	if r == nil {
		return nil
	}
	if i := r.Type.FieldIndex(name); i >= 0 {
		return r.Values[i]
	}
	return nil
}

// Set assigns the named field. Unknown names are ignored.
func (r *Record) Set(name string, v any) {
	if i := r.Type.FieldIndex(name); i >= 0 {
		r.Values[i] = v
	}
}

func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteString(r.Type.Name)
	sb.WriteByte('{')
	for i, f := range r.Type.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(FormatValue(r.Values[i]))
	}
	sb.WriteByte('}')
	return sb.String()
}

// Grouping is one materialized group: its key and its elements.
type Grouping struct {
	Key   any
	Elems []any
}

func (g *Grouping) String() string {
	return fmt.Sprintf("Group(%s)[%d]", FormatValue(g.Key), len(g.Elems))
}

// FormatValue renders a runtime value for diagnostics and CLI output.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return strconv.Quote(x)
	case []byte:
		return fmt.Sprintf("0x%x", x)
	case time.Time:
		return x.Format(time.RFC3339)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// Zero returns the default value materialized for a NULL cell of type t.
func Zero(t Type) any {
	s, ok := t.(*Scalar)
	if !ok || s.Nullable {
		return nil
	}
	switch s.Kind {
	case KindBool:
		return false
	case KindInt:
		return int64(0)
	case KindFloat:
		return float64(0)
	case KindDecimal:
		return decimal.Zero
	case KindString:
		return ""
	case KindTime:
		return time.Time{}
	case KindUUID:
		return uuid.Nil
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Convert coerces a driver value to the canonical Go representation of t:
// int64, float64, decimal.Decimal, string, bool, time.Time, []byte or
// uuid.UUID. Non-scalar types pass the value through.
func Convert(v any, t Type) (any, error) {
	if v == nil {
		return Zero(t), nil
	}
	s, ok := t.(*Scalar)
	if !ok {
		return v, nil
	}
	switch s.Kind {
	case KindBool:
		return toBool(v)
	case KindInt:
		return toInt(v)
	case KindFloat:
		return toFloat(v)
	case KindDecimal:
		return toDecimal(v)
	case KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
		return fmt.Sprint(v), nil
	case KindTime:
		return toTime(v)
	case KindBytes:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	case KindUUID:
		return toUUID(v)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case []byte:
		return strconv.ParseBool(string(x))
	case string:
		return strconv.ParseBool(x)
	}
	return nil, fmt.Errorf("cannot convert %T to bool", v)
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("cannot convert %v to int without loss", x)
		}
		return int64(x), nil
	case decimal.Decimal:
		return x.IntPart(), nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	}
	return nil, fmt.Errorf("cannot convert %T to int", v)
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, nil
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	case string:
		return strconv.ParseFloat(x, 64)
	}
	return nil, fmt.Errorf("cannot convert %T to float", v)
}

func toDecimal(v any) (any, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case []byte:
		return decimal.NewFromString(string(x))
	case string:
		return decimal.NewFromString(x)
	}
	return nil, fmt.Errorf("cannot convert %T to decimal", v)
}

func toTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case []byte:
		return parseTime(string(x))
	case string:
		return parseTime(x)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	}
	return nil, fmt.Errorf("cannot convert %T to time", v)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}

func toUUID(v any) (any, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, nil
	case string:
		return uuid.Parse(x)
	case []byte:
		if len(x) == 16 {
			return uuid.FromBytes(x)
		}
		return uuid.ParseBytes(x)
	case [16]byte:
		return uuid.UUID(x), nil
	}
	return nil, fmt.Errorf("cannot convert %T to uuid", v)
}

// DriverValue converts a canonical value into one every database/sql driver
// accepts as an argument.
func DriverValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String()
	case uuid.UUID:
		return x.String()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// Key folds one or more scalar values into a comparable map key. Values
// that compare equal in SQL map to the same key.
func Key(vals ...any) any {
	if len(vals) == 1 {
		return keyPart(vals[0])
	}
	var sb strings.Builder
	for i, v := range vals {
		if i > 0 {
			sb.WriteByte(0)
		}
		fmt.Fprintf(&sb, "%T:%v", keyPart(v), keyPart(v))
	}
	return sb.String()
}

func keyPart(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case decimal.Decimal:
		if x.IsInteger() {
			return x.IntPart()
		}
		return x.String()
	case time.Time:
		return x.UnixNano()
	case []byte:
		return string(x)
	}
	return v
}
