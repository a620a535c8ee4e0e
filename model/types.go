// Package model describes the statically typed object model that queries are
// written against: scalar kinds, entity and record structs, sequences and
// groupings, plus the runtime values that execution plans materialize.
package model

import (
	"fmt"
	"strings"
)

// Kind enumerates scalar value kinds.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindTime
	KindBytes
	KindUUID
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindInt:     "int",
	KindFloat:   "float",
	KindDecimal: "decimal",
	KindString:  "string",
	KindTime:    "time",
	KindBytes:   "bytes",
	KindUUID:    "uuid",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Type is implemented by *Scalar, *Struct, *Seq and *Group.
type Type interface {
	String() string
	isType()
}

// Scalar is a single-valued type. Nullable scalars materialize SQL NULL as
// nil instead of the kind's zero value.
type Scalar struct {
	Kind     Kind
	Nullable bool
}

func (*Scalar) isType() {}

func (s *Scalar) String() string {
	if s.Nullable {
		return s.Kind.String() + "?"
	}
	return s.Kind.String()
}

var (
	Bool    = &Scalar{Kind: KindBool}
	Int     = &Scalar{Kind: KindInt}
	Float   = &Scalar{Kind: KindFloat}
	Decimal = &Scalar{Kind: KindDecimal}
	String  = &Scalar{Kind: KindString}
	Time    = &Scalar{Kind: KindTime}
	Bytes   = &Scalar{Kind: KindBytes}
	UUID    = &Scalar{Kind: KindUUID}
)

var scalarsByName = map[string]*Scalar{
	"bool":    Bool,
	"int":     Int,
	"float":   Float,
	"decimal": Decimal,
	"string":  String,
	"time":    Time,
	"bytes":   Bytes,
	"uuid":    UUID,
}

// ParseScalar reads a scalar type name such as "int" or "string?".
func ParseScalar(s string) (*Scalar, error) {
	name, nullable := strings.CutSuffix(strings.TrimSpace(s), "?")
	t, ok := scalarsByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", s)
	}
	if nullable {
		return Nullable(t), nil
	}
	return t, nil
}

// Nullable returns the nullable variant of a scalar type.
func Nullable(t *Scalar) *Scalar {
	if t.Nullable {
		return t
	}
	return &Scalar{Kind: t.Kind, Nullable: true}
}

// Field is a named member of a struct type.
type Field struct {
	Name string
	Type Type
}

// Struct is a named record type. Entities are structs registered with a
// mapping; anonymous structs (empty Name) are produced by projections.
type Struct struct {
	Name   string
	Fields []Field
	index  map[string]int
}

func (*Struct) isType() {}

func (s *Struct) String() string {
	if s.Name != "" {
		return s.Name
	}
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.Name + " " + f.Type.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// NewStruct creates a struct type. Fields may be added later with Define,
// which allows mutually referencing entity types.
func NewStruct(name string, fields ...Field) *Struct {
	s := &Struct{Name: name}
	s.Define(fields...)
	return s
}

// Anon creates an anonymous record type.
func Anon(fields ...Field) *Struct {
	return NewStruct("", fields...)
}

// Define appends fields to the struct.
func (s *Struct) Define(fields ...Field) *Struct {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	for _, f := range fields {
		s.index[f.Name] = len(s.Fields)
		s.Fields = append(s.Fields, f)
	}
	return s
}

// Field returns the named field.
func (s *Struct) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// FieldIndex returns the position of the named field or -1.
func (s *Struct) FieldIndex(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Seq is an ordered collection of Elem.
type Seq struct {
	Elem Type
}

func (*Seq) isType() {}

func (s *Seq) String() string { return "[]" + s.Elem.String() }

// SeqOf returns the sequence type of elem.
func SeqOf(elem Type) *Seq { return &Seq{Elem: elem} }

// Group is the type of one group produced by GroupBy.
type Group struct {
	Key  Type
	Elem Type
}

func (*Group) isType() {}

func (g *Group) String() string {
	return "Group[" + g.Key.String() + "]" + g.Elem.String()
}

// IsScalar reports whether t is a scalar type.
func IsScalar(t Type) bool {
	_, ok := t.(*Scalar)
	return ok
}

// IsSeq reports whether t is a sequence or a grouping.
func IsSeq(t Type) bool {
	switch t.(type) {
	case *Seq, *Group:
		return true
	}
	return false
}

// ElemType returns the element type of a sequence or grouping, or t itself.
func ElemType(t Type) Type {
	switch s := t.(type) {
	case *Seq:
		return s.Elem
	case *Group:
		return s.Elem
	}
	return t
}

// IsNullable reports whether a value of type t may be nil.
func IsNullable(t Type) bool {
	switch s := t.(type) {
	case *Scalar:
		return s.Nullable
	case nil:
		return true
	}
	return true
}

// KindOf returns the scalar kind of t, or KindInvalid.
func KindOf(t Type) Kind {
	if s, ok := t.(*Scalar); ok {
		return s.Kind
	}
	return KindInvalid
}

// IsNumeric reports whether t is an int, float or decimal scalar.
func IsNumeric(t Type) bool {
	switch KindOf(t) {
	case KindInt, KindFloat, KindDecimal:
		return true
	}
	return false
}

// Same reports whether two types are structurally the same. Named structs
// compare by identity.
func Same(a, b Type) bool {
	switch x := a.(type) {
	case *Scalar:
		y, ok := b.(*Scalar)
		return ok && x.Kind == y.Kind && x.Nullable == y.Nullable
	case *Struct:
		y, ok := b.(*Struct)
		if !ok {
			return false
		}
		if x == y {
			return true
		}
		if x.Name != "" || y.Name != "" || len(x.Fields) != len(y.Fields) {
			return false
		}
		for i := range x.Fields {
			if x.Fields[i].Name != y.Fields[i].Name || !Same(x.Fields[i].Type, y.Fields[i].Type) {
				return false
			}
		}
		return true
	case *Seq:
		y, ok := b.(*Seq)
		return ok && Same(x.Elem, y.Elem)
	case *Group:
		y, ok := b.(*Group)
		return ok && Same(x.Key, y.Key) && Same(x.Elem, y.Elem)
	}
	return a == b
}
