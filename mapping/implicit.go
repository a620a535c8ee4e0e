package mapping

import (
	"strings"
	"unicode"

	"github.com/bawdo/relq/model"
)

// ImplicitMapping infers mappings from names:
//   - the table is the plural of the type name split into words, so
//     OrderDetail maps to "Order Details";
//   - every scalar member is a column of the same name;
//   - a member named XID is an identity when the type name starts with X;
//   - a member of entity type is a singleton association, a sequence of
//     entities a collection;
//   - association keys are the column names both sides share that are an
//     identity of either side.
//
// Entities are resolved on first use.
type ImplicitMapping struct {
	*catalog
}

// NewImplicitMapping returns a convention-based mapping. Any types given are
// resolved up front.
func NewImplicitMapping(types ...*model.Struct) (*ImplicitMapping, error) {
	im := &ImplicitMapping{catalog: newCatalog(implicitInfo)}
	for _, t := range types {
		if _, err := im.Entity(t); err != nil {
			return nil, err
		}
	}
	return im, nil
}

func implicitInfo(t *model.Struct) (*entityInfo, error) {
	ei := newEntityInfo(t, splitWords(plural(t.Name)))
	for _, f := range t.Fields {
		if model.IsScalar(f.Type) {
			ei.add(&memberInfo{name: f.Name, identity: isImplicitIdentity(t, f.Name)})
		}
	}
	for _, f := range t.Fields {
		related, many := relatedStruct(f.Type)
		if related == nil {
			continue
		}
		keys := implicitKeys(t, related)
		if len(keys) == 0 {
			continue
		}
		ei.add(&memberInfo{
			name:  f.Name,
			assoc: &association{related: related, many: many, keys: keys, relatedKeys: keys},
		})
	}
	return ei, nil
}

func isImplicitIdentity(t *model.Struct, member string) bool {
	stem, ok := strings.CutSuffix(member, "ID")
	return ok && stem != "" && strings.HasPrefix(t.Name, stem)
}

func implicitKeys(t, related *model.Struct) []string {
	var keys []string
	for _, f := range t.Fields {
		if !model.IsScalar(f.Type) {
			continue
		}
		rf, ok := related.Field(f.Name)
		if !ok || !model.IsScalar(rf.Type) {
			continue
		}
		if isImplicitIdentity(t, f.Name) || isImplicitIdentity(related, f.Name) {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

func plural(name string) string {
	switch {
	case strings.HasSuffix(name, "x"), strings.HasSuffix(name, "ch"), strings.HasSuffix(name, "ss"):
		return name + "es"
	case strings.HasSuffix(name, "y"):
		return name[:len(name)-1] + "ies"
	case !strings.HasSuffix(name, "s"):
		return name + "s"
	}
	return name
}

func splitWords(name string) string {
	var sb strings.Builder
	var prev rune
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(prev) {
			sb.WriteByte(' ')
		}
		sb.WriteRune(r)
		prev = r
	}
	return sb.String()
}
