package mapping

import (
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// Policy decides which associations are loaded along with their entity.
type Policy interface {
	IsIncluded(e *nodes.MappingEntity, member string) bool
	// IsDeferLoaded reports whether an included association is loaded on
	// first access rather than with the entity.
	IsDeferLoaded(e *nodes.MappingEntity, member string) bool
}

type policyKey struct {
	t      *model.Struct
	member string
}

// QueryPolicy is a Policy built from explicit Include and Defer calls.
// Configure it before sharing; it is read-only afterwards.
type QueryPolicy struct {
	included map[policyKey]bool
	deferred map[policyKey]bool
}

// NewPolicy returns a policy that includes nothing.
func NewPolicy() *QueryPolicy {
	return &QueryPolicy{
		included: make(map[policyKey]bool),
		deferred: make(map[policyKey]bool),
	}
}

// Include loads member of t eagerly with every t.
func (p *QueryPolicy) Include(t *model.Struct, member string) *QueryPolicy {
	p.included[policyKey{t, member}] = true
	return p
}

// Defer includes member of t but loads it on first access.
func (p *QueryPolicy) Defer(t *model.Struct, member string) *QueryPolicy {
	k := policyKey{t, member}
	p.included[k] = true
	p.deferred[k] = true
	return p
}

func (p *QueryPolicy) IsIncluded(e *nodes.MappingEntity, member string) bool {
	return p != nil && p.included[policyKey{e.Type, member}]
}

func (p *QueryPolicy) IsDeferLoaded(e *nodes.MappingEntity, member string) bool {
	return p != nil && p.deferred[policyKey{e.Type, member}]
}
