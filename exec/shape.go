package exec

import (
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
)

// shape coerces the results of it into the aggregator shape s: a slice for
// sequences, one value for the singleton shapes. It always closes it.
func shape(it *Iterator, s nodes.Shape, elem model.Type) (any, error) {
	if s == nodes.ShapeSequence {
		return it.All()
	}
	defer func() { _ = it.Close() }()
	if !it.Next() {
		if err := it.Err(); err != nil {
			return nil, err
		}
		if s == nodes.ShapeSingle || s == nodes.ShapeFirst {
			return nil, qerrors.New(qerrors.ErrCardinality, "%s of an empty sequence", s)
		}
		return model.Zero(elem), nil
	}
	v := it.Value()
	if s == nodes.ShapeSingle || s == nodes.ShapeSingleOrDefault {
		if it.Next() {
			return nil, qerrors.New(qerrors.ErrCardinality, "%s of a sequence with more than one element", s)
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
	}
	return v, nil
}
