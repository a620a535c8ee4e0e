package exec

// Iterator pulls materialized results one at a time. It holds its cursor
// open until it is exhausted, fails or is closed; Close is idempotent.
type Iterator struct {
	next   func() (any, bool, error)
	close  func() error
	value  any
	err    error
	done   bool
	closed bool
}

func newIterator(next func() (any, bool, error), close func() error) *Iterator {
	return &Iterator{next: next, close: close}
}

// SliceIterator iterates over vals.
func SliceIterator(vals []any) *Iterator {
	i := 0
	return newIterator(func() (any, bool, error) {
		if i >= len(vals) {
			return nil, false, nil
		}
		i++
		return vals[i-1], true, nil
	}, nil)
}

// Next advances to the next result. It returns false when the results are
// exhausted or an error occurred; Err tells the two apart.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	v, ok, err := it.next()
	if err != nil || !ok {
		it.err = err
		it.done = true
		if cerr := it.Close(); it.err == nil {
			it.err = cerr
		}
		it.value = nil
		return false
	}
	it.value = v
	return true
}

// Value returns the current result.
func (it *Iterator) Value() any { return it.value }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases the cursor behind the iterator.
func (it *Iterator) Close() error {
	it.done = true
	if it.closed {
		return nil
	}
	it.closed = true
	if it.close != nil {
		return it.close()
	}
	return nil
}

// All drains the iterator.
func (it *Iterator) All() ([]any, error) {
	out := []any{}
	for it.Next() {
		out = append(out, it.Value())
	}
	return out, it.Err()
}
