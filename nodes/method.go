package nodes

// Method names a query operator or a scalar method applied by a Call.
type Method string

// Query operators.
const (
	MethodWhere             Method = "Where"
	MethodSelect            Method = "Select"
	MethodSelectMany        Method = "SelectMany"
	MethodJoin              Method = "Join"
	MethodOrderBy           Method = "OrderBy"
	MethodOrderByDescending Method = "OrderByDescending"
	MethodThenBy            Method = "ThenBy"
	MethodThenByDescending  Method = "ThenByDescending"
	MethodGroupBy           Method = "GroupBy"
	MethodCount             Method = "Count"
	MethodMin               Method = "Min"
	MethodMax               Method = "Max"
	MethodSum               Method = "Sum"
	MethodAverage           Method = "Average"
	MethodDistinct          Method = "Distinct"
	MethodSkip              Method = "Skip"
	MethodTake              Method = "Take"
	MethodFirst             Method = "First"
	MethodFirstOrDefault    Method = "FirstOrDefault"
	MethodSingle            Method = "Single"
	MethodSingleOrDefault   Method = "SingleOrDefault"
	MethodAny               Method = "Any"
	MethodAll               Method = "All"
	MethodContains          Method = "Contains"
)

// Mutation operators. Their first argument is the target Root.
const (
	MethodInsert         Method = "Insert"
	MethodUpdate         Method = "Update"
	MethodInsertOrUpdate Method = "InsertOrUpdate"
	MethodDelete         Method = "Delete"
	MethodBatch          Method = "Batch"
)

// MethodDeferred wraps a nested projection whose rows are loaded on first
// access instead of with the outer row. It never reaches a formatter.
const MethodDeferred Method = "Deferred"

// Scalar methods.
const (
	MethodStartsWith     Method = "StartsWith"
	MethodEndsWith       Method = "EndsWith"
	MethodContainsString Method = "ContainsString"
	MethodToUpper        Method = "ToUpper"
	MethodToLower        Method = "ToLower"
	MethodTrim           Method = "Trim"
	MethodLength         Method = "Length"
	MethodSubstring      Method = "Substring"
	MethodAbs            Method = "Abs"
	MethodRound          Method = "Round"
	MethodYear           Method = "Year"
	MethodMonth          Method = "Month"
	MethodDay            Method = "Day"
	MethodHour           Method = "Hour"
	MethodMinute         Method = "Minute"
	MethodSecond         Method = "Second"
)

var queryOperators = map[Method]bool{
	MethodWhere: true, MethodSelect: true, MethodSelectMany: true, MethodJoin: true,
	MethodOrderBy: true, MethodOrderByDescending: true, MethodThenBy: true, MethodThenByDescending: true,
	MethodGroupBy: true, MethodCount: true, MethodMin: true, MethodMax: true, MethodSum: true,
	MethodAverage: true, MethodDistinct: true, MethodSkip: true, MethodTake: true,
	MethodFirst: true, MethodFirstOrDefault: true, MethodSingle: true, MethodSingleOrDefault: true,
	MethodAny: true, MethodAll: true, MethodContains: true,
	MethodInsert: true, MethodUpdate: true, MethodInsertOrUpdate: true, MethodDelete: true, MethodBatch: true,
}

// IsQueryOperator reports whether m operates on a sequence.
func (m Method) IsQueryOperator() bool { return queryOperators[m] }

// IsAggregate reports whether m reduces a sequence to a scalar.
func (m Method) IsAggregate() bool {
	switch m {
	case MethodCount, MethodMin, MethodMax, MethodSum, MethodAverage:
		return true
	}
	return false
}
