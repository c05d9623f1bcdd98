package model

// Query represents a filtered, optionally ordered read over one collection.
type Query struct {
	Collection string   // Path to the collection or subcollection
	Filters    []Filter // List of where clauses
	Orders     []Order  // List of order by clauses
	Limit      int      // Limit number of documents, 0 = no limit
}

// Filter represents a single filter condition in a query (where clause).
type Filter struct {
	Field    string      // Document field to filter
	Operator string      // Comparison operator (==, !=, <, <=, >, >=, etc.)
	Value    interface{} // Value to compare against
}

// Order represents a single ordering condition in a query.
type Order struct {
	Field     string // Document field to order by
	Direction string // "asc" or "desc"
}

const (
	// Ascending is used for ordering in ascending order.
	Ascending = "asc"
	// Descending is used for ordering in descending order.
	Descending = "desc"
)

// Operator types for filters
const (
	OperatorEqual              = "=="
	OperatorNotEqual           = "!="
	OperatorLessThan           = "<"
	OperatorLessThanOrEqual    = "<="
	OperatorGreaterThan        = ">"
	OperatorGreaterThanOrEqual = ">="
	OperatorArrayContains      = "array-contains"
	OperatorArrayContainsAny   = "array-contains-any"
	OperatorIn                 = "in"
	OperatorNotIn              = "not-in"
)

// HasOrders reports whether the query carries an explicit ordering.
func (q Query) HasOrders() bool {
	return len(q.Orders) > 0
}

// WithoutOrders returns a copy of the query with the ordering stripped. The
// live query layer uses it to retry after a missing-index rejection; the
// caller re-imposes the order client-side.
func (q Query) WithoutOrders() Query {
	cp := q
	cp.Orders = nil
	return cp
}

// FilterFields returns the distinct fields referenced by filters, in first
// appearance order.
func (q Query) FilterFields() []string {
	seen := make(map[string]bool, len(q.Filters))
	var fields []string
	for _, f := range q.Filters {
		if !seen[f.Field] {
			seen[f.Field] = true
			fields = append(fields, f.Field)
		}
	}
	return fields
}

// OrderFields returns the fields referenced by order clauses.
func (q Query) OrderFields() []string {
	fields := make([]string, 0, len(q.Orders))
	for _, o := range q.Orders {
		fields = append(fields, o.Field)
	}
	return fields
}
