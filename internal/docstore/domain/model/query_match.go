package model

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"habitora-core/internal/shared/errors"
)

// Client-side query evaluation. The live query layer relies on this for two
// things: matching change events against a subscription filter, and
// re-imposing order after an index-missing fallback. The ordering implemented
// here must agree with the ordering the persistence adapters produce, nil
// sorting lowest and document ID as the implicit final tiebreak.

var validOperators = map[string]bool{
	OperatorEqual:              true,
	OperatorNotEqual:           true,
	OperatorLessThan:           true,
	OperatorLessThanOrEqual:    true,
	OperatorGreaterThan:        true,
	OperatorGreaterThanOrEqual: true,
	OperatorArrayContains:      true,
	OperatorArrayContainsAny:   true,
	OperatorIn:                 true,
	OperatorNotIn:              true,
}

// Validate checks operators and directions before a query reaches an adapter.
func (q Query) Validate() error {
	if q.Collection == "" {
		return errors.NewValidationError("query collection cannot be empty")
	}
	if err := ValidateCollectionPath(q.Collection); err != nil {
		return err
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return errors.NewValidationError("filter field cannot be empty")
		}
		if !validOperators[f.Operator] {
			return errors.NewValidationError("unsupported filter operator").
				WithDetail("operator", f.Operator)
		}
	}
	for _, o := range q.Orders {
		if o.Field == "" {
			return errors.NewValidationError("order field cannot be empty")
		}
		if o.Direction != Ascending && o.Direction != Descending {
			return errors.NewValidationError("order direction must be asc or desc").
				WithDetail("direction", o.Direction)
		}
	}
	if q.Limit < 0 {
		return errors.NewValidationError("query limit cannot be negative")
	}
	return nil
}

// FieldOf resolves a possibly dotted field path ("participantDetails.name")
// against document data. The second return reports whether the field exists.
func FieldOf(data map[string]interface{}, field string) (interface{}, bool) {
	if data == nil {
		return nil, false
	}
	parts := strings.Split(field, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Matches evaluates every filter against the document data (AND semantics).
func (q Query) Matches(data map[string]interface{}) bool {
	for _, f := range q.Filters {
		if !matchesFilter(f, data) {
			return false
		}
	}
	return true
}

func matchesFilter(f Filter, data map[string]interface{}) bool {
	value, exists := FieldOf(data, f.Field)

	switch f.Operator {
	case OperatorEqual:
		return exists && equalValues(value, f.Value)
	case OperatorNotEqual:
		// Documents without the field never match inequality filters
		return exists && !equalValues(value, f.Value)
	case OperatorLessThan:
		return exists && CompareValues(value, f.Value) < 0
	case OperatorLessThanOrEqual:
		return exists && CompareValues(value, f.Value) <= 0
	case OperatorGreaterThan:
		return exists && CompareValues(value, f.Value) > 0
	case OperatorGreaterThanOrEqual:
		return exists && CompareValues(value, f.Value) >= 0
	case OperatorArrayContains:
		arr, ok := asSlice(value)
		if !ok {
			return false
		}
		for _, item := range arr {
			if equalValues(item, f.Value) {
				return true
			}
		}
		return false
	case OperatorArrayContainsAny:
		arr, ok := asSlice(value)
		if !ok {
			return false
		}
		candidates, ok := asSlice(f.Value)
		if !ok {
			return false
		}
		for _, item := range arr {
			for _, candidate := range candidates {
				if equalValues(item, candidate) {
					return true
				}
			}
		}
		return false
	case OperatorIn:
		candidates, ok := asSlice(f.Value)
		if !ok {
			return false
		}
		for _, candidate := range candidates {
			if exists && equalValues(value, candidate) {
				return true
			}
		}
		return false
	case OperatorNotIn:
		if !exists {
			return false
		}
		candidates, ok := asSlice(f.Value)
		if !ok {
			return false
		}
		for _, candidate := range candidates {
			if equalValues(value, candidate) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func asSlice(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func equalValues(a, b interface{}) bool {
	if na, aNum := asFloat(a); aNum {
		if nb, bNum := asFloat(b); bNum {
			return na == nb
		}
		return false
	}
	if ta, aTime := asTime(a); aTime {
		if tb, bTime := asTime(b); bTime {
			return ta.Equal(tb)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues imposes a total order across the value types documents carry:
// nil < bool < number < time < string < everything else. Numbers compare as
// float64 regardless of the concrete integer type.
func CompareValues(a, b interface{}) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case rankNil:
		return 0
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba {
			return -1
		}
		return 1
	case rankNumber:
		fa, _ := asFloat(a)
		fb, _ := asFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case rankTime:
		ta, _ := asTime(a)
		tb, _ := asTime(b)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		default:
			return 0
		}
	case rankString:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankOther
)

func rankOf(v interface{}) int {
	if v == nil {
		return rankNil
	}
	switch v.(type) {
	case bool:
		return rankBool
	case string:
		return rankString
	}
	if _, ok := asFloat(v); ok {
		return rankNumber
	}
	if _, ok := asTime(v); ok {
		return rankTime
	}
	return rankOther
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}

// SortDocuments orders documents by the given clauses, stably, with the
// document ID as the implicit final tiebreak. The tiebreak follows the last
// explicit direction so that reversed queries reverse completely.
func SortDocuments(docs []*Document, orders []Order) {
	if len(docs) < 2 {
		return
	}

	tiebreakDesc := false
	if len(orders) > 0 && orders[len(orders)-1].Direction == Descending {
		tiebreakDesc = true
	}

	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orders {
			va, _ := FieldOf(docs[i].Data, o.Field)
			vb, _ := FieldOf(docs[j].Data, o.Field)
			c := CompareValues(va, vb)
			if c == 0 {
				continue
			}
			if o.Direction == Descending {
				return c > 0
			}
			return c < 0
		}
		if tiebreakDesc {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].ID < docs[j].ID
	})
}
