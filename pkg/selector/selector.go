// Package selector evaluates MongoDB-style selector documents against
// document.Document values: the read-side half of the query language
// (modifiers, the write-side half, live in pkg/modifier).
package selector

import (
	"fmt"
	"strings"

	"github.com/mnohosten/relaydb/pkg/document"
)

// Predicate is the Go-native form of a $where clause: an opaque function
// evaluated directly against a candidate document.
type Predicate func(*document.Document) bool

// Selector is a parsed, ready-to-evaluate query. Selectors are cheap to
// construct and safe for concurrent use once built, matching the teacher's
// Query type.
type Selector struct {
	raw map[string]interface{}
}

// Compile validates and wraps a raw selector map. Compilation is shallow —
// most validation happens lazily during Match, matching the teacher's
// query engine, which never builds a separate execution plan for these
// single-pass boolean evaluations.
func Compile(raw map[string]interface{}) (*Selector, error) {
	if raw == nil {
		raw = map[string]interface{}{}
	}
	return &Selector{raw: raw}, nil
}

// Match reports whether doc satisfies the selector.
func (s *Selector) Match(doc *document.Document) (bool, error) {
	return evaluateSelector(s.raw, doc)
}

// Match is a convenience one-shot form that skips explicit Compile.
func Match(raw map[string]interface{}, doc *document.Document) (bool, error) {
	return evaluateSelector(raw, doc)
}

// Compare orders two values the same way comparison operators do:
// numerics and dates coerce across representations, strings compare
// lexically, and otherwise-incomparable pairs compare equal (0). Exported
// for pkg/cursor's sort stage, which needs the identical ordering pkg/query
// uses for $gt/$lt so that sorting and filtering never disagree about
// which of two values is "greater".
func Compare(a, b interface{}) int {
	return compare(a, b)
}

// EvaluateExpr evaluates a single field's operator expression (or plain
// equality value) against an already-resolved value. Exported for
// pkg/modifier, which needs to test array-filter conditions against
// values it has pulled out of a document by hand.
func EvaluateExpr(fieldValue interface{}, exists bool, expr interface{}) (bool, error) {
	return evaluateExpr(fieldValue, exists, expr)
}

func evaluateSelector(raw map[string]interface{}, doc *document.Document) (bool, error) {
	for key, expr := range raw {
		var ok bool
		var err error

		switch key {
		case "$and":
			ok, err = evaluateAndClause(expr, doc)
		case "$or":
			ok, err = evaluateOrClause(expr, doc)
		case "$nor":
			ok, err = evaluateNorClause(expr, doc)
		case "$where":
			ok, err = evaluateWhere(expr, doc)
		default:
			ok, err = evaluateField(key, expr, doc)
		}

		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateField(path string, expr interface{}, doc *document.Document) (bool, error) {
	value, exists := resolveFieldPath(doc, path)
	return evaluateExpr(value, exists, expr)
}

// resolveFieldPath resolves a dotted path, additionally matching across an
// array of documents (the Mongo "array of subdocuments" convention): if an
// intermediate segment names an array field, the remaining path is checked
// against each element and every hit is gathered into one array, so that
// equality matches when any element's value matches.
func resolveFieldPath(doc *document.Document, path string) (interface{}, bool) {
	if v, ok := document.GetPath(doc, path); ok {
		return v, true
	}

	segs := strings.Split(path, ".")
	for i := 1; i < len(segs); i++ {
		prefix := strings.Join(segs[:i], ".")
		rest := strings.Join(segs[i:], ".")
		v, ok := document.GetPath(doc, prefix)
		if !ok {
			continue
		}
		arr, ok := v.([]interface{})
		if !ok {
			continue
		}
		var hits []interface{}
		for _, item := range arr {
			itemDoc, ok := item.(*document.Document)
			if !ok {
				continue
			}
			if rv, ok := document.GetPath(itemDoc, rest); ok {
				hits = append(hits, rv)
			}
		}
		if len(hits) > 0 {
			return hits, true
		}
	}
	return nil, false
}

func evaluateAndClause(expr interface{}, doc *document.Document) (bool, error) {
	clauses, err := toClauseList(expr, "$and")
	if err != nil {
		return false, err
	}
	if len(clauses) == 0 {
		return false, fmt.Errorf("$and requires a non-empty array of selectors")
	}
	for _, clause := range clauses {
		ok, err := evaluateSelector(clause, doc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateOrClause(expr interface{}, doc *document.Document) (bool, error) {
	return matchAnyClause(expr, "$or", doc)
}

func evaluateNorClause(expr interface{}, doc *document.Document) (bool, error) {
	ok, err := matchAnyClause(expr, "$nor", doc)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// matchAnyClause reports whether doc matches at least one of op's clauses;
// shared by $or and $nor, which differ only in how the caller negates the
// result and the operator name in error messages.
func matchAnyClause(expr interface{}, op string, doc *document.Document) (bool, error) {
	clauses, err := toClauseList(expr, op)
	if err != nil {
		return false, err
	}
	if len(clauses) == 0 {
		return false, fmt.Errorf("%s requires a non-empty array of selectors", op)
	}
	for _, clause := range clauses {
		ok, err := evaluateSelector(clause, doc)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func evaluateWhere(expr interface{}, doc *document.Document) (bool, error) {
	switch w := expr.(type) {
	case Predicate:
		return w(doc), nil
	case func(*document.Document) bool:
		return w(doc), nil
	case map[string]interface{}:
		return evaluateSelector(w, doc)
	default:
		return false, fmt.Errorf("$where requires a selector.Predicate or nested selector, got %T", expr)
	}
}

func toClauseList(expr interface{}, op string) ([]map[string]interface{}, error) {
	list, ok := expr.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s requires an array of selectors", op)
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s array elements must be selector objects", op)
		}
		out = append(out, m)
	}
	return out, nil
}
