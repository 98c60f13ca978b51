// Package modifier applies MongoDB-style update modifier documents to a
// document.Document: the write-side counterpart of pkg/selector.
package modifier

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/relaydb/pkg/document"
	"github.com/mnohosten/relaydb/pkg/selector"
)

// ArrayFilter is one entry of the arrayFilters list MongoDB-style updates
// accept alongside a modifier, identifying which array elements a
// "field.$[identifier].sub" path segment should touch. Keys are either the
// bare identifier (condition on the element itself) or "identifier.sub"
// (condition on a field of the element).
type ArrayFilter map[string]interface{}

// Options configures a single Apply call.
type Options struct {
	// IsInsert marks an upsert's insert path, enabling $setOnInsert.
	IsInsert bool
	// ArrayFilters resolves $[identifier] segments in modifier paths.
	ArrayFilters []ArrayFilter
}

// Apply mutates doc in place according to modifier, a map of operator name
// ($set, $inc, ...) to a field-path -> value map. If mod has no operator
// keys at all (including the empty map), it is instead treated as a full
// replacement of the document body, preserving id (spec §4.1). Mixing
// operator keys with plain top-level keys in the same modifier is an error.
func Apply(doc *document.Document, mod map[string]interface{}, opts Options) error {
	hasOperator := false
	hasPlain := false
	for key := range mod {
		if strings.HasPrefix(key, "$") {
			hasOperator = true
		} else {
			hasPlain = true
		}
	}
	if hasPlain && hasOperator {
		return fmt.Errorf("modifier mixes operator keys with a replacement document body")
	}
	if !hasOperator {
		return applyReplacement(doc, mod)
	}

	for op, rawFields := range mod {
		fields, ok := rawFields.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s requires an object of field: value pairs", op)
		}
		handler, ok := handlers[op]
		if !ok {
			return fmt.Errorf("unsupported modifier operator: %s", op)
		}
		for path, arg := range fields {
			if err := handler(doc, path, arg, opts); err != nil {
				return fmt.Errorf("%s on %q: %w", op, path, err)
			}
		}
	}
	return nil
}

// applyReplacement discards doc's current body and installs replacement in
// its place, carrying the original id forward regardless of what (if
// anything) replacement itself specifies for "id".
func applyReplacement(doc *document.Document, replacement map[string]interface{}) error {
	id, hadID := doc.ID()
	for _, key := range doc.Keys() {
		doc.Delete(key)
	}
	for k, v := range replacement {
		if k == document.IDField {
			continue
		}
		doc.Set(k, v)
	}
	if hadID {
		doc.Set(document.IDField, id)
	}
	return nil
}

type fieldHandler func(doc *document.Document, path string, arg interface{}, opts Options) error

var handlers = map[string]fieldHandler{
	"$set":         applySet,
	"$setOnInsert": applySetOnInsert,
	"$unset":       applyUnset,
	"$inc":         applyInc,
	"$mul":         applyMul,
	"$min":         applyMin,
	"$max":         applyMax,
	"$currentDate": applyCurrentDate,
	"$rename":      applyRename,
	"$addToSet":    applyAddToSet,
	"$push":        applyPush,
	"$pull":        applyPull,
	"$pullAll":     applyPullAll,
	"$pop":         applyPop,
}

func applySet(doc *document.Document, path string, arg interface{}, opts Options) error {
	if path == document.IDField {
		return fmt.Errorf("$set cannot change the id field")
	}
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		return document.SetPath(doc, p, arg)
	})
}

func applySetOnInsert(doc *document.Document, path string, arg interface{}, opts Options) error {
	if !opts.IsInsert {
		return nil
	}
	return applySet(doc, path, arg, opts)
}

func applyUnset(doc *document.Document, path string, _ interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		document.UnsetPath(doc, p)
		return nil
	})
}

func applyInc(doc *document.Document, path string, arg interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		current, _ := document.GetPath(doc, p)
		sum, err := addNumeric(current, arg)
		if err != nil {
			return err
		}
		return document.SetPath(doc, p, sum)
	})
}

func applyMul(doc *document.Document, path string, arg interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		current, exists := document.GetPath(doc, p)
		if !exists {
			current = int64(0)
		}
		product, err := mulNumeric(current, arg)
		if err != nil {
			return err
		}
		return document.SetPath(doc, p, product)
	})
}

func applyMin(doc *document.Document, path string, arg interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		current, exists := document.GetPath(doc, p)
		if !exists || compareNumeric(arg, current) < 0 {
			return document.SetPath(doc, p, arg)
		}
		return nil
	})
}

func applyMax(doc *document.Document, path string, arg interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		current, exists := document.GetPath(doc, p)
		if !exists || compareNumeric(arg, current) > 0 {
			return document.SetPath(doc, p, arg)
		}
		return nil
	})
}

func applyCurrentDate(doc *document.Document, path string, arg interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		return document.SetPath(doc, p, time.Now().UTC())
	})
}

func applyRename(doc *document.Document, path string, arg interface{}, opts Options) error {
	newPath, ok := arg.(string)
	if !ok {
		return fmt.Errorf("$rename target must be a string path")
	}
	if path == document.IDField || newPath == document.IDField {
		return fmt.Errorf("$rename cannot change the id field")
	}
	value, exists := document.GetPath(doc, path)
	if !exists {
		return nil
	}
	document.UnsetPath(doc, path)
	return document.SetPath(doc, newPath, value)
}

func applyAddToSet(doc *document.Document, path string, arg interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		additions := eachValues(arg)
		arr, _ := getArray(doc, p)
		for _, add := range additions {
			if !containsValue(arr, add) {
				arr = append(arr, add)
			}
		}
		return document.SetPath(doc, p, arr)
	})
}

func applyPush(doc *document.Document, path string, arg interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		arr, _ := getArray(doc, p)

		values := []interface{}{arg}
		slice := 0
		hasSlice := false
		if m, ok := arg.(map[string]interface{}); ok {
			if each, ok := m["$each"]; ok {
				values = eachValues(each)
				if s, ok := m["$slice"]; ok {
					n, err := toInt(s)
					if err != nil {
						return fmt.Errorf("$push $slice: %w", err)
					}
					slice = n
					hasSlice = true
				}
			}
		}
		arr = append(arr, values...)
		if hasSlice {
			arr = sliceArray(arr, slice)
		}
		return document.SetPath(doc, p, arr)
	})
}

func applyPull(doc *document.Document, path string, arg interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		arr, exists := getArray(doc, p)
		if !exists {
			return nil
		}
		out := arr[:0:0]
		for _, item := range arr {
			matched, err := pullMatches(item, arg)
			if err != nil {
				return err
			}
			if !matched {
				out = append(out, item)
			}
		}
		return document.SetPath(doc, p, out)
	})
}

func applyPullAll(doc *document.Document, path string, arg interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		arr, exists := getArray(doc, p)
		if !exists {
			return nil
		}
		remove := eachValues(arg)
		out := arr[:0:0]
		for _, item := range arr {
			if !containsValue(remove, item) {
				out = append(out, item)
			}
		}
		return document.SetPath(doc, p, out)
	})
}

func applyPop(doc *document.Document, path string, arg interface{}, opts Options) error {
	return forEachResolvedPath(doc, path, opts, func(p string) error {
		arr, exists := getArray(doc, p)
		if !exists || len(arr) == 0 {
			return nil
		}
		n, err := toInt(arg)
		if err != nil {
			return fmt.Errorf("$pop requires 1 or -1: %w", err)
		}
		if n < 0 {
			arr = arr[1:]
		} else {
			arr = arr[:len(arr)-1]
		}
		return document.SetPath(doc, p, arr)
	})
}

func pullMatches(item interface{}, cond interface{}) (bool, error) {
	condMap, isSelector := cond.(map[string]interface{})
	if !isSelector {
		return valuesEqual(item, cond), nil
	}
	if itemDoc, ok := item.(*document.Document); ok {
		ok, err := selector.Match(condMap, itemDoc)
		return ok, err
	}
	return selector.EvaluateExpr(item, true, condMap)
}

func getArray(doc *document.Document, path string) ([]interface{}, bool) {
	v, exists := document.GetPath(doc, path)
	if !exists {
		return nil, false
	}
	arr, ok := v.([]interface{})
	return arr, ok
}

func eachValues(arg interface{}) []interface{} {
	if m, ok := arg.(map[string]interface{}); ok {
		if each, ok := m["$each"]; ok {
			if arr, ok := each.([]interface{}); ok {
				return arr
			}
		}
	}
	if arr, ok := arg.([]interface{}); ok {
		return arr
	}
	return []interface{}{arg}
}

func sliceArray(arr []interface{}, n int) []interface{} {
	if n >= 0 {
		if n > len(arr) {
			n = len(arr)
		}
		return arr[:n]
	}
	start := len(arr) + n
	if start < 0 {
		start = 0
	}
	return arr[start:]
}

func containsValue(arr []interface{}, value interface{}) bool {
	for _, item := range arr {
		if valuesEqual(item, value) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	ok, _ := selector.EvaluateExpr(a, true, b)
	return ok
}

func toInt(v interface{}) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int32:
		return int(val), nil
	case int64:
		return int(val), nil
	case float64:
		return int(val), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func addNumeric(a, b interface{}) (interface{}, error) {
	if ai, aok := a.(int64); aok || a == nil {
		if a == nil {
			ai = 0
		}
		if bi, bok := toInt64(b); bok {
			return ai + bi, nil
		}
	}
	af, aok := toFloat64Strict(a, 0)
	bf, bok := toFloat64Strict(b, 0)
	if !aok || !bok {
		return nil, fmt.Errorf("non-numeric operand")
	}
	return af + bf, nil
}

func mulNumeric(a, b interface{}) (interface{}, error) {
	if ai, aok := a.(int64); aok {
		if bi, bok := toInt64(b); bok {
			return ai * bi, nil
		}
	}
	af, aok := toFloat64Strict(a, 0)
	bf, bok := toFloat64Strict(b, 0)
	if !aok || !bok {
		return nil, fmt.Errorf("non-numeric operand")
	}
	return af * bf, nil
}

func compareNumeric(a, b interface{}) int {
	af, aok := toFloat64Strict(a, 0)
	bf, bok := toFloat64Strict(b, 0)
	if !aok || !bok {
		return 0
	}
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	default:
		return 0, false
	}
}

func toFloat64Strict(v interface{}, fallback float64) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return fallback, false
	}
}

// forEachResolvedPath expands $[identifier] segments of path against
// opts.ArrayFilters and invokes fn once per concrete, index-resolved path.
// Paths with no array-filter segment resolve to exactly themselves.
func forEachResolvedPath(doc *document.Document, path string, opts Options, fn func(resolved string) error) error {
	paths, err := expandPath(doc, path, opts.ArrayFilters)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func expandPath(doc *document.Document, path string, filters []ArrayFilter) ([]string, error) {
	segs := strings.Split(path, ".")
	return expandSegs(doc, segs, nil, filters)
}

func expandSegs(doc *document.Document, segs []string, prefix []string, filters []ArrayFilter) ([]string, error) {
	if len(segs) == 0 {
		return []string{strings.Join(prefix, ".")}, nil
	}

	seg := segs[0]
	rest := segs[1:]

	identifier, isFilterSeg := filterIdentifier(seg)
	if !isFilterSeg {
		return expandSegs(doc, rest, append(prefix, seg), filters)
	}

	filter, err := findArrayFilter(filters, identifier)
	if err != nil {
		return nil, err
	}

	arrPath := strings.Join(prefix, ".")
	arr, ok := getArray(doc, arrPath)
	if !ok {
		return nil, nil
	}

	var out []string
	for i, item := range arr {
		matched, err := matchArrayFilterElement(identifier, item, filter)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		sub, err := expandSegs(doc, rest, append(append([]string{}, prefix...), strconv.Itoa(i)), filters)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

func filterIdentifier(seg string) (string, bool) {
	if strings.HasPrefix(seg, "$[") && strings.HasSuffix(seg, "]") {
		return seg[2 : len(seg)-1], true
	}
	return "", false
}

func findArrayFilter(filters []ArrayFilter, identifier string) (ArrayFilter, error) {
	for _, f := range filters {
		for k := range f {
			if k == identifier || strings.HasPrefix(k, identifier+".") {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("no arrayFilters entry for identifier %q", identifier)
}

func matchArrayFilterElement(identifier string, item interface{}, filter ArrayFilter) (bool, error) {
	for k, expr := range filter {
		switch {
		case k == identifier:
			ok, err := selector.EvaluateExpr(item, true, expr)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		case strings.HasPrefix(k, identifier+"."):
			field := strings.TrimPrefix(k, identifier+".")
			itemDoc, ok := item.(*document.Document)
			var value interface{}
			var exists bool
			if ok {
				value, exists = document.GetPath(itemDoc, field)
			}
			matched, err := selector.EvaluateExpr(value, exists, expr)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		default:
			return false, fmt.Errorf("array filter key %q does not reference identifier %q", k, identifier)
		}
	}
	return true, nil
}
