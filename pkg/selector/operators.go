package selector

import (
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/mnohosten/relaydb/pkg/document"
)

// Operator names the query engine understands inside a field's operator
// expression, e.g. {field: {$gt: 5}}.
type Operator string

const (
	OpEq        Operator = "$eq"
	OpNe        Operator = "$ne"
	OpGt        Operator = "$gt"
	OpGte       Operator = "$gte"
	OpLt        Operator = "$lt"
	OpLte       Operator = "$lte"
	OpIn        Operator = "$in"
	OpNin       Operator = "$nin"
	OpExists    Operator = "$exists"
	OpRegex     Operator = "$regex"
	OpSize      Operator = "$size"
	OpAll       Operator = "$all"
	OpElemMatch Operator = "$elemMatch"
	OpType      Operator = "$type"
	OpNot       Operator = "$not"
	OpMod       Operator = "$mod"
)

// evaluateOperator evaluates a single operator against the value read from a
// document (fieldValue, possibly absent — exists tells you which) and the
// operator's argument from the selector.
func evaluateOperator(op Operator, fieldValue interface{}, exists bool, arg interface{}) (bool, error) {
	switch op {
	case OpEq:
		return exists && equal(fieldValue, arg), nil
	case OpNe:
		return !(exists && equal(fieldValue, arg)), nil
	case OpGt:
		return exists && compare(fieldValue, arg) > 0, nil
	case OpGte:
		return exists && compare(fieldValue, arg) >= 0, nil
	case OpLt:
		return exists && compare(fieldValue, arg) < 0, nil
	case OpLte:
		return exists && compare(fieldValue, arg) <= 0, nil
	case OpIn:
		return exists && containsAny(fieldValue, arg), nil
	case OpNin:
		return !(exists && containsAny(fieldValue, arg)), nil
	case OpExists:
		want, ok := arg.(bool)
		if !ok {
			return false, fmt.Errorf("$exists requires a boolean argument")
		}
		return exists == want, nil
	case OpRegex:
		if !exists {
			return false, nil
		}
		return evaluateRegex(fieldValue, arg)
	case OpSize:
		if !exists {
			return false, nil
		}
		return evaluateSize(fieldValue, arg), nil
	case OpAll:
		if !exists {
			return false, nil
		}
		return evaluateAll(fieldValue, arg), nil
	case OpElemMatch:
		if !exists {
			return false, nil
		}
		return evaluateElemMatch(fieldValue, arg)
	case OpType:
		if !exists {
			return false, nil
		}
		return evaluateType(fieldValue, arg), nil
	case OpNot:
		if !exists {
			return true, nil
		}
		inner, err := evaluateExpr(fieldValue, exists, arg)
		if err != nil {
			return false, err
		}
		return !inner, nil
	case OpMod:
		if !exists {
			return false, nil
		}
		return evaluateMod(fieldValue, arg)
	default:
		return false, fmt.Errorf("unsupported operator: %s", op)
	}
}

// evaluateExpr evaluates either a plain equality value or a map of operators
// against a single field reading. Shared between the top-level field walk
// and $not/$elemMatch, which both recurse into an operator expression.
func evaluateExpr(fieldValue interface{}, exists bool, expr interface{}) (bool, error) {
	operatorMap, ok := expr.(map[string]interface{})
	if !ok {
		return exists && equal(fieldValue, expr), nil
	}
	for opStr, arg := range operatorMap {
		ok, err := evaluateOperator(Operator(opStr), fieldValue, exists, arg)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// equal reports a == b, with numeric coercion, plus the Mongo-family
// convention that equality against a sequence field matches if the
// sequence contains the value (spec §4.1) — so {tags: "b"} matches a
// document with tags: ["a","b","c"] the same way an indexed multikey
// lookup on the same field would.
func equal(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if aok && bok {
		return af == bf
	}
	if arr, ok := a.([]interface{}); ok {
		for _, item := range arr {
			if equal(item, b) {
				return true
			}
		}
	}
	return false
}

// compare returns -1/0/1, coercing numerics and dates; non-comparable types
// (policy choice, spec §4.1) compare as 0 so $gt/$lt never panic, they just
// fail to match anything interesting.
func compare(a, b interface{}) int {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	at, aok := toTime(a)
	bt, bok := toTime(b)
	if aok && bok {
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}

	return 0
}

func containsAny(value, arr interface{}) bool {
	list, ok := toSlice(arr)
	if !ok {
		return false
	}
	valueList, isList := toSlice(value)
	for _, want := range list {
		if isList {
			for _, item := range valueList {
				if equal(item, want) {
					return true
				}
			}
		}
		if equal(value, want) {
			return true
		}
	}
	return false
}

func evaluateRegex(value, pattern interface{}) (bool, error) {
	str, ok := value.(string)
	if !ok {
		return false, nil
	}

	var re *regexp.Regexp
	switch p := pattern.(type) {
	case *regexp.Regexp:
		re = p
	case string:
		compiled, err := regexp.Compile(p)
		if err != nil {
			return false, fmt.Errorf("invalid $regex pattern: %w", err)
		}
		re = compiled
	default:
		return false, fmt.Errorf("$regex requires a string or *regexp.Regexp")
	}
	return re.MatchString(str), nil
}

func evaluateSize(value, size interface{}) bool {
	list, ok := toSlice(value)
	if !ok {
		return false
	}
	want, ok := toInt64(size)
	if !ok {
		return false
	}
	return int64(len(list)) == want
}

func evaluateAll(value, want interface{}) bool {
	list, ok := toSlice(value)
	if !ok {
		return false
	}
	wantList, ok := toSlice(want)
	if !ok {
		return false
	}
	for _, w := range wantList {
		found := false
		for _, item := range list {
			if equal(item, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func evaluateElemMatch(value, cond interface{}) (bool, error) {
	list, ok := toSlice(value)
	if !ok {
		return false, nil
	}
	condMap, ok := cond.(map[string]interface{})
	if !ok {
		return false, fmt.Errorf("$elemMatch requires an object with conditions")
	}
	for _, item := range list {
		itemDoc, isDoc := item.(*document.Document)
		matched := true
		for key, expr := range condMap {
			var fv interface{}
			var exists bool
			if isDoc {
				fv, exists = itemDoc.Get(key)
			} else {
				// scalar array element: allow the bare-operator form
				// {$gt: 1} to apply directly to the element itself.
				fv, exists = item, true
			}
			ok, err := evaluateExpr(fv, exists, expr)
			if err != nil {
				return false, err
			}
			if !ok {
				matched = false
				break
			}
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func evaluateType(value, want interface{}) bool {
	typeName, ok := want.(string)
	if !ok {
		return false
	}
	return valueTypeName(value) == typeName
}

func valueTypeName(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int, int32, int64:
		return "int"
	case float32, float64:
		return "double"
	case string:
		return "string"
	case time.Time:
		return "date"
	case []interface{}:
		return "array"
	case *document.Document, map[string]interface{}:
		return "object"
	default:
		return "unknown"
	}
}

func evaluateMod(value, arg interface{}) (bool, error) {
	args, ok := toSlice(arg)
	if !ok || len(args) != 2 {
		return false, fmt.Errorf("$mod requires a [divisor, remainder] array")
	}
	divisor, ok1 := toInt64(args[0])
	remainder, ok2 := toInt64(args[1])
	val, ok3 := toInt64(value)
	if !ok1 || !ok2 || !ok3 || divisor == 0 {
		return false, nil
	}
	return val%divisor == remainder, nil
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
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
	case float64:
		return int64(val), true
	default:
		return 0, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	tv, ok := v.(time.Time)
	return tv, ok
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch val := v.(type) {
	case []interface{}:
		return val, true
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, false
		}
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
}
