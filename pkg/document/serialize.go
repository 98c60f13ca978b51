package document

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// CanonicalString produces a stable, deterministic string rendering of an id
// value. String ids pass through unchanged; every other JSON-like shape
// (bool, number, date, nested map, array) is rendered with sorted map keys
// so that two structurally equal ids always canonicalize identically. Used
// by the sharded-file store (pkg/storage/shardedfile) to turn a non-string
// primary key into something that can be hashed into a path-safe name.
func CanonicalString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case ObjectID:
		return v.Hex()
	case []interface{}:
		out := "["
		for i, item := range v {
			if i > 0 {
				out += ","
			}
			out += CanonicalString(item)
		}
		return out + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += k + ":" + CanonicalString(v[k])
		}
		return out + "}"
	case *Document:
		return CanonicalString(v.ToMap())
	default:
		return fmt.Sprintf("%v", v)
	}
}
