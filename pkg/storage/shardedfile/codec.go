package shardedfile

import (
	"time"

	"github.com/mnohosten/relaydb/pkg/document"
)

// toStorageValue converts a document value into something encoding/json can
// round-trip losslessly: ObjectIDs and times, which the json package would
// otherwise turn into an opaque struct or a bare string it can't tell apart
// from a real string field, are tagged so fromStorageValue can recover the
// original type. Mirrors the teacher's impex JSON exporter's value
// conversion, generalized to be reversible instead of one-way (impex only
// ever exports, it never has to read its own output back).
func toStorageValue(value interface{}) interface{} {
	switch v := value.(type) {
	case document.ObjectID:
		return map[string]interface{}{"$oid": v.Hex()}
	case time.Time:
		return map[string]interface{}{"$date": v.UTC().Format(time.RFC3339Nano)}
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = toStorageValue(elem)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[key] = toStorageValue(val)
		}
		return out
	case *document.Document:
		return toStorageValue(v.ToMap())
	default:
		return v
	}
}

// fromStorageValue reverses toStorageValue, plus does the routine JSON
// float64-to-int64 recovery the teacher's impex JSON importer does for
// whole-numbered fields.
func fromStorageValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		if len(v) == 1 {
			if oid, ok := v["$oid"].(string); ok {
				if parsed, err := document.ObjectIDFromHex(oid); err == nil {
					return parsed
				}
			}
			if ts, ok := v["$date"].(string); ok {
				if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
					return parsed
				}
			}
		}
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[key] = fromStorageValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = fromStorageValue(elem)
		}
		return out
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
		return v
	default:
		return v
	}
}

// encodeDocument renders doc into a JSON-ready map for writing to a shard
// file.
func encodeDocument(doc *document.Document) map[string]interface{} {
	m := doc.ToMap()
	out := make(map[string]interface{}, len(m))
	for key, value := range m {
		out[key] = toStorageValue(value)
	}
	return out
}

// decodeDocument reconstructs a Document from a map previously produced by
// encodeDocument (and decoded from JSON, so numbers arrive as float64).
func decodeDocument(raw map[string]interface{}) *document.Document {
	parsed := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		parsed[key] = fromStorageValue(value)
	}
	return document.NewDocumentFromMap(parsed)
}
