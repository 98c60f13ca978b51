package document

import "time"

// Type is the tag of a Value's underlying Go representation.
type Type byte

const (
	TypeNull Type = iota
	TypeBoolean
	TypeInt64
	TypeFloat64
	TypeString
	TypeDate
	TypeArray
	TypeDocument
)

// String returns the human-readable name of the type.
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeInt64:
		return "int"
	case TypeFloat64:
		return "double"
	case TypeString:
		return "string"
	case TypeDate:
		return "date"
	case TypeArray:
		return "array"
	case TypeDocument:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the JSON-like value space the query engine
// understands: null, bool, number, string, date, nested document, or an
// ordered sequence of values.
type Value struct {
	Type Type
	Data interface{}
}

// NewValue wraps a raw Go value (as produced by JSON decoding, a literal in
// calling code, or another Document) into a typed Value.
func NewValue(data interface{}) *Value {
	v := &Value{Data: data}

	switch val := data.(type) {
	case nil:
		v.Type = TypeNull
	case bool:
		v.Type = TypeBoolean
	case int:
		v.Type = TypeInt64
		v.Data = int64(val)
	case int32:
		v.Type = TypeInt64
		v.Data = int64(val)
	case int64:
		v.Type = TypeInt64
	case float32:
		v.Type = TypeFloat64
		v.Data = float64(val)
	case float64:
		v.Type = TypeFloat64
	case string:
		v.Type = TypeString
	case time.Time:
		v.Type = TypeDate
	case []interface{}:
		v.Type = TypeArray
	case []*Value:
		v.Type = TypeArray
	case map[string]interface{}:
		v.Type = TypeDocument
	case *Document:
		v.Type = TypeDocument
	case Document:
		v.Type = TypeDocument
	default:
		v.Type = TypeNull
		v.Data = nil
	}

	return v
}
