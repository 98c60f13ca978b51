// Package document implements the JSON-like document value the rest of the
// engine (selectors, modifiers, indexes, storage) operates on.
package document

import (
	"fmt"
	"strconv"
	"strings"
)

// IDField is the name of a document's primary key field.
const IDField = "id"

// Document is an ordered mapping from field name to value. Field order is
// insertion order, matching the teacher's approach of keeping a side slice
// of keys rather than relying on Go map iteration order.
type Document struct {
	fields map[string]*Value
	order  []string
}

// NewDocument creates a new empty document.
func NewDocument() *Document {
	return &Document{
		fields: make(map[string]*Value),
		order:  make([]string, 0),
	}
}

// NewDocumentFromMap creates a document from a map, in unspecified field
// order (maps have none); callers that need stable order should build the
// document field by field with Set instead.
func NewDocumentFromMap(m map[string]interface{}) *Document {
	doc := NewDocument()
	for k, v := range m {
		doc.Set(k, v)
	}
	return doc
}

// Set sets a field value, appending it to the insertion order if new.
func (d *Document) Set(key string, value interface{}) {
	if _, exists := d.fields[key]; !exists {
		d.order = append(d.order, key)
	}
	d.fields[key] = NewValue(normalize(value))
}

// Get retrieves a top-level field.
func (d *Document) Get(key string) (interface{}, bool) {
	if v, ok := d.fields[key]; ok {
		return v.Data, true
	}
	return nil, false
}

// GetValue retrieves the typed Value behind a top-level field.
func (d *Document) GetValue(key string) (*Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Has reports whether a top-level field is present.
func (d *Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Delete removes a top-level field.
func (d *Document) Delete(key string) {
	if _, ok := d.fields[key]; !ok {
		return
	}
	delete(d.fields, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order.
func (d *Document) Keys() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Len returns the number of top-level fields.
func (d *Document) Len() int {
	return len(d.fields)
}

// ID returns the document's primary key, if set.
func (d *Document) ID() (interface{}, bool) {
	return d.Get(IDField)
}

// ToMap converts the document to a plain map, recursively unwrapping nested
// documents and arrays.
func (d *Document) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d.fields))
	for _, k := range d.order {
		m[k] = unwrap(d.fields[k].Data)
	}
	return m
}

func unwrap(data interface{}) interface{} {
	switch v := data.(type) {
	case *Document:
		return v.ToMap()
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = unwrap(item)
		}
		return out
	default:
		return v
	}
}

// normalize converts plain map[string]interface{} fields into *Document so
// that nested field access (GetPath) and Clone work uniformly.
func normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		doc := NewDocument()
		for k, val := range v {
			doc.Set(k, val)
		}
		return doc
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

// Clone returns a deep copy of the document. Callers mutate the clone, never
// the input, so Apply can hand back a structurally new document.
func (d *Document) Clone() *Document {
	clone := NewDocument()
	for _, key := range d.order {
		clone.Set(key, cloneValue(d.fields[key].Data))
	}
	return clone
}

func cloneValue(data interface{}) interface{} {
	switch v := data.(type) {
	case *Document:
		return v.Clone()
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// String implements fmt.Stringer for debug output and call-site capture.
func (d *Document) String() string {
	return fmt.Sprintf("%v", d.ToMap())
}

// GetPath resolves a dotted field path (e.g. "a.b.c" or "a.0.b") against the
// document, descending through nested documents and array indices.
func GetPath(doc *Document, path string) (interface{}, bool) {
	segs := strings.Split(path, ".")
	var cur interface{} = doc
	for _, seg := range segs {
		switch node := cur.(type) {
		case *Document:
			v, ok := node.Get(seg)
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetPath sets a value at a dotted field path, creating intermediate
// documents as needed. A numeric segment under an array field indexes an
// existing element of that array; an index past the end is an error, and
// arrays are never extended.
func SetPath(doc *Document, path string, value interface{}) error {
	segs := strings.Split(path, ".")
	return setPathSegs(doc, segs, value)
}

func setPathSegs(doc *Document, segs []string, value interface{}) error {
	if len(segs) == 1 {
		doc.Set(segs[0], value)
		return nil
	}

	head, rest := segs[0], segs[1:]
	child, ok := doc.Get(head)
	if !ok || child == nil {
		child = NewDocument()
		doc.Set(head, child)
		child, _ = doc.Get(head)
	}

	if arr, isArr := child.([]interface{}); isArr {
		idx, err := strconv.Atoi(rest[0])
		if err != nil || idx < 0 || idx >= len(arr) {
			return fmt.Errorf("cannot index array field %q with %q", head, rest[0])
		}
		if len(rest) == 1 {
			arr[idx] = normalize(value)
			return nil
		}
		elem, isDoc := arr[idx].(*Document)
		if !isDoc {
			return fmt.Errorf("cannot descend into non-document element %s.%d", head, idx)
		}
		return setPathSegs(elem, rest[1:], value)
	}

	childDoc, ok := child.(*Document)
	if !ok {
		return fmt.Errorf("cannot descend into non-document field %q", head)
	}
	return setPathSegs(childDoc, rest, value)
}

// UnsetPath removes a value at a dotted field path. It is not an error to
// unset a path that does not exist.
func UnsetPath(doc *Document, path string) {
	segs := strings.Split(path, ".")
	unsetPathSegs(doc, segs)
}

func unsetPathSegs(doc *Document, segs []string) {
	if len(segs) == 1 {
		doc.Delete(segs[0])
		return
	}
	child, ok := doc.Get(segs[0])
	if !ok {
		return
	}
	if childDoc, ok := child.(*Document); ok {
		unsetPathSegs(childDoc, segs[1:])
	}
}
