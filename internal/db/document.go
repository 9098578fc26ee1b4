package db

import (
	"strings"
	"time"
)

// Document is a snapshot of a stored document.
type Document struct {
	ID     string
	Path   string
	Exists bool
	Data   map[string]interface{}
}

func missingDocument(path string) *Document {
	return &Document{ID: lastSegment(path), Path: path, Exists: false, Data: map[string]interface{}{}}
}

// Value returns the raw value at a dotted field path.
func (d *Document) Value(path string) (interface{}, bool) {
	if d == nil || d.Data == nil {
		return nil, false
	}
	return lookup(d.Data, path)
}

// Has reports whether the field path is present and non-nil.
func (d *Document) Has(path string) bool {
	v, ok := d.Value(path)
	return ok && v != nil
}

// Int returns the field as int64, 0 when absent or not numeric.
func (d *Document) Int(path string) int64 {
	v, _ := d.Value(path)
	n, _ := AsInt(v)
	return n
}

// IntOK is like Int but reports whether a numeric value was present.
func (d *Document) IntOK(path string) (int64, bool) {
	v, ok := d.Value(path)
	if !ok {
		return 0, false
	}
	return AsInt(v)
}

func (d *Document) Bool(path string) bool {
	v, _ := d.Value(path)
	b, _ := v.(bool)
	return b
}

func (d *Document) String(path string) string {
	v, _ := d.Value(path)
	s, _ := v.(string)
	return s
}

// Time returns the field as a time. RFC 3339 strings and epoch
// milliseconds are accepted for data written by older clients.
func (d *Document) Time(path string) (time.Time, bool) {
	v, ok := d.Value(path)
	if !ok || v == nil {
		return time.Time{}, false
	}
	return AsTime(v)
}

func (d *Document) Map(path string) map[string]interface{} {
	v, _ := d.Value(path)
	m, _ := v.(map[string]interface{})
	return m
}

// Strings returns a string slice field, skipping non-string entries.
func (d *Document) Strings(path string) []string {
	v, _ := d.Value(path)
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// AsInt converts the numeric types produced by the backends to int64.
func AsInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	default:
		return 0, false
	}
}

// AsTime converts a stored timestamp value to time.Time.
func AsTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		if ms, ok := AsInt(v); ok {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	}
}

func lookup(data map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = data
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Join builds a document or collection path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func parentCollection(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}
