package types

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Record is one row of a table: column name to string value.
// An empty string is the canonical null.
type Record map[string]string

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Get returns the trimmed value of col.
func (r Record) Get(col string) string {
	return strings.TrimSpace(r[col])
}

// KeyOf returns the record's key for the given key fields. Composite keys
// are comma-joined in key field order. Returns "" when any part is blank.
func (r Record) KeyOf(fields []string) string {
	if len(fields) == 1 {
		return r.Get(fields[0])
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		v := r.Get(f)
		if v == "" {
			return ""
		}
		parts[i] = v
	}
	return strings.Join(parts, ",")
}

// Merge overlays incoming onto r. Fields absent from incoming are retained.
func (r Record) Merge(incoming Record) {
	for k, v := range incoming {
		r[k] = v
	}
}

// fieldIndex caches column name to struct field index for typed records.
type fieldIndex struct {
	columns map[string]int
	extra   int // -1 when the struct carries no Extra bag
}

var indexCache sync.Map // reflect.Type -> *fieldIndex

func indexFor(t reflect.Type) *fieldIndex {
	if cached, ok := indexCache.Load(t); ok {
		return cached.(*fieldIndex)
	}
	idx := &fieldIndex{columns: make(map[string]int), extra: -1}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("csv")
		switch {
		case tag == "-" && f.Type == reflect.TypeOf(map[string]string(nil)):
			idx.extra = i
		case tag != "" && tag != "-" && f.Type.Kind() == reflect.String:
			idx.columns[tag] = i
		}
	}
	indexCache.Store(t, idx)
	return idx
}

// Encode flattens a typed record (a struct with `csv` tagged string fields and
// an optional `csv:"-"` map[string]string bag) into a Record. Blank typed
// fields are omitted so that merges never clobber existing values with nulls.
func Encode(v any) (Record, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("encode record: %T is not a struct", v)
	}
	idx := indexFor(rv.Type())

	out := make(Record)
	if idx.extra >= 0 {
		for k, val := range rv.Field(idx.extra).Interface().(map[string]string) {
			out[k] = val
		}
	}
	for col, i := range idx.columns {
		if s := rv.Field(i).String(); s != "" {
			out[col] = s
		}
	}
	return out, nil
}

// Decode fills a typed record from r. Columns without a typed field land in
// the Extra bag so they survive a load/save round-trip.
func Decode(r Record, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode record: %T is not a struct pointer", v)
	}
	rv = rv.Elem()
	idx := indexFor(rv.Type())

	var extra map[string]string
	for col, val := range r {
		if i, ok := idx.columns[col]; ok {
			rv.Field(i).SetString(val)
			continue
		}
		if idx.extra < 0 {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[col] = val
	}
	if idx.extra >= 0 && extra != nil {
		rv.Field(idx.extra).Set(reflect.ValueOf(extra))
	}
	return nil
}
