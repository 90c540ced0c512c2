package repository

import (
	"reflect"
	"strings"

	"github.com/goliatone/go-errors"
)

// column describes one mapped struct field
type column struct {
	name   string
	index  []int
	isText bool
	isPK   bool
}

// metadata is the column map derived from a model's bun tags. It backs
// filter validation, sort validation and update diffing without
// touching bun internals.
type metadata struct {
	pk      column
	columns map[string]column
	order   []string
}

// modelMetadata inspects the bun struct tags of the model behind v.
// Embedded bun.BaseModel and untagged relation fields are skipped.
func modelMetadata(v any) (*metadata, error) {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.New("model must be a struct or pointer to struct", errors.CategoryBadInput)
	}

	meta := &metadata{columns: map[string]column{}}
	collectColumns(t, nil, meta)

	if meta.pk.name == "" {
		return nil, errors.New("model has no primary key column", errors.CategoryBadInput).
			WithMetadata(map[string]any{"model": t.Name()})
	}
	return meta, nil
}

func collectColumns(t reflect.Type, parent []int, meta *metadata) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}

		tag := f.Tag.Get("bun")
		if tag == "-" || strings.HasPrefix(tag, "table:") {
			continue
		}

		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectColumns(f.Type, append(parent, i), meta)
			continue
		}

		parts := strings.Split(tag, ",")
		name := parts[0]
		if name == "" {
			name = toSnake(f.Name)
		}

		col := column{
			name:   name,
			index:  append(append([]int{}, parent...), i),
			isText: isTextField(f.Type),
		}
		for _, opt := range parts[1:] {
			if opt == "pk" {
				col.isPK = true
			}
		}

		if _, seen := meta.columns[name]; seen {
			continue
		}
		meta.columns[name] = col
		meta.order = append(meta.order, name)
		if col.isPK {
			meta.pk = col
		}
	}
}

// isTextField reports whether the field holds free text. Identifier
// like columns (numbers, uuid byte arrays, timestamps) compare with
// exact equality; text columns compare case-insensitively.
func isTextField(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.String
}

func (m *metadata) has(name string) bool {
	_, ok := m.columns[name]
	return ok
}

// fieldValue returns the current value of the named column on record
func (m *metadata) fieldValue(record any, name string) (any, bool) {
	col, ok := m.columns[name]
	if !ok {
		return nil, false
	}
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v.FieldByIndex(col.index).Interface(), true
}

// setFieldValue assigns value to the named column on record,
// converting where the types allow it. nil clears pointer fields.
func (m *metadata) setFieldValue(record any, name string, value any) error {
	col, ok := m.columns[name]
	if !ok {
		return errors.New("unknown column", errors.CategoryBadInput).
			WithMetadata(map[string]any{"column": name})
	}

	rv := reflect.ValueOf(record)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	field := rv.FieldByIndex(col.index)

	if value == nil {
		if field.Kind() != reflect.Ptr {
			return errors.New("cannot assign nil to non-pointer column", errors.CategoryBadInput).
				WithMetadata(map[string]any{"column": name})
		}
		field.Set(reflect.Zero(field.Type()))
		return nil
	}

	vv := reflect.ValueOf(value)

	// allow assigning a bare value to a pointer field
	if field.Kind() == reflect.Ptr && vv.Type() == field.Type().Elem() {
		p := reflect.New(field.Type().Elem())
		p.Elem().Set(vv)
		field.Set(p)
		return nil
	}

	switch {
	case vv.Type().AssignableTo(field.Type()):
		field.Set(vv)
	case vv.Type().ConvertibleTo(field.Type()):
		field.Set(vv.Convert(field.Type()))
	default:
		return errors.New("incompatible value type for column", errors.CategoryBadInput).
			WithMetadata(map[string]any{
				"column": name,
				"have":   vv.Type().String(),
				"want":   field.Type().String(),
			})
	}
	return nil
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
