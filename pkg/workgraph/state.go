package workgraph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// FieldType is the semantic type of a state field.
type FieldType int

// Field types. TypeAny disables type checking for the field.
const (
	TypeAny FieldType = iota
	TypeString
	TypeNumber
	TypeBool
	TypeList
	TypeRecord
)

// String returns the type name.
func (t FieldType) String() string {
	switch t {
	case TypeAny:
		return "any"
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	case TypeList:
		return "list"
	case TypeRecord:
		return "record"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// Reducer is the merge strategy for a state field.
type Reducer int

const (
	// Overwrite replaces the old value with the new one. It is the default.
	Overwrite Reducer = iota
	// Append concatenates the update's list onto the existing list.
	Append
)

// String returns the reducer name.
func (r Reducer) String() string {
	switch r {
	case Overwrite:
		return "overwrite"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("Reducer(%d)", int(r))
	}
}

// Field describes one declared state field.
type Field struct {
	Name    string
	Type    FieldType
	Reducer Reducer
}

// State is the shared record flowing through a graph. Nodes return partial
// States that the Runner merges using each field's reducer.
type State map[string]any

// Clone returns a deep copy of s. Nested maps and slices are copied;
// other values are shared.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

// GetString returns the field as a string, or "" if absent or not a string.
func (s State) GetString(key string) string {
	v, _ := s[key].(string)
	return v
}

// GetList returns the field as a list, or nil if absent or not a list.
func (s State) GetList(key string) []any {
	v, _ := toList(s[key])
	return v
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case State:
		return val.Clone()
	case []any:
		l := make([]any, len(val))
		for i, inner := range val {
			l[i] = cloneValue(inner)
		}
		return l
	default:
		return v
	}
}

// Schema declares the fields of a State and how updates merge into them.
// A Schema is frozen when its graph is compiled; declaring fields afterwards
// fails.
type Schema struct {
	mu     sync.RWMutex
	fields map[string]Field
	order  []string
	frozen bool
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{fields: make(map[string]Field)}
}

// DeclareField registers a field. It fails with *SchemaError when the name is
// empty or already declared, the type or reducer is unknown, Append is used
// with a scalar type, or the schema is frozen.
func (s *Schema) DeclareField(name string, typ FieldType, reducer Reducer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return &SchemaError{Field: name, Err: ErrSchemaFrozen}
	}
	if strings.TrimSpace(name) == "" {
		return &SchemaError{Field: name, Err: ErrInvalidField, Reason: "name cannot be empty"}
	}
	if _, exists := s.fields[name]; exists {
		return &SchemaError{Field: name, Err: ErrInvalidField, Reason: "already declared"}
	}
	if typ < TypeAny || typ > TypeRecord {
		return &SchemaError{Field: name, Err: ErrInvalidField, Reason: "unknown type " + typ.String()}
	}
	switch reducer {
	case Overwrite:
	case Append:
		if typ != TypeList && typ != TypeAny {
			return &SchemaError{Field: name, Err: ErrInvalidField,
				Reason: "append reducer requires a list field, got " + typ.String()}
		}
	default:
		return &SchemaError{Field: name, Err: ErrInvalidField, Reason: "unknown reducer " + reducer.String()}
	}

	s.fields[name] = Field{Name: name, Type: typ, Reducer: reducer}
	s.order = append(s.order, name)
	return nil
}

// Declare is DeclareField for building schemas inline.
// It panics on error, like the Graph builder methods.
func (s *Schema) Declare(name string, typ FieldType, reducer Reducer) *Schema {
	if err := s.DeclareField(name, typ, reducer); err != nil {
		panic("workgraph: " + err.Error())
	}
	return s
}

// Freeze prevents further declarations. Graph.Compile calls it.
func (s *Schema) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
}

// Frozen reports whether the schema accepts new fields.
func (s *Schema) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Field returns a declared field.
func (s *Schema) Field(name string) (Field, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns all fields in declaration order.
func (s *Schema) Fields() []Field {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Field, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// Merge applies a partial update to current and returns the new state.
// current is never modified. Keys are applied in sorted order so the
// first reported error is deterministic.
func (s *Schema) Merge(current, update State) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := current.Clone()
	if next == nil {
		next = make(State, len(update))
	}

	for _, key := range sortedKeys(update) {
		field, ok := s.fields[key]
		if !ok {
			return nil, &UnknownFieldError{Field: key}
		}
		value := update[key]

		switch field.Reducer {
		case Append:
			if value == nil {
				if _, ok := next[key]; !ok {
					next[key] = nil
				}
				continue
			}
			items, ok := toList(value)
			if !ok {
				return nil, &FieldTypeError{Field: key, Want: TypeList, Got: value}
			}
			existing, _ := toList(next[key])
			merged := make([]any, 0, len(existing)+len(items))
			merged = append(merged, existing...)
			for _, item := range items {
				merged = append(merged, cloneValue(item))
			}
			next[key] = merged
		default:
			if !typeMatches(field.Type, value) {
				return nil, &FieldTypeError{Field: key, Want: field.Type, Got: value}
			}
			next[key] = cloneValue(value)
		}
	}
	return next, nil
}

// Validate checks that every key of state is declared and well-typed.
func (s *Schema) Validate(state State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range sortedKeys(state) {
		field, ok := s.fields[key]
		if !ok {
			return &UnknownFieldError{Field: key}
		}
		want := field.Type
		if field.Reducer == Append {
			want = TypeList
		}
		if !typeMatches(want, state[key]) {
			return &FieldTypeError{Field: key, Want: want, Got: state[key]}
		}
	}
	return nil
}

func sortedKeys(s State) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// typeMatches accepts nil for every type so a field can be cleared.
func typeMatches(t FieldType, v any) bool {
	if t == TypeAny || v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch t {
	case TypeString:
		return rv.Kind() == reflect.String
	case TypeNumber:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
		return false
	case TypeBool:
		return rv.Kind() == reflect.Bool
	case TypeList:
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	case TypeRecord:
		switch rv.Kind() {
		case reflect.Map:
			return rv.Type().Key().Kind() == reflect.String
		case reflect.Struct:
			return true
		case reflect.Pointer:
			return rv.Elem().Kind() == reflect.Struct
		}
		return false
	}
	return false
}

// toList converts any slice or array to []any.
func toList(v any) ([]any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case []any:
		return val, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// normalize round-trips a state through JSON so the in-memory value is
// exactly what a checkpoint reload produces.
func normalize(s State) (State, error) {
	if s == nil {
		return State{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if out == nil {
		out = State{}
	}
	return out, nil
}
