package schema

import (
	"fmt"
	"sort"

	"github.com/roach88/strata/internal/value"
)

// FieldType is the declared type of a record field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeBool   FieldType = "bool"
	TypeList   FieldType = "list"
	TypeObject FieldType = "object"
)

// Schema describes the entities a store may hold. Together with the
// backing location it forms the identity of a store.
type Schema struct {
	Name     string   `json:"name"`
	Version  int64    `json:"version"`
	Entities []Entity `json:"entities"` // sorted by name
}

// Entity is one record type.
type Entity struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"` // sorted by name
}

// Field is one typed attribute of an entity.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Optional bool      `json:"optional,omitempty"`
}

// ValidationError reports a record that does not fit the schema.
type ValidationError struct {
	Entity  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s.%s: %s", e.Entity, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

// Entity returns the named entity, if declared.
func (s *Schema) Entity(name string) (Entity, bool) {
	i := sort.Search(len(s.Entities), func(i int) bool { return s.Entities[i].Name >= name })
	if i < len(s.Entities) && s.Entities[i].Name == name {
		return s.Entities[i], true
	}
	return Entity{}, false
}

// Field returns the named field, if declared.
func (e Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks one record's fields. A nil schema accepts anything.
// The "id" field is reserved and always allowed.
func (s *Schema) Validate(entity string, fields value.Object) error {
	if s == nil {
		return nil
	}

	ent, ok := s.Entity(entity)
	if !ok {
		return &ValidationError{Entity: entity, Message: "unknown entity"}
	}

	for _, name := range fields.SortedKeys() {
		if name == "id" {
			continue
		}
		f, ok := ent.Field(name)
		if !ok {
			return &ValidationError{Entity: entity, Field: name, Message: "unknown field"}
		}
		v := fields[name]
		if _, isNull := v.(value.Null); isNull {
			if f.Optional {
				continue
			}
			return &ValidationError{Entity: entity, Field: name, Message: "required field is null"}
		}
		if got := value.Kind(v); got != string(f.Type) {
			return &ValidationError{
				Entity:  entity,
				Field:   name,
				Message: fmt.Sprintf("expected %s, got %s", f.Type, got),
			}
		}
	}

	for _, f := range ent.Fields {
		if f.Optional {
			continue
		}
		if _, ok := fields[f.Name]; !ok {
			return &ValidationError{Entity: entity, Field: f.Name, Message: "required field missing"}
		}
	}

	return nil
}

// Hash returns a stable content hash of the descriptor. Stores record
// it on first open and refuse to open with a different one.
func (s *Schema) Hash() (string, error) {
	if s == nil {
		return "", nil
	}

	entities := make(value.List, 0, len(s.Entities))
	for _, e := range s.Entities {
		fields := make(value.Object, len(e.Fields))
		for _, f := range e.Fields {
			fields[f.Name] = value.Object{
				"type":     value.String(f.Type),
				"optional": value.Bool(f.Optional),
			}
		}
		entities = append(entities, value.Object{
			"name":   value.String(e.Name),
			"fields": fields,
		})
	}

	return value.HashValue(value.DomainSchema, value.Object{
		"name":     value.String(s.Name),
		"version":  value.Int(s.Version),
		"entities": entities,
	})
}
