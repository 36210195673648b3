package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// CompileError is a schema compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile builds a Schema from a CUE value of the form:
//
//	schema: { name: "people", version: 1 }
//	entity: User: { firstname: string, age?: int }
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{Version: 1}

	nameVal := v.LookupPath(cue.ParsePath("schema.name"))
	if !nameVal.Exists() {
		return nil, &CompileError{Field: "schema.name", Message: "schema name is required", Pos: v.Pos()}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	s.Name = name

	if versionVal := v.LookupPath(cue.ParsePath("schema.version")); versionVal.Exists() {
		version, err := versionVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if version < 1 {
			return nil, &CompileError{Field: "schema.version", Message: "version must be >= 1", Pos: versionVal.Pos()}
		}
		s.Version = version
	}

	s.Entities, err = parseEntities(v)
	if err != nil {
		return nil, err
	}
	if len(s.Entities) == 0 {
		return nil, &CompileError{Field: "entity", Message: "at least one entity is required", Pos: v.Pos()}
	}

	return s, nil
}

// CompileString compiles CUE source text.
func CompileString(src string) (*Schema, error) {
	v := cuecontext.New().CompileString(src)
	return Compile(v)
}

// Load compiles a schema from a .cue file or from every .cue file in a
// directory (loaded as one CUE instance).
func Load(path string) (*Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
		v := cuecontext.New().CompileBytes(src, cue.Filename(path))
		return Compile(v)
	}

	files, err := filepath.Glob(filepath.Join(path, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("load schema: no CUE files found in %s", path)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load schema: no CUE instances loaded from %s", path)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load schema: %w", formatCUEError(inst.Err))
	}

	v := cuecontext.New().BuildInstance(inst)
	return Compile(v)
}

func parseEntities(v cue.Value) ([]Entity, error) {
	entityVal := v.LookupPath(cue.ParsePath("entity"))
	if !entityVal.Exists() {
		return nil, nil
	}

	iter, err := entityVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var entities []Entity
	for iter.Next() {
		ent := Entity{Name: iter.Label()}

		fieldIter, err := iter.Value().Fields(cue.Optional(true))
		if err != nil {
			return nil, formatCUEError(err)
		}
		for fieldIter.Next() {
			if fieldIter.Label() == "id" {
				return nil, &CompileError{
					Field:   fmt.Sprintf("entity.%s.id", ent.Name),
					Message: "id is reserved",
					Pos:     fieldIter.Value().Pos(),
				}
			}
			ft, err := fieldType(fieldIter.Value())
			if err != nil {
				return nil, err
			}
			ent.Fields = append(ent.Fields, Field{
				Name:     fieldIter.Label(),
				Type:     ft,
				Optional: fieldIter.IsOptional(),
			})
		}
		sort.Slice(ent.Fields, func(i, j int) bool { return ent.Fields[i].Name < ent.Fields[j].Name })
		entities = append(entities, ent)
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities, nil
}

// fieldType maps a CUE kind onto a FieldType. Floats are rejected
// because stored values must round-trip through JSON exactly.
func fieldType(v cue.Value) (FieldType, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return TypeString, nil
	case cue.IntKind:
		return TypeInt, nil
	case cue.BoolKind:
		return TypeBool, nil
	case cue.ListKind:
		return TypeList, nil
	case cue.StructKind:
		return TypeObject, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are not supported, use int",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
