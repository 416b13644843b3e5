package profile

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/aiwf/aiwf/internal/errors"
)

// Field types understood by the context schema.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeBool   = "bool"
	TypePath   = "path"
)

// FieldSpec describes one context field.
type FieldSpec struct {
	Type     string   `yaml:"type" json:"type"`
	Required bool     `yaml:"required" json:"required"`
	Choices  []string `yaml:"choices,omitempty" json:"choices,omitempty"`
	// Exists requires a path-typed field to name an existing file.
	Exists bool `yaml:"exists,omitempty" json:"exists,omitempty"`
}

// Schema maps context field names to their specs.
type Schema map[string]FieldSpec

// Names returns the field names in sorted order.
func (s Schema) Names() []string {
	return sortedKeys(s)
}

// Validate checks a context mapping against the schema. It returns one
// FieldError per violation; an empty result means the context is valid.
// Unknown fields are rejected so typos fail fast.
func (s Schema) Validate(context map[string]any) []errors.FieldError {
	var errs []errors.FieldError

	for _, name := range sortedKeys(s) {
		spec := s[name]
		value, present := context[name]
		if !present {
			if spec.Required {
				errs = append(errs, errors.FieldError{Field: name, Message: "required field is missing"})
			}
			continue
		}
		if msg := checkValue(spec, value); msg != "" {
			errs = append(errs, errors.FieldError{Field: name, Message: msg})
		}
	}

	for _, name := range sortedKeys(context) {
		if _, known := s[name]; !known {
			errs = append(errs, errors.FieldError{Field: name, Message: "unknown field"})
		}
	}
	return errs
}

func checkValue(spec FieldSpec, value any) string {
	switch spec.Type {
	case TypeString, TypePath, "":
		str, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected a string, got %T", value)
		}
		if str == "" {
			return "must not be empty"
		}
		if len(spec.Choices) > 0 && !contains(spec.Choices, str) {
			return fmt.Sprintf("must be one of %v", spec.Choices)
		}
		if spec.Type == TypePath && spec.Exists {
			if _, err := os.Stat(str); err != nil {
				return fmt.Sprintf("path %q does not exist", str)
			}
		}
	case TypeInt:
		switch value.(type) {
		case int, int64, float64:
		default:
			return fmt.Sprintf("expected an integer, got %T", value)
		}
	case TypeBool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected a boolean, got %T", value)
		}
	default:
		return fmt.Sprintf("schema declares unknown type %q", spec.Type)
	}
	return ""
}

// Coerce converts CLI-supplied string values into the schema's types. It
// does not validate beyond conversion; callers run Validate on the result.
func (s Schema) Coerce(values map[string]string) (map[string]any, []errors.FieldError) {
	out := make(map[string]any, len(values))
	var errs []errors.FieldError

	for _, name := range sortedKeys(values) {
		raw := values[name]
		spec, known := s[name]
		if !known {
			// Pass through; Validate reports the unknown field.
			out[name] = raw
			continue
		}
		switch spec.Type {
		case TypeInt:
			n, err := strconv.Atoi(raw)
			if err != nil {
				errs = append(errs, errors.FieldError{Field: name, Message: fmt.Sprintf("%q is not an integer", raw)})
				continue
			}
			out[name] = n
		case TypeBool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				errs = append(errs, errors.FieldError{Field: name, Message: fmt.Sprintf("%q is not a boolean", raw)})
				continue
			}
			out[name] = b
		default:
			out[name] = raw
		}
	}
	return out, errs
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
