package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Encode serializes a message to one JSON frame.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// Decode parses one JSON frame into a message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &msg, nil
}

// ValidationResult reports the outcome of Validate.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate checks a message against the registry: required envelope fields,
// type membership, major-version compatibility, and the type's payload
// schema when one is registered. Pure function; no side effects.
func (r *Registry) Validate(msg *Message) ValidationResult {
	var errs []string

	if msg.Type == "" {
		errs = append(errs, "missing type")
	}
	if msg.Timestamp == "" {
		errs = append(errs, "missing timestamp")
	}
	if msg.Version == "" {
		errs = append(errs, "missing version")
	} else if !MajorCompatible(msg.Version) {
		errs = append(errs, fmt.Sprintf("incompatible version %q, server speaks %s", msg.Version, ProtocolVersion))
	}

	if msg.Type != "" && !r.Known(msg.Type) {
		errs = append(errs, fmt.Sprintf("unknown message type %q", msg.Type))
	}

	if schema, ok := r.SchemaFor(msg.Type); ok {
		errs = append(errs, checkSchema(schema, msg.Data)...)
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// checkSchema validates payload fields in deterministic (sorted) order so
// error lists are stable across runs.
func checkSchema(schema Schema, data map[string]any) []string {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []string
	for _, name := range names {
		field := schema[name]
		value, present := data[name]

		if !present {
			if field.Required {
				errs = append(errs, fmt.Sprintf("missing required field %q", name))
			}
			continue
		}

		if !typeMatches(field.Type, value) {
			errs = append(errs, fmt.Sprintf("field %q must be %s", name, field.Type))
			continue
		}

		if len(field.Enum) > 0 {
			s, _ := value.(string)
			if !contains(field.Enum, s) {
				errs = append(errs, fmt.Sprintf("field %q must be one of %v", name, field.Enum))
			}
		}
	}
	return errs
}

func typeMatches(ft FieldType, value any) bool {
	switch ft {
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case FieldBoolean:
		_, ok := value.(bool)
		return ok
	case FieldObject:
		_, ok := value.(map[string]any)
		return ok
	case FieldArray:
		_, ok := value.([]any)
		return ok
	case FieldAny:
		return true
	}
	return false
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
