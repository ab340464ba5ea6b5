package protocol

import "sync"

// FieldType names the JSON primitive a schema field must hold.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
	FieldAny     FieldType = "any"
)

// Field describes one payload field in a message schema.
type Field struct {
	Type     FieldType
	Required bool
	Enum     []string // closed value set for string fields, empty = open
}

// Schema maps payload field names to their constraints.
type Schema map[string]Field

// Registry holds the closed set of known message types and their optional
// payload schemas. Types and schemas are data; the codec never branches on
// a specific type name.
type Registry struct {
	mu      sync.RWMutex
	types   map[string]struct{}
	schemas map[string]Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[string]struct{}),
		schemas: make(map[string]Schema),
	}
}

// DefaultRegistry returns a registry preloaded with the built-in message
// types and their payload schemas.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	for _, t := range []string{
		TypeSocketStatus,
		TypeClientJoin,
		TypeClientLeave,
		TypeBroadcast,
		TypeHeartbeat,
		TypeAck,
		TypeContextSwitched,
		TypeMemberJoined,
		TypeMemberLeft,
	} {
		r.RegisterType(t)
	}

	r.RegisterSchema(TypeSocketSwitch, Schema{
		"context": {Type: FieldString, Required: true},
		"options": {Type: FieldObject},
	})
	r.RegisterSchema(TypeRoomJoin, Schema{
		"room": {Type: FieldString, Required: true},
	})
	r.RegisterSchema(TypeRoomLeave, Schema{
		"room": {Type: FieldString, Required: true},
	})
	r.RegisterSchema(TypeBusinessEvent, Schema{
		"eventType": {Type: FieldString, Required: true},
		"payload":   {Type: FieldObject},
	})
	r.RegisterSchema(TypeError, Schema{
		"errorCode":    {Type: FieldNumber, Required: true},
		"errorMessage": {Type: FieldString, Required: true},
	})

	return r
}

// RegisterType adds a message type with no payload schema.
func (r *Registry) RegisterType(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[name] = struct{}{}
}

// RegisterSchema adds a message type together with its payload schema,
// replacing any previous schema for that type.
func (r *Registry) RegisterSchema(name string, s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[name] = struct{}{}
	r.schemas[name] = s
}

// Known reports whether the type is registered.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// SchemaFor returns the payload schema for a type, if one is registered.
func (r *Registry) SchemaFor(name string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Types returns all registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	return out
}
