// Package validate implements Mycelia's two validation surfaces: cheap
// structural checks on Message/PKR construction invariants via vala
// (grounded on the teacher's kat-co/vala call shape, also used directly
// in internal/message.NewMessage), and JSON-schema validation of a hook's
// declared facet-config payload or a subsystem's declared message-body
// schema via santhosh-tekuri/jsonschema/v5, consulted during the build
// graph's verify phase (spec.md §4.11).
package validate

import (
	"bytes"
	"fmt"

	"github.com/kat-co/vala"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MessageConstruction checks the invariants internal/message.NewMessage
// itself enforces (non-empty path); exposed separately so other
// construction sites (e.g. hook-declared synthetic messages) can run the
// same check without building a throwaway Message first.
func MessageConstruction(path string) error {
	return vala.BeginValidation().Validate(
		vala.StringNotEmpty(path, "path"),
	).Check()
}

// PKRConstruction checks that a freshly-minted PKR has a non-nil public
// key and non-empty uuid before it is handed back to a caller.
func PKRConstruction(uuid string, publicKey any) error {
	return vala.BeginValidation().Validate(
		vala.StringNotEmpty(uuid, "uuid"),
		vala.IsNotNil(publicKey, "publicKey"),
	).Check()
}

// SchemaSet compiles and caches JSON schemas by name, so a build graph's
// verify phase (run once per distinct hook set, per buildgraph.Graph's
// own cache) doesn't recompile the same schema on every build.
type SchemaSet struct {
	compiled map[string]*jsonschema.Schema
}

// NewSchemaSet builds an empty, ready-to-use SchemaSet.
func NewSchemaSet() *SchemaSet {
	return &SchemaSet{compiled: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON under name, replacing any prior schema
// registered under the same name.
func (s *SchemaSet) Register(name string, schemaJSON []byte) error {
	compiler := jsonschema.NewCompiler()
	resourceURL := "mem://" + name
	if err := compiler.AddResource(resourceURL, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("validate: compiling schema %q: %w", name, err)
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("validate: compiling schema %q: %w", name, err)
	}
	s.compiled[name] = schema
	return nil
}

// Validate checks doc (already decoded into Go values: map[string]any,
// []any, string, float64, bool, nil) against the schema registered under
// name. A name with no registered schema is treated as "no constraint".
func (s *SchemaSet) Validate(name string, doc any) error {
	schema, ok := s.compiled[name]
	if !ok {
		return nil
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("validate: %q failed schema: %w", name, err)
	}
	return nil
}

// Has reports whether a schema is registered under name.
func (s *SchemaSet) Has(name string) bool {
	_, ok := s.compiled[name]
	return ok
}
