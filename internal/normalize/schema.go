package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/inaiurai/metagen/internal/profiles"
)

// SchemaSet holds the compiled output schema of every profile that declares one.
type SchemaSet struct {
	schemas map[int]*jsonschema.Schema
}

// NewSchemaSet compiles the schema of each profile in the catalog.
func NewSchemaSet(catalog *profiles.Catalog) (*SchemaSet, error) {
	set := &SchemaSet{schemas: make(map[int]*jsonschema.Schema)}
	for _, p := range catalog.All() {
		if p.Schema == "" {
			continue
		}
		id := fmt.Sprintf("https://metagen.inaiurai.dev/schemas/profile-%d.json", p.ID)
		s, err := jsonschema.CompileString(id, p.Schema)
		if err != nil {
			return nil, fmt.Errorf("compile schema for profile %d: %w", p.ID, err)
		}
		set.schemas[p.ID] = s
	}
	return set, nil
}

// Validate checks record against the profile's schema. Profiles without one always pass.
func (s *SchemaSet) Validate(profileID int, record any) error {
	schema, ok := s.schemas[profileID]
	if !ok {
		return nil
	}
	// The validator only understands values shaped like encoding/json output.
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return schema.Validate(doc)
}
