// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	santhosh "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const schemaName = "config.schema.json"

// GenerateSchema reflects the Config struct into a JSON Schema document.
// cmd/gen-schema writes it to disk for editor integration; ValidateFile
// compiles it in-memory so the validator can never drift from the struct.
func GenerateSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "RealmGate configuration"

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").
			With("operation", "marshal schema").
			Wrap(err)
	}
	return out, nil
}

// ValidateFile checks a YAML config file against the generated schema.
// Unknown keys and mistyped values are rejected before unmarshalling.
func ValidateFile(path string) error {
	raw, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied configuration
	if err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").
			With("path", path).
			Wrap(err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return oops.Code("CONFIG_INVALID").
			With("path", path).
			With("operation", "parse yaml").
			Wrap(err)
	}

	// An empty file is valid: everything defaults.
	if doc == nil {
		return nil
	}

	// Round-trip through JSON so the instance uses the value types the
	// schema validator expects.
	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("CONFIG_INVALID").
			With("path", path).
			With("operation", "convert yaml to json").
			Wrap(err)
	}
	instance, err := santhosh.UnmarshalJSON(bytes.NewReader(jsonDoc))
	if err != nil {
		return oops.Code("CONFIG_INVALID").
			With("path", path).
			Wrap(err)
	}

	schema, err := compileSchema()
	if err != nil {
		return err
	}

	if err := schema.Validate(instance); err != nil {
		return oops.Code("CONFIG_INVALID").
			With("path", path).
			Wrap(err)
	}
	return nil
}

func compileSchema() (*santhosh.Schema, error) {
	raw, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	doc, err := santhosh.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").
			With("operation", "parse generated schema").
			Wrap(err)
	}

	compiler := santhosh.NewCompiler()
	if err := compiler.AddResource(schemaName, doc); err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").
			With("operation", "add schema resource").
			Wrap(err)
	}
	schema, err := compiler.Compile(schemaName)
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").
			With("operation", "compile schema").
			Wrap(err)
	}
	return schema, nil
}
