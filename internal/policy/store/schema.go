// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

package store

import (
	_ "embed"
	"encoding/json"
	"sync"

	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
)

//go:embed schema.json
var setSchemaJSON []byte

var (
	setSchemaOnce sync.Once
	setSchema     *jschema.Schema
	setSchemaErr  error
)

// SchemaID returns the $id of the policy set schema for use in store files.
func SchemaID() string {
	return "https://parapet.dev/schemas/policy-set.schema.json"
}

// SchemaJSON returns the embedded policy set schema document.
func SchemaJSON() []byte {
	return setSchemaJSON
}

// ValidateShape checks a decoded policy set document against the
// embedded JSON Schema. The instance must be JSON-compatible
// (map[string]any keys, []any lists).
func ValidateShape(instance any) error {
	sch, err := compiledSetSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(instance); err != nil {
		return oops.Code("POLICY_MALFORMED").Wrapf(err, "policy set fails schema validation")
	}
	return nil
}

func compiledSetSchema() (*jschema.Schema, error) {
	setSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal(setSchemaJSON, &doc); err != nil {
			setSchemaErr = oops.Wrapf(err, "parsing embedded policy set schema")
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("policy-set.schema.json", doc); err != nil {
			setSchemaErr = oops.Wrapf(err, "adding policy set schema resource")
			return
		}
		sch, err := c.Compile("policy-set.schema.json")
		if err != nil {
			setSchemaErr = oops.Wrapf(err, "compiling policy set schema")
			return
		}
		setSchema = sch
	})
	return setSchema, setSchemaErr
}
