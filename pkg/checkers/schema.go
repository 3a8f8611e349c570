package checkers

import (
	"context"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wardenhq/warden/pkg/action"
)

// SchemaChecker validates tool arguments against per-tool JSON Schemas
// (draft 2020-12). Tools without a registered schema pass untouched; a tool
// with a schema must present conforming arguments.
type SchemaChecker struct {
	schemas map[string]*jsonschema.Schema
}

// NewSchemaChecker creates an empty schema checker.
func NewSchemaChecker() *SchemaChecker {
	return &SchemaChecker{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles and installs a schema for a tool.
func (c *SchemaChecker) Register(tool, schema string) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://warden.schemas.local/tools/%s.schema.json", tool)
	if err := compiler.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("schema load for %s failed: %w", tool, err)
	}
	compiled, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("schema compile for %s failed: %w", tool, err)
	}
	c.schemas[tool] = compiled
	return nil
}

func (c *SchemaChecker) Name() string { return "schema" }

// Check validates the action's arguments when a schema is registered for
// its tool.
func (c *SchemaChecker) Check(_ context.Context, act *action.Action) Result {
	schema, ok := c.schemas[act.Tool]
	if !ok || schema == nil {
		return allow()
	}
	var doc interface{} = map[string]interface{}(act.Args)
	if act.Args == nil {
		doc = map[string]interface{}{}
	}
	if err := schema.Validate(doc); err != nil {
		return deny(fmt.Sprintf("schema: arguments for %s invalid: %v", act.Tool, err))
	}
	return allow()
}
