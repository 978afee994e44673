// Package tools implements the eight-tool worker surface of spec §4.5/§6:
// read_file, write_file, edit_file, list_directory, run_command,
// git_commit, git_status, task_complete. Each tool's JSON Schema is
// validated with jsonschema/v6 before dispatch, matching the "validate
// then execute" discipline the teacher's registry enforces through
// structural typing instead.
package tools

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"orchestrator/pkg/taxonomy"
)

// Definition is the JSON-schema-carrying tool definition handed to an
// AIAdapter for function/tool calling, and used locally to validate
// incoming arguments before Dispatch runs the tool body.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any // JSON Schema, compiled lazily by the Registry
}

// Tool is one dispatchable worker tool.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Registry holds the fixed eight-tool set and validates arguments against
// each tool's compiled JSON Schema before dispatch.
type Registry struct {
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry compiles every tool's schema up front so a malformed schema
// fails fast at construction instead of at first dispatch.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:    make(map[string]Tool, len(tools)),
		compiled: make(map[string]*jsonschema.Schema, len(tools)),
	}
	compiler := jsonschema.NewCompiler()
	for _, t := range tools {
		def := t.Definition()
		resourceName := "tool:" + def.Name
		if err := compiler.AddResource(resourceName, def.Schema); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", def.Name, err)
		}
		schema, err := compiler.Compile(resourceName)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", def.Name, err)
		}
		r.tools[def.Name] = t
		r.compiled[def.Name] = schema
	}
	return r, nil
}

// Definitions returns every registered tool's Definition, in registration
// order is not guaranteed (map-backed); callers needing a stable prompt
// listing should sort by Name.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Dispatch validates args against the named tool's schema, then executes
// it. A schema violation is returned as taxonomy.ErrInvalidInput, never as
// a panic or an exception that unwinds past the worker loop.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q: %w", name, taxonomy.ErrNotFound)
	}
	schema := r.compiled[name]
	if err := schema.Validate(args); err != nil {
		return nil, fmt.Errorf("validate arguments for %s: %w: %w", name, taxonomy.ErrInvalidInput, err)
	}
	return t.Execute(ctx, args)
}
