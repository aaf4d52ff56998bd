package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolFunc executes a tool call with schema-valid arguments.
type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a function the assistant may call during a completion.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	schema      *jsonschema.Schema
	call        ToolFunc
}

// NewTool compiles schema and binds it to call.
func NewTool(name, description, schema string, call ToolFunc) (Tool, error) {
	compiled, err := jsonschema.CompileString(name+".schema.json", schema)
	if err != nil {
		return Tool{}, fmt.Errorf("compile %s schema: %w", name, err)
	}
	var params map[string]any
	if err = json.Unmarshal([]byte(schema), &params); err != nil {
		return Tool{}, fmt.Errorf("decode %s schema: %w", name, err)
	}
	return Tool{Name: name, Description: description, Parameters: params, schema: compiled, call: call}, nil
}

// Call validates raw arguments against the tool schema and runs the tool.
// Invalid arguments are a malformed response from the model.
func (t Tool) Call(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return "", Malformed("tool %s arguments are not JSON: %v", t.Name, err)
	}
	if err := t.schema.Validate(payload); err != nil {
		return "", Malformed("tool %s arguments: %v", t.Name, err)
	}
	return t.call(ctx, json.RawMessage(raw))
}

// Toolbox is the set of tools offered to one completion.
type Toolbox []Tool

// Lookup finds a tool by name.
func (tb Toolbox) Lookup(name string) (Tool, bool) {
	for _, t := range tb {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}
