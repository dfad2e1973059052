package api

import "fmt"

// ParamType is the JSON-schema type of a function parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
)

// Param describes one parameter of an assistant function.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// FunctionDef declares a named callable the LLM may invoke during a turn.
type FunctionDef struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  []Param `json:"parameters,omitempty"`
}

// Schema maps the definition into the language-neutral tool-call schema:
//
//	{ name, description, parameters: { type: "object", properties, required } }
func (f *FunctionDef) Schema() map[string]any {
	properties := map[string]any{}
	var required []string
	for _, p := range f.Parameters {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return map[string]any{
		"name":        f.Name,
		"description": f.Description,
		"parameters":  params,
	}
}

// FunctionResponse is the structured result of a function handler. Handlers
// may also return a plain string.
type FunctionResponse struct {
	Text string `json:"text"`
}

// FunctionContext is handed to function handlers alongside the raw params.
// It replaces by-name parameter injection with a single struct: handlers
// ignore the fields they don't need.
type FunctionContext struct {
	Def       *FunctionDef
	Lead      *Lead
	Message   *Message
	Connector Connector
	State     map[string]any
}

// ValidateParams checks the given arguments against the definition and
// returns one human-readable message per violation. The tool decides
// whether to re-prompt or fail the turn gracefully.
func (fc *FunctionContext) ValidateParams(params map[string]any) []string {
	if fc.Def == nil {
		return nil
	}
	var problems []string
	for _, p := range fc.Def.Parameters {
		v, ok := params[p.Name]
		if !ok {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required parameter %q", p.Name))
			}
			continue
		}
		if len(p.Enum) > 0 {
			s, _ := v.(string)
			found := false
			for _, e := range p.Enum {
				if e == s {
					found = true
					break
				}
			}
			if !found {
				problems = append(problems, fmt.Sprintf("parameter %q must be one of %v", p.Name, p.Enum))
			}
		}
	}
	return problems
}
