package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/FeelPulse/repostalker/pkg/types"
)

// Handler runs a tool. The result is JSON-encoded and shown to the model;
// a nil result encodes as null.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Parameter describes a tool parameter
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, integer, number, boolean, array, object
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Required    bool     `json:"required"`
}

// Tool represents a callable tool/function
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

// ToolError is a tool failure. It is reported to the model as data and
// never fails the request.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Outcome is the result of a dispatch. Content is always valid JSON;
// Err is set (as *ToolError) when Content is an error object.
type Outcome struct {
	Content string
	Err     error
}

// Registry manages available tools
type Registry struct {
	tools map[string]*Tool
	order []string
	mu    sync.RWMutex
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry. Re-registering a name replaces the
// handler and keeps its original position.
func (r *Registry) Register(tool *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) *Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tools in registration order
func (r *Registry) List() []*Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Names returns registered tool names in registration order
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ParametersSchema returns the JSON Schema object describing the tool input
func (t *Tool) ParametersSchema() map[string]any {
	properties := make(map[string]any)
	required := make([]string, 0)

	for _, p := range t.Parameters {
		prop := map[string]any{
			"type": p.Type,
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// ToOpenAISchema converts the tool to OpenAI's function schema format
func (t *Tool) ToOpenAISchema() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.ParametersSchema(),
		},
	}
}

// GetOpenAISchemas returns all tools in OpenAI schema format
func (r *Registry) GetOpenAISchemas() []map[string]any {
	tools := r.List()
	schemas := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.ToOpenAISchema())
	}
	return schemas
}

// Dispatch runs a model-issued tool call. Every failure (unknown tool,
// malformed or missing arguments, handler error, panic) becomes an
// {"error": "..."} outcome.
func (r *Registry) Dispatch(ctx context.Context, call types.ToolCall) (out Outcome) {
	tool := r.Get(call.Name)
	if tool == nil {
		return errorOutcome(call.Name, fmt.Errorf("Unknown function: %s", call.Name))
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return errorOutcome(call.Name, fmt.Errorf("invalid arguments: %w", err))
		}
		if args == nil {
			args = map[string]any{}
		}
	}

	if err := tool.validate(args); err != nil {
		return errorOutcome(call.Name, err)
	}

	defer func() {
		if p := recover(); p != nil {
			out = errorOutcome(call.Name, fmt.Errorf("tool panicked: %v", p))
		}
	}()

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return errorOutcome(call.Name, err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return errorOutcome(call.Name, fmt.Errorf("encode result: %w", err))
	}
	return Outcome{Content: string(data)}
}

func (t *Tool) validate(args map[string]any) error {
	for _, p := range t.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("missing required argument: %s", p.Name)
			}
			continue
		}
		if len(p.Enum) > 0 {
			s, _ := v.(string)
			if !containsString(p.Enum, s) {
				return fmt.Errorf("invalid %s %v (expected one of %s)", p.Name, v, strings.Join(p.Enum, ", "))
			}
		}
	}
	return nil
}

func errorOutcome(tool string, err error) Outcome {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return Outcome{Content: string(data), Err: &ToolError{Tool: tool, Err: err}}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// StringArg returns a string argument
func StringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required argument: %s", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string", name)
	}
	return s, nil
}

// OptionalStringArg returns a string argument or def when absent
func OptionalStringArg(args map[string]any, name, def string) string {
	if s, ok := args[name].(string); ok {
		return s
	}
	return def
}

// IntArg returns an integer argument; JSON numbers and numeric strings are accepted
func IntArg(args map[string]any, name string) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing required argument: %s", name)
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("argument %s must be an integer", name)
		}
		return int(n), nil
	case int:
		return n, nil
	case string:
		var i int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &i); err != nil {
			return 0, fmt.Errorf("argument %s must be an integer", name)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("argument %s must be an integer", name)
	}
}
