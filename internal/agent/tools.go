package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ToolFunc executes one tool call and returns the observation text fed back
// to the model. Failures are reported in the observation, never raised.
type ToolFunc func(ctx context.Context, input map[string]any) string

// ToolDefinition is one static catalog entry shown to the planner.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]string // parameter name -> description
	Required    []string
	Run         ToolFunc
}

// Registry is the fixed tool catalog. Loaded at startup, never mutated.
type Registry struct {
	tools map[string]ToolDefinition
	order []string
}

func NewRegistry(defs ...ToolDefinition) *Registry {
	r := &Registry{tools: make(map[string]ToolDefinition, len(defs))}
	for _, d := range defs {
		r.tools[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r
}

// Execute runs the named tool. An unknown name yields the literal error
// observation so the loop can still terminate gracefully.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) string {
	def, ok := r.tools[name]
	if !ok {
		return fmt.Sprintf("Error: Tool %s not found.", name)
	}
	return def.Run(ctx, input)
}

// CatalogPrompt renders the catalog for the planner's system prompt.
func (r *Registry) CatalogPrompt() string {
	var sb strings.Builder
	for _, name := range r.order {
		def := r.tools[name]
		fmt.Fprintf(&sb, "- %s: %s\n", def.Name, def.Description)
		params := make([]string, 0, len(def.Parameters))
		for p := range def.Parameters {
			params = append(params, p)
		}
		sort.Strings(params)
		for _, p := range params {
			required := ""
			for _, req := range def.Required {
				if req == p {
					required = " (required)"
					break
				}
			}
			fmt.Fprintf(&sb, "    %s%s: %s\n", p, required, def.Parameters[p])
		}
	}
	return sb.String()
}

// stringInput reads a string field from a tool input map.
func stringInput(input map[string]any, key string) string {
	if v, ok := input[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}
