package statecore

// ParamSchema is a minimal typed-tree parameter schema: enough to describe
// a tool's JSON Schema-ish input contract without pulling in a full JSON
// Schema implementation (none of the example repos carry one).
type ParamSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Default     any                    `json:"default,omitempty"`
	Properties  map[string]*ParamSchema `json:"properties,omitempty"`
	Items       *ParamSchema           `json:"items,omitempty"`
}

// ToolDefinition describes one callable tool (spec.md §3).
type ToolDefinition struct {
	ID          string
	Name        string
	Description string
	Params      *ParamSchema
	Enabled     bool
	Category    string
	Module      string // owning module id
}

// UnkillableTools cannot be disabled via module_toggle/tool_manage.
var UnkillableTools = map[string]bool{
	"tool_manage":   true,
	"module_toggle": true,
	"reload":        true,
}

// IsUnkillable reports whether a tool id is protected from being disabled.
func IsUnkillable(id string) bool {
	return UnkillableTools[id]
}
