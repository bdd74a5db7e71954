package module

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

// TodoStatus is a todo item's lifecycle state. "deleted" is not stored as a
// status: deletion removes the item outright (cp-mod-todo/src/tools.rs).
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoDone       TodoStatus = "done"
)

// TodoItem is one task, optionally nested under a parent.
type TodoItem struct {
	ID          string     `json:"id"`
	ParentID    string     `json:"parent_id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      TodoStatus `json:"status"`
}

type todoData struct {
	Todos  []TodoItem `json:"todos"`
	NextID int        `json:"next_todo_id"`
}

// Todo provides hierarchical task-management tools and the fixed Todo
// panel. Grounded on original_source/src/modules/todo/mod.rs and
// crates/cp-mod-todo/src/tools.rs.
type Todo struct {
	handle *statecore.ModuleHandle[todoData]
}

// NewTodo registers the module's private state slot on s and returns the
// module. Call once per State at startup.
func NewTodo(s *statecore.State) *Todo {
	h := statecore.RegisterModuleHandle(s.ModuleStore, "todo", todoData{NextID: 1})
	return &Todo{handle: h}
}

func (*Todo) ID() string          { return "todo" }
func (*Todo) Name() string        { return "Todo" }
func (*Todo) Description() string { return "Task management with hierarchical todos" }
func (*Todo) Dependencies() []string { return nil }
func (*Todo) IsCore() bool           { return false }
func (*Todo) IsGlobal() bool         { return false }

func (*Todo) FixedPanelKinds() []statecore.PanelKind   { return []statecore.PanelKind{statecore.PanelTodo} }
func (*Todo) DynamicPanelKinds() []statecore.PanelKind { return nil }

func (t *Todo) SaveData(*statecore.State) (any, error) { return t.handle.Get(), nil }

func (t *Todo) LoadData(data any, *statecore.State) error {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var d todoData
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}
	if d.NextID == 0 {
		d.NextID = 1
	}
	t.handle.Set(d)
	return nil
}

func (*Todo) ToolDefinitions() []statecore.ToolDefinition {
	return []statecore.ToolDefinition{
		{
			ID: "todo_create", Name: "Create Todos", Category: "todo", Enabled: true, Module: "todo",
			Description: "Creates one or more todo items. Supports nesting via parent_id.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"todos"}, Properties: map[string]*statecore.ParamSchema{
				"todos": {Type: "array", Description: "Array of todos to create", Items: &statecore.ParamSchema{
					Type: "object", Required: []string{"name"}, Properties: map[string]*statecore.ParamSchema{
						"name":        {Type: "string", Description: "Todo title"},
						"description": {Type: "string", Description: "Detailed description"},
						"parent_id":   {Type: "string", Description: "Parent todo ID for nesting"},
					},
				}},
			}},
		},
		{
			ID: "todo_update", Name: "Update Todos", Category: "todo", Enabled: true, Module: "todo",
			Description: "Updates existing todos: change status, name, description, or delete. Use delete:true to remove a todo.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"updates"}, Properties: map[string]*statecore.ParamSchema{
				"updates": {Type: "array", Description: "Array of todo updates", Items: &statecore.ParamSchema{
					Type: "object", Required: []string{"id"}, Properties: map[string]*statecore.ParamSchema{
						"id":          {Type: "string", Description: "Todo ID (e.g., X1)"},
						"status":      {Type: "string", Description: "New status", Enum: []string{"pending", "in_progress", "done", "deleted"}},
						"name":        {Type: "string", Description: "New name"},
						"description": {Type: "string", Description: "New description"},
						"parent_id":   {Type: "string", Description: "New parent ID, or null to make top-level"},
						"delete":      {Type: "boolean", Description: "Set true to delete this todo"},
					},
				}},
			}},
		},
		{
			ID: "todo_move", Name: "Move Todo", Category: "todo", Enabled: true, Module: "todo",
			Description: "Reorders a todo within its sibling list, placing it after another todo or at the top.",
			Params: &statecore.ParamSchema{Type: "object", Required: []string{"id"}, Properties: map[string]*statecore.ParamSchema{
				"id":       {Type: "string", Description: "Todo ID to move"},
				"after_id": {Type: "string", Description: "ID to place it after, or omit/null to move to top"},
			}},
		},
	}
}

func (t *Todo) Execute(_ context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	switch tu.Name {
	case "todo_create":
		return t.executeCreate(tu, s), nil
	case "todo_update":
		return t.executeUpdate(tu, s), nil
	case "todo_move":
		return t.executeMove(tu, s), nil
	default:
		return nil, nil
	}
}

func normalizeRef(v any) string {
	if v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	lower := strings.ToLower(s)
	if s == "" || lower == "none" || lower == "null" {
		return ""
	}
	return s
}

func (t *Todo) executeCreate(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	raw, ok := tu.Input["todos"].([]any)
	if !ok {
		return errResult(tu.ID, "Missing 'todos' array parameter")
	}
	if len(raw) == 0 {
		return errResult(tu.ID, "Empty 'todos' array")
	}

	var created, errs []string
	d := t.handle.Get()

	for _, v := range raw {
		tv, ok := v.(map[string]any)
		if !ok {
			errs = append(errs, "malformed todo entry")
			continue
		}
		name := str(tv, "name")
		if name == "" {
			errs = append(errs, "Missing 'name' in todo")
			continue
		}
		description := str(tv, "description")
		parentID := normalizeRef(tv["parent_id"])

		if parentID != "" && !todoExists(d.Todos, parentID) {
			errs = append(errs, fmt.Sprintf("Parent '%s' not found for '%s' (%s)", parentID, name, availableTodos(d.Todos, "")))
			continue
		}

		status := TodoStatus(str(tv, "status"))
		if status == "" {
			status = TodoPending
		}

		id := fmt.Sprintf("X%d", d.NextID)
		d.NextID++
		d.Todos = append(d.Todos, TodoItem{ID: id, ParentID: parentID, Name: name, Description: description, Status: status})
		created = append(created, fmt.Sprintf("%s: %s", id, name))
	}

	t.handle.Set(d)

	var out []string
	if len(created) > 0 {
		out = append(out, fmt.Sprintf("Created %d todo(s):\n%s", len(created), strings.Join(created, "\n")))
		s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool { return p.Kind == statecore.PanelTodo })
	}
	if len(errs) > 0 {
		out = append(out, fmt.Sprintf("Errors (%d):\n%s", len(errs), strings.Join(errs, "\n")))
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: strings.Join(out, "\n\n"), IsError: len(created) == 0}
}

func (t *Todo) executeUpdate(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	raw, ok := tu.Input["updates"].([]any)
	if !ok {
		return errResult(tu.ID, "Missing 'updates' array parameter")
	}
	if len(raw) == 0 {
		return errResult(tu.ID, "Empty 'updates' array")
	}

	d := t.handle.Get()

	deleteIDs := map[string]bool{}
	for _, v := range raw {
		uv, ok := v.(map[string]any)
		if !ok {
			continue
		}
		del, _ := uv["delete"].(bool)
		if del || str(uv, "status") == "deleted" {
			if id := str(uv, "id"); id != "" {
				deleteIDs[id] = true
			}
		}
	}

	var updated, deleted, notFound, errs []string

	for _, v := range raw {
		uv, ok := v.(map[string]any)
		if !ok {
			errs = append(errs, "malformed update entry")
			continue
		}
		id := str(uv, "id")
		if id == "" {
			errs = append(errs, "Missing 'id' in update")
			continue
		}

		del, _ := uv["delete"].(bool)
		shouldDelete := del || str(uv, "status") == "deleted"
		if shouldDelete {
			descendants := collectDescendants(id, d.Todos)
			var orphans []string
			for _, desc := range descendants {
				if !deleteIDs[desc] {
					orphans = append(orphans, desc)
				}
			}
			if len(orphans) > 0 {
				errs = append(errs, fmt.Sprintf("%s: cannot delete — children %s would be orphaned. Delete them too, or delete all at once.", id, strings.Join(orphans, ", ")))
				continue
			}
			before := len(d.Todos)
			d.Todos = removeTodo(d.Todos, id)
			if len(d.Todos) < before {
				deleted = append(deleted, id)
			} else {
				notFound = append(notFound, id)
			}
			continue
		}

		var parentSet bool
		var newParent string
		if raw, has := uv["parent_id"]; has {
			norm := normalizeRef(raw)
			if norm == "" {
				parentSet = true
				newParent = ""
			} else if norm == id {
				errs = append(errs, fmt.Sprintf("%s: cannot be its own parent", id))
				continue
			} else if !todoExists(d.Todos, norm) {
				errs = append(errs, fmt.Sprintf("%s: parent '%s' not found (%s)", id, norm, availableTodos(d.Todos, id)))
				continue
			} else {
				parentSet = true
				newParent = norm
			}
		}

		statusStr := str(uv, "status")
		if TodoStatus(statusStr) == TodoDone {
			var undone []string
			for _, c := range d.Todos {
				if c.ParentID == id && c.Status != TodoDone {
					undone = append(undone, fmt.Sprintf("%s (%s)", c.ID, c.Name))
				}
			}
			if len(undone) > 0 {
				errs = append(errs, fmt.Sprintf("%s: cannot mark done — children not done: %s", id, strings.Join(undone, ", ")))
				continue
			}
		}

		idx := todoIndex(d.Todos, id)
		if idx < 0 {
			notFound = append(notFound, id)
			continue
		}

		var changes []string
		item := &d.Todos[idx]
		if name := str(uv, "name"); name != "" {
			item.Name = name
			changes = append(changes, "name")
		}
		if desc := str(uv, "description"); desc != "" {
			item.Description = desc
			changes = append(changes, "description")
		}
		if parentSet {
			item.ParentID = newParent
			changes = append(changes, "parent")
		}
		if statusStr != "" && statusStr != "deleted" {
			item.Status = TodoStatus(statusStr)
			changes = append(changes, "status")
		}
		if len(changes) > 0 {
			updated = append(updated, fmt.Sprintf("%s: %s", id, strings.Join(changes, ", ")))
		}
	}

	// Auto-propagate in_progress up the parent chain (tools.rs behavior).
	var propagated []string
	for _, v := range raw {
		uv, ok := v.(map[string]any)
		if !ok {
			continue
		}
		st := str(uv, "status")
		if st != "in_progress" && st != "~" {
			continue
		}
		id := str(uv, "id")
		cur := parentOf(d.Todos, id)
		for cur != "" {
			idx := todoIndex(d.Todos, cur)
			if idx < 0 {
				break
			}
			if d.Todos[idx].Status == TodoPending {
				d.Todos[idx].Status = TodoInProgress
				propagated = append(propagated, d.Todos[idx].ID)
			}
			cur = d.Todos[idx].ParentID
		}
	}

	t.handle.Set(d)

	if len(updated) > 0 || len(deleted) > 0 || len(propagated) > 0 {
		s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool { return p.Kind == statecore.PanelTodo })
	}

	var out []string
	if len(updated) > 0 {
		out = append(out, fmt.Sprintf("Updated %d:\n%s", len(updated), strings.Join(updated, "\n")))
	}
	if len(propagated) > 0 {
		out = append(out, fmt.Sprintf("Auto-propagated in_progress to parents: %s", strings.Join(propagated, ", ")))
	}
	if len(deleted) > 0 {
		out = append(out, fmt.Sprintf("Deleted: %s", strings.Join(deleted, ", ")))
	}
	if len(notFound) > 0 {
		out = append(out, fmt.Sprintf("Not found: %s", strings.Join(notFound, ", ")))
	}
	if len(errs) > 0 {
		out = append(out, fmt.Sprintf("Errors:\n%s", strings.Join(errs, "\n")))
	}
	return &statecore.ToolResultBlock{
		ToolUseID: tu.ID, Content: strings.Join(out, "\n\n"),
		IsError: len(updated) == 0 && len(deleted) == 0 && len(propagated) == 0,
	}
}

func (t *Todo) executeMove(tu statecore.ToolUse, s *statecore.State) *statecore.ToolResultBlock {
	id := str(tu.Input, "id")
	if id == "" {
		return errResult(tu.ID, "Missing 'id' parameter")
	}
	afterID := normalizeRef(tu.Input["after_id"])

	d := t.handle.Get()
	moveIdx := todoIndex(d.Todos, id)
	if moveIdx < 0 {
		return errResult(tu.ID, fmt.Sprintf("Todo '%s' not found", id))
	}
	if afterID != "" {
		if afterID == id {
			return errResult(tu.ID, fmt.Sprintf("Cannot move '%s' after itself", id))
		}
		if !todoExists(d.Todos, afterID) {
			return errResult(tu.ID, fmt.Sprintf("Target '%s' not found", afterID))
		}
	}

	item := d.Todos[moveIdx]
	d.Todos = append(d.Todos[:moveIdx], d.Todos[moveIdx+1:]...)

	insertIdx := 0
	position := "top"
	if afterID != "" {
		if idx := todoIndex(d.Todos, afterID); idx >= 0 {
			insertIdx = idx + 1
		}
		position = "after " + afterID
	}
	d.Todos = append(d.Todos, TodoItem{})
	copy(d.Todos[insertIdx+1:], d.Todos[insertIdx:])
	d.Todos[insertIdx] = item

	t.handle.Set(d)
	s.DeprecatePanelsWhere(func(p *statecore.ContextElement) bool { return p.Kind == statecore.PanelTodo })
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: fmt.Sprintf("Moved %s to %s", id, position)}
}

func todoExists(items []TodoItem, id string) bool {
	return todoIndex(items, id) >= 0
}

func todoIndex(items []TodoItem, id string) int {
	for i, t := range items {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func parentOf(items []TodoItem, id string) string {
	if idx := todoIndex(items, id); idx >= 0 {
		return items[idx].ParentID
	}
	return ""
}

func removeTodo(items []TodoItem, id string) []TodoItem {
	out := items[:0]
	for _, t := range items {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func collectDescendants(id string, items []TodoItem) []string {
	var desc []string
	for _, t := range items {
		if t.ParentID == id {
			desc = append(desc, t.ID)
			desc = append(desc, collectDescendants(t.ID, items)...)
		}
	}
	return desc
}

func availableTodos(items []TodoItem, exclude string) string {
	var ids []string
	for _, t := range items {
		if t.ID != exclude {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		if exclude == "" {
			return "no todos exist yet"
		}
		return "no other todos exist"
	}
	return "available: " + strings.Join(ids, ", ")
}
