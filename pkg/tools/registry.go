package tools

import (
	"sort"
	"sync"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
)

var ErrToolNotFound = errors.New("tool not found")

// ToolRegistry holds the tools that can be called.
type ToolRegistry interface {
	RegisterTool(name string, def ToolDefinition) error
	GetTool(name string) (*ToolDefinition, error)
	ListTools() []ToolDefinition
	UnregisterTool(name string) error
}

// InMemoryToolRegistry is safe for concurrent use. Lookups are exact first,
// then tolerant of naming style, so "get_user_by_id", "get-user-by-id" and
// "getUserById" all find the same tool.
type InMemoryToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]ToolDefinition
	aliases map[string]string
}

var _ ToolRegistry = (*InMemoryToolRegistry)(nil)

func NewInMemoryToolRegistry() *InMemoryToolRegistry {
	return &InMemoryToolRegistry{
		tools:   make(map[string]ToolDefinition),
		aliases: make(map[string]string),
	}
}

func (r *InMemoryToolRegistry) RegisterTool(name string, def ToolDefinition) error {
	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	if def.Name != "" && def.Name != name {
		return errors.Errorf("tool definition name (%s) does not match registry name (%s)", def.Name, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	alias := strcase.ToSnake(name)
	if other, ok := r.aliases[alias]; ok && other != name {
		return errors.Errorf("tool name %s collides with %s", name, other)
	}
	def.Name = name
	r.tools[name] = def
	r.aliases[alias] = name
	return nil
}

func (r *InMemoryToolRegistry) GetTool(name string) (*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		canonical, found := r.aliases[strcase.ToSnake(name)]
		if !found {
			return nil, errors.Wrap(ErrToolNotFound, name)
		}
		tool = r.tools[canonical]
	}
	toolCopy := tool
	return &toolCopy, nil
}

// ListTools returns the tools sorted by name.
func (r *InMemoryToolRegistry) ListTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		ret = append(ret, tool)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

func (r *InMemoryToolRegistry) UnregisterTool(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return errors.Wrap(ErrToolNotFound, name)
	}
	delete(r.tools, name)
	delete(r.aliases, strcase.ToSnake(name))
	return nil
}

func (r *InMemoryToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// RegisterFunc reflects fn into a definition and registers it.
func (r *InMemoryToolRegistry) RegisterFunc(name, description string, fn any, tags ...string) error {
	def, err := NewToolFromFunc(name, description, fn)
	if err != nil {
		return errors.Wrapf(err, "tool %s", name)
	}
	def.Tags = tags
	return r.RegisterTool(name, *def)
}
