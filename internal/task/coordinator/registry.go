package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"sigbatch/internal/config"
	"sigbatch/internal/task/unit"
)

const (
	SourceConfig = "config"
	SourceFunc   = "func"
)

// Registry maps operation names to operations. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

func NewRegistry() *Registry {
	return &Registry{ops: map[string]Operation{}}
}

// Register adds op. Names are case-insensitive and must be unique.
func (r *Registry) Register(op Operation) error {
	name := normName(op.Name)
	if name == "" {
		return fmt.Errorf("register: operation name is required")
	}
	if op.Launcher == nil {
		return fmt.Errorf("register %s: launcher is required", name)
	}
	op.Name = name
	if op.Source == "" {
		op.Source = SourceFunc
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[name]; ok {
		return fmt.Errorf("register %s: %w", name, ErrDuplicateOp)
	}
	r.ops[name] = op
	return nil
}

// RegisterFunc registers an in-process operation.
func (r *Registry) RegisterFunc(name string, weight int, fn unit.WorkFunc) error {
	return r.Register(Operation{Name: name, Weight: weight, Launcher: unit.Func(fn), Source: SourceFunc})
}

// ApplyConfig replaces every config-sourced operation with ops. In-process
// operations are kept; a config entry may not shadow one.
func (r *Registry) ApplyConfig(ops map[string]config.OperationConfig) error {
	next := make(map[string]Operation, len(ops))
	for raw, oc := range ops {
		name := normName(raw)
		if len(oc.Command) == 0 {
			return fmt.Errorf("operation %s: command is required", name)
		}
		next[name] = Operation{
			Name:   name,
			Weight: oc.Weight,
			Source: SourceConfig,
			Launcher: unit.Command(unit.CommandSpec{
				Path:        oc.Command[0],
				Args:        oc.Command[1:],
				Env:         oc.Env,
				Dir:         oc.Dir,
				StderrLimit: oc.StderrLimit,
			}),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, op := range r.ops {
		if op.Source != SourceConfig {
			if _, clash := next[name]; clash {
				return fmt.Errorf("operation %s: %w", name, ErrDuplicateOp)
			}
			next[name] = op
		}
	}
	r.ops = next
	return nil
}

func (r *Registry) Lookup(name string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[normName(name)]
	return op, ok
}

// Names lists registered operations in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ops))
	for name := range r.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normName(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
