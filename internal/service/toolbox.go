package service

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/hitl/internal/domain"
	"github.com/Strob0t/hitl/internal/domain/policy"
	"github.com/Strob0t/hitl/internal/domain/tool"
)

// Toolbox is the catalogue of agent tools. The approval policy of a tool is
// fixed when it is registered.
type Toolbox struct {
	mu      sync.RWMutex
	tools   map[string]tool.Tool
	order   []string
	profile *policy.Profile
}

// ToolboxOption configures a Toolbox.
type ToolboxOption func(*Toolbox)

// WithPolicyProfile lets an operator profile override the policy each tool
// declares. The profile is applied at registration.
func WithPolicyProfile(p *policy.Profile) ToolboxOption {
	return func(b *Toolbox) { b.profile = p }
}

// NewToolbox creates an empty toolbox.
func NewToolbox(opts ...ToolboxOption) *Toolbox {
	b := &Toolbox{tools: make(map[string]tool.Tool)}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Register validates and adds t.
func (b *Toolbox) Register(t tool.Tool) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if b.profile != nil {
		res := b.profile.Evaluate(t.Name, t.Policy)
		if res.Overridden(t.Policy) {
			slog.Info("tool policy overridden", "tool", t.Name, "from", t.Policy, "to", res.Policy, "reason", res.Reason)
		}
		t.Policy = res.Policy
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.tools[t.Name]; dup {
		return fmt.Errorf("tool %s: %w", t.Name, domain.ErrConflict)
	}
	b.tools[t.Name] = t
	b.order = append(b.order, t.Name)
	return nil
}

// MustRegister is Register for static catalogues.
func (b *Toolbox) MustRegister(tools ...tool.Tool) {
	for _, t := range tools {
		if err := b.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup finds a tool by name.
func (b *Toolbox) Lookup(name string) (tool.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.tools[name]
	if !ok {
		return tool.Tool{}, fmt.Errorf("tool %q: %w", name, domain.ErrNotFound)
	}
	return t, nil
}

// List returns the tools in registration order.
func (b *Toolbox) List() []tool.Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]tool.Tool, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.tools[name])
	}
	return out
}
