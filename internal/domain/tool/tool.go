// Package tool describes the agent actions that can be wrapped with an
// optional human approval step.
package tool

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Strob0t/hitl/internal/domain"
)

// Policy is chosen once, when a tool is registered.
type Policy string

const (
	PolicyAuto            Policy = "auto"
	PolicyRequireApproval Policy = "require_approval"
)

// DefaultRenderer is used when a tool does not name one.
const DefaultRenderer = "default"

// Action executes the underlying tool with the final (possibly edited)
// arguments.
type Action func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamBoolean ParamType = "boolean"
	ParamNumber  ParamType = "number"
)

// Param describes one keyword argument of a tool.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
}

// Tool is a registered agent action.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Policy      Policy  `json:"policy"`
	Renderer    string  `json:"renderer"`
	Params      []Param `json:"params"`
	Run         Action  `json:"-"`
}

// RequiresApproval reports whether invocations must wait for a human.
func (t *Tool) RequiresApproval() bool {
	return t.Policy == PolicyRequireApproval
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Validate checks that the tool can be registered.
func (t *Tool) Validate() error {
	if !namePattern.MatchString(t.Name) {
		return fmt.Errorf("tool name %q must be snake_case: %w", t.Name, domain.ErrValidation)
	}
	switch t.Policy {
	case PolicyAuto, PolicyRequireApproval:
	default:
		return fmt.Errorf("tool %s: unknown policy %q: %w", t.Name, t.Policy, domain.ErrValidation)
	}
	if t.Run == nil {
		return fmt.Errorf("tool %s: action is required: %w", t.Name, domain.ErrValidation)
	}
	seen := make(map[string]bool, len(t.Params))
	for _, p := range t.Params {
		if p.Name == "" || seen[p.Name] {
			return fmt.Errorf("tool %s: invalid or duplicate param %q: %w", t.Name, p.Name, domain.ErrValidation)
		}
		seen[p.Name] = true
	}
	return nil
}

// RendererOrDefault returns the renderer hint threaded to observers.
func (t *Tool) RendererOrDefault() string {
	if t.Renderer == "" {
		return DefaultRenderer
	}
	return t.Renderer
}

// CheckKwargs reports missing required parameters.
func (t *Tool) CheckKwargs(kwargs map[string]any) error {
	for _, p := range t.Params {
		if !p.Required {
			continue
		}
		if _, ok := kwargs[p.Name]; !ok {
			return fmt.Errorf("tool %s: missing argument %q: %w", t.Name, p.Name, domain.ErrValidation)
		}
	}
	return nil
}
