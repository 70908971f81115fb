package policy

import (
	"fmt"
	"path"

	"github.com/Strob0t/hitl/internal/domain"
)

// Validate checks that a Profile is well-formed.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy: name is required: %w", domain.ErrValidation)
	}
	if p.Default != "" && !isValidDecision(p.Default) {
		return fmt.Errorf("policy %s: invalid default %q: %w", p.Name, p.Default, domain.ErrValidation)
	}
	for i := range p.Rules {
		if err := p.Rules[i].Validate(); err != nil {
			return fmt.Errorf("policy %s: rule[%d]: %w", p.Name, i, err)
		}
	}
	return nil
}

// Validate checks that a Rule is well-formed.
func (r *Rule) Validate() error {
	if r.Tool == "" {
		return fmt.Errorf("tool is required: %w", domain.ErrValidation)
	}
	if _, err := path.Match(r.Tool, ""); err != nil {
		return fmt.Errorf("bad tool pattern %q: %w", r.Tool, domain.ErrValidation)
	}
	if !isValidDecision(r.Decision) {
		return fmt.Errorf("invalid decision %q: %w", r.Decision, domain.ErrValidation)
	}
	return nil
}

func isValidDecision(d Decision) bool {
	switch d {
	case DecisionAllow, DecisionAsk:
		return true
	}
	return false
}
