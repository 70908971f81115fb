package policy

import (
	"fmt"
	"path"

	"github.com/Strob0t/hitl/internal/domain/tool"
)

// EvaluationResult records which rule decided a tool's policy and why.
type EvaluationResult struct {
	Tool      string      `json:"tool"`
	Policy    tool.Policy `json:"policy"`
	Profile   string      `json:"profile"`
	RuleIndex int         `json:"rule_index"` // -1 if no rule matched
	Reason    string      `json:"reason"`
}

// Overridden reports whether the profile changed the declared policy.
func (r EvaluationResult) Overridden(declared tool.Policy) bool {
	return r.Policy != declared
}

// Evaluate resolves the policy for toolName, given the policy the tool
// declares. A nil profile keeps the declared policy.
func (p *Profile) Evaluate(toolName string, declared tool.Policy) EvaluationResult {
	if p == nil {
		return EvaluationResult{Tool: toolName, Policy: declared, RuleIndex: -1, Reason: "no policy profile"}
	}
	for i := range p.Rules {
		rule := &p.Rules[i]
		if !matchTool(rule.Tool, toolName) {
			continue
		}
		return EvaluationResult{
			Tool:      toolName,
			Policy:    rule.Decision.toolPolicy(),
			Profile:   p.Name,
			RuleIndex: i,
			Reason:    fmt.Sprintf("matched rule[%d]: tool=%q", i, rule.Tool),
		}
	}
	if p.Default != "" {
		return EvaluationResult{
			Tool:      toolName,
			Policy:    p.Default.toolPolicy(),
			Profile:   p.Name,
			RuleIndex: -1,
			Reason:    "no matching rule; profile default " + string(p.Default),
		}
	}
	return EvaluationResult{
		Tool:      toolName,
		Policy:    declared,
		Profile:   p.Name,
		RuleIndex: -1,
		Reason:    "no matching rule; declared policy kept",
	}
}

func (d Decision) toolPolicy() tool.Policy {
	if d == DecisionAllow {
		return tool.PolicyAuto
	}
	return tool.PolicyRequireApproval
}

// matchTool reports whether pattern matches name exactly or as a glob.
func matchTool(pattern, name string) bool {
	if pattern == name {
		return true
	}
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}
