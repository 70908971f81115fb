// Package policy lets an operator override the approval policy a tool
// declares for itself. A profile is evaluated once per tool, when the tool is
// registered; nothing is re-evaluated per call.
package policy

// Decision is the approval requirement a rule assigns to a tool.
type Decision string

const (
	// DecisionAllow runs the tool without asking (auto-approved).
	DecisionAllow Decision = "allow"
	// DecisionAsk suspends every call until a human resolves it.
	DecisionAsk Decision = "ask"
)

// Rule maps a tool name pattern to a decision. Tool accepts the glob syntax
// of path.Match, e.g. "delete_*" or "*".
type Rule struct {
	Tool     string   `json:"tool" yaml:"tool"`
	Decision Decision `json:"decision" yaml:"decision"`
}

// Profile is an ordered rule list. The first matching rule wins; when no
// rule matches, Default applies, and an empty Default keeps the policy the
// tool declared.
type Profile struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Default     Decision `json:"default,omitempty" yaml:"default,omitempty"`
	Rules       []Rule   `json:"rules" yaml:"rules"`
}
