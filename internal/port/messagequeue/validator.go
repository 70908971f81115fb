package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch {
	case subject == SubjectResolveApprove:
		target = &ApprovePayload{}
	case subject == SubjectResolveDeny:
		target = &DenyPayload{}
	case subject == SubjectResolveRespond:
		target = &RespondPayload{}
	case strings.HasPrefix(subject, SubjectEvents+"."):
		// Mirrored events carry an arbitrary payload.
		return nil
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if r, ok := target.(requirer); ok {
		if fields := r.required(); len(fields) > 0 {
			return fmt.Errorf("schema validation failed for %s: missing %s", subject, strings.Join(fields, ", "))
		}
	}
	return nil
}
