// Package question defines the PendingQuestion domain entity: a free-text or
// multiple-choice question an agent asks the human operator.
package question

import (
	"fmt"
	"strings"

	"github.com/Strob0t/hitl/internal/domain"
)

// Kind tells observers how to render the answer input.
type Kind string

const (
	KindFreeText       Kind = "free_text"
	KindMultipleChoice Kind = "multiple_choice"
)

// Question is awaiting an answer. It only exists while unanswered.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Kind    Kind     `json:"type"`
	Options []string `json:"options,omitempty"`
}

// KindFor derives the question kind from its options.
func KindFor(options []string) Kind {
	if len(options) > 0 {
		return KindMultipleChoice
	}
	return KindFreeText
}

// Validate checks the question text and options.
func Validate(text string, options []string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("question text is required: %w", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("question options must not be blank: %w", domain.ErrValidation)
		}
		if seen[o] {
			return fmt.Errorf("duplicate option %q: %w", o, domain.ErrValidation)
		}
		seen[o] = true
	}
	return nil
}
