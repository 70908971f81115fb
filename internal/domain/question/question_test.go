package question

import (
	"errors"
	"testing"

	"github.com/Strob0t/hitl/internal/domain"
)

func TestKindFor(t *testing.T) {
	if got := KindFor(nil); got != KindFreeText {
		t.Errorf("KindFor(nil) = %s", got)
	}
	if got := KindFor([]string{}); got != KindFreeText {
		t.Errorf("KindFor(empty) = %s", got)
	}
	if got := KindFor([]string{"yes", "no"}); got != KindMultipleChoice {
		t.Errorf("KindFor(options) = %s", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		options []string
		wantErr bool
	}{
		{"free text", "What is the target?", nil, false},
		{"choices", "Proceed?", []string{"yes", "no"}, false},
		{"empty text", "  ", nil, true},
		{"blank option", "Proceed?", []string{"yes", ""}, true},
		{"duplicate option", "Proceed?", []string{"yes", "yes"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.text, tt.options)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
