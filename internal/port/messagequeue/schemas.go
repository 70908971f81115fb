package messagequeue

// ApprovePayload is the schema for hitl.resolve.approve messages.
type ApprovePayload struct {
	ID            string         `json:"id"`
	Modifications map[string]any `json:"modifications,omitempty"`
}

// DenyPayload is the schema for hitl.resolve.deny messages.
type DenyPayload struct {
	ID string `json:"id"`
}

// RespondPayload is the schema for hitl.resolve.respond messages.
type RespondPayload struct {
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}

type requirer interface {
	required() []string
}

func (p *ApprovePayload) required() []string { return missing("id", p.ID) }
func (p *DenyPayload) required() []string    { return missing("id", p.ID) }
func (p *RespondPayload) required() []string { return missing("question_id", p.QuestionID) }

func missing(name, v string) []string {
	if v == "" {
		return []string{name}
	}
	return nil
}
