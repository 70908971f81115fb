// Package event defines the tagged events pushed to observers.
package event

import (
	"github.com/Strob0t/hitl/internal/domain/approval"
	"github.com/Strob0t/hitl/internal/domain/chat"
	"github.com/Strob0t/hitl/internal/domain/question"
)

// Type identifies the kind of observer event.
type Type string

const (
	TypeNewRequest       Type = "new_request"
	TypeRequestApproved  Type = "request_approved"
	TypeRequestDenied    Type = "request_denied"
	TypeNewQuestion      Type = "new_question"
	TypeQuestionResolved Type = "question_resolved"
	TypeNewChatMessage   Type = "new_chat_message"
	TypeNewMessage       Type = "new_message"
	TypeLogUpdate        Type = "log_update"
	TypeInitialState     Type = "initial_state"
)

// Event is the envelope delivered to every observer.
type Event struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

// New wraps payload in an Event of the given type.
func New(t Type, payload any) Event {
	return Event{Type: t, Payload: payload}
}

// InitialState is sent once to a sink when it is attached.
type InitialState struct {
	Pending     []approval.Request  `json:"pending"`
	Log         []approval.Entry    `json:"log"`
	ChatHistory []chat.Message      `json:"chat_history"`
	Questions   []question.Question `json:"questions"`
}

// RequestApproved is the payload of TypeRequestApproved.
type RequestApproved struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

// RequestDenied is the payload of TypeRequestDenied.
type RequestDenied struct {
	ID string `json:"id"`
}

// QuestionResolved is the payload of TypeQuestionResolved.
type QuestionResolved struct {
	ID       string `json:"id"`
	Response string `json:"response"`
}
