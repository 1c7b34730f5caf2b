package wizard

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// Action classifies the response to one elicitation request.
type Action int

const (
	ActionAccepted Action = iota
	ActionDeclined
	ActionCancelled
	ActionTimedOut
)

func (a Action) String() string {
	switch a {
	case ActionAccepted:
		return "accepted"
	case ActionDeclined:
		return "declined"
	case ActionCancelled:
		return "cancelled"
	case ActionTimedOut:
		return "timed out"
	}
	return "unknown"
}

// Outcome is the result of one suspend point: the action taken and, for
// accepted responses, the submitted data.
type Outcome struct {
	Action Action
	Data   map[string]interface{}
}

// Str returns the named field as a trimmed-ish string, empty if absent.
func (o *Outcome) Str(field string) string {
	if o.Data == nil {
		return ""
	}
	s, _ := o.Data[field].(string)
	return s
}

// Int returns the named field as an int, tolerating JSON numbers.
func (o *Outcome) Int(field string) (int, bool) {
	if o.Data == nil {
		return 0, false
	}
	switch v := o.Data[field].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// Bool returns the named field as a bool, false if absent.
func (o *Outcome) Bool(field string) bool {
	if o.Data == nil {
		return false
	}
	b, _ := o.Data[field].(bool)
	return b
}

// Elicitor asks the external party for one piece of information. It blocks
// until a response, a cancellation, or the engine timeout.
type Elicitor interface {
	Elicit(ctx context.Context, message string, schema *jsonschema.Schema) (*Outcome, error)
	// Notify pushes a log-style message to the external party. Best effort.
	Notify(ctx context.Context, level, message string)
}
