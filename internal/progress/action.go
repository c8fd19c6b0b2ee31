package progress

import (
	"fmt"
	"strings"

	"github.com/ashureev/dayquest/internal/domain"
)

// ActionKind enumerates what a transport can ask of the service.
type ActionKind string

const (
	RequestTask   ActionKind = "task"
	SubmitReport  ActionKind = "report"
	RequestReset  ActionKind = "reset"
	RequestFinish ActionKind = "finish"
	RequestStatus ActionKind = "status"
)

// Action is one inbound user action.
type Action struct {
	Kind ActionKind  `json:"action"`
	Text string      `json:"text,omitempty"`
	Mode domain.Mode `json:"mode,omitempty"`
}

// ParseActionKind maps a transport command name to an ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	switch k := ActionKind(strings.ToLower(strings.TrimSpace(s))); k {
	case RequestTask, SubmitReport, RequestReset, RequestFinish, RequestStatus:
		return k, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// mutates reports whether the action may write to the store.
func (k ActionKind) mutates() bool {
	return k != RequestStatus
}
