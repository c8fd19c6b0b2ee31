package quest

import "github.com/ashureev/dayquest/internal/domain"

// Status tags the kind of Outcome a transition produced.
type Status string

const (
	StatusTaskIssued      Status = "task_issued"
	StatusRunCompleted    Status = "run_completed"
	StatusReportAccepted  Status = "report_accepted"
	StatusFinished        Status = "finished"
	StatusReset           Status = "reset"
	StatusSnapshot        Status = "snapshot"
	StatusAlreadyFinished Status = "already_finished"
	StatusNoPendingTask   Status = "no_pending_task"
	StatusUnknownDay      Status = "unknown_day"
	StatusEmptyReport     Status = "empty_report"
)

// Rejected reports whether the status is an expected state-machine
// rejection rather than a successful transition.
func (s Status) Rejected() bool {
	switch s {
	case StatusAlreadyFinished, StatusNoPendingTask, StatusUnknownDay, StatusEmptyReport:
		return true
	default:
		return false
	}
}

// Outcome is what the caller renders back to the user.
type Outcome struct {
	Status Status `json:"status"`
	// Day is the day the outcome refers to: the issued or reported day.
	Day        int             `json:"day,omitempty"`
	CurrentDay int             `json:"current_day"`
	TotalDays  int             `json:"total_days"`
	Mode       domain.Mode     `json:"mode"`
	Content    *domain.Content `json:"content,omitempty"`
	// Repeated is set when IssueTask returned an already pending task.
	Repeated bool `json:"repeated,omitempty"`
}

// Effect lists the writes the caller must persist for a transition, in
// order: purge, save, append.
type Effect struct {
	PurgeEntries bool
	SaveRecord   bool
	AppendEntry  *domain.ProgressEntry
}

// IsZero reports whether the transition requires no writes.
func (e Effect) IsZero() bool {
	return !e.PurgeEntries && !e.SaveRecord && e.AppendEntry == nil
}

// Transition is the result of applying an intent to a record.
type Transition struct {
	Record  domain.UserRecord
	Outcome Outcome
	Effect  Effect
}
