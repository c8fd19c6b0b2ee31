// Package quest implements the progression state machine of a run. It is
// pure: every method takes a record by value and returns the next record,
// the outcome, and the writes the caller has to persist.
package quest

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/dayquest/internal/domain"
)

// ContentProvider resolves the task shown for a day of a given mode.
type ContentProvider interface {
	Lookup(day int, mode domain.Mode) (domain.Content, error)
}

// State is the coarse position of a record in the state machine.
type State string

const (
	StateFresh        State = "fresh"
	StateTaskPending  State = "task_pending"
	StateAwaitingNext State = "awaiting_next"
	StateFinished     State = "finished"
)

// Engine applies intents to user records.
type Engine struct {
	content   ContentProvider
	totalDays int
}

// NewEngine creates an engine for runs of totalDays days.
func NewEngine(content ContentProvider, totalDays int) (*Engine, error) {
	if content == nil {
		return nil, fmt.Errorf("content provider is required")
	}
	if totalDays <= 0 {
		return nil, fmt.Errorf("total days must be > 0, got %d", totalDays)
	}
	return &Engine{content: content, totalDays: totalDays}, nil
}

// TotalDays returns the run length.
func (e *Engine) TotalDays() int {
	return e.totalDays
}

// StateOf classifies rec.
func (e *Engine) StateOf(rec domain.UserRecord) State {
	switch {
	case rec.IsFinished:
		return StateFinished
	case rec.TaskPending:
		return StateTaskPending
	case rec.CurrentDay == 0:
		return StateFresh
	default:
		return StateAwaitingNext
	}
}

// IssueTask hands out the task for the next day. Issuing while a task is
// pending returns that same task again without moving forward.
func (e *Engine) IssueTask(rec domain.UserRecord) Transition {
	switch e.StateOf(rec) {
	case StateFinished:
		return e.reject(rec, StatusAlreadyFinished)
	case StateTaskPending:
		out, ok := e.lookup(rec, rec.NextDay())
		if !ok {
			return Transition{Record: rec, Outcome: out}
		}
		out.Repeated = true
		return Transition{Record: rec, Outcome: out}
	}

	if rec.CurrentDay >= e.totalDays {
		rec.IsFinished = true
		rec.TaskPending = false
		return Transition{
			Record:  rec,
			Outcome: e.outcome(rec, StatusRunCompleted),
			Effect:  Effect{SaveRecord: true},
		}
	}

	out, ok := e.lookup(rec, rec.NextDay())
	if !ok {
		return Transition{Record: rec, Outcome: out}
	}
	rec.TaskPending = true
	return Transition{Record: rec, Outcome: out, Effect: Effect{SaveRecord: true}}
}

// AcceptReport completes the pending day with text as its report.
func (e *Engine) AcceptReport(rec domain.UserRecord, text string, now time.Time) Transition {
	if e.StateOf(rec) != StateTaskPending {
		return e.reject(rec, StatusNoPendingTask)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return e.reject(rec, StatusEmptyReport)
	}
	day := rec.NextDay()
	if day < 1 || day > e.totalDays {
		out := e.outcome(rec, StatusUnknownDay)
		out.Day = day
		return Transition{Record: rec, Outcome: out}
	}

	rec.CurrentDay = day
	rec.TaskPending = false

	out := e.outcome(rec, StatusReportAccepted)
	out.Day = day
	return Transition{
		Record:  rec,
		Outcome: out,
		Effect: Effect{
			SaveRecord: true,
			AppendEntry: &domain.ProgressEntry{
				UserID:      rec.UserID,
				Day:         day,
				Description: text,
				CompletedAt: now,
			},
		},
	}
}

// FinishEarly ends the run where it stands.
func (e *Engine) FinishEarly(rec domain.UserRecord) Transition {
	if rec.IsFinished {
		return e.reject(rec, StatusAlreadyFinished)
	}
	rec.IsFinished = true
	rec.TaskPending = false
	return Transition{
		Record:  rec,
		Outcome: e.outcome(rec, StatusFinished),
		Effect:  Effect{SaveRecord: true},
	}
}

// Reset starts a new run in mode, discarding all history.
func (e *Engine) Reset(rec domain.UserRecord, mode domain.Mode, now time.Time) Transition {
	if !mode.Valid() {
		mode = domain.ModeNormal
	}
	next := *domain.NewUserRecord(rec.UserID, mode, now)
	return Transition{
		Record:  next,
		Outcome: e.outcome(next, StatusReset),
		Effect:  Effect{PurgeEntries: true, SaveRecord: true},
	}
}

// Describe reports the current position without changing anything. When a
// task is pending its content is included.
func (e *Engine) Describe(rec domain.UserRecord) Transition {
	out := e.outcome(rec, StatusSnapshot)
	if rec.TaskPending {
		if c, err := e.content.Lookup(rec.NextDay(), rec.Mode); err == nil {
			out.Day = rec.NextDay()
			out.Content = &c
		}
	}
	return Transition{Record: rec, Outcome: out}
}

// CheckInvariants validates the relations every reachable record satisfies.
func (e *Engine) CheckInvariants(rec domain.UserRecord) error {
	if rec.CurrentDay < 0 || rec.CurrentDay > e.totalDays {
		return fmt.Errorf("current day %d outside [0, %d]", rec.CurrentDay, e.totalDays)
	}
	if rec.TaskPending && rec.IsFinished {
		return fmt.Errorf("task pending on a finished run")
	}
	if rec.TaskPending && rec.CurrentDay >= e.totalDays {
		return fmt.Errorf("task pending with current day %d of %d", rec.CurrentDay, e.totalDays)
	}
	if !rec.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", rec.Mode)
	}
	return nil
}

func (e *Engine) lookup(rec domain.UserRecord, day int) (Outcome, bool) {
	if day < 1 || day > e.totalDays {
		out := e.outcome(rec, StatusUnknownDay)
		out.Day = day
		return out, false
	}
	c, err := e.content.Lookup(day, rec.Mode)
	if err != nil {
		out := e.outcome(rec, StatusUnknownDay)
		out.Day = day
		return out, false
	}
	out := e.outcome(rec, StatusTaskIssued)
	out.Day = day
	out.Content = &c
	return out, true
}

func (e *Engine) reject(rec domain.UserRecord, status Status) Transition {
	return Transition{Record: rec, Outcome: e.outcome(rec, status)}
}

func (e *Engine) outcome(rec domain.UserRecord, status Status) Outcome {
	return Outcome{
		Status:     status,
		CurrentDay: rec.CurrentDay,
		TotalDays:  e.totalDays,
		Mode:       rec.Mode,
	}
}
