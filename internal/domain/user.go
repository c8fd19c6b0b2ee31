// Package domain contains core domain types for the quest tracker.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which content set a run reads its tasks from.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeHard   Mode = "hard"
)

// ParseMode converts user input into a Mode. An empty string means normal.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeNormal):
		return ModeNormal, nil
	case string(ModeHard):
		return ModeHard, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModeNormal || m == ModeHard
}

// UserRecord is the persisted progression state of one user's run.
type UserRecord struct {
	UserID      string    `json:"user_id"`
	Mode        Mode      `json:"mode"`
	CurrentDay  int       `json:"current_day"`
	IsFinished  bool      `json:"is_finished"`
	TaskPending bool      `json:"task_pending"`
	StartedAt   time.Time `json:"started_at"`
}

// NewUserRecord returns a fresh record: no accepted days, nothing pending.
func NewUserRecord(userID string, mode Mode, now time.Time) *UserRecord {
	return &UserRecord{
		UserID:    userID,
		Mode:      mode,
		StartedAt: now,
	}
}

// NextDay returns the 1-indexed day the next task belongs to.
func (u *UserRecord) NextDay() int {
	return u.CurrentDay + 1
}

// IsFresh returns true if the run has not issued or completed anything yet.
func (u *UserRecord) IsFresh() bool {
	return u.CurrentDay == 0 && !u.TaskPending && !u.IsFinished
}
