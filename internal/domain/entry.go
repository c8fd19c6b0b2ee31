package domain

import "time"

// ProgressEntry is one accepted report for one day of a run.
type ProgressEntry struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Day         int       `json:"day"`
	Description string    `json:"description"`
	CompletedAt time.Time `json:"completed_at"`
}

// Content is the task and goal text shown for a single day.
type Content struct {
	Task string `json:"task" yaml:"task"`
	Goal string `json:"goal" yaml:"goal"`
}
