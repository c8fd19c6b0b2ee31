// Package content provides the per-mode quest tables: the task and goal
// text for every day of a run.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/ashureev/dayquest/internal/domain"
	"gopkg.in/yaml.v2"
)

//go:embed quests.yaml
var defaultQuestsYAML []byte

// ErrUnknownDay is returned when a day outside the table is requested.
var ErrUnknownDay = errors.New("unknown day")

type tableFile struct {
	TotalDays int                  `yaml:"total_days"`
	Modes     map[string][]dayFile `yaml:"modes"`
}

type dayFile struct {
	Day  int    `yaml:"day"`
	Task string `yaml:"task"`
	Goal string `yaml:"goal"`
}

// Table is an immutable, mode-keyed content set.
type Table struct {
	totalDays int
	days      map[domain.Mode]map[int]domain.Content
}

// Default returns the built-in quest table.
func Default() (*Table, error) {
	return Parse(defaultQuestsYAML)
}

// LoadFile reads a quest table from a YAML file on disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quest file: %w", err)
	}
	return Parse(data)
}

// Load returns the table in path, or the built-in table when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

// Parse decodes and validates a YAML quest table. Both modes must be
// present and each must define every day in [1, total_days] exactly once.
func Parse(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse quest yaml: %w", err)
	}
	if f.TotalDays <= 0 {
		return nil, fmt.Errorf("total_days must be > 0, got %d", f.TotalDays)
	}

	t := &Table{
		totalDays: f.TotalDays,
		days:      make(map[domain.Mode]map[int]domain.Content, len(f.Modes)),
	}

	for name, entries := range f.Modes {
		mode, err := domain.ParseMode(name)
		if err != nil {
			return nil, err
		}
		byDay := make(map[int]domain.Content, len(entries))
		for _, e := range entries {
			if e.Day < 1 || e.Day > f.TotalDays {
				return nil, fmt.Errorf("mode %s: day %d out of range [1, %d]", mode, e.Day, f.TotalDays)
			}
			if _, dup := byDay[e.Day]; dup {
				return nil, fmt.Errorf("mode %s: day %d defined twice", mode, e.Day)
			}
			if e.Task == "" {
				return nil, fmt.Errorf("mode %s: day %d has no task", mode, e.Day)
			}
			byDay[e.Day] = domain.Content{Task: e.Task, Goal: e.Goal}
		}
		t.days[mode] = byDay
	}

	for _, mode := range []domain.Mode{domain.ModeNormal, domain.ModeHard} {
		byDay, ok := t.days[mode]
		if !ok {
			return nil, fmt.Errorf("mode %s missing from quest table", mode)
		}
		for day := 1; day <= f.TotalDays; day++ {
			if _, ok := byDay[day]; !ok {
				return nil, fmt.Errorf("mode %s: day %d missing", mode, day)
			}
		}
	}

	return t, nil
}

// TotalDays returns the length of a run.
func (t *Table) TotalDays() int {
	return t.totalDays
}

// Lookup returns the content for day under mode.
func (t *Table) Lookup(day int, mode domain.Mode) (domain.Content, error) {
	if day < 1 || day > t.totalDays {
		return domain.Content{}, fmt.Errorf("%w: %d", ErrUnknownDay, day)
	}
	c, ok := t.days[mode][day]
	if !ok {
		return domain.Content{}, fmt.Errorf("%w: %d (mode %s)", ErrUnknownDay, day, mode)
	}
	return c, nil
}
