// Package progress coordinates the progression engine with the progress
// store: it serializes each user's actions, loads or creates the record,
// applies the engine and persists the resulting writes.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/dayquest/internal/domain"
	"github.com/ashureev/dayquest/internal/quest"
	"github.com/ashureev/dayquest/internal/store"
)

// ErrInvalidUser is returned for an empty user identity.
var ErrInvalidUser = errors.New("user id is required")

// Result is the outcome of an action together with the record after it.
type Result struct {
	Record  domain.UserRecord `json:"record"`
	Outcome quest.Outcome     `json:"outcome"`
}

// Service handles user actions.
type Service struct {
	repo   store.Repository
	engine *quest.Engine
	locks  *KeyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(repo store.Repository, engine *quest.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		engine: engine,
		locks:  NewKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}
}

// TotalDays returns the run length.
func (s *Service) TotalDays() int {
	return s.engine.TotalDays()
}

// EnsureUser creates a fresh record for userID on first contact.
func (s *Service) EnsureUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	return s.repo.CreateIfAbsent(ctx, userID)
}

// Handle applies action for userID. Rejections come back as outcomes;
// only store failures are returned as errors.
func (s *Service) Handle(ctx context.Context, userID string, action Action) (Result, error) {
	if userID == "" {
		return Result{}, ErrInvalidUser
	}

	if !action.Kind.mutates() {
		return s.status(ctx, userID)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	var res Result
	err := s.repo.WithinTx(ctx, func(tx store.Ops) error {
		rec, err := loadOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}

		tr, err := s.apply(*rec, action)
		if err != nil {
			return err
		}
		if !tr.Effect.IsZero() {
			if err := persist(ctx, tx, tr); err != nil {
				return err
			}
		}

		res = Result{Record: tr.Record, Outcome: tr.Outcome}
		return nil
	})
	if err != nil {
		s.logger.Error("Action failed", "user_id", userID, "action", action.Kind, "error", err)
		return Result{}, err
	}

	s.logger.Info("Action handled",
		"user_id", userID,
		"action", action.Kind,
		"status", res.Outcome.Status,
		"day", res.Record.CurrentDay,
		"mode", res.Record.Mode,
	)
	return res, nil
}

// RequestTask issues (or re-issues) the next task.
func (s *Service) RequestTask(ctx context.Context, userID string) (Result, error) {
	return s.Handle(ctx, userID, Action{Kind: RequestTask})
}

// SubmitReport completes the pending task with text.
func (s *Service) SubmitReport(ctx context.Context, userID, text string) (Result, error) {
	return s.Handle(ctx, userID, Action{Kind: SubmitReport, Text: text})
}

// Reset starts a new run in mode.
func (s *Service) Reset(ctx context.Context, userID string, mode domain.Mode) (Result, error) {
	return s.Handle(ctx, userID, Action{Kind: RequestReset, Mode: mode})
}

// Finish ends the run early.
func (s *Service) Finish(ctx context.Context, userID string) (Result, error) {
	return s.Handle(ctx, userID, Action{Kind: RequestFinish})
}

// Status returns the current record without changing it.
func (s *Service) Status(ctx context.Context, userID string) (Result, error) {
	return s.Handle(ctx, userID, Action{Kind: RequestStatus})
}

// Progress returns the user's accepted reports ordered by day.
func (s *Service) Progress(ctx context.Context, userID string) ([]domain.ProgressEntry, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	return s.repo.ListEntries(ctx, userID)
}

func (s *Service) status(ctx context.Context, userID string) (Result, error) {
	rec, err := loadOrCreate(ctx, s.repo, userID)
	if err != nil {
		return Result{}, err
	}
	tr := s.engine.Describe(*rec)
	return Result{Record: tr.Record, Outcome: tr.Outcome}, nil
}

func (s *Service) apply(rec domain.UserRecord, action Action) (quest.Transition, error) {
	switch action.Kind {
	case RequestTask:
		return s.engine.IssueTask(rec), nil
	case SubmitReport:
		return s.engine.AcceptReport(rec, action.Text, s.now()), nil
	case RequestFinish:
		return s.engine.FinishEarly(rec), nil
	case RequestReset:
		mode := action.Mode
		if mode == "" {
			mode = rec.Mode
		}
		if !mode.Valid() {
			return quest.Transition{}, fmt.Errorf("reset: invalid mode %q", mode)
		}
		return s.engine.Reset(rec, mode, s.now()), nil
	default:
		return quest.Transition{}, fmt.Errorf("unsupported action %q", action.Kind)
	}
}

// loadOrCreate recovers from a missing record by creating a fresh one.
func loadOrCreate(ctx context.Context, ops store.Ops, userID string) (*domain.UserRecord, error) {
	rec, err := ops.Load(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := ops.CreateIfAbsent(ctx, userID); err != nil {
		return nil, err
	}
	return ops.Load(ctx, userID)
}

// persist writes tr's effect in order: purge, save, append. A record that
// was saved but whose entry append failed leaves a gap in the history; the
// record stays authoritative.
func persist(ctx context.Context, ops store.Ops, tr quest.Transition) error {
	if tr.Effect.PurgeEntries {
		if err := ops.PurgeEntries(ctx, tr.Record.UserID); err != nil {
			return err
		}
	}
	if tr.Effect.SaveRecord {
		rec := tr.Record
		if err := ops.Save(ctx, &rec); err != nil {
			return err
		}
	}
	if e := tr.Effect.AppendEntry; e != nil {
		if err := ops.AppendEntry(ctx, e.UserID, e.Day, e.Description, e.CompletedAt); err != nil {
			return err
		}
	}
	return nil
}
