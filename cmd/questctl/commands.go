package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ashureev/dayquest/internal/content"
	"github.com/ashureev/dayquest/internal/domain"
	"github.com/ashureev/dayquest/internal/progress"
	"github.com/ashureev/dayquest/internal/quest"
	"github.com/ashureev/dayquest/internal/store"
)

// CLI is the questctl command tree.
type CLI struct {
	DBDriver    string `name:"db-driver" help:"Database driver (sqlite or postgres)." env:"DB_DRIVER" default:"sqlite" enum:"sqlite,postgres"`
	DB          string `name:"db" help:"SQLite database path." env:"DB_PATH" default:"./data/progress.db"`
	DatabaseURL string `name:"database-url" help:"PostgreSQL connection string." env:"DATABASE_URL"`
	ContentFile string `name:"content" help:"Quest table YAML; the built-in table when empty." env:"QUEST_CONTENT_FILE" type:"path"`

	Migrate  MigrateCmd  `cmd:"" help:"Apply pending schema migrations."`
	Status   StatusCmd   `cmd:"" help:"Show a user's run."`
	Progress ProgressCmd `cmd:"" help:"List a user's accepted reports."`
	Task     TaskCmd     `cmd:"" help:"Issue the next task for a user."`
	Report   ReportCmd   `cmd:"" help:"Submit a report for a user's pending task."`
	Finish   FinishCmd   `cmd:"" help:"Finish a user's run early."`
	Reset    ResetCmd    `cmd:"" help:"Start a new run for a user, discarding the report log."`
	Check    CheckCmd    `cmd:"" help:"Validate a quest table YAML file."`
}

// App carries the opened store and service to every command.
type App struct {
	Repo store.Repository
	Svc  *progress.Service
	Out  io.Writer
}

// Close releases the store.
func (a *App) Close() {
	if a.Repo != nil {
		_ = a.Repo.Close()
	}
}

func (c *CLI) dsn() string {
	if c.DBDriver == store.DriverPostgres {
		return c.DatabaseURL
	}
	return c.DB
}

// newApp builds the App for the selected command. check works on files only
// and gets no store; migrate opens the store without migrating up front.
func (c *CLI) newApp(ctx context.Context, command string, out io.Writer) (*App, error) {
	switch {
	case strings.HasPrefix(command, "check"):
		return &App{Out: out}, nil
	case command == "migrate":
		return c.open(ctx, false, out)
	default:
		return c.open(ctx, true, out)
	}
}

func (c *CLI) open(ctx context.Context, migrate bool, out io.Writer) (*App, error) {
	repo, err := store.Open(c.DBDriver, c.dsn())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if migrate {
		if _, err := repo.Migrate(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	table, err := content.Load(c.ContentFile)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	engine, err := quest.NewEngine(table, table.TotalDays())
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &App{
		Repo: repo,
		Svc:  progress.NewService(repo, engine, logger),
		Out:  out,
	}, nil
}

func (a *App) print(v interface{}) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *App) run(userID string, action progress.Action) error {
	res, err := a.Svc.Handle(context.Background(), userID, action)
	if err != nil {
		return err
	}
	return a.print(res)
}

// MigrateCmd applies pending migrations.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(app *App) error {
	n, err := app.Repo.Migrate(context.Background())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if n == 0 {
		fmt.Fprintln(app.Out, "No migrations to apply. Database is up to date.")
		return nil
	}
	fmt.Fprintf(app.Out, "Applied %d migration(s).\n", n)
	return nil
}

type StatusCmd struct {
	User string `arg:"" help:"User ID."`
}

func (c *StatusCmd) Run(app *App) error {
	return app.run(c.User, progress.Action{Kind: progress.RequestStatus})
}

type ProgressCmd struct {
	User string `arg:"" help:"User ID."`
}

func (c *ProgressCmd) Run(app *App) error {
	entries, err := app.Svc.Progress(context.Background(), c.User)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []domain.ProgressEntry{}
	}
	return app.print(entries)
}

type TaskCmd struct {
	User string `arg:"" help:"User ID."`
}

func (c *TaskCmd) Run(app *App) error {
	return app.run(c.User, progress.Action{Kind: progress.RequestTask})
}

type ReportCmd struct {
	User string `arg:"" help:"User ID."`
	Text string `arg:"" help:"Report text."`
}

func (c *ReportCmd) Run(app *App) error {
	return app.run(c.User, progress.Action{Kind: progress.SubmitReport, Text: c.Text})
}

type FinishCmd struct {
	User string `arg:"" help:"User ID."`
}

func (c *FinishCmd) Run(app *App) error {
	return app.run(c.User, progress.Action{Kind: progress.RequestFinish})
}

type ResetCmd struct {
	User string `arg:"" help:"User ID."`
	Mode string `help:"normal or hard; empty keeps the current mode."`
}

func (c *ResetCmd) Run(app *App) error {
	action := progress.Action{Kind: progress.RequestReset}
	if c.Mode != "" {
		m, err := domain.ParseMode(c.Mode)
		if err != nil {
			return err
		}
		action.Mode = m
	}
	return app.run(c.User, action)
}

// CheckCmd validates a quest table without touching user data.
type CheckCmd struct {
	File string `arg:"" help:"Quest table YAML file." type:"existingfile"`
}

func (c *CheckCmd) Run(app *App) error {
	table, err := content.LoadFile(c.File)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "OK: %d days for modes %s and %s\n", table.TotalDays(), domain.ModeNormal, domain.ModeHard)
	return nil
}
