package chat

import (
	"fmt"
	"strings"

	"github.com/ashureev/dayquest/internal/domain"
	"github.com/ashureev/dayquest/internal/progress"
	"github.com/ashureev/dayquest/internal/quest"
)

// Button labels double as text commands.
const (
	ButtonStart     = "Start the game"
	ButtonTask      = "Get task"
	ButtonDone      = "Task done"
	ButtonProgress  = "My progress"
	ButtonRules     = "Rules"
	ButtonFinish    = "Finish game"
	ButtonRestart   = "Start over"
	ButtonRestartHd = "Start over (hard)"
)

// Reply is an outbound chat message.
type Reply struct {
	Type    string                 `json:"type"`
	Text    string                 `json:"text"`
	Buttons [][]string             `json:"buttons,omitempty"`
	Outcome *quest.Outcome         `json:"outcome,omitempty"`
	Entries []domain.ProgressEntry `json:"entries,omitempty"`
}

func message(text string, buttons [][]string) Reply {
	return Reply{Type: "message", Text: text, Buttons: buttons}
}

func mainMenu() [][]string {
	return [][]string{{ButtonTask}, {ButtonProgress, ButtonRules}, {ButtonFinish}}
}

func pendingMenu() [][]string {
	return [][]string{{ButtonDone}, {ButtonProgress, ButtonRules}, {ButtonFinish}}
}

func finishedMenu() [][]string {
	return [][]string{{ButtonRestart, ButtonRestartHd}, {ButtonProgress}}
}

func menuFor(rec domain.UserRecord) [][]string {
	switch {
	case rec.IsFinished:
		return finishedMenu()
	case rec.TaskPending:
		return pendingMenu()
	default:
		return mainMenu()
	}
}

// Greeting is sent when a chat session opens.
func Greeting(totalDays int) Reply {
	return message(fmt.Sprintf(
		"Hi! This is the %d days without money quest.\n\n"+
			"You will spend %d days in the city completing tasks that train survival, creativity and freedom.\n\n"+
			"Ready to begin?", totalDays, totalDays),
		[][]string{{ButtonStart}})
}

// MainMenu is the reply to the start button: the menu for the run's state,
// without issuing anything.
func MainMenu(rec domain.UserRecord) Reply {
	return message("Welcome to the main menu!", menuFor(rec))
}

// Rules explains the game.
func Rules(totalDays int, rec domain.UserRecord) Reply {
	return message(fmt.Sprintf(
		"Rules\n\n"+
			"Every day you get a new task.\n"+
			"Complete it, send a short report, then move on to the next one.\n"+
			"%d days in total.\n\n"+
			"You can finish the game at any moment.", totalDays),
		menuFor(rec))
}

// ReportPrompt asks for the report of the pending day.
func ReportPrompt() Reply {
	return message("Tell me briefly what you did:", nil)
}

// Unavailable is sent when the store cannot be reached.
func Unavailable() Reply {
	return Reply{Type: "error", Text: "Something went wrong saving your progress. Please try again."}
}

// RenderResult turns an action result into a chat reply.
func RenderResult(res progress.Result) Reply {
	out := res.Outcome
	var text string

	switch out.Status {
	case quest.StatusTaskIssued:
		text = fmt.Sprintf("Day %d/%d", out.Day, out.TotalDays)
		if out.Mode == domain.ModeHard {
			text += " (hard)"
		}
		text += fmt.Sprintf("\n\nTask: %s\nGoal: %s\n\nWhen you are done, press %q.",
			out.Content.Task, out.Content.Goal, ButtonDone)
		if out.Repeated {
			text = "You still have this task open.\n\n" + text
		}
	case quest.StatusRunCompleted:
		text = fmt.Sprintf("Congratulations! You completed all %d days!\n\nYou can start again or share the quest with a friend.", out.TotalDays)
	case quest.StatusAlreadyFinished:
		text = "You have already finished the quest. Want to start again?"
	case quest.StatusReportAccepted:
		text = fmt.Sprintf("Report saved. Day %d/%d complete.", out.Day, out.TotalDays)
		if out.Day < out.TotalDays {
			text += fmt.Sprintf("\n\nPress %q when you are ready for the next one.", ButtonTask)
		} else {
			text += fmt.Sprintf("\n\nThat was the last day. Press %q to wrap up.", ButtonTask)
		}
	case quest.StatusNoPendingTask:
		text = fmt.Sprintf("There is no open task. Choose an action from the menu or press %q.", ButtonTask)
	case quest.StatusEmptyReport:
		text = "The report is empty. Tell me briefly what you did."
	case quest.StatusFinished:
		text = "You finished the game. Thanks for playing!\n\nWant to start over?"
	case quest.StatusReset:
		text = fmt.Sprintf("New run started in %s mode. Day 0/%d.", out.Mode, out.TotalDays)
	case quest.StatusUnknownDay:
		text = fmt.Sprintf("There is no task for day %d. Please start over.", out.Day)
	case quest.StatusSnapshot:
		text = statusText(res)
	default:
		text = string(out.Status)
	}

	r := message(text, menuFor(res.Record))
	r.Outcome = &out
	return r
}

func statusText(res progress.Result) string {
	rec, out := res.Record, res.Outcome
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\nCompleted: %d/%d days", rec.Mode, rec.CurrentDay, out.TotalDays)
	switch {
	case rec.IsFinished:
		b.WriteString("\nThe run is finished.")
	case out.Content != nil:
		fmt.Fprintf(&b, "\n\nOpen task for day %d: %s", out.Day, out.Content.Task)
	}
	return b.String()
}

// RenderProgress lists the accepted reports.
func RenderProgress(entries []domain.ProgressEntry, totalDays int, rec domain.UserRecord) Reply {
	if len(entries) == 0 {
		return message("You have no completed days yet.", menuFor(rec))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your progress (%d/%d):\n", rec.CurrentDay, totalDays)
	for _, e := range entries {
		fmt.Fprintf(&b, "\nDay %d: %s", e.Day, e.Description)
	}
	r := message(b.String(), menuFor(rec))
	r.Entries = entries
	return r
}
