package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/dayquest/internal/domain"
	"github.com/ashureev/dayquest/internal/identity"
	"github.com/ashureev/dayquest/internal/progress"
	"github.com/coder/websocket"
)

// Actions is the part of the progress service the chat needs.
type Actions interface {
	TotalDays() int
	Handle(ctx context.Context, userID string, action progress.Action) (progress.Result, error)
	Progress(ctx context.Context, userID string) ([]domain.ProgressEntry, error)
}

// Chat commands accepted in "action" frames besides the progress actions.
const (
	cmdStart    = "start"
	cmdRules    = "rules"
	cmdDone     = "done"
	cmdProgress = "progress"
)

// WebSocketHandler serves chat sessions over websocket.
type WebSocketHandler struct {
	svc           Actions
	sm            *SessionManager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(svc Actions, sm *SessionManager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		svc:           svc,
		sm:            sm,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is an inbound chat frame.
type wsMessage struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Text   string `json:"text,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// delivery says who receives a reply.
type delivery int

const (
	toSender delivery = iota
	toAllSessions
)

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)
	slog.Debug("Chat sessions open", "user_id", userID, "count", h.sm.Count(userID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.writeJSON(ctx, ws, Greeting(h.svc.TotalDays())); err != nil {
		slog.Debug("Failed to send greeting", "error", err, "user_id", userID)
		return
	}

	h.inputLoop(ctx, ws, userID)
	slog.Info("Chat session ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Plain text frames are typed chat messages.
			msg = wsMessage{Type: "text", Text: string(data)}
		}

		if msg.Type == "ping" {
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
			continue
		}

		reply, to := h.dispatch(ctx, userID, msg)
		if to == toAllSessions {
			if h.sm.Broadcast(ctx, userID, reply) > 0 {
				continue
			}
			slog.Warn("Broadcast reached no session, replying directly", "user_id", userID, "sessions", h.sm.Count(userID))
		}
		if err := h.writeJSON(ctx, ws, reply); err != nil {
			slog.Debug("Failed to send reply", "error", err, "user_id", userID)
			return
		}
	}
}

// dispatch maps one inbound frame to a reply.
func (h *WebSocketHandler) dispatch(ctx context.Context, userID string, msg wsMessage) (Reply, delivery) {
	switch msg.Type {
	case "action":
		return h.command(ctx, userID, msg.Action, msg.Text, msg.Mode)
	case "text", "":
		return h.text(ctx, userID, msg.Text)
	default:
		return Reply{Type: "error", Text: "unknown message type"}, toSender
	}
}

// text interprets a typed message: button labels act as commands, anything
// else is a report for the pending task.
func (h *WebSocketHandler) text(ctx context.Context, userID, text string) (Reply, delivery) {
	switch strings.TrimSpace(text) {
	case "/start":
		return Greeting(h.svc.TotalDays()), toSender
	case ButtonStart:
		return h.command(ctx, userID, cmdStart, "", "")
	case ButtonTask:
		return h.command(ctx, userID, string(progress.RequestTask), "", "")
	case ButtonDone:
		return h.command(ctx, userID, cmdDone, "", "")
	case ButtonProgress:
		return h.command(ctx, userID, cmdProgress, "", "")
	case ButtonRules:
		return h.command(ctx, userID, cmdRules, "", "")
	case ButtonFinish:
		return h.command(ctx, userID, string(progress.RequestFinish), "", "")
	case ButtonRestart:
		return h.command(ctx, userID, string(progress.RequestReset), "", string(domain.ModeNormal))
	case ButtonRestartHd:
		return h.command(ctx, userID, string(progress.RequestReset), "", string(domain.ModeHard))
	default:
		return h.command(ctx, userID, string(progress.SubmitReport), text, "")
	}
}

func (h *WebSocketHandler) command(ctx context.Context, userID, name, text, mode string) (Reply, delivery) {
	switch name {
	case cmdStart:
		res, err := h.svc.Handle(ctx, userID, progress.Action{Kind: progress.RequestStatus})
		if err != nil {
			return h.failure(userID, err)
		}
		return MainMenu(res.Record), toSender
	case cmdRules:
		res, err := h.svc.Handle(ctx, userID, progress.Action{Kind: progress.RequestStatus})
		if err != nil {
			return h.failure(userID, err)
		}
		return Rules(h.svc.TotalDays(), res.Record), toSender
	case cmdDone:
		res, err := h.svc.Handle(ctx, userID, progress.Action{Kind: progress.RequestStatus})
		if err != nil {
			return h.failure(userID, err)
		}
		if res.Record.TaskPending && !res.Record.IsFinished {
			return ReportPrompt(), toSender
		}
		return h.run(ctx, userID, progress.Action{Kind: progress.SubmitReport})
	case cmdProgress:
		res, err := h.svc.Handle(ctx, userID, progress.Action{Kind: progress.RequestStatus})
		if err != nil {
			return h.failure(userID, err)
		}
		entries, err := h.svc.Progress(ctx, userID)
		if err != nil {
			return h.failure(userID, err)
		}
		return RenderProgress(entries, h.svc.TotalDays(), res.Record), toSender
	}

	kind, err := progress.ParseActionKind(name)
	if err != nil {
		return Reply{Type: "error", Text: err.Error()}, toSender
	}
	action := progress.Action{Kind: kind, Text: text}
	if kind == progress.RequestReset && mode != "" {
		m, err := domain.ParseMode(mode)
		if err != nil {
			return Reply{Type: "error", Text: err.Error()}, toSender
		}
		action.Mode = m
	}
	return h.run(ctx, userID, action)
}

func (h *WebSocketHandler) run(ctx context.Context, userID string, action progress.Action) (Reply, delivery) {
	res, err := h.svc.Handle(ctx, userID, action)
	if err != nil {
		return h.failure(userID, err)
	}
	if res.Outcome.Status.Rejected() || action.Kind == progress.RequestStatus {
		return RenderResult(res), toSender
	}
	return RenderResult(res), toAllSessions
}

func (h *WebSocketHandler) failure(userID string, err error) (Reply, delivery) {
	slog.Error("Chat action failed", "user_id", userID, "error", err)
	return Unavailable(), toSender
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
