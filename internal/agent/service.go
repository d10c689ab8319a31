package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/campuslife/bookingagent/internal/llm"
	"github.com/campuslife/bookingagent/internal/memory"
	"github.com/campuslife/bookingagent/internal/planner"
)

// MenuProvider serves the canteen menu tool. The data lives in a campus
// service outside this module; runs without one get a polite shrug.
type MenuProvider interface {
	Search(ctx context.Context, query string) (string, error)
}

// Session is one user's conversation: its booking state, chat history, and
// a tool registry whose closures are bound to that user.
type Session struct {
	userID   string
	state    *planner.SessionState
	history  []llm.Message
	executor *Executor
	logger   *zap.Logger
}

// SessionDeps are the collaborators a session binds its tools to.
type SessionDeps struct {
	Planner      *planner.Planner
	Orchestrator *Orchestrator
	Facts        memory.FactStore
	Menu         MenuProvider
	MaxSteps     int
	Logger       *zap.Logger
}

// NewSession builds the per-user tool registry and reasoning loop.
func NewSession(userID string, deps SessionDeps) *Session {
	state := &planner.SessionState{}
	registry := buildRegistry(userID, state, deps)
	return &Session{
		userID:   userID,
		state:    state,
		executor: NewExecutor(deps.Planner, registry, deps.MaxSteps, deps.Logger),
		logger:   deps.Logger.Named("session").With(zap.String("user_id", userID)),
	}
}

// Process handles one user message and returns the reply to display.
func (s *Session) Process(ctx context.Context, message string) *AgentResponse {
	resp := s.executor.Process(ctx, s.state, s.history, message)
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: message},
		llm.Message{Role: llm.RoleAssistant, Content: resp.FinalAnswer},
	)
	s.logger.Debug("Turn complete", zap.Int("steps", len(resp.Steps)))
	return resp
}

// Reset discards the conversation and its booking intent.
func (s *Session) Reset() {
	*s.state = planner.SessionState{}
	s.history = nil
}

// State exposes the current booking intent, for display and tests.
func (s *Session) State() planner.SessionState {
	return *s.state
}

// DefaultToolCatalog renders the catalog text for planner construction
// before any session exists.
func DefaultToolCatalog() string {
	return buildRegistry("", &planner.SessionState{}, SessionDeps{Logger: zap.NewNop()}).CatalogPrompt()
}

func buildRegistry(userID string, state *planner.SessionState, deps SessionDeps) *Registry {
	return NewRegistry(
		ToolDefinition{
			Name:        "check_library_availability",
			Description: "Scan the library booking grid for free study-room slots on a date.",
			Parameters:  map[string]string{"date": "date expression, e.g. 明天 or 9月15日"},
			Required:    []string{"date"},
			Run: func(ctx context.Context, input map[string]any) string {
				if deps.Orchestrator == nil {
					return "Error: booking system is not connected."
				}
				date := firstNonEmpty(stringInput(input, "date"), state.TargetDate)
				msg, _ := deps.Orchestrator.CheckAvailability(ctx, date)
				return msg
			},
		},
		ToolDefinition{
			Name:        "book_library_seat",
			Description: "Reserve a library study room. Requires a date and a start time; room, duration and party size are optional.",
			Parameters: map[string]string{
				"room":     "room name, e.g. GSR Room 3",
				"date":     "date expression",
				"time":     "start time, e.g. 10:00",
				"duration": "e.g. 2 Hours",
				"numUsers": "party size",
			},
			Required: []string{"date", "time"},
			Run: func(ctx context.Context, input map[string]any) string {
				if deps.Orchestrator == nil {
					return "Error: booking system is not connected."
				}
				req := BookingRequest{
					UserID:   userID,
					RoomName: firstNonEmpty(stringInput(input, "room"), state.TargetRoomID),
					Date:     firstNonEmpty(stringInput(input, "date"), state.TargetDate),
					Time:     firstNonEmpty(stringInput(input, "time"), state.TargetTime),
					Duration: firstNonEmpty(stringInput(input, "duration"), state.Duration),
					NumUsers: firstNonEmpty(stringInput(input, "numUsers"), state.NumUsers),
				}
				outcome := deps.Orchestrator.RunBooking(ctx, req)
				if outcome.Diag != "" {
					deps.Logger.Debug("Booking diagnostics", zap.String("diag", outcome.Diag))
				}
				return outcome.Message
			},
		},
		ToolDefinition{
			Name:        "search_canteen_menu",
			Description: "Search today's canteen menu.",
			Parameters:  map[string]string{"query": "dish or canteen name"},
			Run: func(ctx context.Context, input map[string]any) string {
				if deps.Menu == nil {
					return "The canteen menu service is not available right now."
				}
				result, err := deps.Menu.Search(ctx, stringInput(input, "query"))
				if err != nil {
					return fmt.Sprintf("Menu lookup failed: %v", err)
				}
				return result
			},
		},
		ToolDefinition{
			Name:        "get_user_profile",
			Description: "Read the user's saved preferences and profile facts.",
			Parameters:  map[string]string{},
			Run: func(ctx context.Context, _ map[string]any) string {
				if deps.Facts == nil {
					return "No profile store is configured."
				}
				facts, err := deps.Facts.GetAll(ctx, userID)
				if err != nil {
					return fmt.Sprintf("Error: could not read profile: %v", err)
				}
				if len(facts) == 0 {
					return "No saved preferences for this user."
				}
				keys := make([]string, 0, len(facts))
				for k := range facts {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				var sb strings.Builder
				for _, k := range keys {
					fmt.Fprintf(&sb, "%s: %s\n", k, facts[k])
				}
				return sb.String()
			},
		},
		ToolDefinition{
			Name:        "save_user_preference",
			Description: "Persist one user preference for future conversations.",
			Parameters: map[string]string{
				"key":   "preference name, e.g. preferred_room",
				"value": "preference value",
			},
			Required: []string{"key", "value"},
			Run: func(ctx context.Context, input map[string]any) string {
				if deps.Facts == nil {
					return "No profile store is configured."
				}
				key := stringInput(input, "key")
				value := stringInput(input, "value")
				if key == "" || value == "" {
					return "Error: both key and value are required."
				}
				if err := deps.Facts.Save(ctx, userID, key, value); err != nil {
					return fmt.Sprintf("Error: could not save preference: %v", err)
				}
				return fmt.Sprintf("Saved %s = %s.", key, value)
			},
		},
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
