// Package planner turns conversation history plus live session state into a
// single structured decision per turn: a user-facing reply, optionally a tool
// invocation, and any booking parameters extracted from the user's words.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campuslife/bookingagent/internal/config"
	"github.com/campuslife/bookingagent/internal/llm"
)

// FallbackReply is returned whenever the model output cannot be recovered.
// The reasoning loop must never crash the conversation.
const FallbackReply = "抱歉，由于网络波动，系统未能正确解析操作指令。请问您可以再试一次刚才的操作吗？"

// Action is a tool invocation requested by the model.
type Action struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// Decision is the model's structured output for one turn. The booking
// parameter fields are a state delta: empty means "no new information", never
// "clear the value".
type Decision struct {
	Thought      string   `json:"thought,omitempty"`
	Reply        string   `json:"reply"`
	Action       *Action  `json:"action,omitempty"`
	QuickReplies []string `json:"quickReplies,omitempty"`

	Duration     string `json:"duration,omitempty"`
	NumUsers     string `json:"numUsers,omitempty"`
	TargetDate   string `json:"targetDate,omitempty"`
	TargetTime   string `json:"targetTime,omitempty"`
	TargetRoomID string `json:"targetRoomId,omitempty"`
}

// SessionState carries the user's booking intent across turns. Once a field
// is supplied it persists until the booking completes or the conversation
// resets.
type SessionState struct {
	Duration     string `json:"duration,omitempty"`
	NumUsers     string `json:"numUsers,omitempty"`
	TargetDate   string `json:"targetDate,omitempty"`
	TargetTime   string `json:"targetTime,omitempty"`
	TargetRoomID string `json:"targetRoomId,omitempty"`
}

// Merge folds a decision's state delta into the session. Present values win;
// empty values never erase what the user already said.
func (s *SessionState) Merge(d *Decision) {
	if d.Duration != "" {
		s.Duration = d.Duration
	}
	if d.NumUsers != "" {
		s.NumUsers = d.NumUsers
	}
	if d.TargetDate != "" {
		s.TargetDate = d.TargetDate
	}
	if d.TargetTime != "" {
		s.TargetTime = d.TargetTime
	}
	if d.TargetRoomID != "" {
		s.TargetRoomID = d.TargetRoomID
	}
}

func (s *SessionState) String() string {
	parts := []string{}
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("duration", s.Duration)
	add("numUsers", s.NumUsers)
	add("targetDate", s.TargetDate)
	add("targetTime", s.TargetTime)
	add("targetRoomId", s.TargetRoomID)
	if len(parts) == 0 {
		return "(empty)"
	}
	return strings.Join(parts, ", ")
}

// Planner drives the chat-tier model with a decision-protocol prompt.
type Planner struct {
	client      llm.Client
	venue       config.VenueConfig
	toolCatalog string
	logger      *zap.Logger
	now         func() time.Time
}

func New(client llm.Client, venue config.VenueConfig, toolCatalog string, logger *zap.Logger) *Planner {
	return &Planner{
		client:      client,
		venue:       venue,
		toolCatalog: toolCatalog,
		logger:      logger.Named("planner"),
		now:         time.Now,
	}
}

// Decide runs one planning turn. It never returns an error: any failure is
// converted into the canned fallback decision.
func (p *Planner) Decide(ctx context.Context, state *SessionState, history []llm.Message, userMessage string) *Decision {
	decision, err := p.DecideStrict(ctx, state, history, userMessage)
	if err != nil {
		return &Decision{Reply: FallbackReply}
	}
	return decision
}

// DecideStrict runs one planning turn and surfaces model or parse failures
// to the caller, for loops that apply their own fallback behavior.
func (p *Planner) DecideStrict(ctx context.Context, state *SessionState, history []llm.Message, userMessage string) (*Decision, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: p.buildSystemPrompt(state)})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})

	raw, err := p.client.Complete(ctx, messages)
	if err != nil {
		p.logger.Warn("Planner model call failed", zap.Error(err))
		return nil, fmt.Errorf("planner model call: %w", err)
	}

	decision, err := llm.ExtractJSON[Decision](raw)
	if err != nil {
		p.logger.Warn("Planner output was not recoverable JSON",
			zap.Error(err),
			zap.String("raw", truncateForLog(raw)))
		return nil, fmt.Errorf("planner output unparsable: %w", err)
	}
	if decision.Reply == "" {
		p.logger.Warn("Planner output lacked a reply field", zap.String("raw", truncateForLog(raw)))
		return nil, fmt.Errorf("planner output lacked a reply field")
	}

	state.Merge(decision)
	p.logger.Debug("Planner decision",
		zap.String("thought", decision.Thought),
		zap.Bool("has_action", decision.Action != nil),
		zap.String("state", state.String()))
	return decision, nil
}

func (p *Planner) buildSystemPrompt(state *SessionState) string {
	now := p.now().In(p.venue.Location())

	var sb strings.Builder
	sb.WriteString("You are a campus library booking assistant. You help students reserve group study rooms and individual study rooms by driving the library's booking web site on their behalf.\n\n")
	fmt.Fprintf(&sb, "Current date and time (venue local): %s (%s)\n\n", now.Format("2006-01-02 15:04"), now.Weekday())

	sb.WriteString("DECISION PROTOCOL — follow exactly one case each turn:\n")
	sb.WriteString("CASE A (conversation): the user is chatting, asking a question, or has not yet supplied enough booking parameters. Respond with a reply only. Ask for at most one missing parameter at a time.\n")
	sb.WriteString("CASE B (booking): the user wants a room and has supplied (or previously supplied) a date, a time, and optionally a room. Request the booking tool with the parameters. The site requires manual login first; the flow will show the login page to the user and wait, so never refuse because of login.\n")
	sb.WriteString("CASE C (availability): the user asks what is free without committing. Request the availability tool for the date.\n\n")

	sb.WriteString("STATE PERSISTENCE RULE: the session state below was extracted from earlier turns. Treat it as already confirmed; never ask again for a value it contains. Echo any field you rely on into your output fields.\n")
	fmt.Fprintf(&sb, "Session state: %s\n\n", state.String())

	sb.WriteString("FAST LOCATE RULE: when date, time and room are all known, prefer the direct booking flow over step-by-step grid interaction.\n\n")

	if p.toolCatalog != "" {
		sb.WriteString("AVAILABLE TOOLS:\n")
		sb.WriteString(p.toolCatalog)
		sb.WriteString("\n")
	}

	sb.WriteString(`OUTPUT FORMAT: respond with exactly one JSON object and nothing else:
{
  "thought": "short private reasoning",
  "reply": "message shown to the user (required, match the user's language)",
  "action": {"tool": "tool_name", "input": {...}},
  "quickReplies": ["optional", "suggestions"],
  "duration": "", "numUsers": "", "targetDate": "", "targetTime": "", "targetRoomId": ""
}
Omit action when no tool is needed. Fill the trailing fields only with NEW information from this turn.`)
	return sb.String()
}

func truncateForLog(s string) string {
	if r := []rune(s); len(r) > 300 {
		return string(r[:300]) + "..."
	}
	return s
}
