// Package agent sequences the booking flow: the conversational ReAct loop,
// the tool registry it executes against, and the state machine that drives
// the venue's web site from login wait through confirmation.
package agent

import "github.com/campuslife/bookingagent/internal/planner"

// State names of the booking flow.
type BookingState string

const (
	StateAwaitingLogin BookingState = "awaiting_login"
	StateGridPage      BookingState = "grid_page"
	StateDateSelected  BookingState = "date_selected"
	StateSlotSelected  BookingState = "slot_selected"
	StateFormPage      BookingState = "form_page"
	StateSubmitting    BookingState = "submitting"
	StateConfirmed     BookingState = "confirmed"
	StateFailed        BookingState = "failed"
)

// AgentStep is one turn of the reasoning loop.
type AgentStep struct {
	Thought      string          `json:"thought,omitempty"`
	Reply        string          `json:"reply,omitempty"`
	Action       *planner.Action `json:"action,omitempty"`
	Observation  string          `json:"observation,omitempty"`
	QuickReplies []string        `json:"quickReplies,omitempty"`
}

// AgentResponse is the outcome of one user message.
type AgentResponse struct {
	Steps        []AgentStep `json:"steps"`
	FinalAnswer  string      `json:"finalAnswer"`
	QuickReplies []string    `json:"quickReplies,omitempty"`
}

// BookingRequest is a fully resolved booking intent handed to the
// orchestrator.
type BookingRequest struct {
	UserID   string
	RoomName string
	RoomID   string
	Date     string // as the user phrased it; resolved via ExtractDateInfo
	Time     string
	Duration string
	NumUsers string
}

// BookingOutcome reports how a booking run ended.
type BookingOutcome struct {
	State   BookingState
	Message string
	Diag    string
}
