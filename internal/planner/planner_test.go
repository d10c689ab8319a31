package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campuslife/bookingagent/internal/config"
	"github.com/campuslife/bookingagent/internal/llm"
)

// scriptedModel returns queued replies, or an error.
type scriptedModel struct {
	replies []string
	err     error
	gotMsgs [][]llm.Message
}

func (m *scriptedModel) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	m.gotMsgs = append(m.gotMsgs, msgs)
	if m.err != nil {
		return "", m.err
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply, nil
}

func newTestPlanner(t *testing.T, model llm.Client) *Planner {
	t.Helper()
	cfg := config.NewDefaultConfig()
	p := New(model, cfg.Venue, "- book_library_seat: reserve a room\n", zaptest.NewLogger(t))
	p.now = func() time.Time { return time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC) }
	return p
}

func TestDecide_ParsesDecisionAndMergesState(t *testing.T) {
	model := &scriptedModel{replies: []string{
		"```json\n" + `{"thought":"user gave date and time","reply":"好的，正在为您预约","action":{"tool":"book_library_seat","input":{"room":"GSR Room 3"}},"targetDate":"明天","targetTime":"10:00","duration":"2 Hours"}` + "\n```",
	}}
	p := newTestPlanner(t, model)

	state := &SessionState{}
	d := p.Decide(context.Background(), state, nil, "帮我订明天10点的讨论室")

	require.NotNil(t, d.Action)
	assert.Equal(t, "book_library_seat", d.Action.Tool)
	assert.Equal(t, "好的，正在为您预约", d.Reply)
	assert.Equal(t, "明天", state.TargetDate)
	assert.Equal(t, "10:00", state.TargetTime)
	assert.Equal(t, "2 Hours", state.Duration)
}

func TestDecide_EmptyDeltaNeverErasesState(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"reply":"还需要什么？"}`}}
	p := newTestPlanner(t, model)

	state := &SessionState{TargetDate: "明天", TargetTime: "10:00", NumUsers: "4"}
	p.Decide(context.Background(), state, nil, "谢谢")

	assert.Equal(t, "明天", state.TargetDate)
	assert.Equal(t, "10:00", state.TargetTime)
	assert.Equal(t, "4", state.NumUsers)
}

func TestDecide_ModelErrorYieldsFallback(t *testing.T) {
	model := &scriptedModel{err: errors.New("connection reset")}
	p := newTestPlanner(t, model)

	d := p.Decide(context.Background(), &SessionState{}, nil, "hi")
	assert.Equal(t, FallbackReply, d.Reply)
	assert.Nil(t, d.Action)
}

func TestDecide_MissingReplyIsInvalid(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"thought":"hmm"}`}}
	p := newTestPlanner(t, model)

	d := p.Decide(context.Background(), &SessionState{}, nil, "hi")
	assert.Equal(t, FallbackReply, d.Reply)
}

func TestDecide_UnparsableOutputYieldsFallback(t *testing.T) {
	model := &scriptedModel{replies: []string{"I cannot answer in JSON, sorry."}}
	p := newTestPlanner(t, model)

	d := p.Decide(context.Background(), &SessionState{}, nil, "hi")
	assert.Equal(t, FallbackReply, d.Reply)
}

func TestBuildSystemPrompt_EmbedsDateStateAndTools(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"reply":"ok"}`}}
	p := newTestPlanner(t, model)

	state := &SessionState{TargetDate: "明天", Duration: "2 Hours"}
	p.Decide(context.Background(), state, []llm.Message{
		{Role: llm.RoleUser, Content: "earlier turn"},
		{Role: llm.RoleAssistant, Content: "earlier answer"},
	}, "now this")

	require.Len(t, model.gotMsgs, 1)
	msgs := model.gotMsgs[0]
	require.Len(t, msgs, 4, "system + history + user")

	system := msgs[0].Content
	assert.Contains(t, system, "2026-09-01")
	assert.Contains(t, system, "targetDate=明天")
	assert.Contains(t, system, "duration=2 Hours")
	assert.Contains(t, system, "book_library_seat")
	assert.Equal(t, "now this", msgs[3].Content)
}
