package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/campuslife/bookingagent/internal/llm"
	"github.com/campuslife/bookingagent/internal/planner"
)

// ExecutorFallbackReply is the final answer when the model itself is
// unreachable mid-loop. The loop must degrade to a message, never panic or
// propagate.
const ExecutorFallbackReply = "抱歉，由于网络或 API 问题，我暂时无法进行深度推理。请稍后再试。"

// Executor runs the bounded reason-act loop: ask the planner for a step,
// execute the requested tool, feed the observation back, repeat.
type Executor struct {
	planner  *planner.Planner
	registry *Registry
	maxSteps int
	logger   *zap.Logger
}

func NewExecutor(p *planner.Planner, registry *Registry, maxSteps int, logger *zap.Logger) *Executor {
	if maxSteps <= 0 {
		maxSteps = 5
	}
	return &Executor{
		planner:  p,
		registry: registry,
		maxSteps: maxSteps,
		logger:   logger.Named("executor"),
	}
}

// Process handles one user message. The step log is append-only and the
// response always carries a final answer, whatever went wrong underneath.
func (e *Executor) Process(ctx context.Context, state *planner.SessionState, history []llm.Message, userMessage string) *AgentResponse {
	resp := &AgentResponse{}
	turns := append([]llm.Message(nil), history...)
	input := userMessage

	for i := 0; i < e.maxSteps; i++ {
		decision, err := e.planner.DecideStrict(ctx, state, turns, input)
		if err != nil {
			e.logger.Warn("Reasoning step failed, ending loop with fallback", zap.Int("step", i), zap.Error(err))
			resp.Steps = append(resp.Steps, AgentStep{Reply: ExecutorFallbackReply})
			resp.FinalAnswer = ExecutorFallbackReply
			return resp
		}

		step := AgentStep{
			Thought:      decision.Thought,
			Reply:        decision.Reply,
			Action:       decision.Action,
			QuickReplies: decision.QuickReplies,
		}

		if decision.Action == nil {
			resp.Steps = append(resp.Steps, step)
			resp.FinalAnswer = decision.Thought
			if resp.FinalAnswer == "" {
				resp.FinalAnswer = decision.Reply
			}
			resp.QuickReplies = decision.QuickReplies
			return resp
		}

		observation := e.registry.Execute(ctx, decision.Action.Tool, decision.Action.Input)
		step.Observation = observation
		resp.Steps = append(resp.Steps, step)

		e.logger.Debug("Tool executed",
			zap.Int("step", i),
			zap.String("tool", decision.Action.Tool),
			zap.Int("observation_len", len(observation)))

		turns = append(turns,
			llm.Message{Role: llm.RoleUser, Content: input},
			llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("%s (invoked %s)", decision.Thought, decision.Action.Tool)},
		)
		input = "Observation: " + observation
	}

	// Step cap reached with the model still asking for tools.
	last := resp.Steps[len(resp.Steps)-1]
	resp.FinalAnswer = last.Reply
	if resp.FinalAnswer == "" {
		resp.FinalAnswer = last.Observation
	}
	return resp
}
