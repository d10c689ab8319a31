package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/campuslife/bookingagent/internal/config"
)

// Router dispatches between the chat-tier model, which runs the conversation
// planner and reasoning loop, and the vision-tier model, which only answers
// the narrow coordinate-resolution prompts of the fallback click path.
type Router struct {
	logger *zap.Logger
	chat   Client
	vision Client
}

func NewRouter(logger *zap.Logger, chat, vision Client) (*Router, error) {
	if chat == nil {
		return nil, fmt.Errorf("router requires a chat-tier client")
	}
	if vision == nil {
		// The vision tier is optional; without it the fallback path reports
		// failure instead of guessing.
		vision = chat
	}
	return &Router{logger: logger.Named("llm_router"), chat: chat, vision: vision}, nil
}

// NewRouterFromConfig wires both tiers from the configuration.
func NewRouterFromConfig(cfg config.LLMConfig, logger *zap.Logger) (*Router, error) {
	chat, err := NewHTTPClient(cfg, cfg.ChatModel, logger)
	if err != nil {
		return nil, fmt.Errorf("chat-tier client: %w", err)
	}
	vision, err := NewHTTPClient(cfg, cfg.VisionModel, logger)
	if err != nil {
		return nil, fmt.Errorf("vision-tier client: %w", err)
	}
	return NewRouter(logger, chat, vision)
}

// Complete routes to the chat tier.
func (r *Router) Complete(ctx context.Context, messages []Message) (string, error) {
	return r.chat.Complete(ctx, messages)
}

// CompleteVision routes to the vision tier.
func (r *Router) CompleteVision(ctx context.Context, messages []Message) (string, error) {
	return r.vision.Complete(ctx, messages)
}

// Vision exposes the vision-tier client for collaborators that only need
// that tier.
func (r *Router) Vision() Client {
	return r.vision
}
