package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/carebridgehq/inbox-sync/pkg/schemas/inbox/v1"
)

// Actions is the slice of the backend client the gateway needs.
type Actions interface {
	Join(ctx context.Context, conversationID int64) error
	Leave(ctx context.Context, conversationID int64) error
	SendMessage(ctx context.Context, conversationID int64, text string) error
	ToggleAutomation(ctx context.Context, conversationID int64, enabled bool) error
}

// GatewayHooks are the callbacks the gateway uses to converge local state
// after an action settles.
type GatewayHooks struct {
	// Reload schedules a full conversation reload so assignment and
	// presence state come from the server rather than local inference.
	Reload func(conversationID int64)
	// SetAutomation flips the locally-held automation flag.
	SetAutomation func(conversationID int64, enabled bool)
}

// Gateway issues agent actions and reconciles local state with the
// outcome: optimistic mutations up front, convergence on server truth (or
// rollback) once the request settles.
type Gateway struct {
	actions Actions
	store   *MessageStore
	hooks   GatewayHooks
	log     *slog.Logger

	settleDelay time.Duration
	schedule    func(d time.Duration, fn func())
}

func NewGateway(actions Actions, store *MessageStore, hooks GatewayHooks, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		actions:     actions,
		store:       store,
		hooks:       hooks,
		log:         log,
		settleDelay: 400 * time.Millisecond,
		schedule:    func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// SendMessage appends an optimistic agent bubble immediately, issues the
// write, and on success schedules one short-delay reload of the
// conversation to converge on server truth. On failure the error is
// returned and the optimistic bubble stays; whether to strip it is a view
// decision, not the gateway's.
func (g *Gateway) SendMessage(ctx context.Context, conversationID int64, text string) error {
	g.store.AppendOptimistic(conversationID, text, v1.RoleAgent)

	if err := g.actions.SendMessage(ctx, conversationID, text); err != nil {
		g.log.Warn("send failed", slog.Int64("conversation", conversationID), slog.Any("error", err))
		return fmt.Errorf("send message: %w", err)
	}
	g.schedule(g.settleDelay, func() { g.hooks.Reload(conversationID) })
	return nil
}

// Join adds the agent to the conversation and reloads it on success.
func (g *Gateway) Join(ctx context.Context, conversationID int64) error {
	if err := g.actions.Join(ctx, conversationID); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	g.hooks.Reload(conversationID)
	return nil
}

// Leave removes the agent from the conversation and reloads it on success.
func (g *Gateway) Leave(ctx context.Context, conversationID int64) error {
	if err := g.actions.Leave(ctx, conversationID); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	g.hooks.Reload(conversationID)
	return nil
}

// ToggleAutomation flips the automation flag optimistically, then issues
// the request. On failure the flag is reverted and the error surfaced; on
// success a system notice lands in the conversation.
func (g *Gateway) ToggleAutomation(ctx context.Context, conversationID int64, enabled bool) error {
	g.hooks.SetAutomation(conversationID, enabled)

	if err := g.actions.ToggleAutomation(ctx, conversationID, enabled); err != nil {
		g.hooks.SetAutomation(conversationID, !enabled)
		return fmt.Errorf("toggle automation: %w", err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	g.store.AppendSystem(conversationID, "Automation "+state+" for this conversation", time.Time{})
	return nil
}
