package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	v1 "github.com/carebridgehq/inbox-sync/pkg/schemas/inbox/v1"
)

type fakeActions struct {
	joinErr, leaveErr, sendErr, toggleErr error

	joined, left, sent []int64
	toggled            []bool
}

func (f *fakeActions) Join(_ context.Context, id int64) error {
	f.joined = append(f.joined, id)
	return f.joinErr
}

func (f *fakeActions) Leave(_ context.Context, id int64) error {
	f.left = append(f.left, id)
	return f.leaveErr
}

func (f *fakeActions) SendMessage(_ context.Context, id int64, _ string) error {
	f.sent = append(f.sent, id)
	return f.sendErr
}

func (f *fakeActions) ToggleAutomation(_ context.Context, _ int64, enabled bool) error {
	f.toggled = append(f.toggled, enabled)
	return f.toggleErr
}

type gatewayHarness struct {
	actions *fakeActions
	store   *MessageStore
	gw      *Gateway

	reloads    []int64
	automation map[int64]bool
	scheduled  []time.Duration
}

func newGatewayHarness() *gatewayHarness {
	h := &gatewayHarness{
		actions:    &fakeActions{},
		store:      NewMessageStore(),
		automation: make(map[int64]bool),
	}
	h.gw = NewGateway(h.actions, h.store, GatewayHooks{
		Reload:        func(id int64) { h.reloads = append(h.reloads, id) },
		SetAutomation: func(id int64, enabled bool) { h.automation[id] = enabled },
	}, nil)
	// run scheduled work inline so tests stay deterministic
	h.gw.schedule = func(d time.Duration, fn func()) {
		h.scheduled = append(h.scheduled, d)
		fn()
	}
	return h
}

func TestSendMessageOptimisticThenSettle(t *testing.T) {
	h := newGatewayHarness()

	if err := h.gw.SendMessage(context.Background(), 10, "on my way"); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs := h.store.Messages(10)
	if len(msgs) != 1 || msgs[0].Confirmed() || msgs[0].Sender != v1.RoleAgent {
		t.Fatalf("optimistic bubble missing or wrong: %+v", msgs)
	}
	if len(h.reloads) != 1 || h.reloads[0] != 10 {
		t.Fatalf("expected exactly one settle reload, got %v", h.reloads)
	}
	if len(h.scheduled) != 1 || h.scheduled[0] != 400*time.Millisecond {
		t.Fatalf("settle delay = %v, want [400ms]", h.scheduled)
	}
}

func TestSendMessageFailureKeepsBubble(t *testing.T) {
	h := newGatewayHarness()
	h.actions.sendErr = errors.New("backend down")

	if err := h.gw.SendMessage(context.Background(), 10, "hello"); err == nil {
		t.Fatal("expected error")
	}
	if len(h.store.Messages(10)) != 1 {
		t.Fatal("optimistic bubble must survive a failed send")
	}
	if len(h.reloads) != 0 {
		t.Fatalf("failed send must not reload, got %v", h.reloads)
	}
}

func TestJoinLeaveReloadOnSuccess(t *testing.T) {
	h := newGatewayHarness()

	if err := h.gw.Join(context.Background(), 10); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.gw.Leave(context.Background(), 10); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if len(h.reloads) != 2 {
		t.Fatalf("expected reload per action, got %v", h.reloads)
	}

	h.actions.joinErr = errors.New("forbidden")
	if err := h.gw.Join(context.Background(), 10); err == nil {
		t.Fatal("expected join error")
	}
	if len(h.reloads) != 2 {
		t.Fatal("failed join must not reload")
	}
}

func TestToggleAutomationRevertsOnFailure(t *testing.T) {
	h := newGatewayHarness()

	if err := h.gw.ToggleAutomation(context.Background(), 10, true); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !h.automation[10] {
		t.Fatal("flag not set on success")
	}
	if msgs := h.store.Messages(10); len(msgs) != 1 || msgs[0].Sender != v1.RoleSystem {
		t.Fatalf("expected one system notice, got %+v", msgs)
	}

	h.actions.toggleErr = errors.New("backend down")
	if err := h.gw.ToggleAutomation(context.Background(), 10, false); err == nil {
		t.Fatal("expected error")
	}
	if !h.automation[10] {
		t.Fatal("flag must revert after failed toggle")
	}
}
