package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/carebridgehq/inbox-sync/pkg/api"
	v1 "github.com/carebridgehq/inbox-sync/pkg/schemas/inbox/v1"
	"github.com/carebridgehq/inbox-sync/pkg/stream"
)

// ErrNoSelection is returned by conversation-scoped actions while no
// conversation is selected.
var ErrNoSelection = errors.New("no conversation selected")

// ViewState is the lifecycle of the selected conversation view.
type ViewState int32

const (
	ViewIdle ViewState = iota
	ViewLoading
	ViewReady
)

type UpdateKind string

const (
	// UpdateInbox: the canonical summary list changed (order, content,
	// assignment).
	UpdateInbox UpdateKind = "inbox"
	// UpdateMessages: the selected conversation's sequence changed.
	UpdateMessages UpdateKind = "messages"
	// UpdateHealth: the inbox stream group went live or down.
	UpdateHealth UpdateKind = "health"
	// UpdateError: a user-visible failure (initial load, conversation
	// load). Action failures come back on the action call itself.
	UpdateError UpdateKind = "error"
)

// Update is one notification to the rendering layer. Consumers re-read
// canonical state (Inbox, Messages) rather than carrying payloads here.
type Update struct {
	Kind           UpdateKind
	ConversationID int64
	Live           bool
	Err            error
}

// SessionConfig configures one agent session. The backend scope lives on
// the api client; nothing is read from ambient process state.
type SessionConfig struct {
	API    *api.Client
	Logger *slog.Logger

	// Dialer overrides the socket transport, mainly for tests.
	Dialer stream.Dialer

	PollSeconds       int // inbox fallback poll interval, default 5
	PageLimit         int // snapshot page size, default 50
	HeartbeatSeconds  int
	RetryFloorSeconds int
	RetryCapSeconds   int
	FetchTimeoutSecs  int // per-fetch bound, default 15

	// UpdateBuffer sizes the notification channel, default 64. A full
	// buffer drops notifications rather than stalling the merge loop;
	// consumers always re-read canonical state.
	UpdateBuffer int
}

// Session wires the whole subsystem: two inbox stream channels (tenant and
// optionally department scope), one chat channel for the selected
// conversation, the polling fallback, and the action gateway. All state
// transitions run on one internal loop, run-to-completion, so handlers
// never race; sockets and fetch completions post onto that loop.
type Session struct {
	apiClient *api.Client
	log       *slog.Logger
	cfg       SessionConfig

	rec     *Reconciler
	store   *MessageStore
	gateway *Gateway
	poller  *Poller

	inboxHealth *stream.Health
	chatHealth  *stream.Health

	ctx    context.Context
	cancel context.CancelFunc

	tasks     chan func()
	updates   chan Update
	loopDone  chan struct{}
	closeOnce gosync.Once
	dropped   atomic.Int64

	inboxChannels []*stream.Channel

	// loop-owned below
	chatChannel *stream.Channel
	loadSeq     uint64

	selected  atomic.Int64
	viewState atomic.Int32

	autoMu     gosync.Mutex
	automation map[int64]bool
}

// StartSession builds the session, opens the inbox streams, and kicks the
// initial snapshot load. The caller owns Close.
func StartSession(cfg SessionConfig) (*Session, error) {
	if cfg.API == nil {
		return nil, errors.New("session: api client is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 50
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		apiClient:   cfg.API,
		log:         log,
		cfg:         cfg,
		rec:         NewReconciler(),
		store:       NewMessageStore(),
		inboxHealth: stream.NewHealth(),
		chatHealth:  stream.NewHealth(),
		ctx:         ctx,
		cancel:      cancel,
		tasks:       make(chan func(), 128),
		updates:     make(chan Update, cfg.UpdateBuffer),
		loopDone:    make(chan struct{}),
		automation:  make(map[int64]bool),
	}

	s.gateway = NewGateway(cfg.API, s.store, GatewayHooks{
		Reload: func(conversationID int64) {
			s.post(func() {
				if s.selected.Load() == conversationID {
					s.reloadConversation(conversationID)
				}
			})
		},
		SetAutomation: s.setAutomation,
	}, log)

	s.poller = NewPoller(stream.Dsec(cfg.PollSeconds, 5), s.pollRefresh, log)
	s.inboxHealth.OnChange(func(live bool) {
		s.post(func() { s.emit(Update{Kind: UpdateHealth, Live: live}) })
	})
	s.poller.BindHealth(s.inboxHealth.OnChange)

	go s.run()

	s.openInboxChannels()
	// sockets may take a moment; the poller covers the gap
	if !s.inboxHealth.Live() {
		s.poller.Start()
	}
	s.post(func() { s.refreshInbox() })

	return s, nil
}

// Updates is the notification stream. It closes after Close.
func (s *Session) Updates() <-chan Update { return s.updates }

// Inbox returns the canonical ordered conversation list.
func (s *Session) Inbox() []v1.ConversationSummary { return s.rec.Snapshot() }

// Flashing returns conversation ids with an active transient highlight.
func (s *Session) Flashing() []int64 { return s.rec.Flashing() }

// Selected returns the selected conversation id, 0 for none.
func (s *Session) Selected() int64 { return s.selected.Load() }

// Messages returns the selected conversation's current sequence.
func (s *Session) Messages() []v1.Message {
	id := s.selected.Load()
	if id == 0 {
		return nil
	}
	return s.store.Messages(id)
}

// State returns the selected conversation view's lifecycle state.
func (s *Session) State() ViewState { return ViewState(s.viewState.Load()) }

// Live reports whether any inbox stream socket is open.
func (s *Session) Live() bool { return s.inboxHealth.Live() }

// ChatLive reports whether the selected conversation's socket is open.
func (s *Session) ChatLive() bool { return s.chatHealth.Live() }

// Automation reports the locally-held automation flag for a conversation.
func (s *Session) Automation(conversationID int64) bool {
	s.autoMu.Lock()
	defer s.autoMu.Unlock()
	return s.automation[conversationID]
}

// Select switches the open conversation: the previous chat socket is torn
// down, a new one opened, and a full load started. Selecting 0 just closes
// the current view.
func (s *Session) Select(conversationID int64) {
	s.post(func() {
		if old := s.chatChannel; old != nil {
			s.chatChannel = nil
			go old.Stop()
		}
		s.selected.Store(conversationID)
		if conversationID == 0 {
			s.viewState.Store(int32(ViewIdle))
			return
		}
		s.chatChannel = s.openChannel(
			s.apiClient.ChatSocketURL(conversationID),
			s.chatHealth,
			func(raw []byte) {
				s.post(func() { s.handleChatFrame(conversationID, raw) })
			},
		)
		s.reloadConversation(conversationID)
	})
}

// RefreshInbox forces one snapshot fetch, e.g. to retry a failed initial
// load.
func (s *Session) RefreshInbox() {
	s.post(func() { s.refreshInbox() })
}

// SendMessage sends an agent message to the selected conversation. The
// optimistic bubble is visible before this returns.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	id := s.selected.Load()
	if id == 0 {
		return ErrNoSelection
	}
	err := s.gateway.SendMessage(ctx, id, text)
	s.post(func() { s.emit(Update{Kind: UpdateMessages, ConversationID: id}) })
	return err
}

// Join adds the session's agent to the selected conversation.
func (s *Session) Join(ctx context.Context) error {
	id := s.selected.Load()
	if id == 0 {
		return ErrNoSelection
	}
	return s.gateway.Join(ctx, id)
}

// Leave removes the session's agent from the selected conversation.
func (s *Session) Leave(ctx context.Context) error {
	id := s.selected.Load()
	if id == 0 {
		return ErrNoSelection
	}
	return s.gateway.Leave(ctx, id)
}

// SetAutomation toggles bot auto-reply for the selected conversation.
func (s *Session) SetAutomation(ctx context.Context, enabled bool) error {
	id := s.selected.Load()
	if id == 0 {
		return ErrNoSelection
	}
	err := s.gateway.ToggleAutomation(ctx, id, enabled)
	s.post(func() { s.emit(Update{Kind: UpdateMessages, ConversationID: id}) })
	return err
}

// Close tears the whole subsystem down: every socket and timer exactly
// once. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, ch := range s.inboxChannels {
			ch.Stop()
		}
		var chat *stream.Channel
		done := make(chan struct{})
		select {
		case s.tasks <- func() { chat = s.chatChannel; s.chatChannel = nil; close(done) }:
			<-done
		case <-s.loopDone:
		}
		if chat != nil {
			chat.Stop()
		}
		// after the sockets: their final down transition would restart it
		s.poller.Stop()
		s.cancel()
		<-s.loopDone
	})
}

// --------- internal ----------------

func (s *Session) run() {
	defer close(s.updates)
	defer close(s.loopDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.tasks:
			fn()
		}
	}
}

// post hands a closure to the loop. After Close it is a no-op.
func (s *Session) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.ctx.Done():
	}
}

func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		if s.dropped.Add(1)%100 == 1 {
			s.log.Warn("update consumer lagging, notifications dropped",
				slog.Int64("dropped", s.dropped.Load()))
		}
	}
}

func (s *Session) openInboxChannels() {
	urls := []string{s.apiClient.InboxSocketURL(false)}
	if s.apiClient.Scope().DepartmentID != 0 {
		urls = append(urls, s.apiClient.InboxSocketURL(true))
	}
	for _, u := range urls {
		s.inboxChannels = append(s.inboxChannels, s.openChannel(u, s.inboxHealth, func(raw []byte) {
			s.post(func() { s.handleInboxFrame(raw) })
		}))
	}
}

func (s *Session) openChannel(url string, health *stream.Health, onMessage func([]byte)) *stream.Channel {
	return stream.Open(stream.ChannelConfig{
		URL:               url,
		Dialer:            s.cfg.Dialer,
		Logger:            s.log,
		HeartbeatSeconds:  s.cfg.HeartbeatSeconds,
		RetryFloorSeconds: s.cfg.RetryFloorSeconds,
		RetryCapSeconds:   s.cfg.RetryCapSeconds,
		OnMessage:         onMessage,
		OnOpen:            health.Inc,
		OnClose:           health.Dec,
	})
}

// handleInboxFrame runs on the loop.
func (s *Session) handleInboxFrame(raw []byte) {
	ev, err := v1.Normalize(raw)
	if err != nil {
		s.log.Debug("dropping inbox frame", slog.Any("error", err))
		return
	}
	switch ev.Kind {
	case v1.KindHeartbeat:

	case v1.KindConversationCreated:
		s.rec.MarkFlash(ev.ConversationID, flashCreatedTTL)
		s.refreshInbox()

	case v1.KindInboxUpdated:
		if !s.rec.ApplyUpdate(ev.ConversationID, ev.LastMessage, ev.Timestamp, ev.UnreadCount) {
			// unknown conversation (or an entry we hold newer state for):
			// resynchronize from a full snapshot instead of fabricating
			s.refreshInbox()
			return
		}
		s.emit(Update{Kind: UpdateInbox, ConversationID: ev.ConversationID})

	case v1.KindInboxAssignment:
		if s.rec.ApplyAssignment(ev.ConversationID, ev.AssignedAgent) {
			s.emit(Update{Kind: UpdateInbox, ConversationID: ev.ConversationID})
		}
		if s.selected.Load() == ev.ConversationID {
			s.reloadConversation(ev.ConversationID)
		}

	default:
		s.log.Debug("ignoring inbox frame", slog.String("kind", string(ev.Kind)))
	}
}

// handleChatFrame runs on the loop. conversationID is the socket's owner;
// frames from a superseded socket are dropped here.
func (s *Session) handleChatFrame(conversationID int64, raw []byte) {
	if s.selected.Load() != conversationID {
		return
	}
	ev, err := v1.NormalizeChat(conversationID, raw)
	if err != nil {
		s.log.Debug("dropping chat frame", slog.Any("error", err))
		return
	}
	switch ev.Kind {
	case v1.KindHeartbeat:

	case v1.KindChatMessage:
		if s.store.AppendLive(conversationID, *ev.Message) {
			s.emit(Update{Kind: UpdateMessages, ConversationID: conversationID})
		}

	case v1.KindAgentPresence:
		s.store.AppendSystem(conversationID, PresenceNotice(ev.AgentID, ev.Joined), tsOrZero(ev.Timestamp))
		s.emit(Update{Kind: UpdateMessages, ConversationID: conversationID})
		s.reloadConversation(conversationID)

	case v1.KindConversationAssignment:
		s.store.AppendSystem(conversationID, AssignmentNotice(ev.AssignedAgent, ev.Assigned), tsOrZero(ev.Timestamp))
		if ev.Assigned {
			s.rec.ApplyAssignment(conversationID, ev.AssignedAgent)
		} else {
			s.rec.ApplyAssignment(conversationID, nil)
		}
		s.emit(Update{Kind: UpdateMessages, ConversationID: conversationID})
		s.emit(Update{Kind: UpdateInbox, ConversationID: conversationID})
		s.reloadConversation(conversationID)

	default:
		s.log.Debug("ignoring chat frame", slog.String("kind", string(ev.Kind)))
	}
}

// refreshInbox starts one snapshot fetch. Runs on the loop; the fetch
// itself runs off-loop and posts its result back.
func (s *Session) refreshInbox() {
	go func() {
		ctx, cancel := s.fetchCtx()
		defer cancel()
		list, err := s.apiClient.FetchInbox(ctx, api.Page{Limit: s.cfg.PageLimit})
		s.post(func() {
			if err != nil {
				s.log.Warn("inbox refresh failed", slog.Any("error", err))
				s.emit(Update{Kind: UpdateError, Err: err})
				return
			}
			s.rec.ApplySnapshot(list)
			s.emit(Update{Kind: UpdateInbox})
		})
	}()
}

// pollRefresh is the poller's tick: same snapshot path, but failures stay
// inside the poller (logged there, no user-visible error).
func (s *Session) pollRefresh(ctx context.Context) error {
	list, err := s.apiClient.FetchInbox(ctx, api.Page{Limit: s.cfg.PageLimit})
	if err != nil {
		return err
	}
	s.post(func() {
		s.rec.ApplySnapshot(list)
		s.emit(Update{Kind: UpdateInbox})
	})
	return nil
}

// reloadConversation runs on the loop. A newer reload supersedes an
// in-flight one: the stale response is discarded on arrival, identified by
// sequence number, and the selection is re-validated because it may have
// moved while the fetch was in flight.
func (s *Session) reloadConversation(conversationID int64) {
	s.loadSeq++
	seq := s.loadSeq
	s.viewState.Store(int32(ViewLoading))

	go func() {
		ctx, cancel := s.fetchCtx()
		defer cancel()
		detail, err := s.apiClient.FetchConversation(ctx, conversationID)
		s.post(func() {
			if seq != s.loadSeq || s.selected.Load() != conversationID {
				return // superseded
			}
			if err != nil {
				s.viewState.Store(int32(ViewIdle))
				s.emit(Update{Kind: UpdateError, ConversationID: conversationID, Err: err})
				return
			}
			s.store.LoadSnapshot(conversationID, detail.Messages)
			s.setAutomation(conversationID, detail.AutomationEnabled)
			if s.rec.ApplyAssignment(conversationID, detail.AssignedAgent) {
				s.emit(Update{Kind: UpdateInbox, ConversationID: conversationID})
			}
			s.viewState.Store(int32(ViewReady))
			s.emit(Update{Kind: UpdateMessages, ConversationID: conversationID})
		})
	}()
}

func (s *Session) setAutomation(conversationID int64, enabled bool) {
	s.autoMu.Lock()
	s.automation[conversationID] = enabled
	s.autoMu.Unlock()
}

func (s *Session) fetchCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, stream.Dsec(s.cfg.FetchTimeoutSecs, 15))
}

func tsOrZero(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return *ts
}
