// inbox-tail follows one agent's inbox from the terminal: it keeps the
// conversation list synchronized over the stream (with polling fallback)
// and prints the list whenever it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/carebridgehq/inbox-sync/internal/config"
	"github.com/carebridgehq/inbox-sync/pkg/api"
	inboxsync "github.com/carebridgehq/inbox-sync/pkg/sync"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: inbox-sync.yaml in . or ./configs)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "inbox-tail:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := api.NewClient(api.Config{
		BaseURL: cfg.BaseURL,
		Scope: api.Scope{
			TenantID:     cfg.TenantID,
			DepartmentID: cfg.DepartmentID,
			AgentID:      cfg.AgentID,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	session, err := inboxsync.StartSession(inboxsync.SessionConfig{
		API:         client,
		Logger:      logger,
		PollSeconds: cfg.PollSeconds,
		PageLimit:   cfg.PageLimit,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("following inbox",
		slog.Int64("tenant", cfg.TenantID),
		slog.Int64("agent", cfg.AgentID))

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case upd, ok := <-session.Updates():
			if !ok {
				return nil
			}
			switch upd.Kind {
			case inboxsync.UpdateInbox:
				printInbox(session)
			case inboxsync.UpdateHealth:
				logger.Info("stream health changed", slog.Bool("live", upd.Live))
			case inboxsync.UpdateError:
				logger.Warn("refresh failed", slog.Any("error", upd.Err))
			}
		}
	}
}

func printInbox(session *inboxsync.Session) {
	flashing := make(map[int64]bool)
	for _, id := range session.Flashing() {
		flashing[id] = true
	}

	fmt.Println("---")
	for _, s := range session.Inbox() {
		mark := " "
		if flashing[s.ConversationID] {
			mark = "*"
		}
		at := ""
		if s.LastMessageAt != nil {
			at = s.LastMessageAt.Format("15:04:05")
		}
		assigned := "unassigned"
		if s.AssignedAgent != nil {
			assigned = s.AssignedAgent.Label()
		}
		fmt.Printf("%s [%4d] %-20s %-12s unread=%-3d %8s  %s\n",
			mark, s.ConversationID, truncate(s.Name, 20), assigned, s.UnreadCount, at, truncate(s.LastMessage, 48))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
