// Package app wires the QuickChat terminal client: config, logging, the
// realtime sync engine, and a minimal stdin/stdout surface over it.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rama7993/quickchat/internal/chat"
	"github.com/rama7993/quickchat/internal/realtime"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

// historyAdapter bridges the REST client into the engine's fetcher port.
type historyAdapter struct {
	rest *chat.Client
}

func (h historyAdapter) History(ctx context.Context, q realtime.HistoryQuery) ([]v1.Message, error) {
	return h.rest.History(ctx, chat.HistoryQuery{
		PeerID:  q.PeerID,
		GroupID: q.GroupID,
		Page:    q.Page,
		Limit:   q.Limit,
	})
}

func runClient(ctx context.Context, cancel context.CancelFunc, cfg Config, log Logger) error {
	if cfg.Token == "" {
		return errors.New("app: QC_TOKEN is required")
	}
	if cfg.UserID == "" {
		return errors.New("app: QC_USER_ID is required")
	}
	target := realtime.Target{UserID: cfg.PeerID, GroupID: cfg.GroupID}
	if err := target.Validate(); err != nil {
		return errors.New("app: set exactly one of QC_PEER_ID or QC_GROUP_ID")
	}

	rest := chat.NewClient(log, cfg.APIBaseURL, func() string { return cfg.Token }, cfg.RequestTimeout)

	mgr := realtime.NewManager(log, realtime.ManagerConfig{
		URL:               cfg.SocketURL,
		WriteTimeout:      cfg.WriteTimeout,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}, realtime.Hooks{
		AuthRejected: func(reason string) {
			log.Error("app.auth.rejected", "reason", reason)
			cancel()
		},
	})

	disp := realtime.NewDispatcher(log, mgr)
	merger := realtime.NewMerger(log, cfg.UserID)
	typing := realtime.NewTypingTracker(log, cfg.TypingTimeout)

	sess := realtime.NewSession(log, realtime.SessionDeps{
		Manager:         mgr,
		Dispatcher:      disp,
		Merger:          merger,
		Typing:          typing,
		History:         historyAdapter{rest: rest},
		SelfID:          cfg.UserID,
		HistoryPageSize: cfg.HistoryPageSize,
	})
	gw := realtime.NewGateway(log, mgr, disp, rest, sess, cfg.UserID, cfg.Username)

	go sess.Run(ctx)
	go renderLoop(ctx, sess)

	mgr.Connect(ctx, cfg.Token)
	defer mgr.Disconnect()

	if err := sess.Open(ctx, target); err != nil {
		log.Info("app.open.history_unavailable", "err", err)
	}

	return inputLoop(ctx, cancel, sess, gw, target)
}

// renderLoop prints newly merged messages and rings the terminal bell on
// sound cues. The snapshot feed is the only read surface; the loop never
// touches engine state directly.
func renderLoop(ctx context.Context, sess *realtime.Session) {
	updates, cancelUpdates := sess.Updates().Subscribe()
	defer cancelUpdates()
	cues, cancelCues := sess.Cues().Subscribe()
	defer cancelCues()

	printed := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			for _, m := range snap {
				if _, ok := printed[m.ID]; ok {
					continue
				}
				printed[m.ID] = struct{}{}
				name := m.Sender.Username
				if name == "" {
					name = m.Sender.FirstName
				}
				fmt.Printf("[%s] %s: %s\n", m.DisplayTime().Local().Format("15:04"), name, m.Content)
			}
		case <-cues:
			fmt.Print("\a")
		}
	}
}

func inputLoop(ctx context.Context, cancel context.CancelFunc, sess *realtime.Session, gw *realtime.Gateway, target realtime.Target) error {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				cancel()
				return nil
			case line == "/older":
				if err := sess.LoadOlder(ctx); err != nil {
					fmt.Fprintln(os.Stderr, "load older:", err)
				}
			default:
				if err := gw.Send(ctx, target, line, realtime.SendOptions{}); err != nil {
					fmt.Fprintln(os.Stderr, "send:", err)
					continue
				}
				// Sending implies the composer is empty again.
				_ = gw.StopTyping(ctx, target)
			}
		}
	}
}
