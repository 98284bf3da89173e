package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchsync/internal/player"
	"github.com/sharetube/watchsync/internal/protocol"
	"github.com/sharetube/watchsync/internal/reconcile"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrDisconnected    = errors.New("disconnected")
)

type WatcherConfig struct {
	SessionId string
	// MediaRef, when set, creates the session before joining it.
	MediaRef         string
	Threshold        float64
	ProgressInterval time.Duration
}

type Snapshot struct {
	MediaRef string
	Playing  bool
	Position float64
	Pending  bool
}

// Watcher keeps one simulated player in sync with a session. Player and
// engine are only touched by the loop goroutine, under mu.
type Watcher struct {
	player *player.Sim
	engine *reconcile.Engine
	clock  clockwork.Clock
	logger *slog.Logger
	cfg    WatcherConfig

	mu sync.Mutex
}

func NewWatcher(p *player.Sim, clock clockwork.Clock, logger *slog.Logger, cfg WatcherConfig) *Watcher {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}

	return &Watcher{
		player: p,
		engine: reconcile.New(p, cfg.Threshold),
		clock:  clock,
		logger: logger,
		cfg:    cfg,
	}
}

func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, pending := w.engine.Desired()
	return Snapshot{
		MediaRef: w.player.MediaRef(),
		Playing:  w.player.Playing(),
		Position: w.player.CurrentTime(),
		Pending:  pending,
	}
}

// Run joins the session over c and keeps the player in sync until the user
// leaves, the session is gone, or the connection drops. Leaving returns nil.
func (w *Watcher) Run(ctx context.Context, c *Client, commands <-chan Command) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(gctx)
	})
	g.Go(func() error {
		defer c.Close()
		return w.loop(gctx, c, commands)
	})

	return g.Wait()
}

func (w *Watcher) loop(ctx context.Context, c *Client, commands <-chan Command) error {
	if err := w.enter(ctx, c); err != nil {
		return err
	}

	ticker := w.clock.NewTicker(w.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.Inbound():
			if !ok {
				return ErrDisconnected
			}
			if err := w.handleMessage(ctx, c, msg); err != nil {
				return err
			}
		case <-ticker.Chan():
			if err := w.tick(ctx, c); err != nil {
				return err
			}
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			left, err := w.handleCommand(ctx, c, cmd)
			if err != nil {
				return err
			}
			if left {
				return nil
			}
		}
	}
}

// enter (re)creates the session when a media reference is known and joins it.
// On reconnect the media currently loaded wins over the configured one.
func (w *Watcher) enter(ctx context.Context, c *Client) error {
	w.mu.Lock()
	mediaRef := w.player.MediaRef()
	w.mu.Unlock()
	if mediaRef == "" {
		mediaRef = w.cfg.MediaRef
	}

	if mediaRef != "" {
		_, err := c.Request(ctx, protocol.TypeCreateSession, protocol.CreateSessionPayload{
			SessionId: w.cfg.SessionId,
			MediaRef:  mediaRef,
		})
		switch {
		case err == nil:
			w.logger.InfoContext(ctx, "session created", "session_id", w.cfg.SessionId)
		case IsRemoteCode(err, protocol.CodeAlreadyExists):
			w.logger.DebugContext(ctx, "session already exists", "session_id", w.cfg.SessionId)
		default:
			return fmt.Errorf("failed to create session: %w", err)
		}
	}

	if err := c.Emit(protocol.TypeJoinSession, w.cfg.SessionId); err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}

	return nil
}

func (w *Watcher) handleMessage(ctx context.Context, c *Client, msg protocol.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch msg.Type {
	case protocol.TypeUpdateURL:
		var mediaRef string
		if err := json.Unmarshal(msg.Payload, &mediaRef); err != nil {
			w.logger.WarnContext(ctx, "invalid update_url payload", "error", err)
			return nil
		}

		w.logger.InfoContext(ctx, "loading media", "media_ref", mediaRef)
		w.engine.Reset()
		w.player.Load(mediaRef)

		return c.Emit(protocol.TypePlayerStateInit, nil)
	case protocol.TypeSessionNotFound:
		return ErrSessionNotFound
	case protocol.TypeStartPlayback:
		w.logger.InfoContext(ctx, "starting playback as first member")
		w.engine.ColdStart()
	case protocol.TypeSetPlayerState:
		var state protocol.PlayerState
		if err := json.Unmarshal(msg.Payload, &state); err != nil {
			w.logger.WarnContext(ctx, "invalid set_player_state payload", "error", err)
			return nil
		}

		w.logger.DebugContext(ctx, "applying session state", "playing", state.Playing, "position", state.Position)
		w.engine.Apply(state)
	case protocol.TypeError:
		w.logger.WarnContext(ctx, "server error", "error", decodeRemoteError(msg))
	default:
		w.logger.DebugContext(ctx, "ignoring message", "type", msg.Type)
	}

	return nil
}

func (w *Watcher) tick(ctx context.Context, c *Client) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.player.MediaRef() == "" {
		return nil
	}

	if w.player.Ended() {
		w.engine.OnEnded()
	}

	state, emit := w.engine.Observe(w.player.Sample())
	if !emit {
		return nil
	}

	w.logger.DebugContext(ctx, "reporting local state change", "playing", state.Playing, "position", state.Position)
	return c.Emit(protocol.TypePlayerStateChanged, state)
}

// handleCommand applies a local action. Player changes are not sent here;
// the next progress sample reports them.
func (w *Watcher) handleCommand(ctx context.Context, c *Client, cmd Command) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch cmd.Kind {
	case CommandPlay:
		w.player.SetPlaying(true)
		w.engine.OnPlayPause()
	case CommandPause:
		w.player.SetPlaying(false)
		w.engine.OnPlayPause()
	case CommandSeek:
		w.player.SeekTo(cmd.Position)
		w.engine.OnPlayPause()
	case CommandSwitchURL:
		return false, c.Emit(protocol.TypeSwitchURL, cmd.MediaRef)
	case CommandStatus:
		_, pending := w.engine.Desired()
		w.logger.InfoContext(ctx, "status",
			"session_id", w.cfg.SessionId,
			"media_ref", w.player.MediaRef(),
			"playing", w.player.Playing(),
			"position", w.player.CurrentTime(),
			"pending", pending,
		)
	case CommandLeave:
		w.engine.Reset()
		return true, c.Emit(protocol.TypeLeaveSession, w.cfg.SessionId)
	}

	return false, nil
}
