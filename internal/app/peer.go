package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/syncbeats/server/internal/catalog"
	"github.com/syncbeats/server/internal/client"
	"github.com/syncbeats/server/internal/mesh"
	domain "github.com/syncbeats/server/internal/room"
)

const (
	DefaultPeerRoom   = "syncbeats-public"
	heartbeatInterval = time.Second
	joinTimeout       = 10 * time.Second
)

type PeerConfig struct {
	Room        string   `json:"room"`
	Name        string   `json:"name"`
	Color       string   `json:"color"`
	ListenPort  int      `json:"listen_port"`
	Bootstrap   []string `json:"bootstrap"`
	Relay       string   `json:"relay"`
	LogLevel    string   `json:"log_level"`
	ChatLimit   int      `json:"chat_limit"`
	CatalogPath string   `json:"catalog_path"`
}

func (cfg *PeerConfig) Validate() error {
	return validation.ValidateStruct(cfg,
		validation.Field(&cfg.Room, validation.Required, validation.Length(1, 64)),
		validation.Field(&cfg.ListenPort, validation.Min(0), validation.Max(65535)),
		validation.Field(&cfg.ChatLimit, validation.Required, validation.Min(1)),
		validation.Field(&cfg.Bootstrap, validation.When(cfg.Relay == "", validation.By(func(value any) error {
			addrs, _ := value.([]string)
			_, err := mesh.ParseBootstrap(addrs)
			return err
		}))),
		validation.Field(&cfg.LogLevel, LogLevelRule...),
	)
}

// listener is what the command loop drives: a mesh session or a relay
// client.
type listener interface {
	SetTrack(ctx context.Context, index int, playing bool) error
	TogglePlay(ctx context.Context) error
	Seek(ctx context.Context, position float64) error
	Heartbeat(ctx context.Context) (bool, error)
	Chat(ctx context.Context, text string) error
	Room() domain.Room
	Position() float64
}

type meshListener struct {
	*mesh.Session
}

func (l meshListener) Chat(ctx context.Context, text string) error {
	_, err := l.Session.Chat(ctx, text)
	return err
}

// RunPeer joins a room as a listener and drives it from commands read on
// in until in is exhausted or the process is signalled.
func RunPeer(ctx context.Context, cfg *PeerConfig, in io.Reader, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	tracks, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Relay != "" {
		return runRelayPeer(ctx, cfg, tracks, logger, in, out)
	}

	return runMeshPeer(ctx, cfg, tracks, logger, in, out)
}

func runMeshPeer(ctx context.Context, cfg *PeerConfig, tracks *catalog.Catalog, logger *slog.Logger, in io.Reader, out io.Writer) error {
	node, err := mesh.NewNode(ctx, mesh.NodeConfig{
		ListenPort: cfg.ListenPort,
		Bootstrap:  cfg.Bootstrap,
		LogLevel:   "error",
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer node.Close()

	logger.InfoContext(ctx, "peer node started", "peer_id", node.ID(), "addrs", node.Addrs())

	session, err := mesh.NewSession(ctx, node, &mesh.SessionConfig{
		RoomId:    cfg.Room,
		Name:      cfg.Name,
		Color:     cfg.Color,
		ChatLimit: cfg.ChatLimit,
		Tracks:    tracks,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	go func() {
		for e := range session.Events() {
			printMeshEvent(out, tracks, e)
		}
	}()

	return commandLoop(ctx, meshListener{session}, tracks, logger, in, out)
}

func runRelayPeer(ctx context.Context, cfg *PeerConfig, tracks *catalog.Catalog, logger *slog.Logger, in io.Reader, out io.Writer) error {
	c, err := client.Dial(ctx, &client.Config{
		URL:       cfg.Relay,
		Tracks:    tracks,
		ChatLimit: cfg.ChatLimit,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	member, err := c.Join(joinCtx, cfg.Room, cfg.Name, cfg.Color)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to join room %s: %w", cfg.Room, err)
	}
	fmt.Fprintf(out, "joined %s as %s (host: %t)\n", cfg.Room, member.Username, member.IsHost)

	go func() {
		for e := range c.Events() {
			fmt.Fprintf(out, "< %s %s\n", e.Type, e.Payload)
		}
	}()

	ctx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	go func() {
		select {
		case <-c.Done():
			cancelLoop()
		case <-ctx.Done():
		}
	}()

	return commandLoop(ctx, c, tracks, logger, in, out)
}

func printMeshEvent(out io.Writer, tracks *catalog.Catalog, e mesh.Event) {
	switch e.Kind {
	case mesh.EventStateChanged:
		title := ""
		if t, err := tracks.Get(e.State.TrackIndex); err == nil {
			title = t.Title
		}
		fmt.Fprintf(out, "< now %q at %.1fs playing=%t\n", title, e.State.Position, e.State.Playing)
	case mesh.EventChatMessage:
		fmt.Fprintf(out, "< %s: %s\n", e.Message.SenderName, e.Message.Text)
	case mesh.EventMemberJoined, mesh.EventMemberLeft:
		fmt.Fprintf(out, "< %s %s (%d listening)\n", e.Kind, e.PeerId, len(e.Members))
	}
}

func commandLoop(ctx context.Context, l listener, tracks *catalog.Catalog, logger *slog.Logger, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := l.Heartbeat(ctx); err != nil {
				logger.WarnContext(ctx, "failed to send heartbeat", "error", err)
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := runCommand(ctx, l, tracks, out, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

var errUsage = errors.New("commands: play, track <n>, seek <sec>, chat <text>, state, members, tracks, quit")

// runCommand executes one input line. It reports whether the loop should
// stop.
func runCommand(ctx context.Context, l listener, tracks *catalog.Catalog, out io.Writer, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "play", "pause", "toggle":
		return false, l.TogglePlay(ctx)
	case "track":
		i, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("invalid track index %q", arg)
		}
		return false, l.SetTrack(ctx, i, true)
	case "seek":
		pos, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return false, fmt.Errorf("invalid position %q", arg)
		}
		return false, l.Seek(ctx, pos)
	case "chat":
		return false, l.Chat(ctx, arg)
	case "state":
		r := l.Room()
		title := ""
		if t, err := tracks.Get(r.Player.TrackIndex); err == nil {
			title = t.Title
		}
		fmt.Fprintf(out, "%q at %.1fs playing=%t (local %.1fs)\n", title, r.Player.Position, r.Player.Playing, l.Position())
		return false, nil
	case "members":
		for _, m := range l.Room().Members {
			host := ""
			if m.IsHost {
				host = " (host)"
			}
			fmt.Fprintf(out, "%s %s%s\n", m.Id, m.Username, host)
		}
		return false, nil
	case "tracks":
		for i, t := range tracks.Tracks() {
			fmt.Fprintf(out, "%d. %s - %s (%.0fs)\n", i, t.Artist, t.Title, t.Duration)
		}
		return false, nil
	default:
		return false, errUsage
	}
}
