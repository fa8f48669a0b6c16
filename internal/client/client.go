// Package client is a relay consumer: it joins a room over websocket, keeps
// a mirror of the room and follows the shared playback clock.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncbeats/server/internal/chat"
	"github.com/syncbeats/server/internal/player"
	domain "github.com/syncbeats/server/internal/room"
)

var (
	ErrRoomFull     = errors.New("room full")
	ErrNotJoined    = errors.New("not joined")
	ErrJoinPending  = errors.New("join already in progress")
	ErrRoomClosed   = errors.New("room closed")
	ErrClientClosed = errors.New("client closed")
)

const eventsBufferSize = 64

type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinAck struct {
	Ok       bool        `json:"ok"`
	Msg      string      `json:"msg"`
	MemberId string      `json:"member_id"`
	IsHost   bool        `json:"is_host"`
	Room     domain.Room `json:"room"`
}

type Config struct {
	URL            string
	Tracks         player.Tracks
	DriftThreshold float64
	// ChatLimit bounds the mirrored chat log. Defaults to chat.DefaultLimit.
	ChatLimit int
	Logger    *slog.Logger
}

type Client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	tracks    player.Tracks
	threshold float64
	chatLimit int
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	room     domain.Room
	memberId string
	closed   bool
	follower *player.Follower
	pending  chan joinAck
	// optimistic is set while the mirror holds a change the relay has not
	// confirmed yet.
	optimistic bool

	events chan Event
	done   chan struct{}
}

func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	threshold := cfg.DriftThreshold
	if threshold <= 0 {
		threshold = player.DefaultDriftThreshold
	}
	chatLimit := cfg.ChatLimit
	if chatLimit <= 0 {
		chatLimit = chat.DefaultLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		ws:        ws,
		tracks:    cfg.Tracks,
		threshold: threshold,
		chatLimit: chatLimit,
		logger:    logger,
		now:       time.Now,
		follower:  player.NewFollower(threshold, time.Now()),
		events:    make(chan Event, eventsBufferSize),
		done:      make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection to the relay is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *Client) send(messageType string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}

	return c.ws.WriteJSON(map[string]any{"type": messageType, "payload": payload})
}

// Join sends a join request and waits for the acknowledgement. The wait is
// bounded by ctx only; pass a deadline to avoid hanging on a silent relay.
func (c *Client) Join(ctx context.Context, roomId, username, color string) (domain.Member, error) {
	pending := make(chan joinAck, 1)

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return domain.Member{}, ErrJoinPending
	}
	c.pending = pending
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}()

	if err := c.send("JOIN", map[string]any{"room_id": roomId, "username": username, "color": color}); err != nil {
		return domain.Member{}, fmt.Errorf("failed to send join: %w", err)
	}

	select {
	case ack := <-pending:
		if !ack.Ok {
			if ack.Msg == "Room full" {
				return domain.Member{}, ErrRoomFull
			}
			return domain.Member{}, fmt.Errorf("join rejected: %s", ack.Msg)
		}

		member, _ := ack.Room.Member(ack.MemberId)
		return member, nil
	case <-c.done:
		return domain.Member{}, ErrClientClosed
	case <-ctx.Done():
		return domain.Member{}, fmt.Errorf("failed to join room: %w", ctx.Err())
	}
}

func (c *Client) MemberId() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.memberId
}

// Room returns a copy of the mirrored room.
func (c *Client) Room() domain.Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	return *c.room.Clone()
}

// Position is the local playback position.
func (c *Client) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.follower.Position(c.now())
}

func (c *Client) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.follower.Playing()
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warn("dropping relay event", "type", e.Type)
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		var e Event
		if err := c.ws.ReadJSON(&e); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("relay read failed", "error", err)
			}
			return
		}

		resync, err := c.handle(e)
		if err != nil {
			c.logger.Warn("failed to handle relay event", "type", e.Type, "error", err)
			continue
		}
		c.emit(e)

		if resync {
			if err := c.send("GET_STATE", struct{}{}); err != nil {
				c.logger.Debug("failed to request state", "error", err)
			}
		}
	}
}

// handle applies e to the mirror. It reports whether the mirror holds a
// rejected optimistic change and must be refreshed from the relay.
func (c *Client) handle(e Event) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	switch e.Type {
	case "JOIN_ACK":
		var ack joinAck
		if err := json.Unmarshal(e.Payload, &ack); err != nil {
			return false, err
		}
		if ack.Ok {
			c.room = ack.Room
			c.memberId = ack.MemberId
			c.closed = false
			c.follow(now)
		}
		if c.pending != nil {
			c.pending <- ack
		}
	case "PLAYER_UPDATED":
		var out struct {
			Player player.State `json:"player"`
		}
		if err := json.Unmarshal(e.Payload, &out); err != nil {
			return false, err
		}
		if !out.Player.Supersedes(c.room.Player) {
			return false, nil
		}
		c.room.Player = out.Player
		c.optimistic = false
		c.follow(now)
	case "MEMBER_JOINED", "MEMBER_LEFT", "HOST_CHANGED":
		var out struct {
			HostId  string          `json:"host_id"`
			Members []domain.Member `json:"members"`
		}
		if err := json.Unmarshal(e.Payload, &out); err != nil {
			return false, err
		}
		c.room.Members = out.Members
		if out.HostId != "" {
			c.room.HostId = out.HostId
		}
	case "CHAT_MESSAGE":
		var out struct {
			Message chat.Message `json:"message"`
		}
		if err := json.Unmarshal(e.Payload, &out); err != nil {
			return false, err
		}
		c.room.Chat = chat.Append(c.room.Chat, out.Message, c.chatLimit)
	case "ROOM_STATE":
		var out struct {
			Room domain.Room `json:"room"`
		}
		if err := json.Unmarshal(e.Payload, &out); err != nil {
			return false, err
		}
		if !out.Room.Player.Supersedes(c.room.Player) {
			out.Room.Player = c.room.Player
		}
		c.room = out.Room
		c.optimistic = false
		c.follow(now)
	case "ERROR":
		if c.optimistic {
			c.optimistic = false
			return c.memberId != "", nil
		}
	case "ROOM_CLOSED":
		c.closed = true
		c.memberId = ""
	}

	return false, nil
}

// follow runs one render cycle of the local clock against the mirror.
func (c *Client) follow(now time.Time) {
	c.follower.Follow(c.room.Player, c.tracks.Duration(c.room.Player.TrackIndex), now)
}
