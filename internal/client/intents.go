package client

import (
	"context"
	"fmt"

	"github.com/syncbeats/server/internal/player"
)

// applyLocal applies intent to the mirror before it is sent. The relay echoes
// the stored state to every member, the sender included, and that echo
// replaces the optimistic one; a rejection is answered with a state request.
func (c *Client) applyLocal(build func() (player.Intent, map[string]any)) (string, map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.memberId == "" {
		if c.closed {
			return "", nil, ErrRoomClosed
		}
		return "", nil, ErrNotJoined
	}

	now := c.now()
	intent, payload := build()

	next, changed, err := player.Apply(c.room.Player, intent, c.tracks, now, c.threshold)
	if err != nil {
		return "", nil, err
	}
	if changed {
		c.room.Player = next
		c.optimistic = true
		c.follow(now)
	}

	return string(intent.Kind()), payload, nil
}

func (c *Client) do(build func() (player.Intent, map[string]any)) error {
	messageType, payload, err := c.applyLocal(build)
	if err != nil {
		return err
	}

	if err := c.send(messageType, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", messageType, err)
	}

	return nil
}

func (c *Client) SetTrack(_ context.Context, index int, playing bool) error {
	return c.do(func() (player.Intent, map[string]any) {
		return player.SetTrack{Index: index, Playing: playing}, map[string]any{"track_index": index, "playing": playing}
	})
}

// TogglePlay flips playback, reporting the local position so that a pause
// lands where this listener actually is.
func (c *Client) TogglePlay(_ context.Context) error {
	return c.do(func() (player.Intent, map[string]any) {
		position := c.follower.Position(c.now())
		return player.TogglePlay{Position: &position}, map[string]any{"position": position}
	})
}

func (c *Client) Seek(_ context.Context, position float64) error {
	return c.do(func() (player.Intent, map[string]any) {
		c.follower.Seek(position, c.now())
		return player.Seek{Position: position}, map[string]any{"position": position}
	})
}

// Heartbeat reports the local position when it drifted from the mirror past
// the threshold. It reports whether a heartbeat was sent.
func (c *Client) Heartbeat(_ context.Context) (bool, error) {
	c.mu.Lock()
	if c.memberId == "" {
		c.mu.Unlock()
		return false, ErrNotJoined
	}
	position, drifted := c.follower.DriftReport(c.room.Player, c.now())
	c.mu.Unlock()

	if !drifted {
		return false, nil
	}

	// heartbeats only move the mirror once the relay accepts them
	if err := c.send(string(player.KindHeartbeat), map[string]any{"position": position}); err != nil {
		return false, fmt.Errorf("failed to send %s: %w", player.KindHeartbeat, err)
	}

	return true, nil
}

func (c *Client) Chat(_ context.Context, text string) error {
	c.mu.Lock()
	joined := c.memberId != ""
	c.mu.Unlock()

	if !joined {
		return ErrNotJoined
	}

	return c.send("CHAT", map[string]any{"text": text})
}

func (c *Client) RequestState(_ context.Context) error {
	return c.send("GET_STATE", map[string]any{})
}
