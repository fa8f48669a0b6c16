package controller

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/syncbeats/server/internal/chat"
	"github.com/syncbeats/server/internal/player"
	domain "github.com/syncbeats/server/internal/room"
	"github.com/syncbeats/server/pkg/wsrouter"
)

const maxBroadcastGoroutines = 16

type Output struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type JoinAckOutput struct {
	Ok       bool         `json:"ok"`
	Msg      string       `json:"msg,omitempty"`
	MemberId string       `json:"member_id,omitempty"`
	IsHost   bool         `json:"is_host"`
	Room     *domain.Room `json:"room,omitempty"`
}

type MemberJoinedOutput struct {
	Member  domain.Member   `json:"member"`
	Members []domain.Member `json:"members"`
}

type MemberLeftOutput struct {
	MemberId string          `json:"member_id"`
	Members  []domain.Member `json:"members"`
}

type HostChangedOutput struct {
	HostId  string          `json:"host_id"`
	Members []domain.Member `json:"members"`
}

type PlayerUpdatedOutput struct {
	Player   player.State `json:"player"`
	SenderId string       `json:"sender_id"`
}

type ChatMessageOutput struct {
	Message chat.Message `json:"message"`
}

type RoomStateOutput struct {
	Room domain.Room `json:"room"`
}

type ErrorOutput struct {
	Msg string `json:"msg"`
}

// broadcast writes output to every conn concurrently. Failed writes are
// logged; a dead peer is cleaned up by its own read loop.
func (c controller) broadcast(ctx context.Context, conns []*wsrouter.Conn, output *Output) {
	if len(conns) == 0 {
		return
	}

	p := pool.New().WithErrors().WithMaxGoroutines(maxBroadcastGoroutines)
	for _, conn := range conns {
		p.Go(func() error {
			return conn.WriteJSON(output)
		})
	}

	if err := p.Wait(); err != nil {
		c.logger.WarnContext(ctx, "failed to broadcast", "type", output.Type, "error", err)
	}
}
