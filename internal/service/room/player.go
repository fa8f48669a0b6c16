package room

import (
	"context"
	"fmt"

	"github.com/syncbeats/server/internal/player"
	"github.com/syncbeats/server/pkg/wsrouter"
)

type ApplyIntentsParams struct {
	RoomId   string
	SenderId string
	Intents  []player.Intent
}

type ApplyIntentsResponse struct {
	Player player.State
	// Changed reports whether the shared state moved. Nothing needs to be
	// broadcast otherwise.
	Changed bool
	// Conns are the connections of every member, the sender included, so
	// that optimistic mirrors settle on the stored state.
	Conns []*wsrouter.Conn
}

// ApplyIntents applies intents in order against the room's shared state. The
// batch is atomic: when one intent is rejected the room is left untouched.
func (s service) ApplyIntents(ctx context.Context, params *ApplyIntentsParams) (ApplyIntentsResponse, error) {
	unlock := s.locks.lock(params.RoomId)
	defer unlock()

	rm, err := s.getRoom(ctx, params.RoomId)
	if err != nil {
		return ApplyIntentsResponse{}, err
	}

	if _, err := s.getMember(rm, params.SenderId); err != nil {
		return ApplyIntentsResponse{}, err
	}

	if s.controlMode == ControlModeHostOnly && !rm.IsHost(params.SenderId) {
		if onlyHeartbeats(params.Intents) {
			return ApplyIntentsResponse{Player: rm.Player}, nil
		}
		return ApplyIntentsResponse{}, ErrHostOnly
	}

	now := s.now()
	state := rm.Player
	var changed bool
	for _, intent := range params.Intents {
		next, ok, err := player.Apply(state, intent, s.tracks, now, s.driftThreshold)
		if err != nil {
			return ApplyIntentsResponse{}, fmt.Errorf("failed to apply %s: %w", intent.Kind(), err)
		}
		state = next
		changed = changed || ok
	}

	// a batch may move the state and then restore it
	base := rm.Player.Snapshot(now, s.tracks.Duration(rm.Player.TrackIndex))
	if !changed || sameState(state, base) {
		return ApplyIntentsResponse{Player: rm.Player}, nil
	}

	state.Revision = rm.Player.Revision + 1
	rm.Player = state
	if err := s.roomRepo.SetRoom(ctx, rm); err != nil {
		return ApplyIntentsResponse{}, fmt.Errorf("failed to set room: %w", err)
	}

	return ApplyIntentsResponse{
		Player:  state,
		Changed: true,
		Conns:   s.getConns(rm.Members, ""),
	}, nil
}

// heartbeats of non-hosts are dropped quietly in host-only mode
func onlyHeartbeats(intents []player.Intent) bool {
	for _, intent := range intents {
		if intent.Kind() != player.KindHeartbeat {
			return false
		}
	}

	return len(intents) > 0
}

func sameState(a, b player.State) bool {
	return a.TrackIndex == b.TrackIndex && a.Position == b.Position && a.Playing == b.Playing
}
