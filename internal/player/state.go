package player

import (
	"math"
	"time"
)

// DefaultDriftThreshold is the divergence, in seconds, tolerated between a
// local playback position and the shared one before it is corrected.
const DefaultDriftThreshold = 2.0

// Tracks is the part of the catalog the protocol needs.
type Tracks interface {
	Len() int
	Duration(index int) float64
}

// State is the shared playback record of a room. Position is the offset at
// UpdatedAt (unix millis); while Playing it advances with wall time.
// Revision counts accepted changes so that late broadcasts can be told apart.
type State struct {
	TrackIndex int     `json:"track_index" redis:"track_index"`
	Position   float64 `json:"position" redis:"position"`
	Playing    bool    `json:"playing" redis:"playing"`
	UpdatedAt  int64   `json:"updated_at" redis:"updated_at"`
	Revision   int64   `json:"revision" redis:"revision"`
}

func NewState(now time.Time) State {
	return State{
		TrackIndex: 0,
		Position:   0,
		Playing:    false,
		UpdatedAt:  now.UnixMilli(),
	}
}

// PositionAt extrapolates the position to now and clamps it to the track.
func (s State) PositionAt(now time.Time, duration float64) float64 {
	pos := s.Position
	if s.Playing {
		if elapsed := float64(now.UnixMilli()-s.UpdatedAt) / 1000.0; elapsed > 0 {
			pos += elapsed
		}
	}

	return clamp(pos, duration)
}

// Snapshot returns the state as observed at now.
func (s State) Snapshot(now time.Time, duration float64) State {
	s.Position = s.PositionAt(now, duration)
	s.UpdatedAt = now.UnixMilli()

	return s
}

// Supersedes reports whether s is at least as recent as other.
func (s State) Supersedes(other State) bool {
	return s.Revision >= other.Revision
}

func clamp(pos, duration float64) float64 {
	if pos < 0 || math.IsNaN(pos) {
		return 0
	}
	if duration > 0 && pos > duration {
		return duration
	}

	return pos
}

func validPosition(pos float64) bool {
	return pos >= 0 && !math.IsNaN(pos) && !math.IsInf(pos, 0)
}
