package player

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownTrack    = errors.New("unknown track")
	ErrInvalidPosition = errors.New("invalid position")
)

type Kind string

const (
	KindSetTrack   Kind = "SET_TRACK"
	KindTogglePlay Kind = "TOGGLE_PLAY"
	KindSetPlaying Kind = "SET_PLAYING"
	KindSeek       Kind = "SEEK"
	KindHeartbeat  Kind = "HEARTBEAT"
)

// Intent is a requested state transition. The set of intents is closed.
type Intent interface {
	Kind() Kind
	apply(base State, tracks Tracks, threshold float64) (State, error)
}

// SetTrack switches to the track at Index and restarts it from 0.
type SetTrack struct {
	Index   int
	Playing bool
}

// TogglePlay flips the playing flag. Position, when set, is the sender's
// local position at the moment of the toggle.
type TogglePlay struct {
	Position *float64
}

// SetPlaying sets the playing flag to an absolute value.
type SetPlaying struct {
	Playing  bool
	Position *float64
}

type Seek struct {
	Position float64
}

// Heartbeat is the periodic position report of a playing client. It only
// moves the shared position when it drifted past the threshold.
type Heartbeat struct {
	Position float64
}

func (SetTrack) Kind() Kind   { return KindSetTrack }
func (TogglePlay) Kind() Kind { return KindTogglePlay }
func (SetPlaying) Kind() Kind { return KindSetPlaying }
func (Seek) Kind() Kind       { return KindSeek }
func (Heartbeat) Kind() Kind  { return KindHeartbeat }

func (i SetTrack) apply(base State, tracks Tracks, _ float64) (State, error) {
	if i.Index < 0 || i.Index >= tracks.Len() {
		return State{}, fmt.Errorf("%w: index %d", ErrUnknownTrack, i.Index)
	}

	base.TrackIndex = i.Index
	base.Position = 0
	base.Playing = i.Playing

	return base, nil
}

func (i TogglePlay) apply(base State, tracks Tracks, _ float64) (State, error) {
	if i.Position != nil {
		if !validPosition(*i.Position) {
			return State{}, ErrInvalidPosition
		}
		base.Position = clamp(*i.Position, tracks.Duration(base.TrackIndex))
	}
	base.Playing = !base.Playing

	return base, nil
}

func (i SetPlaying) apply(base State, tracks Tracks, _ float64) (State, error) {
	if i.Position != nil {
		if !validPosition(*i.Position) {
			return State{}, ErrInvalidPosition
		}
		base.Position = clamp(*i.Position, tracks.Duration(base.TrackIndex))
	}
	base.Playing = i.Playing

	return base, nil
}

func (i Seek) apply(base State, tracks Tracks, _ float64) (State, error) {
	if !validPosition(i.Position) {
		return State{}, ErrInvalidPosition
	}
	base.Position = clamp(i.Position, tracks.Duration(base.TrackIndex))

	return base, nil
}

func (i Heartbeat) apply(base State, tracks Tracks, threshold float64) (State, error) {
	if !validPosition(i.Position) {
		return State{}, ErrInvalidPosition
	}
	if !base.Playing {
		return base, errUnchanged
	}

	reported := clamp(i.Position, tracks.Duration(base.TrackIndex))
	if _, drifted := Reconcile(base.Position, reported, threshold); !drifted {
		return base, errUnchanged
	}
	base.Position = reported

	return base, nil
}

var errUnchanged = errors.New("unchanged")

// Apply applies intent to s as of now. The current position is first
// extrapolated to now, so a pause records where playback actually was.
// The returned flag reports whether track, position or playing changed;
// when none did, s is returned untouched, which makes every intent except
// TogglePlay idempotent.
func Apply(s State, intent Intent, tracks Tracks, now time.Time, threshold float64) (State, bool, error) {
	base := s.Snapshot(now, tracks.Duration(s.TrackIndex))

	next, err := intent.apply(base, tracks, threshold)
	if errors.Is(err, errUnchanged) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}

	if next.TrackIndex == base.TrackIndex && next.Position == base.Position && next.Playing == base.Playing {
		return s, false, nil
	}

	return next, true, nil
}
