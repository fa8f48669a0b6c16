package player

import (
	"math"
	"time"
)

// Reconcile returns shared when local drifted from it by more than
// threshold seconds, and local otherwise. Small skew is left alone so that
// clients do not keep resyncing each other.
func Reconcile(local, shared, threshold float64) (float64, bool) {
	if math.Abs(local-shared) > threshold {
		return shared, true
	}

	return local, false
}

// Follower is a local playback clock following a shared State. It is not
// safe for concurrent use.
type Follower struct {
	threshold  float64
	trackIndex int
	duration   float64
	position   float64
	playing    bool
	lastTick   time.Time
}

func NewFollower(threshold float64, now time.Time) *Follower {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}

	return &Follower{
		threshold: threshold,
		lastTick:  now,
	}
}

// Tick advances the local position by the time elapsed since the last tick.
func (f *Follower) Tick(now time.Time) {
	if f.playing {
		if elapsed := now.Sub(f.lastTick).Seconds(); elapsed > 0 {
			f.position = clamp(f.position+elapsed, f.duration)
		}
	}
	f.lastTick = now
}

func (f *Follower) Position(now time.Time) float64 {
	f.Tick(now)
	return f.position
}

func (f *Follower) Playing() bool {
	return f.playing
}

func (f *Follower) TrackIndex() int {
	return f.trackIndex
}

// Follow applies a shared state; this is one render cycle. A track change
// always loads the new track at the shared position. Otherwise the local
// position snaps to the shared one only when the drift exceeds the
// threshold. It reports whether the position was snapped.
func (f *Follower) Follow(shared State, duration float64, now time.Time) bool {
	f.Tick(now)

	sharedPos := shared.PositionAt(now, duration)
	f.playing = shared.Playing

	if shared.TrackIndex != f.trackIndex || duration != f.duration {
		f.trackIndex = shared.TrackIndex
		f.duration = duration
		f.position = sharedPos
		return true
	}

	var snapped bool
	f.position, snapped = Reconcile(f.position, sharedPos, f.threshold)

	return snapped
}

// DriftReport returns the local position when it drifted from shared far
// enough to be worth broadcasting as a heartbeat.
func (f *Follower) DriftReport(shared State, now time.Time) (float64, bool) {
	f.Tick(now)

	if !f.playing || shared.TrackIndex != f.trackIndex {
		return 0, false
	}

	if _, drifted := Reconcile(f.position, shared.PositionAt(now, f.duration), f.threshold); !drifted {
		return 0, false
	}

	return f.position, true
}

// Seek moves the local position, e.g. when the local user scrubs.
func (f *Follower) Seek(position float64, now time.Time) {
	f.Tick(now)
	f.position = clamp(position, f.duration)
}

// Stall freezes the local clock for d, simulating a buffering player.
func (f *Follower) Stall(d time.Duration) {
	f.lastTick = f.lastTick.Add(d)
}
