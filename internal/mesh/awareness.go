package mesh

import (
	"cmp"
	"slices"
	"sync"
	"time"

	domain "github.com/syncbeats/server/internal/room"
)

const (
	DefaultAwarenessInterval = 5 * time.Second
	DefaultAwarenessTTL      = 15 * time.Second
)

// presence is the awareness record a peer broadcasts about itself.
type presence struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	JoinedAt int64  `json:"joined_at"`
	Leave    bool   `json:"leave,omitempty"`
}

type peerState struct {
	presence
	lastSeen time.Time
}

// Awareness tracks which peers are present. Entries are ephemeral: they
// expire unless refreshed within the ttl.
type Awareness struct {
	mu    sync.Mutex
	ttl   time.Duration
	peers map[string]*peerState
}

func NewAwareness(ttl time.Duration) *Awareness {
	if ttl <= 0 {
		ttl = DefaultAwarenessTTL
	}

	return &Awareness{
		ttl:   ttl,
		peers: make(map[string]*peerState),
	}
}

// Update records presence for peer and reports whether the peer is new.
// joinedAt is the join time the peer announces, in unix millis; zero means
// now. A changed name or color refreshes the entry without moving it.
func (a *Awareness) Update(peerId, name, color string, joinedAt int64, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ps, ok := a.peers[peerId]; ok {
		ps.Name = name
		ps.Color = color
		ps.lastSeen = now
		return false
	}

	if joinedAt <= 0 {
		joinedAt = now.UnixMilli()
	}
	a.peers[peerId] = &peerState{
		presence: presence{Name: name, Color: color, JoinedAt: joinedAt},
		lastSeen: now,
	}

	return true
}

func (a *Awareness) Remove(peerId string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.peers[peerId]; !ok {
		return false
	}
	delete(a.peers, peerId)

	return true
}

// Expire drops the peers not seen within the ttl and returns their ids.
// Peers listed in keep never expire.
func (a *Awareness) Expire(now time.Time, keep ...string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var expired []string
	for id, ps := range a.peers {
		if slices.Contains(keep, id) {
			continue
		}
		if now.Sub(ps.lastSeen) > a.ttl {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(a.peers, id)
	}
	slices.Sort(expired)

	return expired
}

func (a *Awareness) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.peers)
}

// Members lists present peers by join time, ties broken by peer id, so
// every peer agrees on the order.
// The first one is labelled host; the label carries no authority.
func (a *Awareness) Members() []domain.Member {
	a.mu.Lock()
	defer a.mu.Unlock()

	members := make([]domain.Member, 0, len(a.peers))
	for id, ps := range a.peers {
		members = append(members, domain.Member{
			Id:       id,
			Username: ps.Name,
			Color:    ps.Color,
			IsOnline: true,
			JoinedAt: ps.JoinedAt,
		})
	}

	slices.SortFunc(members, func(x, y domain.Member) int {
		return cmp.Or(cmp.Compare(x.JoinedAt, y.JoinedAt), cmp.Compare(x.Id, y.Id))
	})
	if len(members) > 0 {
		members[0].IsHost = true
	}

	return members
}
