package room

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/syncbeats/server/internal/chat"
	"github.com/syncbeats/server/internal/player"
)

var (
	ErrRoomFull       = errors.New("room full")
	ErrMemberNotFound = errors.New("member not found")
	ErrMemberExists   = errors.New("member already exists")
)

// HostPolicy decides what happens to a room when its host leaves.
type HostPolicy string

const (
	// HostPolicyTransfer promotes the next-oldest member.
	HostPolicyTransfer HostPolicy = "transfer"
	// HostPolicyTeardown closes the room for everyone.
	HostPolicyTeardown HostPolicy = "teardown"
)

func (p HostPolicy) Valid() bool {
	return p == HostPolicyTransfer || p == HostPolicyTeardown
}

type Member struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
	IsHost   bool   `json:"is_host"`
	IsOnline bool   `json:"is_online"`
	JoinedAt int64  `json:"joined_at"`
}

// Room is a synchronization context. It is not safe for concurrent use; the
// owner serializes access.
type Room struct {
	Id      string         `json:"room_id"`
	HostId  string         `json:"host_id"`
	Player  player.State   `json:"player"`
	Members []Member       `json:"members"`
	Chat    []chat.Message `json:"chat"`
}

func New(id string, now time.Time) *Room {
	return &Room{
		Id:      id,
		Player:  player.NewState(now),
		Members: []Member{},
		Chat:    []chat.Message{},
	}
}

func (r *Room) Len() int {
	return len(r.Members)
}

func (r *Room) IsEmpty() bool {
	return len(r.Members) == 0
}

func (r *Room) index(memberId string) int {
	return slices.IndexFunc(r.Members, func(m Member) bool { return m.Id == memberId })
}

func (r *Room) Member(memberId string) (Member, bool) {
	i := r.index(memberId)
	if i < 0 {
		return Member{}, false
	}

	return r.Members[i], true
}

func (r *Room) IsHost(memberId string) bool {
	return r.HostId != "" && r.HostId == memberId
}

// Join appends m in join order. A non-positive limit disables the capacity
// check. The first member of an empty room becomes host.
func (r *Room) Join(m Member, limit int) (Member, error) {
	if r.index(m.Id) >= 0 {
		return Member{}, fmt.Errorf("%w: %s", ErrMemberExists, m.Id)
	}
	if limit > 0 && len(r.Members) >= limit {
		return Member{}, ErrRoomFull
	}

	m.IsOnline = true
	m.IsHost = len(r.Members) == 0
	if m.IsHost {
		r.HostId = m.Id
	}
	r.Members = append(r.Members, m)

	return m, nil
}

type LeaveResult struct {
	Left Member
	// NewHost is set when host status moved to another member.
	NewHost *Member
	// Closed reports that the room must be destroyed.
	Closed bool
	// Evicted lists members removed because the room was torn down.
	Evicted []Member
}

func (r *Room) Leave(memberId string, policy HostPolicy) (LeaveResult, error) {
	i := r.index(memberId)
	if i < 0 {
		return LeaveResult{}, ErrMemberNotFound
	}

	left := r.Members[i]
	r.Members = slices.Delete(r.Members, i, i+1)
	res := LeaveResult{Left: left}

	if len(r.Members) == 0 {
		r.HostId = ""
		res.Closed = true
		return res, nil
	}

	if !left.IsHost {
		return res, nil
	}

	if policy == HostPolicyTeardown {
		res.Evicted = r.Members
		r.Members = []Member{}
		r.HostId = ""
		res.Closed = true
		return res, nil
	}

	// members are in join order, so the first one is the next-oldest
	r.Members[0].IsHost = true
	r.HostId = r.Members[0].Id
	newHost := r.Members[0]
	res.NewHost = &newHost

	return res, nil
}

func (r *Room) AppendChat(m chat.Message, limit int) {
	r.Chat = chat.Append(r.Chat, m, limit)
}

func (r *Room) Clone() *Room {
	c := *r
	c.Members = append([]Member{}, r.Members...)
	c.Chat = append([]chat.Message{}, r.Chat...)

	return &c
}

// Snapshot returns a deep copy with the player position extrapolated to now.
func (r *Room) Snapshot(now time.Time, duration float64) Room {
	c := r.Clone()
	c.Player = r.Player.Snapshot(now, duration)

	return *c
}

func RandomColor() string {
	return fmt.Sprintf("hsl(%d,70%%,60%%)", rand.IntN(360))
}

func RandomUsername() string {
	return fmt.Sprintf("Anon%d", rand.IntN(100))
}
