package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	repo "github.com/syncbeats/server/internal/repository/room"
	domain "github.com/syncbeats/server/internal/room"
	"github.com/syncbeats/server/pkg/wsrouter"
)

// keyedMutex serializes operations per room id. Entries are dropped once no
// goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (s service) getRoom(ctx context.Context, roomId string) (*domain.Room, error) {
	rm, err := s.roomRepo.GetRoom(ctx, roomId)
	if err != nil {
		if errors.Is(err, repo.ErrRoomNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomId)
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	return rm, nil
}

func (s service) getMember(rm *domain.Room, memberId string) (domain.Member, error) {
	m, ok := rm.Member(memberId)
	if !ok {
		return domain.Member{}, fmt.Errorf("%w: %s", ErrMemberNotFound, memberId)
	}

	return m, nil
}

// getConns returns the connections of every member in order, skipping
// exceptId and members without a live connection.
func (s service) getConns(members []domain.Member, exceptId string) []*wsrouter.Conn {
	conns := make([]*wsrouter.Conn, 0, len(members))
	for _, m := range members {
		if m.Id == exceptId {
			continue
		}

		conn, err := s.connRepo.GetConn(m.Id)
		if err != nil {
			continue
		}
		conns = append(conns, conn)
	}

	return conns
}

func (s service) snapshot(rm *domain.Room) domain.Room {
	return rm.Snapshot(s.now(), s.tracks.Duration(rm.Player.TrackIndex))
}
