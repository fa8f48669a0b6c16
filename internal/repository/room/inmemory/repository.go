package inmemory

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/exp/maps"

	domain "github.com/syncbeats/server/internal/room"
	"github.com/syncbeats/server/internal/repository/room"
)

type repo struct {
	rooms map[string]*domain.Room
	mu    sync.RWMutex
}

func NewRepo() *repo {
	return &repo{
		rooms: make(map[string]*domain.Room),
	}
}

func (r *repo) GetRoom(_ context.Context, roomId string) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.rooms[roomId]
	if !ok {
		return nil, room.ErrRoomNotFound
	}

	return stored.Clone(), nil
}

func (r *repo) SetRoom(_ context.Context, rm *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms[rm.Id] = rm.Clone()

	return nil
}

func (r *repo) RemoveRoom(_ context.Context, roomId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomId]; !ok {
		return room.ErrRoomNotFound
	}
	delete(r.rooms, roomId)

	return nil
}

func (r *repo) IsRoomExists(_ context.Context, roomId string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[roomId]
	return ok, nil
}

func (r *repo) GetRoomIds(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := maps.Keys(r.rooms)
	slices.Sort(ids)

	return ids, nil
}
