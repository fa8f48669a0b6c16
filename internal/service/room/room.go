package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	domain "github.com/syncbeats/server/internal/room"
	"github.com/syncbeats/server/pkg/wsrouter"
)

// CreateRoom returns the room with roomId, or a room in the default state
// when it does not exist. Nothing is stored until the first member joins, so
// an unjoined room is never listed.
func (s service) CreateRoom(ctx context.Context, roomId string) (domain.Room, error) {
	unlock := s.locks.lock(roomId)
	defer unlock()

	rm, err := s.getOrCreateRoom(ctx, roomId)
	if err != nil {
		return domain.Room{}, err
	}

	return s.snapshot(rm), nil
}

func (s service) getOrCreateRoom(ctx context.Context, roomId string) (*domain.Room, error) {
	rm, err := s.getRoom(ctx, roomId)
	if err == nil {
		return rm, nil
	}
	if !errors.Is(err, ErrRoomNotFound) {
		return nil, err
	}

	return domain.New(roomId, s.now()), nil
}

// GenerateRoomId returns a random room id that is not in use.
func (s service) GenerateRoomId(ctx context.Context) (string, error) {
	for range 10 {
		roomId := s.generator.GenerateRandomString(roomIdLength)
		exists, err := s.roomRepo.IsRoomExists(ctx, roomId)
		if err != nil {
			return "", fmt.Errorf("failed to check if room exists: %w", err)
		}

		if !exists {
			return roomId, nil
		}
	}

	return "", errors.New("failed to generate unused room id")
}

func (s service) GetRoomState(ctx context.Context, roomId string) (domain.Room, error) {
	unlock := s.locks.lock(roomId)
	defer unlock()

	rm, err := s.getRoom(ctx, roomId)
	if err != nil {
		return domain.Room{}, err
	}

	return s.snapshot(rm), nil
}

func (s service) GetRoomIds(ctx context.Context) ([]string, error) {
	ids, err := s.roomRepo.GetRoomIds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get room ids: %w", err)
	}

	return ids, nil
}

type JoinRoomParams struct {
	RoomId   string
	Username string
	Color    string
	Conn     *wsrouter.Conn
}

type JoinRoomResponse struct {
	JoinedMember domain.Member
	Room         domain.Room
	// Conns are the connections of the other members.
	Conns []*wsrouter.Conn
}

func (s service) JoinRoom(ctx context.Context, params *JoinRoomParams) (JoinRoomResponse, error) {
	if _, err := s.connRepo.GetMemberId(params.Conn); err == nil {
		return JoinRoomResponse{}, ErrAlreadyJoined
	}

	unlock := s.locks.lock(params.RoomId)
	defer unlock()

	rm, err := s.getOrCreateRoom(ctx, params.RoomId)
	if err != nil {
		return JoinRoomResponse{}, err
	}

	username := params.Username
	if username == "" {
		username = domain.RandomUsername()
	}
	color := params.Color
	if color == "" {
		color = domain.RandomColor()
	}

	member, err := rm.Join(domain.Member{
		Id:       uuid.NewString(),
		Username: username,
		Color:    color,
		JoinedAt: s.now().UnixMilli(),
	}, s.membersLimit)
	if err != nil {
		return JoinRoomResponse{}, err
	}

	if err := s.connRepo.Add(params.Conn, member.Id); err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to add connection: %w", err)
	}

	if err := s.roomRepo.SetRoom(ctx, rm); err != nil {
		s.connRepo.RemoveByMemberId(member.Id)
		return JoinRoomResponse{}, fmt.Errorf("failed to set room: %w", err)
	}

	return JoinRoomResponse{
		JoinedMember: member,
		Room:         s.snapshot(rm),
		Conns:        s.getConns(rm.Members, member.Id),
	}, nil
}

type DisconnectMemberParams struct {
	RoomId   string
	MemberId string
}

type DisconnectMemberResponse struct {
	Left    domain.Member
	NewHost *domain.Member
	Members []domain.Member
	// Closed reports that the room was destroyed.
	Closed bool
	// Conns are the connections of the remaining members.
	Conns []*wsrouter.Conn
	// EvictedConns are the connections of members removed by a teardown.
	EvictedConns []*wsrouter.Conn
}

func (s service) DisconnectMember(ctx context.Context, params *DisconnectMemberParams) (DisconnectMemberResponse, error) {
	unlock := s.locks.lock(params.RoomId)
	defer unlock()

	s.connRepo.RemoveByMemberId(params.MemberId)

	rm, err := s.getRoom(ctx, params.RoomId)
	if err != nil {
		return DisconnectMemberResponse{}, err
	}

	res, err := rm.Leave(params.MemberId, s.hostPolicy)
	if err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			return DisconnectMemberResponse{}, fmt.Errorf("%w: %s", ErrMemberNotFound, params.MemberId)
		}
		return DisconnectMemberResponse{}, err
	}

	resp := DisconnectMemberResponse{
		Left:    res.Left,
		NewHost: res.NewHost,
		Members: rm.Members,
		Closed:  res.Closed,
	}

	if res.Closed {
		for _, m := range res.Evicted {
			if conn, err := s.connRepo.RemoveByMemberId(m.Id); err == nil {
				resp.EvictedConns = append(resp.EvictedConns, conn)
			}
		}

		if err := s.roomRepo.RemoveRoom(ctx, rm.Id); err != nil {
			return DisconnectMemberResponse{}, fmt.Errorf("failed to remove room: %w", err)
		}

		return resp, nil
	}

	if err := s.roomRepo.SetRoom(ctx, rm); err != nil {
		return DisconnectMemberResponse{}, fmt.Errorf("failed to set room: %w", err)
	}
	resp.Conns = s.getConns(rm.Members, "")

	return resp, nil
}
