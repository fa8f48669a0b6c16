package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/syncbeats/server/internal/chat"
	"github.com/syncbeats/server/internal/player"
	"github.com/syncbeats/server/internal/repository/room"
	domain "github.com/syncbeats/server/internal/room"
)

func (r repo) getRoomsKey() string {
	return "rooms"
}

func (r repo) getPlayerKey(roomId string) string {
	return "room:" + roomId + ":player"
}

func (r repo) getHostKey(roomId string) string {
	return "room:" + roomId + ":host"
}

func (r repo) getMemberListKey(roomId string) string {
	return "room:" + roomId + ":memberlist"
}

func (r repo) getMemberKey(roomId, memberId string) string {
	return "room:" + roomId + ":member:" + memberId
}

func (r repo) getChatKey(roomId string) string {
	return "room:" + roomId + ":chat"
}

func (r repo) SetRoom(ctx context.Context, rm *domain.Room) error {
	memberListKey := r.getMemberListKey(rm.Id)
	oldMemberIds, err := r.rc.ZRange(ctx, memberListKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get member list: %w", err)
	}

	pipe := r.rc.TxPipeline()

	pipe.SAdd(ctx, r.getRoomsKey(), rm.Id)
	r.hSetStruct(ctx, pipe, r.getPlayerKey(rm.Id), rm.Player)
	pipe.Set(ctx, r.getHostKey(rm.Id), rm.HostId, r.expireDuration)

	pipe.Del(ctx, memberListKey)
	for _, memberId := range oldMemberIds {
		if !slices.ContainsFunc(rm.Members, func(m domain.Member) bool { return m.Id == memberId }) {
			pipe.Del(ctx, r.getMemberKey(rm.Id, memberId))
		}
	}
	for i, m := range rm.Members {
		pipe.ZAdd(ctx, memberListKey, redis.Z{Score: float64(i), Member: m.Id})
		r.hSetStruct(ctx, pipe, r.getMemberKey(rm.Id, m.Id), room.Member{
			Username: m.Username,
			Color:    m.Color,
			IsHost:   m.IsHost,
			IsOnline: m.IsOnline,
			JoinedAt: m.JoinedAt,
		})
	}
	pipe.Expire(ctx, memberListKey, r.expireDuration)

	chatKey := r.getChatKey(rm.Id)
	pipe.Del(ctx, chatKey)
	if len(rm.Chat) > 0 {
		messages := make([]interface{}, 0, len(rm.Chat))
		for _, m := range rm.Chat {
			data, err := json.Marshal(m)
			if err != nil {
				pipe.Discard()
				return fmt.Errorf("failed to marshal chat message: %w", err)
			}
			messages = append(messages, data)
		}
		pipe.RPush(ctx, chatKey, messages...)
		pipe.Expire(ctx, chatKey, r.expireDuration)
	}

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to set room: %w", err)
	}

	return nil
}

func (r repo) IsRoomExists(ctx context.Context, roomId string) (bool, error) {
	res, err := r.rc.Exists(ctx, r.getPlayerKey(roomId)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if room exists: %w", err)
	}

	return res > 0, nil
}

func (r repo) GetRoom(ctx context.Context, roomId string) (*domain.Room, error) {
	exists, err := r.IsRoomExists(ctx, roomId)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, room.ErrRoomNotFound
	}

	var state player.State
	if err := r.rc.HGetAll(ctx, r.getPlayerKey(roomId)).Scan(&state); err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}

	hostId, err := r.rc.Get(ctx, r.getHostKey(roomId)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	members, err := r.getMembers(ctx, roomId)
	if err != nil {
		return nil, err
	}

	messages, err := r.getChat(ctx, roomId)
	if err != nil {
		return nil, err
	}

	return &domain.Room{
		Id:      roomId,
		HostId:  hostId,
		Player:  state,
		Members: members,
		Chat:    messages,
	}, nil
}

func (r repo) getMembers(ctx context.Context, roomId string) ([]domain.Member, error) {
	memberIds, err := r.rc.ZRange(ctx, r.getMemberListKey(roomId), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get member list: %w", err)
	}

	pipe := r.rc.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(memberIds))
	for _, memberId := range memberIds {
		cmds = append(cmds, pipe.HGetAll(ctx, r.getMemberKey(roomId, memberId)))
	}
	if len(cmds) > 0 {
		if err := r.executePipe(ctx, pipe); err != nil {
			return nil, fmt.Errorf("failed to get members: %w", err)
		}
	}

	members := make([]domain.Member, 0, len(memberIds))
	for i, cmd := range cmds {
		var m room.Member
		if err := cmd.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}

		members = append(members, domain.Member{
			Id:       memberIds[i],
			Username: m.Username,
			Color:    m.Color,
			IsHost:   m.IsHost,
			IsOnline: m.IsOnline,
			JoinedAt: m.JoinedAt,
		})
	}

	return members, nil
}

func (r repo) getChat(ctx context.Context, roomId string) ([]chat.Message, error) {
	raw, err := r.rc.LRange(ctx, r.getChatKey(roomId), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	messages := make([]chat.Message, 0, len(raw))
	for _, data := range raw {
		var m chat.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, nil
}

func (r repo) RemoveRoom(ctx context.Context, roomId string) error {
	memberIds, err := r.rc.ZRange(ctx, r.getMemberListKey(roomId), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get member list: %w", err)
	}

	keys := []string{
		r.getPlayerKey(roomId),
		r.getHostKey(roomId),
		r.getMemberListKey(roomId),
		r.getChatKey(roomId),
	}
	for _, memberId := range memberIds {
		keys = append(keys, r.getMemberKey(roomId, memberId))
	}

	pipe := r.rc.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.SRem(ctx, r.getRoomsKey(), roomId)
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to remove room: %w", err)
	}

	if del.Val() == 0 {
		return room.ErrRoomNotFound
	}

	return nil
}

// GetRoomIds lists the rooms whose state has not expired. Ids left in the
// rooms set by expired rooms are dropped from it.
func (r repo) GetRoomIds(ctx context.Context) ([]string, error) {
	ids, err := r.rc.SMembers(ctx, r.getRoomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get rooms: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	pipe := r.rc.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.Exists(ctx, r.getPlayerKey(id)))
	}
	if err := r.executePipe(ctx, pipe); err != nil {
		return nil, fmt.Errorf("failed to check rooms: %w", err)
	}

	live := make([]string, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			live = append(live, ids[i])
			continue
		}
		stale = append(stale, ids[i])
	}

	if len(stale) > 0 {
		if err := r.rc.SRem(ctx, r.getRoomsKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to remove expired rooms: %w", err)
		}
	}
	slices.Sort(live)

	return live, nil
}
