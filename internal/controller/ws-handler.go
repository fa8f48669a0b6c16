package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/syncbeats/server/internal/player"
	domain "github.com/syncbeats/server/internal/room"
	"github.com/syncbeats/server/internal/service/room"
	"github.com/syncbeats/server/pkg/validator"
	"github.com/syncbeats/server/pkg/wsrouter"
)

var ErrNotJoined = errors.New("join a room first")

type EmptyInput struct{}

func (c controller) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}

	conn := wsrouter.NewConn(ws)
	sess := &session{}
	ctx := context.WithValue(r.Context(), sessionCtxKey, sess)

	if err := c.wsmux.ServeConn(ctx, conn); err != nil {
		c.logger.InfoContext(ctx, "connection closed", "error", err)
	}

	if sess.joined() {
		c.disconnect(context.WithoutCancel(ctx), sess)
	}
}

func (c controller) disconnect(ctx context.Context, sess *session) {
	resp, err := c.roomService.DisconnectMember(ctx, &room.DisconnectMemberParams{
		RoomId:   sess.roomId,
		MemberId: sess.memberId,
	})
	if err != nil {
		// the room may already be torn down
		c.logger.DebugContext(ctx, "failed to disconnect member", "room_id", sess.roomId, "member_id", sess.memberId, "error", err)
		return
	}
	c.logger.InfoContext(ctx, "member left", "room_id", sess.roomId, "member_id", sess.memberId, "room_closed", resp.Closed)

	if resp.Closed {
		c.broadcast(ctx, resp.EvictedConns, &Output{
			Type:    "ROOM_CLOSED",
			Payload: EmptyInput{},
		})
		for _, conn := range resp.EvictedConns {
			conn.CloseWithCode(websocket.CloseNormalClosure, "room closed")
		}
		return
	}

	c.broadcast(ctx, resp.Conns, &Output{
		Type: "MEMBER_LEFT",
		Payload: MemberLeftOutput{
			MemberId: resp.Left.Id,
			Members:  resp.Members,
		},
	})

	if resp.NewHost != nil {
		c.broadcast(ctx, resp.Conns, &Output{
			Type: "HOST_CHANGED",
			Payload: HostChangedOutput{
				HostId:  resp.NewHost.Id,
				Members: resp.Members,
			},
		})
	}
}

func (c controller) handleWSError(ctx context.Context, conn *wsrouter.Conn, err error) {
	c.logger.InfoContext(ctx, "websocket message rejected", "error", err)
	if err := conn.WriteJSON(&Output{
		Type:    "ERROR",
		Payload: ErrorOutput{Msg: err.Error()},
	}); err != nil {
		c.logger.DebugContext(ctx, "failed to write error", "error", err)
	}
}

func (c controller) requireSession(ctx context.Context) (*session, error) {
	sess := c.getSessionFromCtx(ctx)
	if !sess.joined() {
		return nil, ErrNotJoined
	}

	return sess, nil
}

func (c controller) handleAlive(_ context.Context, _ *wsrouter.Conn, _ EmptyInput) error {
	return nil
}

type JoinInput struct {
	RoomId   string `json:"room_id" validate:"required,max=64"`
	Username string `json:"username" validate:"max=32"`
	Color    string `json:"color" validate:"max=32"`
}

func (c controller) handleJoin(ctx context.Context, conn *wsrouter.Conn, input JoinInput) error {
	if errs, ok := c.validate.Validate(input); !ok {
		return validator.Error(errs)
	}

	sess := c.getSessionFromCtx(ctx)
	if sess.joined() {
		return room.ErrAlreadyJoined
	}

	joinRoomResp, err := c.roomService.JoinRoom(ctx, &room.JoinRoomParams{
		RoomId:   input.RoomId,
		Username: input.Username,
		Color:    input.Color,
		Conn:     conn,
	})
	if err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			return conn.WriteJSON(&Output{
				Type:    "JOIN_ACK",
				Payload: JoinAckOutput{Ok: false, Msg: "Room full"},
			})
		}
		return fmt.Errorf("failed to join room: %w", err)
	}

	sess.roomId = input.RoomId
	sess.memberId = joinRoomResp.JoinedMember.Id
	c.logger.InfoContext(ctx, "member joined", "room_id", sess.roomId, "member_id", sess.memberId)

	if err := conn.WriteJSON(&Output{
		Type: "JOIN_ACK",
		Payload: JoinAckOutput{
			Ok:       true,
			MemberId: joinRoomResp.JoinedMember.Id,
			IsHost:   joinRoomResp.JoinedMember.IsHost,
			Room:     &joinRoomResp.Room,
		},
	}); err != nil {
		return fmt.Errorf("failed to write join ack: %w", err)
	}

	c.broadcast(ctx, joinRoomResp.Conns, &Output{
		Type: "MEMBER_JOINED",
		Payload: MemberJoinedOutput{
			Member:  joinRoomResp.JoinedMember,
			Members: joinRoomResp.Room.Members,
		},
	})

	return nil
}

func (c controller) applyIntents(ctx context.Context, intents ...player.Intent) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}

	resp, err := c.roomService.ApplyIntents(ctx, &room.ApplyIntentsParams{
		RoomId:   sess.roomId,
		SenderId: sess.memberId,
		Intents:  intents,
	})
	if err != nil {
		return fmt.Errorf("failed to apply intents: %w", err)
	}

	if !resp.Changed {
		return nil
	}

	c.broadcast(ctx, resp.Conns, &Output{
		Type: "PLAYER_UPDATED",
		Payload: PlayerUpdatedOutput{
			Player:   resp.Player,
			SenderId: sess.memberId,
		},
	})

	return nil
}

// SyncInput is the legacy partial update. Only these fields are accepted.
type SyncInput struct {
	Track   *int     `json:"track"`
	Playing *bool    `json:"playing"`
	Time    *float64 `json:"time"`
}

func (c controller) handleSync(ctx context.Context, _ *wsrouter.Conn, input SyncInput) error {
	intents, err := player.FromSync(input.Track, input.Playing, input.Time)
	if err != nil {
		return err
	}

	return c.applyIntents(ctx, intents...)
}

type SetTrackInput struct {
	TrackIndex *int  `json:"track_index" validate:"required"`
	Playing    *bool `json:"playing" validate:"required"`
}

func (c controller) handleSetTrack(ctx context.Context, _ *wsrouter.Conn, input SetTrackInput) error {
	if errs, ok := c.validate.Validate(input); !ok {
		return validator.Error(errs)
	}

	return c.applyIntents(ctx, player.SetTrack{Index: *input.TrackIndex, Playing: *input.Playing})
}

type TogglePlayInput struct {
	Position *float64 `json:"position"`
}

func (c controller) handleTogglePlay(ctx context.Context, _ *wsrouter.Conn, input TogglePlayInput) error {
	return c.applyIntents(ctx, player.TogglePlay{Position: input.Position})
}

type SeekInput struct {
	Position *float64 `json:"position" validate:"required"`
}

func (c controller) handleSeek(ctx context.Context, _ *wsrouter.Conn, input SeekInput) error {
	if errs, ok := c.validate.Validate(input); !ok {
		return validator.Error(errs)
	}

	return c.applyIntents(ctx, player.Seek{Position: *input.Position})
}

type HeartbeatInput struct {
	Position *float64 `json:"position" validate:"required"`
}

func (c controller) handleHeartbeat(ctx context.Context, _ *wsrouter.Conn, input HeartbeatInput) error {
	if errs, ok := c.validate.Validate(input); !ok {
		return validator.Error(errs)
	}

	return c.applyIntents(ctx, player.Heartbeat{Position: *input.Position})
}

type ChatInput struct {
	Text string `json:"text"`
}

func (c controller) handleChat(ctx context.Context, _ *wsrouter.Conn, input ChatInput) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}

	resp, err := c.roomService.SendChat(ctx, &room.SendChatParams{
		RoomId:   sess.roomId,
		SenderId: sess.memberId,
		Text:     input.Text,
	})
	if err != nil {
		return fmt.Errorf("failed to send chat: %w", err)
	}

	c.broadcast(ctx, resp.Conns, &Output{
		Type:    "CHAT_MESSAGE",
		Payload: ChatMessageOutput{Message: resp.Message},
	})

	return nil
}

func (c controller) handleGetState(ctx context.Context, conn *wsrouter.Conn, _ EmptyInput) error {
	sess, err := c.requireSession(ctx)
	if err != nil {
		return err
	}

	roomState, err := c.roomService.GetRoomState(ctx, sess.roomId)
	if err != nil {
		return fmt.Errorf("failed to get room state: %w", err)
	}

	return conn.WriteJSON(&Output{
		Type:    "ROOM_STATE",
		Payload: RoomStateOutput{Room: roomState},
	})
}
