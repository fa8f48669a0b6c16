package room

import (
	"context"
	"fmt"

	"github.com/syncbeats/server/internal/chat"
	"github.com/syncbeats/server/pkg/wsrouter"
)

type SendChatParams struct {
	RoomId   string
	SenderId string
	Text     string
}

type SendChatResponse struct {
	Message chat.Message
	// Conns are the connections of every member, the sender included.
	Conns []*wsrouter.Conn
}

func (s service) SendChat(ctx context.Context, params *SendChatParams) (SendChatResponse, error) {
	unlock := s.locks.lock(params.RoomId)
	defer unlock()

	rm, err := s.getRoom(ctx, params.RoomId)
	if err != nil {
		return SendChatResponse{}, err
	}

	sender, err := s.getMember(rm, params.SenderId)
	if err != nil {
		return SendChatResponse{}, err
	}

	msg, err := chat.NewMessage(sender.Id, sender.Username, sender.Color, params.Text, s.now())
	if err != nil {
		return SendChatResponse{}, err
	}

	rm.AppendChat(msg, s.chatLimit)
	if err := s.roomRepo.SetRoom(ctx, rm); err != nil {
		return SendChatResponse{}, fmt.Errorf("failed to set room: %w", err)
	}

	return SendChatResponse{
		Message: msg,
		Conns:   s.getConns(rm.Members, ""),
	}, nil
}
