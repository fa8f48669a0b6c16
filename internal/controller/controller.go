package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/syncbeats/server/internal/catalog"
	domain "github.com/syncbeats/server/internal/room"
	"github.com/syncbeats/server/internal/service/room"
	"github.com/syncbeats/server/pkg/validator"
	"github.com/syncbeats/server/pkg/wsrouter"
)

type iRoomService interface {
	CreateRoom(ctx context.Context, roomId string) (domain.Room, error)
	GenerateRoomId(ctx context.Context) (string, error)
	GetRoomState(ctx context.Context, roomId string) (domain.Room, error)
	GetRoomIds(ctx context.Context) ([]string, error)
	JoinRoom(ctx context.Context, params *room.JoinRoomParams) (room.JoinRoomResponse, error)
	DisconnectMember(ctx context.Context, params *room.DisconnectMemberParams) (room.DisconnectMemberResponse, error)
	ApplyIntents(ctx context.Context, params *room.ApplyIntentsParams) (room.ApplyIntentsResponse, error)
	SendChat(ctx context.Context, params *room.SendChatParams) (room.SendChatResponse, error)
}

type iCatalog interface {
	Tracks() []catalog.Track
}

type controller struct {
	roomService iRoomService
	catalog     iCatalog
	upgrader    websocket.Upgrader
	wsmux       *wsrouter.WSRouter
	validate    *validator.Validator
	logger      *slog.Logger
}

func NewController(roomService iRoomService, catalog iCatalog, logger *slog.Logger) *controller {
	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		roomService: roomService,
		catalog:     catalog,
		validate:    validator.NewValidator(),
		logger:      logger,
	}
	c.wsmux = c.getWSRouter()

	return c
}
