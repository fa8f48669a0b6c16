package room

import (
	"context"
	"errors"
	"time"

	"github.com/syncbeats/server/internal/player"
	domain "github.com/syncbeats/server/internal/room"
	"github.com/syncbeats/server/pkg/randstr"
	"github.com/syncbeats/server/pkg/wsrouter"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrMemberNotFound = errors.New("member not found")
	ErrHostOnly       = errors.New("only the host can control playback")
	ErrAlreadyJoined  = errors.New("connection already joined a room")
)

type ControlMode string

const (
	// ControlModeOpen lets any member drive playback.
	ControlModeOpen ControlMode = "open"
	// ControlModeHostOnly applies playback intents of the host only.
	ControlModeHostOnly ControlMode = "host-only"
)

func (m ControlMode) Valid() bool {
	return m == ControlModeOpen || m == ControlModeHostOnly
}

const roomIdLength = 6

type iRoomRepo interface {
	GetRoom(ctx context.Context, roomId string) (*domain.Room, error)
	SetRoom(ctx context.Context, room *domain.Room) error
	RemoveRoom(ctx context.Context, roomId string) error
	IsRoomExists(ctx context.Context, roomId string) (bool, error)
	GetRoomIds(ctx context.Context) ([]string, error)
}

type iConnRepo interface {
	Add(conn *wsrouter.Conn, memberId string) error
	RemoveByMemberId(memberId string) (*wsrouter.Conn, error)
	GetConn(memberId string) (*wsrouter.Conn, error)
	GetMemberId(conn *wsrouter.Conn) (string, error)
}

type iGenerator interface {
	GenerateRandomString(length int) string
}

type Config struct {
	MembersLimit   int
	ChatLimit      int
	ControlMode    ControlMode
	HostPolicy     domain.HostPolicy
	DriftThreshold time.Duration
}

type service struct {
	roomRepo       iRoomRepo
	connRepo       iConnRepo
	generator      iGenerator
	tracks         player.Tracks
	locks          *keyedMutex
	now            func() time.Time
	membersLimit   int
	chatLimit      int
	controlMode    ControlMode
	hostPolicy     domain.HostPolicy
	driftThreshold float64
}

func NewService(roomRepo iRoomRepo, connRepo iConnRepo, tracks player.Tracks, cfg *Config) *service {
	s := service{
		roomRepo:       roomRepo,
		connRepo:       connRepo,
		tracks:         tracks,
		locks:          newKeyedMutex(),
		now:            time.Now,
		membersLimit:   cfg.MembersLimit,
		chatLimit:      cfg.ChatLimit,
		controlMode:    cfg.ControlMode,
		hostPolicy:     cfg.HostPolicy,
		driftThreshold: cfg.DriftThreshold.Seconds(),
	}

	if s.controlMode == "" {
		s.controlMode = ControlModeOpen
	}
	if s.hostPolicy == "" {
		s.hostPolicy = domain.HostPolicyTransfer
	}
	if s.driftThreshold <= 0 {
		s.driftThreshold = player.DefaultDriftThreshold
	}

	letterBytes := []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	s.generator = randstr.New(letterBytes)

	return &s
}

func (s service) DriftThreshold() float64 {
	return s.driftThreshold
}
