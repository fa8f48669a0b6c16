// Package mesh replicates a room between peers without a central server.
// Every peer holds a Doc replica of the room state and chat log and
// exchanges updates and presence over a Transport.
package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/syncbeats/server/internal/chat"
	"github.com/syncbeats/server/internal/player"
	domain "github.com/syncbeats/server/internal/room"
)

const (
	keyTrack   = "track"
	keyPlaying = "playing"
	keyTime    = "time"

	eventsBufferSize = 64
	leaveTimeout     = time.Second
)

type EventKind string

const (
	EventStateChanged EventKind = "STATE_CHANGED"
	EventChatMessage  EventKind = "CHAT_MESSAGE"
	EventMemberJoined EventKind = "MEMBER_JOINED"
	EventMemberLeft   EventKind = "MEMBER_LEFT"
)

// Event reports a change made by a remote peer.
type Event struct {
	Kind    EventKind
	State   player.State
	Message chat.Message
	PeerId  string
	Members []domain.Member
}

// timeValue anchors the playback position in wall time.
type timeValue struct {
	Position  float64 `json:"position"`
	UpdatedAt int64   `json:"updated_at"`
}

type syncRequest struct{}

type SessionConfig struct {
	RoomId            string
	Name              string
	Color             string
	ChatLimit         int
	Tracks            player.Tracks
	DriftThreshold    float64
	AwarenessInterval time.Duration
	AwarenessTTL      time.Duration
	Logger            *slog.Logger
}

type Session struct {
	transport Transport
	roomId    string
	name      string
	color     string
	tracks    player.Tracks
	threshold float64
	interval  time.Duration
	joinedAt  int64
	logger    *slog.Logger
	now       func() time.Time

	doc       *Doc
	awareness *Awareness

	docTopic       Topic
	awarenessTopic Topic
	syncTopic      Topic

	mu       sync.Mutex
	follower *player.Follower

	events    chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        conc.WaitGroup
	closeOnce sync.Once
}

// NewSession joins the room topics on t, announces the peer and requests a
// snapshot from the peers already in the room.
func NewSession(ctx context.Context, t Transport, cfg *SessionConfig) (*Session, error) {
	if cfg.RoomId == "" {
		return nil, errors.New("room id is required")
	}
	if cfg.Tracks == nil || cfg.Tracks.Len() == 0 {
		return nil, errors.New("tracks are required")
	}
	if cfg.Name == "" {
		cfg.Name = domain.RandomUsername()
	}
	if cfg.Color == "" {
		cfg.Color = domain.RandomColor()
	}
	if cfg.ChatLimit == 0 {
		cfg.ChatLimit = chat.DefaultLimit
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = player.DefaultDriftThreshold
	}
	if cfg.AwarenessInterval <= 0 {
		cfg.AwarenessInterval = DefaultAwarenessInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		transport: t,
		roomId:    cfg.RoomId,
		name:      cfg.Name,
		color:     cfg.Color,
		tracks:    cfg.Tracks,
		threshold: cfg.DriftThreshold,
		interval:  cfg.AwarenessInterval,
		logger:    cfg.Logger.With("room_id", cfg.RoomId, "peer_id", t.ID()),
		now:       time.Now,
		doc:       NewDoc(t.ID(), cfg.ChatLimit),
		awareness: NewAwareness(cfg.AwarenessTTL),
		follower:  player.NewFollower(cfg.DriftThreshold, time.Now()),
		events:    make(chan Event, eventsBufferSize),
	}

	var err error
	if s.docTopic, err = t.Join(getDocTopic(cfg.RoomId)); err != nil {
		return nil, err
	}
	if s.awarenessTopic, err = t.Join(getAwarenessTopic(cfg.RoomId)); err != nil {
		_ = s.docTopic.Close()
		return nil, err
	}
	if s.syncTopic, err = t.Join(getSyncReqTopic(cfg.RoomId)); err != nil {
		_ = s.docTopic.Close()
		_ = s.awarenessTopic.Close()
		return nil, err
	}

	now := s.now()
	s.joinedAt = now.UnixMilli()
	s.awareness.Update(t.ID(), s.name, s.color, s.joinedAt, now)
	st := s.state()
	s.follower.Follow(st, s.tracks.Duration(st.TrackIndex), now)

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.wg.Go(s.docLoop)
	s.wg.Go(s.awarenessLoop)
	s.wg.Go(s.syncLoop)
	s.wg.Go(s.tickLoop)
	s.wg.Go(s.disconnectLoop)

	if err := s.announce(ctx); err != nil {
		s.logger.Warn("failed to announce presence", "error", err)
	}
	if err := s.publish(ctx, s.syncTopic, syncRequest{}); err != nil {
		s.logger.Warn("failed to request snapshot", "error", err)
	}

	return s, nil
}

func (s *Session) ID() string {
	return s.transport.ID()
}

func (s *Session) RoomId() string {
	return s.roomId
}

func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the replicated playback state.
func (s *Session) State() player.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state()
}

func (s *Session) Members() []domain.Member {
	return s.awareness.Members()
}

func (s *Session) ChatLog() []chat.Message {
	entries := s.doc.Entries()
	log := make([]chat.Message, 0, len(entries))
	for _, e := range entries {
		m, err := decodeChat(e)
		if err != nil {
			s.logger.Warn("skipping malformed chat entry", "peer", e.Peer, "error", err)
			continue
		}
		log = append(log, m)
	}

	return log
}

// decodeChat reads a chat entry, refusing text that Chat would refuse.
func decodeChat(e Entry) (chat.Message, error) {
	var m chat.Message
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return chat.Message{}, err
	}

	text, err := chat.NormalizeText(m.Text)
	if err != nil {
		return chat.Message{}, err
	}
	m.Text = text

	return m, nil
}

// Room assembles the replica into the same shape the relay serves.
func (s *Session) Room() domain.Room {
	now := s.now()
	st := s.State()
	members := s.Members()

	r := domain.Room{
		Id:      s.roomId,
		Player:  st.Snapshot(now, s.tracks.Duration(st.TrackIndex)),
		Members: members,
		Chat:    s.ChatLog(),
	}
	if len(members) > 0 {
		r.HostId = members[0].Id
	}

	return r
}

// Position is the local playback position.
func (s *Session) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.follower.Position(s.now())
}

func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.follower.Playing()
}

func (s *Session) SetTrack(ctx context.Context, index int, playing bool) error {
	_, err := s.apply(ctx, player.SetTrack{Index: index, Playing: playing})
	return err
}

func (s *Session) TogglePlay(ctx context.Context) error {
	s.mu.Lock()
	position := s.follower.Position(s.now())
	s.mu.Unlock()

	_, err := s.apply(ctx, player.TogglePlay{Position: &position})
	return err
}

func (s *Session) Seek(ctx context.Context, position float64) error {
	changed, err := s.apply(ctx, player.Seek{Position: position})
	if changed {
		s.mu.Lock()
		s.follower.Seek(position, s.now())
		s.mu.Unlock()
	}

	return err
}

// Heartbeat publishes the local position when it drifted from the shared
// one past the threshold. It reports whether anything was published.
func (s *Session) Heartbeat(ctx context.Context) (bool, error) {
	s.mu.Lock()
	position, drifted := s.follower.DriftReport(s.state(), s.now())
	s.mu.Unlock()

	if !drifted {
		return false, nil
	}

	return s.apply(ctx, player.Heartbeat{Position: position})
}

func (s *Session) Chat(ctx context.Context, text string) (chat.Message, error) {
	m, err := chat.NewMessage(s.ID(), s.name, s.color, text, s.now())
	if err != nil {
		return chat.Message{}, err
	}

	update, err := s.doc.Append(m)
	if err != nil {
		return chat.Message{}, err
	}
	if err := s.publish(ctx, s.docTopic, update); err != nil {
		return m, err
	}

	return m, nil
}

// Close announces the departure and leaves the room topics. The transport
// stays open.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if perr := s.publish(ctx, s.awarenessTopic, presence{Name: s.name, Color: s.color, Leave: true}); perr != nil {
			s.logger.Debug("failed to announce leave", "error", perr)
		}

		err = errors.Join(s.docTopic.Close(), s.awarenessTopic.Close(), s.syncTopic.Close())
		close(s.events)
	})

	return err
}

// apply runs intent against the replica and publishes the registers it
// changed.
func (s *Session) apply(ctx context.Context, intent player.Intent) (bool, error) {
	s.mu.Lock()
	now := s.now()
	cur := s.state()

	next, changed, err := player.Apply(cur, intent, s.tracks, now, s.threshold)
	if err != nil || !changed {
		s.mu.Unlock()
		return false, err
	}

	update, err := s.write(cur, next)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.follower.Follow(next, s.tracks.Duration(next.TrackIndex), now)
	s.mu.Unlock()

	if err := s.publish(ctx, s.docTopic, update); err != nil {
		return true, err
	}

	return true, nil
}

func (s *Session) write(cur, next player.State) (Update, error) {
	update := Update{Registers: make(map[string]Register, 3)}

	set := func(key string, value any) error {
		u, err := s.doc.Set(key, value)
		if err != nil {
			return err
		}
		for k, r := range u.Registers {
			update.Registers[k] = r
		}
		return nil
	}

	if next.TrackIndex != cur.TrackIndex {
		if err := set(keyTrack, next.TrackIndex); err != nil {
			return Update{}, err
		}
	}
	if next.Playing != cur.Playing {
		if err := set(keyPlaying, next.Playing); err != nil {
			return Update{}, err
		}
	}
	if err := set(keyTime, timeValue{Position: next.Position, UpdatedAt: next.UpdatedAt}); err != nil {
		return Update{}, err
	}

	return update, nil
}

// state composes the registers into a State. Unset registers keep their
// defaults; a track this peer does not know falls back to the first one.
func (s *Session) state() player.State {
	var st player.State

	if _, err := s.doc.Get(keyTrack, &st.TrackIndex); err != nil {
		s.logger.Warn("malformed track register", "error", err)
	}
	if _, err := s.doc.Get(keyPlaying, &st.Playing); err != nil {
		s.logger.Warn("malformed playing register", "error", err)
	}

	var tv timeValue
	if _, err := s.doc.Get(keyTime, &tv); err != nil {
		s.logger.Warn("malformed time register", "error", err)
	}
	st.Position = tv.Position
	st.UpdatedAt = tv.UpdatedAt

	if st.TrackIndex < 0 || st.TrackIndex >= s.tracks.Len() {
		st.TrackIndex = 0
	}

	return st
}

func (s *Session) publish(ctx context.Context, t Topic, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := t.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	return nil
}

func (s *Session) announce(ctx context.Context) error {
	return s.publish(ctx, s.awarenessTopic, presence{Name: s.name, Color: s.color, JoinedAt: s.joinedAt})
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.logger.Warn("dropped event", "kind", e.Kind)
	}
}

func (s *Session) receiveFailed(err error) {
	if s.ctx.Err() != nil || errors.Is(err, ErrTransportClosed) {
		return
	}
	s.logger.Error("failed to receive message", "error", err)
}

func (s *Session) docLoop() {
	for {
		msg, err := s.docTopic.Next(s.ctx)
		if err != nil {
			s.receiveFailed(err)
			return
		}

		var update Update
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			s.logger.Warn("skipping malformed update", "from", msg.From, "error", err)
			continue
		}

		s.merge(update)
	}
}

func (s *Session) merge(update Update) {
	// invalid chat entries are never stored, so they are not relayed to
	// late joiners either
	messages := make(map[entryKey]chat.Message, len(update.Entries))
	entries := make([]Entry, 0, len(update.Entries))
	for _, e := range update.Entries {
		m, err := decodeChat(e)
		if err != nil {
			s.logger.Warn("skipping malformed chat entry", "peer", e.Peer, "error", err)
			continue
		}
		messages[entryKey{peer: e.Peer, seq: e.Seq}] = m
		entries = append(entries, e)
	}
	update.Entries = entries

	changes := s.doc.Merge(update)
	if changes.Empty() {
		return
	}

	if len(changes.Keys) > 0 {
		s.mu.Lock()
		now := s.now()
		st := s.state()
		s.follower.Follow(st, s.tracks.Duration(st.TrackIndex), now)
		s.mu.Unlock()

		s.emit(Event{Kind: EventStateChanged, State: st})
	}

	for _, e := range changes.Appended {
		s.emit(Event{Kind: EventChatMessage, Message: messages[entryKey{peer: e.Peer, seq: e.Seq}]})
	}
}

func (s *Session) awarenessLoop() {
	for {
		msg, err := s.awarenessTopic.Next(s.ctx)
		if err != nil {
			s.receiveFailed(err)
			return
		}

		var p presence
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.logger.Warn("skipping malformed presence", "from", msg.From, "error", err)
			continue
		}

		if p.Leave {
			s.removePeer(msg.From)
			continue
		}

		if !s.awareness.Update(msg.From, p.Name, p.Color, p.JoinedAt, s.now()) {
			continue
		}
		s.logger.Info("peer joined", "peer", msg.From, "name", p.Name)
		s.emit(Event{Kind: EventMemberJoined, PeerId: msg.From, Members: s.awareness.Members()})

		// A newcomer learns about this peer and its replica without waiting
		// for the next tick.
		if err := s.announce(s.ctx); err != nil {
			s.logger.Warn("failed to announce presence", "error", err)
		}
		if err := s.sendSnapshot(s.ctx); err != nil {
			s.logger.Warn("failed to send snapshot", "error", err)
		}
	}
}

func (s *Session) removePeer(peerId string) {
	if !s.awareness.Remove(peerId) {
		return
	}
	s.logger.Info("peer left", "peer", peerId)
	s.emit(Event{Kind: EventMemberLeft, PeerId: peerId, Members: s.awareness.Members()})
}

func (s *Session) syncLoop() {
	for {
		msg, err := s.syncTopic.Next(s.ctx)
		if err != nil {
			s.receiveFailed(err)
			return
		}

		s.logger.Debug("snapshot requested", "from", msg.From)
		if err := s.sendSnapshot(s.ctx); err != nil {
			s.logger.Warn("failed to send snapshot", "error", err)
		}
	}
}

func (s *Session) sendSnapshot(ctx context.Context) error {
	snapshot := s.doc.Snapshot()
	if snapshot.Empty() {
		return nil
	}

	return s.publish(ctx, s.docTopic, snapshot)
}

func (s *Session) tickLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		now := s.now()
		s.awareness.Update(s.ID(), s.name, s.color, s.joinedAt, now)
		if err := s.announce(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Warn("failed to announce presence", "error", err)
		}

		for _, peerId := range s.awareness.Expire(now, s.ID()) {
			s.logger.Info("peer expired", "peer", peerId)
			s.emit(Event{Kind: EventMemberLeft, PeerId: peerId, Members: s.awareness.Members()})
		}
	}
}

func (s *Session) disconnectLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case peerId, ok := <-s.transport.Disconnected():
			if !ok {
				return
			}
			s.removePeer(peerId)
		}
	}
}
