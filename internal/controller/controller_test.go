package controller

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbeats/server/internal/catalog"
	"github.com/syncbeats/server/internal/player"
	"github.com/syncbeats/server/internal/repository/connection/inmemory"
	roomInmemory "github.com/syncbeats/server/internal/repository/room/inmemory"
	domain "github.com/syncbeats/server/internal/room"
	"github.com/syncbeats/server/internal/service/room"
)

type testOutput struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinAck struct {
	Ok       bool        `json:"ok"`
	Msg      string      `json:"msg"`
	MemberId string      `json:"member_id"`
	IsHost   bool        `json:"is_host"`
	Room     domain.Room `json:"room"`
}

func newTestServer(t *testing.T, cfg *room.Config) *httptest.Server {
	t.Helper()

	if cfg == nil {
		cfg = &room.Config{MembersLimit: 20, ChatLimit: 100}
	}
	cat := catalog.Default()
	service := room.NewService(roomInmemory.NewRepo(), inmemory.NewRepo(), cat, cfg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := httptest.NewServer(NewController(service, cat, logger).GetMux())
	t.Cleanup(srv.Close)

	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return ws
}

func send(t *testing.T, ws *websocket.Conn, messageType string, payload any) {
	t.Helper()

	require.NoError(t, ws.WriteJSON(map[string]any{"type": messageType, "payload": payload}))
}

func sendRaw(t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(raw)))
}

// expect reads messages until one of messageType arrives.
func expect(t *testing.T, ws *websocket.Conn, messageType string, v any) {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var out testOutput
		require.NoError(t, ws.ReadJSON(&out))
		if out.Type != messageType {
			continue
		}

		if v != nil {
			require.NoError(t, json.Unmarshal(out.Payload, v))
		}
		return
	}
}

func joinAs(t *testing.T, srv *httptest.Server, roomId, username string) (*websocket.Conn, joinAck) {
	t.Helper()

	ws := dial(t, srv)
	send(t, ws, "JOIN", map[string]any{"room_id": roomId, "username": username})

	var ack joinAck
	expect(t, ws, "JOIN_ACK", &ack)

	return ws, ack
}

func TestAliceBobTogglePlay(t *testing.T) {
	srv := newTestServer(t, nil)

	alice, aliceAck := joinAs(t, srv, "abc123", "Alice")
	require.True(t, aliceAck.Ok)
	assert.True(t, aliceAck.IsHost)
	assert.Equal(t, 0, aliceAck.Room.Player.TrackIndex)
	assert.False(t, aliceAck.Room.Player.Playing)

	bob, bobAck := joinAs(t, srv, "abc123", "Bob")
	require.True(t, bobAck.Ok)
	assert.False(t, bobAck.IsHost)
	require.Len(t, bobAck.Room.Members, 2)
	assert.Equal(t, "Alice", bobAck.Room.Members[0].Username)
	assert.Equal(t, 0, bobAck.Room.Player.TrackIndex)

	var joined MemberJoinedOutput
	expect(t, alice, "MEMBER_JOINED", &joined)
	assert.Equal(t, "Bob", joined.Member.Username)
	assert.Len(t, joined.Members, 2)

	send(t, alice, "TOGGLE_PLAY", map[string]any{})

	var updated PlayerUpdatedOutput
	expect(t, bob, "PLAYER_UPDATED", &updated)
	assert.True(t, updated.Player.Playing)
	assert.Equal(t, aliceAck.MemberId, updated.SenderId)
	assert.Equal(t, int64(1), updated.Player.Revision)

	var echo PlayerUpdatedOutput
	expect(t, alice, "PLAYER_UPDATED", &echo)
	assert.Equal(t, updated, echo)
}

func TestRoomFullOverWebsocket(t *testing.T) {
	srv := newTestServer(t, nil)

	for i := 0; i < 20; i++ {
		_, ack := joinAs(t, srv, "abc123", fmt.Sprint("user", i))
		require.True(t, ack.Ok)
	}

	_, ack := joinAs(t, srv, "abc123", "late")
	assert.False(t, ack.Ok)
	assert.Equal(t, "Room full", ack.Msg)

	resp, err := http.Get(srv.URL + "/api/v1/rooms/abc123")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Room domain.Room `json:"room"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Room.Members, 20)
}

func TestTeardownCreatesFreshRoom(t *testing.T) {
	srv := newTestServer(t, nil)

	alice, ack := joinAs(t, srv, "abc123", "Alice")
	require.True(t, ack.Ok)

	send(t, alice, "SET_TRACK", map[string]any{"track_index": 2, "playing": true})
	send(t, alice, "GET_STATE", nil)
	var state RoomStateOutput
	expect(t, alice, "ROOM_STATE", &state)
	require.Equal(t, 2, state.Room.Player.TrackIndex)

	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/v1/rooms/abc123")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 3*time.Second, 20*time.Millisecond)

	_, ack = joinAs(t, srv, "abc123", "Alice")
	require.True(t, ack.Ok)
	assert.True(t, ack.IsHost)
	assert.Equal(t, 0, ack.Room.Player.TrackIndex)
	assert.False(t, ack.Room.Player.Playing)
	assert.Len(t, ack.Room.Members, 1)
}

func TestHostLeaveTransfersHost(t *testing.T) {
	srv := newTestServer(t, nil)

	alice, _ := joinAs(t, srv, "abc123", "Alice")
	bob, bobAck := joinAs(t, srv, "abc123", "Bob")

	require.NoError(t, alice.Close())

	var left MemberLeftOutput
	expect(t, bob, "MEMBER_LEFT", &left)
	assert.Len(t, left.Members, 1)

	var changed HostChangedOutput
	expect(t, bob, "HOST_CHANGED", &changed)
	assert.Equal(t, bobAck.MemberId, changed.HostId)
	require.Len(t, changed.Members, 1)
	assert.True(t, changed.Members[0].IsHost)
}

func TestHostLeaveTeardownPolicy(t *testing.T) {
	srv := newTestServer(t, &room.Config{MembersLimit: 20, ChatLimit: 100, HostPolicy: domain.HostPolicyTeardown})

	alice, _ := joinAs(t, srv, "abc123", "Alice")
	bob, _ := joinAs(t, srv, "abc123", "Bob")

	require.NoError(t, alice.Close())
	expect(t, bob, "ROOM_CLOSED", nil)
}

func TestLegacySync(t *testing.T) {
	srv := newTestServer(t, nil)

	alice, _ := joinAs(t, srv, "abc123", "Alice")
	bob, _ := joinAs(t, srv, "abc123", "Bob")

	send(t, alice, "SYNC", map[string]any{"track": 1, "playing": true, "time": 12.5})

	var updated PlayerUpdatedOutput
	expect(t, bob, "PLAYER_UPDATED", &updated)
	assert.Equal(t, 1, updated.Player.TrackIndex)
	assert.True(t, updated.Player.Playing)
	assert.InDelta(t, 12.5, updated.Player.Position, 0.001)

	send(t, bob, "SYNC", map[string]any{"playing": false})
	expect(t, alice, "PLAYER_UPDATED", &updated)
	assert.False(t, updated.Player.Playing)
}

func TestRejectsMalformedMessages(t *testing.T) {
	srv := newTestServer(t, nil)
	ws := dial(t, srv)

	var errOut ErrorOutput
	send(t, ws, "SEEK", map[string]any{"position": 10})
	expect(t, ws, "ERROR", &errOut)
	assert.Equal(t, ErrNotJoined.Error(), errOut.Msg)

	send(t, ws, "JOIN", map[string]any{"username": "noroom"})
	expect(t, ws, "ERROR", &errOut)
	assert.Contains(t, errOut.Msg, "room_id")

	send(t, ws, "JOIN", map[string]any{"room_id": "abc123", "username": "Alice"})
	var ack joinAck
	expect(t, ws, "JOIN_ACK", &ack)
	require.True(t, ack.Ok)

	cases := []string{
		`{"type":"SYNC","payload":{"playing":"yes"}}`,
		`{"type":"SYNC","payload":{"volume":3}}`,
		`{"type":"SYNC","payload":{}}`,
		`{"type":"SEEK","payload":{"position":-4}}`,
		`{"type":"SET_TRACK","payload":{"track_index":99,"playing":true}}`,
		`{"type":"SET_TRACK","payload":{"playing":true}}`,
		`{"type":"SET_TRACK","payload":{"track_index":1}}`,
		`{"type":"SET_TRACK","payload":{}}`,
		`{"type":"DANCE","payload":{}}`,
		`not json`,
	}
	for _, raw := range cases {
		sendRaw(t, ws, raw)
		expect(t, ws, "ERROR", &errOut)
		assert.NotEmpty(t, errOut.Msg, raw)
	}

	send(t, ws, "GET_STATE", nil)
	var state RoomStateOutput
	expect(t, ws, "ROOM_STATE", &state)
	assert.Equal(t, player.NewState(time.UnixMilli(state.Room.Player.UpdatedAt)), state.Room.Player)
}

func TestChatRelay(t *testing.T) {
	srv := newTestServer(t, nil)

	alice, _ := joinAs(t, srv, "abc123", "Alice")
	bob, _ := joinAs(t, srv, "abc123", "Bob")

	send(t, alice, "CHAT", map[string]any{"text": "hello bob"})

	for _, ws := range []*websocket.Conn{alice, bob} {
		var msg ChatMessageOutput
		expect(t, ws, "CHAT_MESSAGE", &msg)
		assert.Equal(t, "hello bob", msg.Message.Text)
		assert.Equal(t, "Alice", msg.Message.SenderName)
	}
}

func TestRestEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/v1/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(srv.URL + "/api/v1/tracks")
	require.NoError(t, err)
	var tracks struct {
		Tracks []catalog.Track `json:"tracks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tracks))
	resp.Body.Close()
	require.Len(t, tracks.Tracks, 3)
	assert.Equal(t, "Midnight Drive", tracks.Tracks[0].Title)

	resp, err = http.Post(srv.URL+"/api/v1/rooms", "application/json", nil)
	require.NoError(t, err)
	var created struct {
		RoomId string `json:"room_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Regexp(t, `^[a-zA-Z0-9]{6}$`, created.RoomId)

	resp, err = http.Get(srv.URL + "/api/v1/rooms/" + created.RoomId)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	joinAs(t, srv, created.RoomId, "Alice")

	resp, err = http.Get(srv.URL + "/api/v1/rooms")
	require.NoError(t, err)
	var rooms struct {
		RoomIds []string `json:"room_ids"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	resp.Body.Close()
	assert.Equal(t, []string{created.RoomId}, rooms.RoomIds)
}
