package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatterd/internal/model"
	"github.com/johndosdos/chatterd/internal/queue"
	"github.com/johndosdos/chatterd/internal/status"
)

type call struct {
	name string
	room model.RoomID
	p    model.Participant
	text string
}

type fakeCoordinator struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeCoordinator) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeCoordinator) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.name)
	}
	return out
}

func (f *fakeCoordinator) Connect(_ context.Context, _ model.SiteID, p model.Participant, _ string) ([]queue.QueuedMessage, error) {
	f.record(call{name: "connect", p: p})
	return nil, nil
}

func (f *fakeCoordinator) Disconnect(_ context.Context, _ model.SiteID, p model.Participant, _ string) {
	f.record(call{name: "disconnect", p: p})
}

func (f *fakeCoordinator) MessageSent(_ context.Context, msg model.Message) (status.Record, error) {
	f.record(call{name: "send", room: msg.Room, p: msg.Sender, text: msg.Content})
	return status.Record{}, nil
}

func (f *fakeCoordinator) ReadReceipt(_ context.Context, _ model.SiteID, _ uuid.UUID, reader model.Participant) (status.Record, error) {
	f.record(call{name: "read", p: reader})
	return status.Record{}, status.ErrNotFound
}

func (f *fakeCoordinator) TypingStart(_ context.Context, _ model.SiteID, room model.RoomID, p model.Participant, _, _ string) {
	f.record(call{name: "typing:start", room: room, p: p})
}

func (f *fakeCoordinator) TypingStop(_ context.Context, _ model.SiteID, room model.RoomID, p model.Participant) {
	f.record(call{name: "typing:stop", room: room, p: p})
}

func (f *fakeCoordinator) TypingPreview(_ context.Context, _ model.SiteID, room model.RoomID, p model.Participant, _, content string) {
	f.record(call{name: "typing:preview", room: room, p: p, text: content})
}

var (
	emp = model.Participant{Kind: model.Employee, ID: "1"}
	app = model.Participant{Kind: model.Applicant, ID: "2"}
)

// newTestServer serves sessions whose identity comes from the "as" and
// "site" query parameters. The site defaults to site_a.
func newTestServer(t *testing.T, coord Coordinator) (*Hub, *httptest.Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := model.ParseParticipant(r.URL.Query().Get("as"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		site := model.SiteID(r.URL.Query().Get("site"))
		if site == "" {
			site = "site_a"
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(conn, hub, site, p, p.ID, "")
		c.SetTypingLimiter(2, time.Minute)
		_ = c.Serve(r.Context(), coord)
	}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, p model.Participant) *websocket.Conn {
	t.Helper()
	return dialSite(t, srv, "site_a", p)
}

func dialSite(t *testing.T, srv *httptest.Server, site model.SiteID, p model.Participant) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"?as="+p.String()+"&site="+string(site), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func command(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	b, err := json.Marshal(map[string]any{"type": typ, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, b))
}

func readEvent(t *testing.T, conn *websocket.Conn) model.RawEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, b, err := conn.Read(ctx)
	require.NoError(t, err)

	var ev model.RawEvent
	require.NoError(t, json.Unmarshal(b, &ev))
	return ev
}

func waitCalls(t *testing.T, f *fakeCoordinator, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, f.names())
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBroadcastReachesRoomMembers(t *testing.T) {
	coord := &fakeCoordinator{}
	hub, srv := newTestServer(t, coord)
	ctx := context.Background()

	a := dial(t, srv, emp)
	b := dial(t, srv, app)
	waitCalls(t, coord, "connect", "connect")

	command(t, a, CmdRoomJoin, map[string]string{"room": "room_1"})
	command(t, b, CmdRoomJoin, map[string]string{"room": "channel_9"})

	// Joins are processed asynchronously; a typing stop round-trips through
	// the reader so both joins have reached the hub afterwards.
	command(t, a, CmdTypingStop, map[string]string{"room": "room_1"})
	command(t, b, CmdTypingStop, map[string]string{"room": "channel_9"})
	waitCalls(t, coord, "connect", "connect", "typing:stop", "typing:stop")

	require.NoError(t, hub.BroadcastToRoom(ctx, "site_a", "room_1", model.Event{Type: model.EventMessageNew, Data: "to room"}))
	require.NoError(t, hub.BroadcastToChannel(ctx, "site_a", "9", model.Event{Type: model.EventMessageNew, Data: "to channel"}))

	ev := readEvent(t, a)
	assert.Equal(t, model.EventMessageNew, ev.Type)
	assert.JSONEq(t, `"to room"`, string(ev.Data))

	ev = readEvent(t, b)
	assert.JSONEq(t, `"to channel"`, string(ev.Data))
}

func TestRoomsAreScopedBySite(t *testing.T) {
	coord := &fakeCoordinator{}
	hub, srv := newTestServer(t, coord)
	ctx := context.Background()

	a := dialSite(t, srv, "site_a", emp)
	b := dialSite(t, srv, "site_b", emp)
	waitCalls(t, coord, "connect", "connect")

	command(t, a, CmdRoomJoin, map[string]string{"room": "room_1"})
	command(t, b, CmdRoomJoin, map[string]string{"room": "room_1"})
	command(t, a, CmdTypingStop, map[string]string{"room": "room_1"})
	command(t, b, CmdTypingStop, map[string]string{"room": "room_1"})
	waitCalls(t, coord, "connect", "connect", "typing:stop", "typing:stop")

	require.NoError(t, hub.BroadcastToRoom(ctx, "site_a", "room_1", model.Event{Type: model.EventMessageNew, Data: "for a"}))
	require.NoError(t, hub.BroadcastToRoom(ctx, "site_b", "room_1", model.Event{Type: model.EventMessageNew, Data: "for b"}))

	// Each session sees its own site's event first and nothing from the
	// other site.
	assert.JSONEq(t, `"for a"`, string(readEvent(t, a).Data))
	assert.JSONEq(t, `"for b"`, string(readEvent(t, b).Data))

	require.NoError(t, hub.BroadcastToRoom(ctx, "site_b", "room_1", model.Event{Type: model.EventMessageNew, Data: "other site"}))
	require.NoError(t, hub.BroadcastToRoom(ctx, "site_a", model.SiteRoom("site_a"), model.Event{Type: model.EventPresence, Data: "marker"}))
	ev := readEvent(t, a)
	assert.Equal(t, model.EventPresence, ev.Type)
	assert.JSONEq(t, `"marker"`, string(ev.Data))
}

func TestSessionsJoinSiteAndInboxRooms(t *testing.T) {
	coord := &fakeCoordinator{}
	hub, srv := newTestServer(t, coord)
	ctx := context.Background()

	a := dial(t, srv, app)
	waitCalls(t, coord, "connect")

	require.NoError(t, hub.BroadcastToRoom(ctx, "site_a", model.InboxRoom("site_a", app), model.Event{Type: model.EventQueueDrained, Data: 1}))
	assert.Equal(t, model.EventQueueDrained, readEvent(t, a).Type)

	require.NoError(t, hub.BroadcastToRoom(ctx, "site_a", model.SiteRoom("site_a"), model.Event{Type: model.EventPresence, Data: 2}))
	assert.Equal(t, model.EventPresence, readEvent(t, a).Type)

	command(t, a, CmdRoomLeave, map[string]string{"room": string(model.SiteRoom("site_a"))})
	command(t, a, CmdRoomJoin, map[string]string{"room": string(model.InboxRoom("site_a", emp))})
	ev := readEvent(t, a)
	assert.Equal(t, model.EventError, ev.Type)
	assert.Contains(t, string(ev.Data), "reserved")
}

func TestCommandsReachCoordinator(t *testing.T) {
	coord := &fakeCoordinator{}
	_, srv := newTestServer(t, coord)

	a := dial(t, srv, emp)
	waitCalls(t, coord, "connect")

	command(t, a, CmdTypingStart, map[string]string{"room": "room_1"})
	command(t, a, CmdTypingPreview, map[string]string{"room": "room_1", "content": "hel"})
	// The typing limiter allows two per minute.
	command(t, a, CmdTypingStart, map[string]string{"room": "room_1"})
	command(t, a, CmdMessageSend, map[string]any{
		"room":       "room_1",
		"content":    "hello",
		"recipients": []model.Participant{app},
	})
	waitCalls(t, coord, "connect", "typing:start", "typing:preview", "send", "typing:stop")

	command(t, a, CmdMessageRead, map[string]string{"messageId": uuid.NewString()})
	ev := readEvent(t, a)
	assert.Equal(t, model.EventError, ev.Type)
	assert.Contains(t, string(ev.Data), "unknown message")

	command(t, a, "bogus", nil)
	ev = readEvent(t, a)
	assert.Contains(t, string(ev.Data), "unknown command")

	a.Close(websocket.StatusNormalClosure, "bye")
	waitCalls(t, coord, "connect", "typing:start", "typing:preview", "send", "typing:stop", "read", "disconnect")
}

func TestBroadcastAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	err := hub.BroadcastToRoom(context.Background(), "site_a", "room_1", model.Event{Type: model.EventMessageNew})
	assert.ErrorIs(t, err, ErrHubStopped)
}
