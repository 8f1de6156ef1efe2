package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatterd/internal/auth"
	"github.com/johndosdos/chatterd/internal/coordinator"
	"github.com/johndosdos/chatterd/internal/gateway"
	"github.com/johndosdos/chatterd/internal/model"
	ws "github.com/johndosdos/chatterd/internal/websocket"
)

var (
	emp = model.Participant{Kind: model.Employee, ID: "1"}
	app = model.Participant{Kind: model.Applicant, ID: "2"}
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	srv      *httptest.Server
	coord    *coordinator.Coordinator
	verifier auth.Verifier
}

func newTestEnv(t *testing.T, health map[string]Pinger) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(nil)
	go hub.Run(ctx)

	coord := coordinator.New(coordinator.Deps{Gateway: gateway.Fanout{hub}})
	v := auth.Verifier{Secret: "handlersecret"}

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Hub:      hub,
		Service:  coord,
		Verifier: v,
		Limits:   SessionLimits{Messages: 10, Typing: 10, Window: time.Second},
		Health:   health,
	}))

	t.Cleanup(func() {
		srv.Close()
		coord.Close()
		cancel()
	})
	return &testEnv{srv: srv, coord: coord, verifier: v}
}

func (e *testEnv) token(t *testing.T, p model.Participant) string {
	t.Helper()
	tok, err := e.verifier.MakeJWT(auth.Identity{Site: "site_a", Participant: p}, time.Minute)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) get(t *testing.T, path string, p *model.Participant) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	require.NoError(t, err)
	if p != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, *p))
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var body json.RawMessage
	_ = json.NewDecoder(res.Body).Decode(&body)
	return res, body
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/ws", "/queue/pending", "/messages/" + uuid.NewString() + "/status", "/presence/employee:1"} {
		t.Run(path, func(t *testing.T) {
			res, _ := env.get(t, path, nil)
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
		})
	}
}

func TestPendingAndMessageStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	msg := model.Message{
		ID:         uuid.New(),
		Site:       "site_a",
		Room:       "room_1",
		Sender:     emp,
		Content:    "hello",
		Recipients: []model.Participant{app},
	}
	_, err := env.coord.MessageSent(ctx, msg)
	require.NoError(t, err)

	res, body := env.get(t, "/queue/pending", &app)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var pending pendingResponse
	require.NoError(t, json.Unmarshal(body, &pending))
	assert.Equal(t, 1, pending.Count)
	require.Len(t, pending.Messages, 1)
	assert.Equal(t, msg.ID, pending.Messages[0].MessageID)

	res, body = env.get(t, "/queue/pending", &emp)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"count":0,"messages":[]}`, string(body))

	res, body = env.get(t, "/messages/"+msg.ID.String()+"/status", &emp)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `"status":"sent"`)

	res, _ = env.get(t, "/messages/"+uuid.NewString()+"/status", &emp)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = env.get(t, "/messages/not-a-uuid/status", &emp)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestPresence(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.coord.Connect(ctx, "site_a", app, "s1")
	require.NoError(t, err)

	res, body := env.get(t, "/presence/"+app.String(), &emp)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `"online":true`)

	env.coord.Disconnect(ctx, "site_a", app, "s1")
	res, body = env.get(t, "/presence/"+app.String(), &emp)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `"online":false`)
	assert.Contains(t, string(body), `"lastSeen"`)

	res, _ = env.get(t, "/presence/robot:1", &emp)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		deps     map[string]Pinger
		wantCode int
	}{
		{"no deps", nil, http.StatusOK},
		{"all up", map[string]Pinger{"db": pingFunc(func(context.Context) error { return nil })}, http.StatusOK},
		{"one down", map[string]Pinger{
			"db":    pingFunc(func(context.Context) error { return nil }),
			"redis": pingFunc(func(context.Context) error { return errors.New("refused") }),
		}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.deps)
			res, _ := env.get(t, "/healthz", nil)
			assert.Equal(t, tt.wantCode, res.StatusCode)
		})
	}
}

func TestWebsocketDeliversQueuedMessagesOnConnect(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := model.Message{
		ID:         uuid.New(),
		Site:       "site_a",
		Room:       "room_1",
		Sender:     emp,
		Content:    "while you were away",
		Recipients: []model.Participant{app},
	}
	_, err := env.coord.MessageSent(ctx, msg)
	require.NoError(t, err)

	url := "ws" + env.srv.URL[len("http"):] + "/ws?access_token=" + env.token(t, app)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// The drain may be preceded by this session's own presence update.
	for {
		_, b, err := conn.Read(ctx)
		require.NoError(t, err)

		var ev model.RawEvent
		require.NoError(t, json.Unmarshal(b, &ev))
		if ev.Type != model.EventQueueDrained {
			continue
		}

		var drained coordinator.Drained
		require.NoError(t, json.Unmarshal(ev.Data, &drained))
		assert.Equal(t, 1, drained.Count)
		require.Len(t, drained.Messages, 1)
		assert.Equal(t, msg.ID, drained.Messages[0].MessageID)
		break
	}

	require.Eventually(t, func() bool {
		return env.coord.IsOnline("site_a", app)
	}, time.Second, 10*time.Millisecond)
}
