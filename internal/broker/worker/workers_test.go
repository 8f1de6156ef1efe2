package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatterd/internal/broker"
	"github.com/johndosdos/chatterd/internal/gateway"
	"github.com/johndosdos/chatterd/internal/model"
)

func TestRelay(t *testing.T) {
	rec := &gateway.Recorder{}
	relay := Relay(rec, nil)
	ctx := context.Background()
	data := json.RawMessage(`{"room":"room_1","users":[],"text":null}`)

	relay(ctx, broker.Envelope{Node: "n1", Site: "site_a", Room: "room_1", Event: model.RawEvent{Type: model.EventTypingState, Data: data}})
	relay(ctx, broker.Envelope{Node: "n1", Site: "site_b", Channel: "7", Event: model.RawEvent{Type: model.EventTypingState, Data: data}})
	relay(ctx, broker.Envelope{Node: "n1", Site: "site_a", Event: model.RawEvent{Type: model.EventTypingState, Data: data}})
	// Without a site there is no way to scope the event, so it is dropped.
	relay(ctx, broker.Envelope{Node: "n1", Room: "room_1", Event: model.RawEvent{Type: model.EventTypingState, Data: data}})

	sent := rec.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, model.SiteID("site_a"), sent[0].Site)
	assert.Equal(t, model.RoomID("room_1"), sent[0].Room)
	assert.Equal(t, model.SiteID("site_b"), sent[1].Site)
	assert.Equal(t, "7", sent[1].Channel)

	b, err := json.Marshal(sent[0].Event)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"typing:state","data":{"room":"room_1","users":[],"text":null}}`, string(b))
}
