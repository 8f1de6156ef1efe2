package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatterd/internal/gateway"
	"github.com/johndosdos/chatterd/internal/model"
	"github.com/johndosdos/chatterd/internal/queue"
	"github.com/johndosdos/chatterd/internal/status"
	"github.com/johndosdos/chatterd/internal/typing"
)

var (
	emp  = model.Participant{Kind: model.Employee, ID: "1"}
	app  = model.Participant{Kind: model.Applicant, ID: "2"}
	app2 = model.Participant{Kind: model.Applicant, ID: "3"}
)

func newTestCoordinator(t *testing.T) (*Coordinator, *gateway.Recorder) {
	t.Helper()
	rec := &gateway.Recorder{}
	c := New(Deps{
		Gateway: rec,
		Typing:  typing.Config{Timeout: time.Second, Throttle: time.Millisecond},
	})
	t.Cleanup(c.Close)
	return c, rec
}

func message(site model.SiteID, to ...model.Participant) model.Message {
	return model.Message{
		ID:         uuid.New(),
		Site:       site,
		Room:       "room_1",
		Sender:     emp,
		SenderName: "Ali",
		Content:    "<b>hello</b>",
		Recipients: to,
	}
}

func statusEvents(rec *gateway.Recorder) []model.MessageStatusUpdate {
	var out []model.MessageStatusUpdate
	for _, b := range rec.Sent() {
		if b.Event.Type == model.EventMessageStatus {
			out = append(out, b.Event.Data.(model.MessageStatusUpdate))
		}
	}
	return out
}

func TestOfflineRecipientIsQueuedAndDrainedOnConnect(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()
	msg := message("site_a", app)

	r, err := c.MessageSent(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, status.Sent, r.Status)
	assert.Equal(t, 1, rec.Count(model.EventMessageNew))

	pending, n, err := c.Pending(ctx, "site_a", app)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pending, 1)
	assert.Equal(t, "hello", pending[0].Preview)

	drained, err := c.Connect(ctx, "site_a", app, "s1")
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, msg.ID, drained[0].MessageID)
	assert.Equal(t, queue.StatusDelivered, drained[0].Status)

	r, err = c.MessageStatus(ctx, "site_a", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Delivered, r.Status)

	var inbox *gateway.Broadcast
	for _, b := range rec.Sent() {
		if b.Event.Type == model.EventQueueDrained {
			inbox = &b
		}
	}
	require.NotNil(t, inbox)
	assert.Equal(t, model.InboxRoom("site_a", app), inbox.Room)
	assert.Equal(t, 1, inbox.Event.Data.(Drained).Count)

	_, n, err = c.Pending(ctx, "site_a", app)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOnlineRecipientIsDeliveredImmediately(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Connect(ctx, "site_a", app, "s1")
	require.NoError(t, err)

	msg := message("site_a", app)
	r, err := c.MessageSent(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, status.Delivered, r.Status)

	_, n, err := c.Pending(ctx, "site_a", app)
	require.NoError(t, err)
	assert.Zero(t, n)

	events := statusEvents(rec)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, msg.ID, last.MessageID)
	assert.Equal(t, "delivered", last.Status)
	assert.Nil(t, last.Recipient)
}

func TestSenderIsNotARecipient(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	r, err := c.MessageSent(ctx, message("site_a", emp, app))
	require.NoError(t, err)
	require.Len(t, r.Recipients, 1)
	assert.Equal(t, app, r.Recipients[0].Recipient)

	_, n, err := c.Pending(ctx, "site_a", emp)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueueIsScopedBySite(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.MessageSent(ctx, message("site_a", app))
	require.NoError(t, err)

	drained, err := c.Connect(ctx, "site_b", app, "s1")
	require.NoError(t, err)
	assert.Empty(t, drained)

	_, n, err := c.Pending(ctx, "site_a", app)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOnlySessionTransitionsDrainAndClearTyping(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Connect(ctx, "site_a", app, "s1")
	require.NoError(t, err)
	_, err = c.Connect(ctx, "site_a", app, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count(model.EventPresence))

	c.TypingStart(ctx, "site_a", "room_1", app, "Ayşe", "")
	require.Len(t, c.TypingUsers("site_a", "room_1"), 1)

	c.Disconnect(ctx, "site_a", app, "s1")
	assert.True(t, c.IsOnline("site_a", app))
	assert.Len(t, c.TypingUsers("site_a", "room_1"), 1)

	c.Disconnect(ctx, "site_a", app, "s2")
	assert.False(t, c.IsOnline("site_a", app))
	assert.Empty(t, c.TypingUsers("site_a", "room_1"))
	assert.Equal(t, 2, rec.Count(model.EventPresence))

	seen, ok, err := c.LastSeen(ctx, "site_a", app)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), seen, time.Second)

	// A fresh first session drains again.
	_, err = c.MessageSent(ctx, message("site_a", app))
	require.NoError(t, err)
	drained, err := c.Connect(ctx, "site_a", app, "s3")
	require.NoError(t, err)
	assert.Len(t, drained, 1)
}

func TestTypingIsScopedBySite(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Connect(ctx, "site_a", emp, "a1")
	require.NoError(t, err)
	_, err = c.Connect(ctx, "site_b", emp, "b1")
	require.NoError(t, err)

	c.TypingStart(ctx, "site_b", "room_1", emp, "Bea", "")
	c.TypingStart(ctx, "site_a", "room_1", emp, "Ali", "")

	a := c.TypingUsers("site_a", "room_1")
	require.Len(t, a, 1)
	assert.Equal(t, "Ali", a[0].DisplayName)
	b := c.TypingUsers("site_b", "room_1")
	require.Len(t, b, 1)
	assert.Equal(t, "Bea", b[0].DisplayName)

	rec.Reset()
	c.Disconnect(ctx, "site_a", emp, "a1")

	assert.Empty(t, c.TypingUsers("site_a", "room_1"))
	assert.Len(t, c.TypingUsers("site_b", "room_1"), 1)
	for _, sent := range rec.Sent() {
		assert.Equal(t, model.SiteID("site_a"), sent.Site, "event %s leaked to another site", sent.Event.Type)
	}
	assert.Equal(t, 1, rec.Count(model.EventTypingState))
}

func TestReadReceipt(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Connect(ctx, "site_a", app, "s1")
	require.NoError(t, err)
	msg := message("site_a", app)
	_, err = c.MessageSent(ctx, msg)
	require.NoError(t, err)

	rec.Reset()
	r, err := c.ReadReceipt(ctx, "site_a", msg.ID, app)
	require.NoError(t, err)
	assert.Equal(t, status.Read, r.Status)
	require.Len(t, statusEvents(rec), 1)
	assert.Equal(t, &app, statusEvents(rec)[0].Recipient)

	// Repeating the receipt changes nothing and broadcasts nothing.
	_, err = c.ReadReceipt(ctx, "site_a", msg.ID, app)
	require.NoError(t, err)
	assert.Len(t, statusEvents(rec), 1)

	_, err = c.ReadReceipt(ctx, "site_a", uuid.New(), app)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestAggregateStatusIsMinimumAcrossRecipients(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Connect(ctx, "site_a", app, "s1")
	require.NoError(t, err)

	msg := message("site_a", app, app2)
	r, err := c.MessageSent(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, status.Sent, r.Status)

	_, err = c.Connect(ctx, "site_a", app2, "s2")
	require.NoError(t, err)

	r, err = c.MessageStatus(ctx, "site_a", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Delivered, r.Status)

	r, err = c.ReadReceipt(ctx, "site_a", msg.ID, app)
	require.NoError(t, err)
	assert.Equal(t, status.Delivered, r.Status)

	r, err = c.ReadReceipt(ctx, "site_a", msg.ID, app2)
	require.NoError(t, err)
	assert.Equal(t, status.Read, r.Status)
}

func TestFailAndRetry(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	msg := message("site_a", app)
	_, err := c.MessageSent(ctx, msg)
	require.NoError(t, err)

	r, err := c.MessageFailed(ctx, "site_a", msg.ID, "rejected")
	require.NoError(t, err)
	assert.Equal(t, status.Failed, r.Status)
	assert.Equal(t, "rejected", r.FailureReason)

	_, err = c.ReadReceipt(ctx, "site_a", msg.ID, app)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)

	r, err = c.RetryMessage(ctx, "site_a", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Sent, r.Status)
	assert.Empty(t, r.FailureReason)

	// The queue entry survived the failure and is handed over on connect.
	drained, err := c.Connect(ctx, "site_a", app, "s1")
	require.NoError(t, err)
	assert.Len(t, drained, 1)

	r, err = c.MessageStatus(ctx, "site_a", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Delivered, r.Status)
}

func TestDuplicateMessageIsRejected(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	msg := message("site_a", app)
	_, err := c.MessageSent(ctx, msg)
	require.NoError(t, err)

	_, err = c.MessageSent(ctx, msg)
	assert.ErrorIs(t, err, status.ErrExists)

	_, n, err := c.Pending(ctx, "site_a", app)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGatewayFailureDoesNotRollBack(t *testing.T) {
	c, rec := newTestCoordinator(t)
	rec.Err = errors.New("down")
	ctx := context.Background()

	msg := message("site_a", app)
	r, err := c.MessageSent(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, status.Sent, r.Status)

	drained, err := c.Connect(ctx, "site_a", app, "s1")
	require.NoError(t, err)
	assert.Len(t, drained, 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()

	c.StartSweeper(10 * time.Millisecond)
	c.TypingStart(ctx, "site_a", "room_1", app, "Ayşe", "")
	rec.Reset()

	c.Close()
	c.Close()

	assert.Empty(t, c.TypingUsers("site_a", "room_1"))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.Count(model.EventTypingState))
}
