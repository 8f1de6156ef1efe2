package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatterd/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	pool := testutil.DbInit(t)
	q := New(NewPostgresStore(pool), nil, Policy{}, nil)
	ctx := context.Background()

	low := newMessage("site_a", 0)
	high := newMessage("site_a", 5)

	_, err := q.Enqueue(ctx, low, recipient)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, high, recipient)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, low, recipient)
	assert.ErrorIs(t, err, ErrDuplicateQueueEntry)

	n, err := q.CountPending(ctx, "site_a", recipient)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	t.Run("fail and retry", func(t *testing.T) {
		key := low.ID
		failed, err := q.MarkFailed(ctx, Key{Site: "site_a", Recipient: recipient, MessageID: key}, "push rejected")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, failed.Status)
		assert.Equal(t, 1, failed.Attempts)

		retried, err := q.Retry(ctx, failed.Key())
		require.NoError(t, err)
		assert.Equal(t, StatusPending, retried.Status)
		assert.Empty(t, retried.FailureReason)
	})

	t.Run("drain", func(t *testing.T) {
		got, err := q.Drain(ctx, "site_a", recipient)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, high.ID, got[0].MessageID)
		assert.Equal(t, low.ID, got[1].MessageID)
		for _, m := range got {
			assert.Equal(t, StatusDelivered, m.Status)
		}

		again, err := q.Drain(ctx, "site_a", recipient)
		require.NoError(t, err)
		assert.Empty(t, again)

		// Delivered entries no longer block a new pending entry.
		_, err = q.Enqueue(ctx, low, recipient)
		assert.NoError(t, err)
	})

	t.Run("expiry", func(t *testing.T) {
		msg := newMessage("site_b", 0)
		_, err := q.Enqueue(ctx, msg, recipient, WithExpiresAt(time.Now().Add(-time.Second)))
		require.NoError(t, err)

		n, err := q.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := q.Drain(ctx, "site_b", recipient)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
