package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatterd/internal/model"
)

var (
	emp = model.Participant{Kind: model.Employee, ID: "10"}
	app = model.Participant{Kind: model.Applicant, ID: "20"}
)

func TestRegisterUnregister(t *testing.T) {
	d := NewDirectory(nil, nil)
	ctx := context.Background()

	assert.False(t, d.IsOnline("site_a", emp))

	assert.True(t, d.Register("site_a", emp, "s1"))
	assert.False(t, d.Register("site_a", emp, "s2"))
	assert.False(t, d.Register("site_a", emp, "s2"))
	assert.Equal(t, 2, d.SessionCount("site_a", emp))
	assert.True(t, d.IsOnline("site_a", emp))

	assert.False(t, d.Unregister(ctx, "site_a", emp, "s1"))
	assert.True(t, d.IsOnline("site_a", emp))

	assert.False(t, d.Unregister(ctx, "site_a", emp, "unknown"))
	assert.True(t, d.Unregister(ctx, "site_a", emp, "s2"))
	assert.False(t, d.IsOnline("site_a", emp))
	assert.False(t, d.Unregister(ctx, "site_a", emp, "s2"))
}

func TestSiteIsolation(t *testing.T) {
	d := NewDirectory(nil, nil)

	d.Register("site_a", emp, "s1")
	assert.True(t, d.IsOnline("site_a", emp))
	assert.False(t, d.IsOnline("site_b", emp))
}

func TestListOnline(t *testing.T) {
	d := NewDirectory(nil, nil)

	d.Register("site_a", emp, "s1")
	d.Register("site_a", app, "s2")
	d.Register("site_b", emp, "s3")

	assert.Equal(t, []model.Participant{app, emp}, d.ListOnline("site_a"))
	assert.Equal(t, []model.Participant{emp}, d.ListOnline("site_b"))
	assert.Equal(t, []model.Participant{app, emp}, d.ListOnline(""))
}

func TestLastSeen(t *testing.T) {
	d := NewDirectory(nil, nil)
	ctx := context.Background()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d.now = func() time.Time { return now }

	_, ok, err := d.LastSeen(ctx, "site_a", emp)
	require.NoError(t, err)
	assert.False(t, ok)

	d.Register("site_a", emp, "s1")
	now = now.Add(time.Minute)
	d.Touch("site_a", emp)

	seen, ok, err := d.LastSeen(ctx, "site_a", emp)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, now, seen)

	now = now.Add(time.Minute)
	d.Unregister(ctx, "site_a", emp, "s1")

	seen, ok, err = d.LastSeen(ctx, "site_a", emp)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, now, seen)
}

type failingStore struct{ MemoryLastSeen }

func (*failingStore) SetLastSeen(context.Context, model.SiteID, model.Participant, time.Time) error {
	return errors.New("down")
}

func TestLastSeenStoreFailureStillDemotes(t *testing.T) {
	d := NewDirectory(&failingStore{}, nil)
	ctx := context.Background()

	d.Register("site_a", emp, "s1")
	assert.True(t, d.Unregister(ctx, "site_a", emp, "s1"))
	assert.False(t, d.IsOnline("site_a", emp))
}

func TestConcurrentSessions(t *testing.T) {
	d := NewDirectory(nil, nil)
	ctx := context.Background()

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		firsts      int
		lasts       int
		sessionName = func(i int) string { return string(rune('a' + i)) }
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Register("site_a", emp, sessionName(i)) {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, firsts)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Unregister(ctx, "site_a", emp, sessionName(i)) {
				mu.Lock()
				lasts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, lasts)
	assert.False(t, d.IsOnline("site_a", emp))
}
