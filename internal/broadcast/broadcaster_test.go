package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	"hexwatch/internal/index"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotOf(ids ...string) *index.Snapshot {
	sessions := make([]index.SessionRecord, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, index.SessionRecord{ID: id})
	}
	return &index.Snapshot{Sessions: sessions, ScannedAt: time.Now()}
}

type recorder struct {
	mu    sync.Mutex
	snaps []*index.Snapshot
}

func (r *recorder) fn(snap *index.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *recorder) all() []*index.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*index.Snapshot(nil), r.snaps...)
}

func TestSubscribeReplaysEmptySnapshot(t *testing.T) {
	b := New(nil)
	var r recorder

	_, err := b.Subscribe(r.fn)
	require.NoError(t, err)

	got := r.all()
	require.Len(t, got, 1)
	assert.NotNil(t, got[0].Sessions)
	assert.Equal(t, 0, got[0].Len())
}

func TestLateSubscriberGetsCurrentSnapshot(t *testing.T) {
	b := New(nil)
	first := snapshotOf("a", "b")
	b.Publish(first)

	var r recorder
	_, err := b.Subscribe(r.fn)
	require.NoError(t, err)

	got := r.all()
	require.Len(t, got, 1)
	assert.Same(t, first, got[0])
	assert.Same(t, first, b.Current())
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(nil)
	var r1, r2 recorder
	_, err := b.Subscribe(r1.fn)
	require.NoError(t, err)
	_, err = b.Subscribe(r2.fn)
	require.NoError(t, err)

	snap := snapshotOf("a")
	b.Publish(snap)

	for _, r := range []*recorder{&r1, &r2} {
		got := r.all()
		require.Len(t, got, 2)
		assert.Same(t, snap, got[1])
	}
}

func TestFailingSubscriberIsDropped(t *testing.T) {
	b := New(nil)
	var healthy recorder
	failCalls := 0
	_, err := b.Subscribe(func(snap *index.Snapshot) error {
		failCalls++
		if failCalls > 1 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	_, err = b.Subscribe(func(*index.Snapshot) error { panic("boom") })
	require.NoError(t, err)
	_, err = b.Subscribe(healthy.fn)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len(), "panicking subscriber should be dropped on replay")

	b.Publish(snapshotOf("a"))
	b.Publish(snapshotOf("b"))

	assert.Equal(t, 2, failCalls, "dropped subscriber must not be called again")
	assert.Equal(t, 1, b.Len())
	assert.Len(t, healthy.all(), 3)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	var r recorder
	unsubscribe, err := b.Subscribe(r.fn)
	require.NoError(t, err)

	unsubscribe()
	unsubscribe()
	b.Publish(snapshotOf("a"))

	assert.Len(t, r.all(), 1)
	assert.Equal(t, 0, b.Len())
}

func TestUnsubscribeFromCallback(t *testing.T) {
	b := New(nil)
	calls := 0
	var unsubscribe func()
	unsubscribe, err := b.Subscribe(func(*index.Snapshot) error {
		calls++
		if calls == 2 {
			unsubscribe()
		}
		return nil
	})
	require.NoError(t, err)

	b.Publish(snapshotOf("a"))
	b.Publish(snapshotOf("b"))
	assert.Equal(t, 2, calls)
}

func TestCloseRejectsSubscribers(t *testing.T) {
	b := New(nil)
	var r recorder
	_, err := b.Subscribe(r.fn)
	require.NoError(t, err)

	b.Close()
	b.Publish(snapshotOf("late"))

	_, err = b.Subscribe(r.fn)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Len(t, r.all(), 1)
}

func TestSubscribersNeverSeeOlderSnapshots(t *testing.T) {
	b := New(nil)
	const publishes = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= publishes; i++ {
			ids := make([]string, i%index.MaxSessions+1)
			snap := snapshotOf(ids...)
			snap.ScannedAt = time.Unix(int64(i), 0)
			b.Publish(snap)
		}
	}()

	recorders := make([]*recorder, 20)
	for i := range recorders {
		recorders[i] = &recorder{}
		_, err := b.Subscribe(recorders[i].fn)
		require.NoError(t, err)
	}
	wg.Wait()

	for i, r := range recorders {
		got := r.all()
		for j := 1; j < len(got); j++ {
			if got[j].ScannedAt.Before(got[j-1].ScannedAt) {
				t.Fatalf("recorder %d saw snapshot %v after %v", i, got[j].ScannedAt, got[j-1].ScannedAt)
			}
		}
		assert.Equal(t, time.Unix(publishes, 0), got[len(got)-1].ScannedAt)
	}
}
