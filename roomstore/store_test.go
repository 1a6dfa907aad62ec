/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package roomstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) add(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

type memPublisher struct {
	mu   sync.Mutex
	msgs map[string][]byte
}

func (p *memPublisher) Publish(path string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.msgs == nil {
		p.msgs = make(map[string][]byte)
	}
	p.msgs[path] = data
	return nil
}

type orderedPublisher struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (p *orderedPublisher) Publish(_ string, data []byte) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, data)
	p.mu.Unlock()
	return nil
}

func (p *orderedPublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func (p *orderedPublisher) all() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.msgs...)
}

func TestStore_SetGet(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/a/players/p1", map[string]any{"name": "Ana", "score": 0}))

	snap, err := s.Get("rooms/a/players/p1/name")
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, "Ana", snap.Value)

	snap, err = s.Get("rooms/a/players/p1/score")
	require.NoError(t, err)
	assert.Equal(t, float64(0), snap.Value)

	snap, err = s.Get("rooms/b")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func TestStore_InvalidPath(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.Get("rooms//a")
	assert.ErrorIs(t, err, ErrInvalidPath)

	err = s.Set(context.Background(), "", 1)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestStore_RemovePrunesEmptyParents(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/a/players/p1/name", "Ana"))
	require.NoError(t, s.Remove(ctx, "rooms/a/players/p1"))

	snap, err := s.Get("rooms/a")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func TestStore_UpdateMultiplePaths(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/a/balls/0", map[string]any{"active": true}))
	require.NoError(t, s.Update(ctx, "rooms/a", map[string]any{
		"isStarted":      true,
		"balls/0/active": false,
		"ownerId":        "p1",
	}))

	snap, err := s.Get("rooms/a")
	require.NoError(t, err)
	assert.Equal(t, true, snap.Child("isStarted").Value)
	assert.Equal(t, "p1", snap.Child("ownerId").Value)
	assert.Equal(t, false, snap.Child("balls").Child("0").Child("active").Value)
}

func TestStore_SubscribeDeliversInitialAndChanges(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	var rec recorder
	unsub, err := s.Subscribe("rooms/a", rec.add)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, rec.last().Exists)

	require.NoError(t, s.Set(ctx, "rooms/a/isStarted", true))
	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, true, rec.last().Child("isStarted").Value)

	require.NoError(t, s.Set(ctx, "rooms/b/isStarted", true))
	require.NoError(t, s.Set(ctx, "rooms", map[string]any{"a": map[string]any{"ownerId": "x"}}))
	require.Eventually(t, func() bool { return rec.len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "x", rec.last().Child("ownerId").Value)
}

func TestStore_UnsubscribeStopsDelivery(t *testing.T) {
	s := New()
	defer s.Close()

	var rec recorder
	unsub, err := s.Subscribe("rooms/a", rec.add)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	require.NoError(t, s.Set(context.Background(), "rooms/a/ownerId", "p1"))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
}

func TestStore_Once(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/a/ownerId", "p1"))

	var rec recorder
	require.NoError(t, s.Once("rooms/a/ownerId", rec.add))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Set(ctx, "rooms/a/ownerId", "p2"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
	assert.Equal(t, "p1", rec.last().Value)
}

func TestStore_CallbacksMayWrite(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	var rec recorder
	unsub, err := s.Subscribe("rooms/a/count", func(snap Snapshot) {
		rec.add(snap)
		if !snap.Exists {
			assert.NoError(t, s.Set(ctx, "rooms/a/count", 1))
		}
	})
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), rec.last().Value)
}

func TestStore_TransactionIncrement(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transaction(ctx, "rooms/a/players/p1/score", func(cur any) (any, error) {
				n, _ := cur.(float64)
				return n + 1, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := s.Get("rooms/a/players/p1/score")
	require.NoError(t, err)
	assert.Equal(t, float64(50), snap.Value)
}

func TestStore_TransactionAbort(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/a/balls/0/active", false))

	snap, err := s.Transaction(ctx, "rooms/a/balls/0", func(cur any) (any, error) {
		return nil, ErrAborted
	})
	assert.True(t, errors.Is(err, ErrAborted))
	assert.True(t, snap.Exists)

	got, err := s.Get("rooms/a/balls/0/active")
	require.NoError(t, err)
	assert.Equal(t, false, got.Value)
}

func TestStore_OnDisconnect(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/a/players/p1", map[string]any{"name": "Ana"}))
	require.NoError(t, s.Set(ctx, "rooms/a/players/p2", map[string]any{"name": "Bo"}))
	require.NoError(t, s.OnDisconnect("session-1", "rooms/a/players/p1"))
	require.NoError(t, s.OnDisconnect("session-1", "rooms/a/players/p1"))

	require.NoError(t, s.Disconnect(ctx, "session-2"))
	require.NoError(t, s.Disconnect(ctx, "session-1"))

	snap, err := s.Get("rooms/a/players")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, snap.Keys())
}

func TestStore_DisconnectKeepsSharedPaths(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rooms/a/players/p1/name", "Ana"))
	require.NoError(t, s.OnDisconnect("tab-1", "rooms/a/players/p1"))
	require.NoError(t, s.OnDisconnect("tab-2", "rooms/a/players/p1"))

	require.NoError(t, s.Disconnect(ctx, "tab-1"))

	snap, err := s.Get("rooms/a/players/p1")
	require.NoError(t, err)
	assert.True(t, snap.Exists)

	require.NoError(t, s.Disconnect(ctx, "tab-2"))

	snap, err = s.Get("rooms/a/players/p1")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func TestStore_ConcurrentWritesDeliverInOrder(t *testing.T) {
	pub := &orderedPublisher{}
	s := New(WithPublisher(pub))
	defer s.Close()
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []float64
	)
	unsub, err := s.Subscribe("rooms/a/count", func(snap Snapshot) {
		if n, ok := snap.Value.(float64); ok {
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
		}
	})
	require.NoError(t, err)
	defer unsub()

	const (
		workers = 8
		each    = 500
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				_, err := s.Transaction(ctx, "rooms/a/count", func(cur any) (any, error) {
					n, _ := cur.(float64)
					return n + 1, nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == workers*each
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	for i, n := range seen {
		require.Equal(t, float64(i+1), n, "callback %d out of order", i)
	}
	mu.Unlock()

	require.Eventually(t, func() bool { return pub.len() == workers*each }, 5*time.Second, 5*time.Millisecond)

	for i, data := range pub.all() {
		var room map[string]any
		require.NoError(t, json.Unmarshal(data, &room))
		require.Equal(t, float64(i+1), room["count"], "publish %d out of order", i)
	}
}

func TestStore_ClosedRejectsWrites(t *testing.T) {
	s := New()
	s.Close()
	s.Close()

	err := s.Set(context.Background(), "rooms/a/ownerId", "p1")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.Subscribe("rooms/a", func(Snapshot) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_PublishesRoomNode(t *testing.T) {
	pub := &memPublisher{}
	s := New(WithPublisher(pub))
	defer s.Close()

	require.NoError(t, s.Set(context.Background(), "rooms/a/players/p1/score", 3))

	var data []byte
	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		data = pub.msgs["rooms/a"]
		return data != nil
	}, time.Second, 5*time.Millisecond)

	var room map[string]any
	require.NoError(t, json.Unmarshal(data, &room))
	assert.Equal(t, float64(3), room["players"].(map[string]any)["p1"].(map[string]any)["score"])
}

func TestSnapshot_Decode(t *testing.T) {
	type player struct {
		Name  string `json:"name"`
		Score int    `json:"score"`
	}

	snap := Snapshot{
		Path:   "rooms/a/players",
		Exists: true,
		Value: map[string]any{
			"p1": map[string]any{"name": "Ana", "score": float64(4)},
		},
	}

	var players map[string]player
	require.NoError(t, snap.Decode(&players))
	assert.Equal(t, player{Name: "Ana", Score: 4}, players["p1"])
	assert.Equal(t, []string{"p1"}, snap.Keys())
	assert.Equal(t, "rooms/a/players/p1", snap.Child("p1").Path)
}
