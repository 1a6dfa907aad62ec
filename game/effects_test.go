package game

import (
	"sync"
	"testing"
	"time"
)

func TestEffects_ShowThenHide(t *testing.T) {
	var mu sync.Mutex
	var seen []Effect

	fx := NewEffects(20*time.Millisecond, func(e Effect) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})

	first := fx.Show(EffectExplosion, 10, 20, "")
	second := fx.Show(EffectScore, 10, 20, "+1")

	active := fx.Active()
	if len(active) != 2 || active[0].ID != first.ID || active[1].ID != second.ID {
		t.Fatalf("active %v, want both in order", active)
	}

	deadline := time.Now().Add(time.Second)
	for len(fx.Active()) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("effects were never hidden")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(seen) != 4 {
		t.Fatalf("got %d notifications, want 4", len(seen))
	}
	hidden := 0
	for _, e := range seen {
		if !e.Visible {
			hidden++
		}
	}
	if hidden != 2 {
		t.Errorf("got %d hide notifications, want 2", hidden)
	}
}

func TestEffects_Stop(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	fx := NewEffects(10*time.Millisecond, func(Effect) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	fx.Show(EffectExplosion, 0, 0, "")
	fx.Stop()

	time.Sleep(40 * time.Millisecond)

	if n := len(fx.Active()); n != 0 {
		t.Errorf("%d effects still active after Stop", n)
	}
	if e := fx.Show(EffectScore, 0, 0, "+1"); e.ID != 0 {
		t.Errorf("Show after Stop returned %+v", e)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("got %d notifications, want only the show", calls)
	}
}
