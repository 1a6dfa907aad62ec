/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"sort"
	"sync"
	"time"
)

const (
	EffectExplosion = "explosion"
	EffectScore     = "score"
)

// Effect is a transient popup drawn over the canvas.
type Effect struct {
	ID      uint64  `json:"id"`
	Kind    string  `json:"kind"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Text    string  `json:"text,omitempty"`
	Visible bool    `json:"visible"`
}

// Effects is a delay queue of popups. Each shown effect is hidden again
// after the configured duration; Stop cancels everything still pending.
type Effects struct {
	mu       sync.Mutex
	duration time.Duration
	next     uint64
	active   map[uint64]*pendingEffect
	stopped  bool
	notify   func(Effect)
}

type pendingEffect struct {
	effect Effect
	timer  *time.Timer
}

func NewEffects(d time.Duration, notify func(Effect)) *Effects {
	if notify == nil {
		notify = func(Effect) {}
	}
	return &Effects{
		duration: d,
		active:   make(map[uint64]*pendingEffect),
		notify:   notify,
	}
}

func (e *Effects) Show(kind string, x, y float64, text string) Effect {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return Effect{}
	}

	e.next++
	fx := Effect{ID: e.next, Kind: kind, X: x, Y: y, Text: text, Visible: true}
	p := &pendingEffect{effect: fx}
	e.active[fx.ID] = p
	p.timer = time.AfterFunc(e.duration, func() { e.hide(fx.ID) })
	e.mu.Unlock()

	e.notify(fx)

	return fx
}

func (e *Effects) hide(id uint64) {
	e.mu.Lock()
	p, ok := e.active[id]
	if !ok || e.stopped {
		e.mu.Unlock()
		return
	}
	delete(e.active, id)
	fx := p.effect
	e.mu.Unlock()

	fx.Visible = false
	e.notify(fx)
}

// Active lists the visible effects, oldest first.
func (e *Effects) Active() []Effect {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Effect, 0, len(e.active))
	for _, p := range e.active {
		out = append(out, p.effect)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (e *Effects) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	for id, p := range e.active {
		p.timer.Stop()
		delete(e.active, id)
	}
}
