/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package roomstore is an in-process realtime key-tree store. Clients
// subscribe to paths, write single nodes or several at once, run atomic
// transactions and register cleanups that run when their session ends.
//
// Subscription callbacks and publishes are delivered on a single dispatcher
// goroutine in write order and never overlap, so code reacting to snapshots can treat the
// store like a cooperative event loop.
package roomstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrAborted     = errors.New("transaction aborted")
	ErrClosed      = errors.New("store closed")
	ErrInvalidPath = errors.New("invalid path")
)

// Publisher receives the JSON encoding of a top-level room node each time a
// write touches it.
type Publisher interface {
	Publish(path string, data []byte) error
}

type Option func(*Store)

func WithLogf(fn func(format string, args ...any)) Option {
	return func(s *Store) {
		s.logf = fn
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		s.pub = p
	}
}

type subscription struct {
	id     uint64
	segs   []string
	fn     func(Snapshot)
	active atomic.Bool
}

type Store struct {
	mu       sync.Mutex
	root     map[string]any
	subs     map[uint64]*subscription
	nextID   uint64
	cleanups map[string][]string
	closed   bool

	queueMu sync.Mutex
	queue   []func()
	wake    chan struct{}
	quit    chan struct{}

	logf func(format string, args ...any)
	pub  Publisher
}

func New(opts ...Option) *Store {
	s := &Store{
		root:     make(map[string]any),
		subs:     make(map[uint64]*subscription),
		cleanups: make(map[string][]string),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		logf:     func(string, ...any) {},
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.dispatch()

	return s
}

// Close stops callback delivery. Writes after Close fail with ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.quit)
}

func (s *Store) dispatch() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}

		for {
			s.queueMu.Lock()
			batch := s.queue
			s.queue = nil
			s.queueMu.Unlock()

			if len(batch) == 0 {
				break
			}

			for _, fn := range batch {
				select {
				case <-s.quit:
					return
				default:
				}
				fn()
			}
		}
	}
}

func (s *Store) enqueue(fns ...func()) {
	if len(fns) == 0 {
		return
	}

	s.queueMu.Lock()
	s.queue = append(s.queue, fns...)
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Get returns the current value at path.
func (s *Store) Get(path string) (Snapshot, error) {
	segs, err := splitPath(path)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked(segs), nil
}

func (s *Store) snapshotLocked(segs []string) Snapshot {
	if len(segs) == 0 {
		return Snapshot{Value: clone(s.root), Exists: len(s.root) > 0}
	}

	v, ok := getAt(s.root, segs)
	return Snapshot{Path: joinPath(segs), Value: clone(v), Exists: ok}
}

// Subscribe calls fn with the current value at path, then again after every
// write at path, above it or below it. The returned func cancels delivery.
func (s *Store) Subscribe(path string, fn func(Snapshot)) (func(), error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	s.nextID++
	sub := &subscription{id: s.nextID, segs: segs, fn: fn}
	sub.active.Store(true)
	s.subs[sub.id] = sub
	s.enqueue(deliver(sub, s.snapshotLocked(segs)))
	s.mu.Unlock()

	return func() {
		if !sub.active.Swap(false) {
			return
		}
		s.mu.Lock()
		delete(s.subs, sub.id)
		s.mu.Unlock()
	}, nil
}

// Once delivers a single snapshot of path to fn.
func (s *Store) Once(path string, fn func(Snapshot)) error {
	var (
		once  sync.Once
		unsub func()
		ready = make(chan struct{})
	)

	unsub, err := s.Subscribe(path, func(snap Snapshot) {
		once.Do(func() {
			<-ready
			unsub()
			fn(snap)
		})
	})
	if err != nil {
		return err
	}
	close(ready)

	return nil
}

func deliver(sub *subscription, snap Snapshot) func() {
	return func() {
		if sub.active.Load() {
			sub.fn(snap)
		}
	}
}

// Set replaces the value at path. A nil value removes the node.
func (s *Store) Set(ctx context.Context, path string, v any) error {
	return s.Update(ctx, path, map[string]any{"": v})
}

// Remove deletes the node at path.
func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Update writes every entry of fields atomically. Keys are paths relative to
// path; an empty key addresses path itself.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	base, err := splitPath(path)
	if err != nil {
		return err
	}

	type write struct {
		segs []string
		v    any
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writes := make([]write, 0, len(fields))
	for _, k := range keys {
		rel, err := splitPath(k)
		if err != nil {
			return err
		}

		segs := append(append([]string{}, base...), rel...)
		if len(segs) == 0 {
			return ErrInvalidPath
		}

		v, err := normalize(fields[k])
		if err != nil {
			return err
		}

		writes = append(writes, write{segs: segs, v: v})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	touched := make([][]string, 0, len(writes))
	for _, w := range writes {
		setAt(s.root, w.segs, w.v)
		touched = append(touched, w.segs)
	}
	s.commitLocked(touched)

	return nil
}

// Transaction runs fn against the current value at path while holding the
// store lock and stores its result. fn must not call back into the store.
// Returning ErrAborted leaves the value untouched; the current snapshot is
// returned alongside the error.
func (s *Store) Transaction(ctx context.Context, path string, fn func(current any) (any, error)) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	segs, err := splitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	if len(segs) == 0 {
		return Snapshot{}, ErrInvalidPath
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}

	cur, _ := getAt(s.root, segs)

	next, err := fn(clone(cur))
	if err != nil {
		snap := s.snapshotLocked(segs)
		s.mu.Unlock()
		return snap, err
	}

	next, err = normalize(next)
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}

	setAt(s.root, segs, next)
	snap := s.snapshotLocked(segs)
	s.commitLocked([][]string{segs})

	return snap, nil
}

// OnDisconnect schedules removal of path for when session disconnects.
// Several sessions may register the same path; it is removed when the last
// of them disconnects.
func (s *Store) OnDisconnect(session, path string) error {
	if _, err := splitPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.cleanups[session] {
		if p == path {
			return nil
		}
	}
	s.cleanups[session] = append(s.cleanups[session], path)

	return nil
}

// Disconnect runs the cleanups registered for session as one atomic write,
// skipping paths another live session still holds.
func (s *Store) Disconnect(_ context.Context, session string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	paths := s.cleanups[session]
	delete(s.cleanups, session)

	var touched [][]string
	for _, p := range paths {
		if s.heldLocked(p) {
			continue
		}
		segs, _ := splitPath(p)
		setAt(s.root, segs, nil)
		touched = append(touched, segs)
	}

	if len(touched) == 0 {
		s.mu.Unlock()
		return nil
	}

	s.logf("STORE: Session %s disconnected, removing %d node(s)", session, len(touched))
	s.commitLocked(touched)

	return nil
}

func (s *Store) heldLocked(path string) bool {
	for _, paths := range s.cleanups {
		for _, p := range paths {
			if p == path {
				return true
			}
		}
	}
	return false
}

// commitLocked queues notifications and room publishes for the written
// paths, then releases the store lock. Queueing under the lock keeps
// delivery in write order.
func (s *Store) commitLocked(touched [][]string) {
	var fns []func()
	for _, sub := range s.sortedSubsLocked() {
		for _, segs := range touched {
			if related(sub.segs, segs) {
				fns = append(fns, deliver(sub, s.snapshotLocked(sub.segs)))
				break
			}
		}
	}

	if s.pub != nil {
		published := make(map[string]bool)
		for _, segs := range touched {
			top := segs[:min(2, len(segs))]
			key := joinPath(top)
			if published[key] {
				continue
			}
			published[key] = true

			v, _ := getAt(s.root, top)
			fns = append(fns, s.publish(key, clone(v)))
		}
	}

	s.enqueue(fns...)
	s.mu.Unlock()
}

func (s *Store) publish(path string, v any) func() {
	return func() {
		data, err := json.Marshal(v)
		if err != nil {
			s.logf("STORE: Failed to encode %s: %v", path, err)
			return
		}
		if err := s.pub.Publish(path, data); err != nil {
			s.logf("STORE: Failed to publish %s: %v", path, err)
		}
	}
}

func (s *Store) sortedSubsLocked() []*subscription {
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].id < subs[j].id
	})
	return subs
}
