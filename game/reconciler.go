/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Seednode/popbox/roomstore"
)

// Store is the subset of the room store the reconciler writes through.
type Store interface {
	Subscribe(path string, fn func(roomstore.Snapshot)) (func(), error)
	Set(ctx context.Context, path string, v any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Transaction(ctx context.Context, path string, fn func(current any) (any, error)) (roomstore.Snapshot, error)
	OnDisconnect(session, path string) error
	Disconnect(ctx context.Context, session string) error
}

type Config struct {
	RoomID         string
	Layout         Layout
	InitialBalls   int
	RestartBalls   int
	Images         []string
	Policy         Policy
	EffectDuration time.Duration
	// Rand seeds ball placement; a fresh source is used when nil.
	Rand *rand.Rand
	Logf func(format string, args ...any)
}

// Listener receives state and effect changes. Callbacks may run on the
// store dispatcher or on the caller's goroutine.
type Listener struct {
	OnState  func(State)
	OnEffect func(Effect)
}

// State is a copy of a reconciler's mirrors.
type State struct {
	PlayerID   string            `json:"player_id"`
	Phase      Phase             `json:"phase"`
	Joined     bool              `json:"joined"`
	Started    bool              `json:"started"`
	Finished   bool              `json:"finished"`
	OwnerID    string            `json:"owner_id"`
	IsOwner    bool              `json:"is_owner"`
	Players    map[string]Player `json:"players"`
	Balls      map[string]Ball   `json:"balls"`
	Scoreboard []Entry           `json:"scoreboard"`
}

// Reconciler mirrors one room for one participant. It applies inbound
// snapshots wholesale, turns pose frames into hits, and writes its intents
// back to the store. Remote failures are logged and never rolled back.
type Reconciler struct {
	cfg      Config
	store    Store
	playerID string
	session  string
	roomPath string
	logf     func(format string, args ...any)
	onState  func(State)

	mu        sync.Mutex
	rng       *rand.Rand
	ready     bool
	joined    bool
	seen      bool
	room      Room
	finished  bool
	keypoints []Keypoint
	unsub     func()

	effects *Effects
}

func NewReconciler(store Store, playerID, session string, cfg Config, l Listener) *Reconciler {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	onState := l.OnState
	if onState == nil {
		onState = func(State) {}
	}

	return &Reconciler{
		cfg:      cfg,
		store:    store,
		playerID: playerID,
		session:  session,
		roomPath: "rooms/" + cfg.RoomID,
		logf:     logf,
		onState:  onState,
		rng:      rng,
		effects:  NewEffects(cfg.EffectDuration, l.OnEffect),
	}
}

func (r *Reconciler) PlayerID() string {
	return r.playerID
}

func (r *Reconciler) playerPath() string {
	return r.roomPath + "/players/" + r.playerID
}

// Open subscribes to the room.
func (r *Reconciler) Open() error {
	unsub, err := r.store.Subscribe(r.roomPath, r.onSnapshot)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.roomPath, err)
	}

	r.mu.Lock()
	r.unsub = unsub
	r.mu.Unlock()

	return nil
}

// Close unsubscribes, cancels pending effects and runs the session's
// disconnect cleanups.
func (r *Reconciler) Close(ctx context.Context) {
	r.mu.Lock()
	unsub := r.unsub
	r.unsub = nil
	r.joined = false
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	r.effects.Stop()

	if err := r.store.Disconnect(ctx, r.session); err != nil {
		r.logf("ROOMS: Failed to clean up session %s: %v", r.session, err)
	}
}

func (r *Reconciler) onSnapshot(snap roomstore.Snapshot) {
	var room Room
	if err := snap.Decode(&room); err != nil {
		r.logf("ROOMS: Ignoring undecodable snapshot of %s: %v", snap.Path, err)
		return
	}

	r.ApplySnapshot(room)
}

// ApplySnapshot replaces the local mirrors with room and derives whether the
// game is finished. A change in the set of players triggers owner election.
func (r *Reconciler) ApplySnapshot(room Room) {
	if room.Players == nil {
		room.Players = make(map[string]Player)
	}
	if room.Balls == nil {
		room.Balls = make(map[string]Ball)
	}
	for id, b := range room.Balls {
		if b.ID == "" {
			b.ID = id
			room.Balls[id] = b
		}
	}

	r.mu.Lock()
	playersChanged := !r.seen || !samePlayerSet(r.room.Players, room.Players)
	r.seen = true
	r.room = room
	r.finished = IsFinished(room.Balls)

	needElection := r.joined && playersChanged && ElectOwner(room.OwnerID, room.Players) != room.OwnerID
	needStop := r.joined && r.finished && room.IsStarted
	state := r.stateLocked()
	r.mu.Unlock()

	if needElection {
		r.electOwner(context.Background())
	}

	if needStop {
		r.stopFinished(context.Background())
	}

	r.onState(state)
}

// stopFinished clears isStarted once every ball is popped. Snapshots can be
// queued behind newer writes, so the check runs against the stored room.
func (r *Reconciler) stopFinished(ctx context.Context) {
	_, err := r.store.Transaction(ctx, r.roomPath, func(cur any) (any, error) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, roomstore.ErrAborted
		}

		started, _ := m["isStarted"].(bool)
		if !started || len(asMap(m["balls"])) == 0 || rawAnyActive(m["balls"]) {
			return nil, roomstore.ErrAborted
		}

		m["isStarted"] = false

		return m, nil
	})
	if errors.Is(err, roomstore.ErrAborted) {
		return
	}
	if err != nil {
		r.logf("ROOMS: Failed to mark %s finished: %v", r.cfg.RoomID, err)
		return
	}

	r.logf("ROOMS: Every ball in %s has been popped", r.cfg.RoomID)
}

// MarkReady records that the client's camera and pose model are up.
func (r *Reconciler) MarkReady() {
	r.mu.Lock()
	r.ready = true
	state := r.stateLocked()
	r.mu.Unlock()

	r.onState(state)
}

// ReportClientError logs a client-side failure. A failed model load still
// lets the client proceed; a camera failure leaves it preloading.
func (r *Reconciler) ReportClientError(kind, message string) {
	r.logf("ROOMS: Client %s reported %s error: %s", r.playerID, kind, message)

	if kind == "model" {
		r.MarkReady()
	}
}

// Join adds the participant to the room, creating the room's ball set if it
// has none and taking ownership if nobody valid holds it. Joining from a
// second session of the same player keeps the existing score.
func (r *Reconciler) Join(ctx context.Context, name string) error {
	if name == "" {
		name = "Player-" + r.playerID[:min(5, len(r.playerID))]
	}

	r.mu.Lock()
	joined := r.joined
	initial := GenerateBalls(r.rng, r.cfg.Layout, r.cfg.InitialBalls, r.cfg.Images)
	r.mu.Unlock()

	if joined {
		if err := r.store.Set(ctx, r.playerPath()+"/name", name); err != nil {
			return fmt.Errorf("rename player: %w", err)
		}
		return nil
	}

	// Registered before the write so a closing tab of the same player
	// leaves the node in place.
	if err := r.store.OnDisconnect(r.session, r.playerPath()); err != nil {
		r.logf("ROOMS: Failed to register disconnect cleanup for %s: %v", r.playerID, err)
	}

	_, err := r.store.Transaction(ctx, r.roomPath, func(cur any) (any, error) {
		m := asMap(cur)

		if len(asMap(m["balls"])) == 0 {
			m["balls"] = initial
			m["isStarted"] = false
		}

		players := asMap(m["players"])
		score, _ := asMap(players[r.playerID])["score"].(float64)
		players[r.playerID] = map[string]any{"name": name, "score": score}
		m["players"] = players

		owner, _ := m["ownerId"].(string)
		if _, ok := players[owner]; !ok {
			m["ownerId"] = r.playerID
		}

		return m, nil
	})
	if err != nil {
		return fmt.Errorf("register player: %w", err)
	}

	r.mu.Lock()
	r.joined = true
	state := r.stateLocked()
	r.mu.Unlock()

	r.logf("ROOMS: Player %s joined %s as %q", r.playerID, r.cfg.RoomID, name)
	r.onState(state)

	return nil
}

// Leave removes the participant from the room without closing the session.
func (r *Reconciler) Leave(ctx context.Context) error {
	r.mu.Lock()
	r.joined = false
	r.mu.Unlock()

	if err := r.store.Disconnect(ctx, r.session); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}

	r.mu.Lock()
	state := r.stateLocked()
	r.mu.Unlock()

	r.onState(state)

	return nil
}

// HandlePose hit-tests the hand keypoints of one pose frame. Popped balls
// are deactivated locally first, then claimed in the store; only a
// successful claim scores.
func (r *Reconciler) HandlePose(ctx context.Context, all []Keypoint, canvas Size) []string {
	hands := HandKeypoints(all)

	type pop struct {
		id   string
		x, y float64
	}

	r.mu.Lock()
	r.keypoints = hands

	if !r.joined || !r.room.IsStarted || r.finished {
		r.mu.Unlock()
		return nil
	}

	hits := HitTest(hands, r.room.Balls, canvas, r.cfg.Policy)
	pops := make([]pop, 0, len(hits))
	for _, id := range hits {
		b := r.room.Balls[id]
		b.Active = false
		b.WasActivated = true
		r.room.Balls[id] = b

		x, y := BallPixel(b, canvas)
		pops = append(pops, pop{id: id, x: x, y: y})
	}

	var state State
	if len(pops) > 0 {
		state = r.stateLocked()
	}
	r.mu.Unlock()

	if len(pops) == 0 {
		return nil
	}

	r.onState(state)

	for _, p := range pops {
		r.effects.Show(EffectExplosion, p.x, p.y, "")
		if r.claim(ctx, p.id) {
			r.effects.Show(EffectScore, p.x, p.y, "+1")
		}
	}

	return hits
}

// claim pops ball id and credits the player in one transaction on the room,
// so every snapshot that shows the ball popped also shows the point. It
// fails when the ball is already inactive. The ball is still popped when the
// player has left, but nobody scores.
func (r *Reconciler) claim(ctx context.Context, id string) bool {
	scored := false

	_, err := r.store.Transaction(ctx, r.roomPath, func(cur any) (any, error) {
		scored = false

		m, ok := cur.(map[string]any)
		if !ok {
			return nil, roomstore.ErrAborted
		}

		balls := asMap(m["balls"])
		ball, ok := balls[id].(map[string]any)
		if !ok {
			return nil, roomstore.ErrAborted
		}
		if active, _ := ball["active"].(bool); !active {
			return nil, roomstore.ErrAborted
		}

		ball["active"] = false
		ball["wasActivated"] = true
		balls[id] = ball
		m["balls"] = balls

		players := asMap(m["players"])
		if p, ok := players[r.playerID].(map[string]any); ok {
			score, _ := p["score"].(float64)
			p["score"] = score + 1
			scored = true
		}

		return m, nil
	})
	if errors.Is(err, roomstore.ErrAborted) {
		r.logf("ROOMS: Ball %s in %s was already popped", id, r.cfg.RoomID)
		return false
	}
	if err != nil {
		r.logf("ROOMS: Failed to pop ball %s in %s: %v", id, r.cfg.RoomID, err)
		return false
	}

	if !scored {
		r.logf("ROOMS: Ball %s in %s popped by departed player %s", id, r.cfg.RoomID, r.playerID)
	}

	return scored
}

func (r *Reconciler) electOwner(ctx context.Context) {
	snap, err := r.store.Transaction(ctx, r.roomPath, func(cur any) (any, error) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, roomstore.ErrAborted
		}

		owner, _ := m["ownerId"].(string)
		next := ElectOwner(owner, playerSet(m))
		if next == owner {
			return nil, roomstore.ErrAborted
		}

		if next == "" {
			delete(m, "ownerId")
		} else {
			m["ownerId"] = next
		}

		return m, nil
	})
	if errors.Is(err, roomstore.ErrAborted) {
		return
	}
	if err != nil {
		r.logf("ROOMS: Owner election in %s failed: %v", r.cfg.RoomID, err)
		return
	}

	owner, _ := snap.Child("ownerId").Value.(string)
	r.logf("ROOMS: Elected %q as owner of %s", owner, r.cfg.RoomID)
}

// Start begins play. Only the owner may start; scores reset to 0 and a new
// ball set is generated when no active ball is left.
func (r *Reconciler) Start(ctx context.Context) error {
	return r.ownerTransition(ctx, false)
}

// Restart deals a fresh ball set, zeroes every score and resumes play.
func (r *Reconciler) Restart(ctx context.Context) error {
	return r.ownerTransition(ctx, true)
}

func (r *Reconciler) ownerTransition(ctx context.Context, restart bool) error {
	count := r.cfg.InitialBalls
	if restart {
		count = r.cfg.RestartBalls
	}

	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return ErrNotJoined
	}
	fresh := GenerateBalls(r.rng, r.cfg.Layout, count, r.cfg.Images)
	r.mu.Unlock()

	_, err := r.store.Transaction(ctx, r.roomPath, func(cur any) (any, error) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, ErrNotJoined
		}

		if owner, _ := m["ownerId"].(string); owner != r.playerID {
			return nil, ErrNotOwner
		}

		started, _ := m["isStarted"].(bool)
		if started && !restart {
			return nil, ErrAlreadyStarted
		}

		if restart || !rawAnyActive(m["balls"]) {
			m["balls"] = fresh
		}
		m["isStarted"] = true

		players := asMap(m["players"])
		for id := range players {
			p := asMap(players[id])
			p["score"] = 0
			players[id] = p
		}
		if len(players) > 0 {
			m["players"] = players
		}

		return m, nil
	})
	if err != nil {
		return err
	}

	verb := "started"
	if restart {
		verb = "restarted"
	}
	r.logf("ROOMS: Player %s %s %s", r.playerID, verb, r.cfg.RoomID)

	return nil
}

// ClaimOwner takes ownership when the current owner is no longer present.
func (r *Reconciler) ClaimOwner(ctx context.Context) error {
	_, err := r.store.Transaction(ctx, r.roomPath, func(cur any) (any, error) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, ErrNotJoined
		}

		players := playerSet(m)
		if _, ok := players[r.playerID]; !ok {
			return nil, ErrNotJoined
		}

		owner, _ := m["ownerId"].(string)
		if owner == r.playerID {
			return nil, roomstore.ErrAborted
		}
		if _, ok := players[owner]; ok {
			return nil, ErrOwnerPresent
		}

		m["ownerId"] = r.playerID

		return m, nil
	})
	if errors.Is(err, roomstore.ErrAborted) {
		return nil
	}

	return err
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stateLocked()
}

func (r *Reconciler) Phase() Phase {
	return r.State().Phase
}

func (r *Reconciler) stateLocked() State {
	isOwner := r.joined && r.room.OwnerID == r.playerID

	return State{
		PlayerID:   r.playerID,
		Phase:      PhaseFor(r.ready, r.joined, isOwner, r.room.IsStarted, r.finished),
		Joined:     r.joined,
		Started:    r.room.IsStarted,
		Finished:   r.finished,
		OwnerID:    r.room.OwnerID,
		IsOwner:    isOwner,
		Players:    maps.Clone(r.room.Players),
		Balls:      maps.Clone(r.room.Balls),
		Scoreboard: Scoreboard(r.room.Players),
	}
}

// Frame renders the current mirrors for a canvas of the given size.
func (r *Reconciler) Frame(canvas Size) Frame {
	r.mu.Lock()
	balls := maps.Clone(r.room.Balls)
	keypoints := append([]Keypoint(nil), r.keypoints...)
	r.mu.Unlock()

	return Render(balls, keypoints, canvas, r.cfg.Policy, r.effects.Active())
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return make(map[string]any)
}

func playerSet(room map[string]any) map[string]Player {
	raw := asMap(room["players"])
	players := make(map[string]Player, len(raw))
	for id := range raw {
		players[id] = Player{}
	}
	return players
}

func rawAnyActive(v any) bool {
	for _, b := range asMap(v) {
		if active, _ := asMap(b)["active"].(bool); active {
			return true
		}
	}
	return false
}
