// Popbox Balloon Game
//
// Every participant sees the same set of balloons over their own mirrored
// camera feed and pops them with their hands. Whoever pops a balloon first
// scores a point; when none are left the game is over and the owner can
// deal a new round.
//
// Features:
// - Rooms per id: /path/:roomid and /path/:roomid/ws
// - All room state lives in the shared room store at rooms/{id}
// - One reconciler per WebSocket session keeps that client's view in sync
// - First player to join owns the room; ownership moves to the lowest
//   remaining player id when the owner leaves
// - Players identified by cookie (playerID), removed when their session ends
// - Finished games are archived with their final scoreboard
// - Empty rooms are reaped after a configurable idle timeout
// - Random 8-char room ids via crypto/rand, with server-side collision check
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/popbox/archive"
	"github.com/Seednode/popbox/game"
	"github.com/Seednode/popbox/roomstore"
)

const (
	maxNameLength = 32
	maxMessage    = 64 * 1024

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// Messages coming from clients
type ClientMessage struct {
	Type      string          `json:"type"`                // "ready", "client_error", "join", "pose", "start", "restart", "claim_owner", "leave"
	Name      string          `json:"name,omitempty"`      // join
	Kind      string          `json:"kind,omitempty"`      // client_error: "camera" or "model"
	Message   string          `json:"message,omitempty"`   // client_error
	Keypoints []game.Keypoint `json:"keypoints,omitempty"` // pose
	Width     float64         `json:"width,omitempty"`     // pose: canvas size in pixels
	Height    float64         `json:"height,omitempty"`    // pose
}

// SessionInfoMessage is sent immediately on connect.
type SessionInfoMessage struct {
	Type     string     `json:"type"` // "session_info"
	PlayerID string     `json:"player_id"`
	RoomID   string     `json:"room_id"`
	Phase    game.Phase `json:"phase"`
	IsOwner  bool       `json:"is_owner"`
}

// RoomStateMessage carries everything but the balls; those arrive as frames.
type RoomStateMessage struct {
	Type       string                 `json:"type"` // "room_state"
	Phase      game.Phase             `json:"phase"`
	Joined     bool                   `json:"joined"`
	Started    bool                   `json:"started"`
	Finished   bool                   `json:"finished"`
	OwnerID    string                 `json:"owner_id,omitempty"`
	IsOwner    bool                   `json:"is_owner"`
	Players    map[string]game.Player `json:"players"`
	Scoreboard []game.Entry           `json:"scoreboard"`
}

type FrameMessage struct {
	Type string `json:"type"` // "frame"
	game.Frame
}

type EffectMessage struct {
	Type string `json:"type"` // "effect"
	game.Effect
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

func newRoomState(s game.State) RoomStateMessage {
	players := s.Players
	if players == nil {
		players = map[string]game.Player{}
	}

	return RoomStateMessage{
		Type:       "room_state",
		Phase:      s.Phase,
		Joined:     s.Joined,
		Started:    s.Started,
		Finished:   s.Finished,
		OwnerID:    s.OwnerID,
		IsOwner:    s.IsOwner,
		Players:    players,
		Scoreboard: s.Scoreboard,
	}
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string

	mu     sync.Mutex
	closed bool
}

// push queues msg without blocking; a client too slow to drain its queue
// misses messages rather than stalling the store dispatcher.
func (c *Client) push(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// roomWatch tracks what the manager needs to know about one room.
type roomWatch struct {
	id    string
	unsub func()

	mu         sync.RWMutex
	lastActive time.Time
	sessions   int
	players    int
	finished   bool
	seen       bool
}

// RoomManager watches every room that has been visited, archives finished
// games and removes rooms nobody has used for idleTimeout.
type RoomManager struct {
	cfg     *Config
	store   *roomstore.Store
	results archive.Archive

	mu          sync.Mutex
	rooms       map[string]*roomWatch
	idleTimeout time.Duration
	quit        chan struct{}
	closeOnce   sync.Once
}

func newRoomManager(cfg *Config, store *roomstore.Store, results archive.Archive, idleTimeout time.Duration) *RoomManager {
	rm := &RoomManager{
		cfg:         cfg,
		store:       store,
		results:     results,
		rooms:       make(map[string]*roomWatch),
		idleTimeout: idleTimeout,
		quit:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

func (rm *RoomManager) Close() {
	rm.closeOnce.Do(func() {
		close(rm.quit)

		rm.mu.Lock()
		defer rm.mu.Unlock()

		for id, w := range rm.rooms {
			w.unsub()
			delete(rm.rooms, id)
		}
	})
}

func (rm *RoomManager) gameConfig(roomID string) game.Config {
	return game.Config{
		RoomID:         roomID,
		Layout:         rm.cfg.layout(),
		InitialBalls:   rm.cfg.balls,
		RestartBalls:   rm.cfg.restartBalls,
		Images:         rm.cfg.images,
		Policy:         rm.cfg.policy(),
		EffectDuration: rm.cfg.effectDuration,
		Logf:           logger(rm.cfg),
	}
}

// watch returns the tracker for roomID, subscribing to the room the first
// time it is seen.
func (rm *RoomManager) watch(roomID string) (*roomWatch, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	return rm.watchLocked(roomID)
}

func (rm *RoomManager) watchLocked(roomID string) (*roomWatch, error) {
	if w, ok := rm.rooms[roomID]; ok {
		return w, nil
	}

	w := &roomWatch{id: roomID, lastActive: time.Now()}

	unsub, err := rm.store.Subscribe("rooms/"+roomID, func(snap roomstore.Snapshot) {
		rm.observe(w, snap)
	})
	if err != nil {
		return nil, err
	}
	w.unsub = unsub

	rm.rooms[roomID] = w

	logf(rm.cfg, "ROOMS: Watching room %s", roomID)

	return w, nil
}

func (rm *RoomManager) observe(w *roomWatch, snap roomstore.Snapshot) {
	var room game.Room
	if err := snap.Decode(&room); err != nil {
		logf(rm.cfg, "ERROR: Failed to decode room %s: %v", w.id, err)
		return
	}

	finished := game.IsFinished(room.Balls)

	w.mu.Lock()
	w.players = len(room.Players)
	if w.players > 0 {
		w.lastActive = time.Now()
	}
	justFinished := w.seen && finished && !w.finished
	w.finished = finished
	w.seen = true
	w.mu.Unlock()

	if !justFinished {
		return
	}

	result := archive.Result{
		RoomID:     w.id,
		FinishedAt: time.Now(),
		Scores:     game.Scoreboard(room.Players),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := rm.results.Record(ctx, result); err != nil {
			logf(rm.cfg, "ERROR: Failed to archive result for %s: %v", w.id, err)
			return
		}

		logf(rm.cfg, "ROOMS: Archived result for %s (%d players)", w.id, len(result.Scores))
	}()
}

// connect counts a new session against roomID. The count is taken under
// rm.mu so the reaper never sees a watched room with an uncounted session.
func (rm *RoomManager) connect(roomID string) (*roomWatch, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	w, err := rm.watchLocked(roomID)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.sessions++
	w.lastActive = time.Now()
	w.mu.Unlock()

	return w, nil
}

func (rm *RoomManager) disconnect(w *roomWatch) {
	w.mu.Lock()
	w.sessions--
	w.lastActive = time.Now()
	w.mu.Unlock()
}

// newRoomID generates a crypto-random room id and ensures it doesn't
// collide with a watched or stored room.
func (rm *RoomManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		rm.mu.Lock()
		_, watched := rm.rooms[id]
		rm.mu.Unlock()

		if watched {
			continue
		}

		if snap, err := rm.store.Get("rooms/" + id); err == nil && !snap.Exists {
			return id
		}
	}
}

// reaperLoop periodically removes rooms that have had no players and no
// sessions for longer than idleTimeout.
func (rm *RoomManager) reaperLoop() {
	ticker := time.NewTicker(max(rm.idleTimeout/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-rm.quit:
			return
		case <-ticker.C:
			rm.reap(time.Now().Add(-rm.idleTimeout))
		}
	}
}

func (rm *RoomManager) reap(cutoff time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for id, w := range rm.rooms {
		w.mu.RLock()
		idle := w.sessions == 0 && w.players == 0 && w.lastActive.Before(cutoff)
		w.mu.RUnlock()

		if !idle {
			continue
		}

		delete(rm.rooms, id)
		w.unsub()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := rm.store.Remove(ctx, "rooms/"+id)
		cancel()

		if err != nil {
			logf(rm.cfg, "ERROR: Failed to remove idle room %s: %v", id, err)
			continue
		}

		logf(rm.cfg, "ROOMS: Removed idle room %s", id)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "popbox_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func validRoomID(id string) bool {
	return id != "" && len(id) <= 64 && !strings.ContainsAny(id, "/.")
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	for utf8.RuneCountInString(name) > maxNameLength {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}

// WebSocket handler that gives each connection its own reconciler
func serveRoomSocket(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if !validRoomID(roomID) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)

		watch, err := rm.connect(roomID)
		if err != nil {
			http.Error(w, "unable to open room", http.StatusInternalServerError)
			return
		}
		defer rm.disconnect(watch)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: WebSocket upgrade for %s failed: %v", realIP(r), err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 64),
			playerID: playerID,
		}

		sessionID := uuid.NewString()

		rec := game.NewReconciler(rm.store, playerID, sessionID, rm.gameConfig(roomID), game.Listener{
			OnState: func(s game.State) {
				client.push(newRoomState(s))
			},
			OnEffect: func(e game.Effect) {
				client.push(EffectMessage{Type: "effect", Effect: e})
			},
		})

		state := rec.State()
		client.push(SessionInfoMessage{
			Type:     "session_info",
			PlayerID: playerID,
			RoomID:   roomID,
			Phase:    state.Phase,
			IsOwner:  state.IsOwner,
		})

		logf(cfg, "ROOMS: Player %s connected to %s from %s", playerID, roomID, realIP(r))

		go client.writePump()

		if err := rec.Open(); err != nil {
			logf(cfg, "ERROR: Failed to open room %s: %v", roomID, err)
		} else {
			client.readPump(cfg, rec)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		rec.Close(ctx)
		cancel()

		client.close()

		logf(cfg, "ROOMS: Player %s disconnected from %s", playerID, roomID)
	}
}

func (c *Client) readPump(cfg *Config, rec *game.Reconciler) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := c.handle(cfg, rec, msg); err != nil {
			logf(cfg, "ROOMS: %s from %s rejected: %v", msg.Type, c.playerID, err)
			c.push(ErrorMessage{Type: "error", Message: err.Error()})
		}
	}
}

func (c *Client) handle(cfg *Config, rec *game.Reconciler, msg ClientMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch msg.Type {
	case "ready":
		rec.MarkReady()
	case "client_error":
		rec.ReportClientError(msg.Kind, msg.Message)
	case "join":
		return rec.Join(ctx, cleanName(msg.Name))
	case "pose":
		canvas := game.Size{Width: msg.Width, Height: msg.Height}
		if canvas.Width <= 0 || canvas.Height <= 0 {
			canvas = cfg.referenceSize()
		}

		rec.HandlePose(ctx, msg.Keypoints, canvas)
		c.push(FrameMessage{Type: "frame", Frame: rec.Frame(canvas)})
	case "start":
		return rec.Start(ctx)
	case "restart":
		return rec.Restart(ctx)
	case "claim_owner":
		return rec.ClaimOwner(ctx)
	case "leave":
		return rec.Leave(ctx)
	default:
		// ignore unknown types
	}

	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !validRoomID(ps.ByName("roomid")) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		scheme := cfg.scheme()
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

// RoomView is the public JSON view of a room.
type RoomView struct {
	RoomID     string               `json:"room_id"`
	Exists     bool                 `json:"exists"`
	Started    bool                 `json:"started"`
	Finished   bool                 `json:"finished"`
	OwnerID    string               `json:"owner_id,omitempty"`
	Balls      map[string]game.Ball `json:"balls"`
	Scoreboard []game.Entry         `json:"scoreboard"`
}

func serveRoomState(cfg *Config, rm *RoomManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if !validRoomID(roomID) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		snap, err := rm.store.Get("rooms/" + roomID)
		if err != nil {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		var room game.Room
		if err := snap.Decode(&room); err != nil {
			errs <- err
			http.Error(w, "unable to read room", http.StatusInternalServerError)
			return
		}

		view := RoomView{
			RoomID:     roomID,
			Exists:     snap.Exists,
			Started:    room.IsStarted,
			Finished:   game.IsFinished(room.Balls),
			OwnerID:    room.OwnerID,
			Balls:      room.Balls,
			Scoreboard: game.Scoreboard(room.Players),
		}
		if view.Balls == nil {
			view.Balls = map[string]game.Ball{}
		}

		if err := serveJSON(cfg, w, r, "Room state", view); err != nil {
			errs <- err
		}
	}
}

func serveResults(cfg *Config, rm *RoomManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if !validRoomID(roomID) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 100 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		results, err := rm.results.Recent(r.Context(), roomID, limit)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				errs <- err
			}
			http.Error(w, "unable to load results", http.StatusInternalServerError)
			return
		}

		if err := serveJSON(cfg, w, r, "Results", results); err != nil {
			errs <- err
		}
	}
}

func serveRoomPage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !validRoomID(ps.ByName("roomid")) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		data, err := assets.ReadFile("assets/balloons/index.html")
		if err != nil {
			errs <- err
			http.Error(w, "page not found", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		if _, err := w.Write(data); err != nil {
			errs <- err
		}
	}
}

// redirectNewRoom handles GET /path by generating a new random room id
// (with server-side collision detection) and redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rm.newRoomID()
		logf(cfg, "ROOMS: Created room %s%s/%s", cfg.prefix, path, roomID)
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerBalloonGame sets up routes so that:
//   - $path                  → redirects to new random room (8-char ID)
//   - $path/:roomid          → HTML client
//   - $path/:roomid/ws       → WebSocket for that room
//   - $path/:roomid/qr       → PNG QR code for that room URL
//   - $path/:roomid/state    → current room as JSON
//   - $path/:roomid/results  → archived results as JSON
func registerBalloonGame(cfg *Config, path string, mux *httprouter.Router, store *roomstore.Store, results archive.Archive, errs chan<- error) *RoomManager {
	rm := newRoomManager(cfg, store, results, cfg.sessionTimeout)

	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, rm))
	mux.GET(cfg.prefix+path+"/:roomid", serveRoomPage(cfg, errs))
	mux.GET(cfg.prefix+path+"/:roomid/ws", serveRoomSocket(cfg, rm))
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler(cfg))
	mux.GET(cfg.prefix+path+"/:roomid/state", serveRoomState(cfg, rm, errs))
	mux.GET(cfg.prefix+path+"/:roomid/results", serveResults(cfg, rm, errs))

	return rm
}
