package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"altanian/internal/auth"
	"altanian/internal/game"
	"altanian/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Push channel event names.
const (
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"
	EventJoinGame      = "join-game"
	EventJoined        = "joined"
	EventHarvestPlanet = "harvest-planet"
	EventHarvestResult = "harvest-result"
	EventTravelTo      = "travel-to"
	EventTravelResult  = "travel-result"
	EventBuyGenerator  = "buy-generator"
	EventBuyResult     = "buy-result"
	EventBuildShip     = "build-ship"
	EventBuildResult   = "build-result"
	EventStateUpdate   = "game-state-update"
	EventError         = "error"
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Sender  string `json:"sender,omitempty"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StateUpdate is the game-state-update payload: the ledger fields at the
// top level plus rates and digest.
type StateUpdate struct {
	game.Ledger
	Rates  game.Rates `json:"rates"`
	Digest string     `json:"digest"`
}

// ActionResult is the payload of every *-result event.
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Digest  string `json:"digest,omitempty"`

	Gained     []game.Gain      `json:"gained,omitempty"`
	Location   *game.Location   `json:"location,omitempty"`
	Generators *game.Generators `json:"generators,omitempty"`
	Ship       *game.Ship       `json:"ship,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// trySend queues b without blocking. It reports false when the buffer is
// full or the client is closed.
func (c *wsClient) trySend(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// session is the per-connection state, created by authenticate and handed
// to each event handler.
type session struct {
	id        string
	client    *wsClient
	principal auth.Principal
	room      string
}

func (s *session) authenticated() bool {
	return s.principal.UserID != ""
}

// Hub fans snapshots out to per-player rooms of socket connections.
type Hub struct {
	log      *slog.Logger
	auth     Authenticator
	game     *game.Service
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*wsClient]struct{}
}

func NewHub(logger *slog.Logger, authn Authenticator, gameSvc *game.Service) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:  logger,
		auth: authn,
		game: gameSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[*wsClient]struct{}),
	}
}

// Publish implements game.Broadcaster. It never blocks: a client whose
// buffer is full is dropped.
func (h *Hub) Publish(userID string, snap game.Snapshot) {
	raw, err := json.Marshal(Message{
		Type:    EventStateUpdate,
		Payload: StateUpdate{Ledger: snap.Game, Rates: snap.Rates, Digest: snap.Digest},
		Sender:  "server",
	})
	if err != nil {
		h.log.Error("encode state update", "user_id", userID, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[userID]
	if len(room) == 0 {
		metrics.Broadcasts.WithLabelValues("no_observers").Inc()
		return
	}
	for c := range room {
		if c.trySend(raw) {
			metrics.Broadcasts.WithLabelValues("sent").Inc()
			continue
		}
		metrics.Broadcasts.WithLabelValues("dropped").Inc()
		h.log.Warn("dropping slow socket", "user_id", userID, "socket_id", c.id)
		delete(room, c)
		c.close()
	}
	if len(room) == 0 {
		delete(h.rooms, userID)
	}
}

// Observers reports how many sockets are joined to userID's room.
func (h *Hub) Observers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

func (h *Hub) join(userID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[*wsClient]struct{})
		h.rooms[userID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(userID string, c *wsClient) {
	if userID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[userID]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, userID)
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	metrics.SocketConnections.Inc()
	defer metrics.SocketConnections.Dec()

	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	sess := &session{id: c.id, client: c}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()

	h.readPump(ctx, sess)

	h.leave(sess.room, c)
	c.close()
	<-done
}

func (h *Hub) readPump(ctx context.Context, sess *session) {
	conn := sess.client.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", "socket_id", sess.id, "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.reply(sess, EventError, ActionResult{Error: "malformed message", Code: "invalid_input"})
			continue
		}
		h.dispatch(ctx, sess, msg)
	}
}

func (h *Hub) writePump(c *wsClient) {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (h *Hub) dispatch(ctx context.Context, sess *session, msg inboundMessage) {
	switch msg.Type {
	case EventAuthenticate:
		h.handleAuthenticate(ctx, sess, msg.Payload)
		return
	case EventJoinGame, EventHarvestPlanet, EventTravelTo, EventBuyGenerator, EventBuildShip:
	default:
		h.reply(sess, EventError, ActionResult{Error: "unknown event " + msg.Type, Code: "invalid_input"})
		return
	}
	if !sess.authenticated() {
		h.reply(sess, EventError, ActionResult{Error: "authenticate first", Code: "unauthorized"})
		return
	}
	switch msg.Type {
	case EventJoinGame:
		h.handleJoin(ctx, sess, msg.Payload)
	case EventHarvestPlanet:
		h.handleHarvest(ctx, sess, msg.Payload)
	case EventTravelTo:
		h.handleTravelTo(ctx, sess, msg.Payload)
	case EventBuyGenerator:
		h.handleBuyGenerator(ctx, sess, msg.Payload)
	case EventBuildShip:
		h.handleBuildShip(ctx, sess)
	}
}

func (h *Hub) handleAuthenticate(ctx context.Context, sess *session, payload json.RawMessage) {
	var in struct {
		Token string `json:"token"`
	}
	if err := decodePayload(payload, &in); err != nil || strings.TrimSpace(in.Token) == "" {
		h.reply(sess, EventAuthenticated, map[string]any{"success": false, "error": "token required"})
		return
	}
	p, err := h.auth.Authenticate(ctx, strings.TrimSpace(in.Token))
	if err != nil {
		h.reply(sess, EventAuthenticated, map[string]any{"success": false, "error": "invalid token"})
		return
	}
	if sess.room != "" && sess.room != p.UserID {
		h.leave(sess.room, sess.client)
		sess.room = ""
	}
	sess.principal = p
	h.reply(sess, EventAuthenticated, map[string]any{"success": true, "userId": p.UserID})
}

func (h *Hub) handleJoin(ctx context.Context, sess *session, payload json.RawMessage) {
	var in struct {
		UserID string `json:"userId"`
	}
	if err := decodePayload(payload, &in); err != nil {
		h.reply(sess, EventError, ActionResult{Error: err.Error(), Code: "invalid_input"})
		return
	}
	if in.UserID != "" && in.UserID != sess.principal.UserID {
		h.reply(sess, EventError, ActionResult{Error: "cannot join another player's game", Code: "forbidden"})
		return
	}
	if sess.room == "" {
		h.join(sess.principal.UserID, sess.client)
		sess.room = sess.principal.UserID
	}
	h.reply(sess, EventJoined, map[string]any{"userId": sess.room})

	snap, err := h.game.State(ctx, sess.principal.UserID)
	if err != nil {
		h.reply(sess, EventError, failure(err))
		return
	}
	h.reply(sess, EventStateUpdate, StateUpdate{Ledger: snap.Game, Rates: snap.Rates, Digest: snap.Digest})
}

func (h *Hub) handleHarvest(ctx context.Context, sess *session, payload json.RawMessage) {
	var in struct {
		PlanetName string `json:"planetName"`
		Count      int    `json:"count"`
	}
	if err := decodePayload(payload, &in); err != nil {
		h.reply(sess, EventHarvestResult, ActionResult{Error: err.Error(), Code: "invalid_input"})
		return
	}
	snap, gains, err := h.game.HarvestMany(ctx, sess.principal.UserID, strings.TrimSpace(in.PlanetName), in.Count)
	if err != nil {
		h.reply(sess, EventHarvestResult, failure(err))
		return
	}
	h.reply(sess, EventHarvestResult, ActionResult{Success: true, Digest: snap.Digest, Gained: gains})
}

func (h *Hub) handleTravelTo(ctx context.Context, sess *session, payload json.RawMessage) {
	var in struct {
		Planet string `json:"planet"`
	}
	if err := decodePayload(payload, &in); err != nil {
		h.reply(sess, EventTravelResult, ActionResult{Error: err.Error(), Code: "invalid_input"})
		return
	}
	snap, err := h.game.TravelToPlanet(ctx, sess.principal.UserID, strings.TrimSpace(in.Planet))
	if err != nil {
		h.reply(sess, EventTravelResult, failure(err))
		return
	}
	loc := snap.Game.Location
	h.reply(sess, EventTravelResult, ActionResult{Success: true, Digest: snap.Digest, Location: &loc})
}

func (h *Hub) handleBuyGenerator(ctx context.Context, sess *session, payload json.RawMessage) {
	var in struct {
		Type string `json:"type"`
	}
	if err := decodePayload(payload, &in); err != nil {
		h.reply(sess, EventBuyResult, ActionResult{Error: err.Error(), Code: "invalid_input"})
		return
	}
	snap, err := h.game.BuyGenerator(ctx, sess.principal.UserID, strings.TrimSpace(in.Type))
	if err != nil {
		h.reply(sess, EventBuyResult, failure(err))
		return
	}
	gens := snap.Game.Generators
	h.reply(sess, EventBuyResult, ActionResult{Success: true, Digest: snap.Digest, Generators: &gens})
}

func (h *Hub) handleBuildShip(ctx context.Context, sess *session) {
	snap, err := h.game.BuildShip(ctx, sess.principal.UserID)
	if err != nil {
		h.reply(sess, EventBuildResult, failure(err))
		return
	}
	ship := snap.Game.Ship
	h.reply(sess, EventBuildResult, ActionResult{Success: true, Digest: snap.Digest, Ship: &ship})
}

// reply queues a frame for this connection only.
func (h *Hub) reply(sess *session, event string, payload any) {
	raw, err := json.Marshal(Message{Type: event, Payload: payload, Sender: "server"})
	if err != nil {
		h.log.Error("encode socket reply", "socket_id", sess.id, "event", event, "err", err)
		return
	}
	if !sess.client.trySend(raw) {
		h.log.Warn("socket reply dropped", "socket_id", sess.id, "event", event)
	}
}

func failure(err error) ActionResult {
	code := game.ResultLabel(err)
	msg := err.Error()
	switch code {
	case "storage_unavailable":
		msg = "storage unavailable, try again later"
	case "internal":
		msg = "internal error"
	}
	return ActionResult{Error: msg, Code: code}
}

func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.New("malformed payload")
	}
	return nil
}
