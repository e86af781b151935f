package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"altanian/internal/config"
	"altanian/internal/game"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Sender  string          `json:"sender"`
}

func dialHub(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": event, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readUntil skips frames until one of type event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Type == event {
			return f
		}
	}
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) map[string]any {
	t.Helper()
	send(t, conn, EventAuthenticate, map[string]string{"token": token})
	f := readUntil(t, conn, EventAuthenticated)
	var out map[string]any
	if err := json.Unmarshal(f.Payload, &out); err != nil {
		t.Fatalf("decode authenticated: %v", err)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	conn := dialHub(t, env)

	send(t, conn, EventJoinGame, map[string]string{"userId": "user-a"})
	f := readUntil(t, conn, EventError)
	var res ActionResult
	_ = json.Unmarshal(f.Payload, &res)
	if res.Code != "unauthorized" {
		t.Fatalf("error = %+v", res)
	}

	if out := authenticate(t, conn, "tok-nope"); out["success"] != false {
		t.Fatalf("bad token authenticated: %v", out)
	}
	out := authenticate(t, conn, "tok-a")
	if out["success"] != true || out["userId"] != "user-a" {
		t.Fatalf("authenticated = %v", out)
	}

	send(t, conn, "warp-drive", nil)
	f = readUntil(t, conn, EventError)
	_ = json.Unmarshal(f.Payload, &res)
	if res.Code != "invalid_input" {
		t.Fatalf("unknown event error = %+v", res)
	}
}

func TestHubJoinForbidsOtherPlayers(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")
	conn := dialHub(t, env)
	authenticate(t, conn, "tok-a")

	send(t, conn, EventJoinGame, map[string]string{"userId": "user-b"})
	f := readUntil(t, conn, EventError)
	var res ActionResult
	_ = json.Unmarshal(f.Payload, &res)
	if res.Code != "forbidden" {
		t.Fatalf("error = %+v", res)
	}
	if n := env.server.Hub().Observers("user-b"); n != 0 {
		t.Fatalf("observers of user-b = %d", n)
	}
}

func TestHubMirrorsRESTMutations(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")
	conn := dialHub(t, env)
	authenticate(t, conn, "tok-a")

	send(t, conn, EventJoinGame, map[string]string{"userId": "user-a"})
	readUntil(t, conn, EventJoined)
	initial := readUntil(t, conn, EventStateUpdate)
	var state StateUpdate
	if err := json.Unmarshal(initial.Payload, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.UserID != "user-a" || state.Digest == "" || state.Rates.EnergyPerSec != 2 {
		t.Fatalf("initial state = %+v", state)
	}
	waitFor(t, func() bool { return env.server.Hub().Observers("user-a") == 1 })

	res := env.do(t, http.MethodPost, "/v1/game/click", "tok-a", nil, nil)
	var snap gameResponse
	res.decode(t, &snap)

	pushed := readUntil(t, conn, EventStateUpdate)
	if err := json.Unmarshal(pushed.Payload, &state); err != nil {
		t.Fatalf("decode pushed state: %v", err)
	}
	if state.Resources.Energy != 1 || state.Digest != snap.Digest {
		t.Fatalf("pushed energy=%v digest=%q, rest digest=%q", state.Resources.Energy, state.Digest, snap.Digest)
	}
	if pushed.Sender != "server" {
		t.Fatalf("sender = %q", pushed.Sender)
	}
}

func TestHubActions(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")
	conn := dialHub(t, env)
	authenticate(t, conn, "tok-a")

	send(t, conn, EventHarvestPlanet, map[string]any{"count": 3})
	f := readUntil(t, conn, EventHarvestResult)
	var res ActionResult
	if err := json.Unmarshal(f.Payload, &res); err != nil {
		t.Fatalf("decode harvest: %v", err)
	}
	if !res.Success || len(res.Gained) != 3 || res.Digest == "" {
		t.Fatalf("harvest result = %+v", res)
	}

	send(t, conn, EventBuyGenerator, map[string]string{"type": game.GeneratorSolarPanels})
	f = readUntil(t, conn, EventBuyResult)
	res = ActionResult{}
	_ = json.Unmarshal(f.Payload, &res)
	if res.Success || res.Code != "insufficient_resources" {
		t.Fatalf("buy result = %+v", res)
	}

	send(t, conn, EventBuildShip, nil)
	f = readUntil(t, conn, EventBuildResult)
	res = ActionResult{}
	_ = json.Unmarshal(f.Payload, &res)
	if res.Success || res.Code != "insufficient_resources" {
		t.Fatalf("build result = %+v", res)
	}

	send(t, conn, EventTravelTo, map[string]string{"planet": "Kethis"})
	f = readUntil(t, conn, EventTravelResult)
	res = ActionResult{}
	_ = json.Unmarshal(f.Payload, &res)
	if res.Success || res.Code != "illegal_state" {
		t.Fatalf("travel result = %+v", res)
	}

	send(t, conn, EventHarvestPlanet, "not an object")
	f = readUntil(t, conn, EventHarvestResult)
	res = ActionResult{}
	_ = json.Unmarshal(f.Payload, &res)
	if res.Success || res.Code != "invalid_input" {
		t.Fatalf("malformed harvest result = %+v", res)
	}
}

func TestHubLeavesRoomOnDisconnect(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")
	conn := dialHub(t, env)
	authenticate(t, conn, "tok-a")
	send(t, conn, EventJoinGame, nil)
	readUntil(t, conn, EventJoined)

	hub := env.server.Hub()
	waitFor(t, func() bool { return hub.Observers("user-a") == 1 })
	_ = conn.Close()
	waitFor(t, func() bool { return hub.Observers("user-a") == 0 })
}

func TestPublishDropsSlowClients(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	slow := &wsClient{id: "slow", send: make(chan []byte, 1)}
	hub.join("user-a", slow)

	snap := game.NewSnapshot(game.NewLedger("user-a", "Altania", 1, time.Now(), game.DefaultBalance()), game.DefaultBalance())
	hub.Publish("user-a", snap)
	if hub.Observers("user-a") != 1 {
		t.Fatalf("client dropped after first publish")
	}
	hub.Publish("user-a", snap)
	if hub.Observers("user-a") != 0 {
		t.Fatalf("slow client kept after its buffer filled")
	}
	if slow.trySend([]byte("x")) {
		t.Fatalf("send succeeded on a closed client")
	}

	var msg frame
	if err := json.Unmarshal(<-slow.send, &msg); err != nil || msg.Type != EventStateUpdate {
		t.Fatalf("queued frame = %+v err=%v", msg, err)
	}
	hub.Publish("nobody", snap)
}
