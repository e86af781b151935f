package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"altanian/internal/auth"
	"altanian/internal/config"
	"altanian/internal/game"
	"altanian/internal/store"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	ts     *httptest.Server
	server *Server
	store  *store.SQLite
	clock  *testClock
}

var testTokens = map[string]string{
	"tok-a": "user-a",
	"tok-b": "user-b",
}

func newTestEnv(t *testing.T, cfg config.APIConfig) *testEnv {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return newTestEnvWithStore(t, cfg, db, db)
}

func newTestEnvWithStore(t *testing.T, cfg config.APIConfig, ledgers game.Store, db *store.SQLite) *testEnv {
	t.Helper()
	clock := &testClock{now: t0}
	svc := game.NewService(ledgers, game.DefaultBalance(), nil)
	svc.SetClock(clock.Now)
	svc.SetSeedSource(func() int64 { return 1234 })
	srv := New(cfg, nil, auth.NewStaticVerifier(testTokens), svc)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, server: srv, store: db, clock: clock}
}

type apiResult struct {
	status int
	header http.Header
	body   []byte
}

func (r apiResult) decode(t *testing.T, out any) {
	t.Helper()
	if err := json.Unmarshal(r.body, out); err != nil {
		t.Fatalf("decode %s: %v", r.body, err)
	}
}

func (r apiResult) code(t *testing.T) string {
	t.Helper()
	var e struct {
		Code string `json:"code"`
	}
	r.decode(t, &e)
	return e.Code
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers map[string]string) apiResult {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return apiResult{status: resp.StatusCode, header: resp.Header, body: raw}
}

func (e *testEnv) start(t *testing.T, token, nation string) gameResponse {
	t.Helper()
	res := e.do(t, http.MethodPost, "/v1/game/start", token, map[string]string{"nationName": nation}, nil)
	if res.status != http.StatusOK {
		t.Fatalf("start status=%d body=%s", res.status, res.body)
	}
	var out gameResponse
	res.decode(t, &out)
	return out
}

func stateSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "state.schema.json"))
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return s
}

func validateState(t *testing.T, s *jsonschema.Schema, body []byte) {
	t.Helper()
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := s.Validate(v); err != nil {
		t.Fatalf("response does not match schema: %v\n%s", err, body)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	res := env.do(t, http.MethodGet, "/healthz", "", nil, nil)
	if res.status != http.StatusOK {
		t.Fatalf("status = %d", res.status)
	}
	if got := res.header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("cors header = %q", got)
	}
}

func TestGameRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "unknown", token: "tok-z"},
	}
	for _, tc := range tests {
		res := env.do(t, http.MethodGet, "/v1/game/state", tc.token, nil, nil)
		if res.status != http.StatusUnauthorized || res.code(t) != "unauthorized" {
			t.Fatalf("%s: status=%d body=%s", tc.name, res.status, res.body)
		}
	}
}

func TestStateBeforeStart(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	res := env.do(t, http.MethodGet, "/v1/game/state", "tok-a", nil, nil)
	if res.status != http.StatusNotFound || res.code(t) != "not_started" {
		t.Fatalf("status=%d body=%s", res.status, res.body)
	}
}

func TestStartAndStateMatchSchema(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	schema := stateSchema(t)

	res := env.do(t, http.MethodPost, "/v1/game/start", "tok-a", map[string]string{"nationName": "Altania"}, nil)
	if res.status != http.StatusOK {
		t.Fatalf("start status=%d body=%s", res.status, res.body)
	}
	validateState(t, schema, res.body)

	state := env.do(t, http.MethodGet, "/v1/game/state", "tok-a", nil, nil)
	if state.status != http.StatusOK {
		t.Fatalf("state status=%d body=%s", state.status, state.body)
	}
	validateState(t, schema, state.body)
	var snap gameResponse
	state.decode(t, &snap)
	if snap.Game.UserID != "user-a" || snap.Game.NationName != "Altania" {
		t.Fatalf("game = %+v", snap.Game)
	}

	etag := state.header.Get("ETag")
	if etag != `"`+snap.Digest+`"` {
		t.Fatalf("etag = %q digest = %q", etag, snap.Digest)
	}
	cached := env.do(t, http.MethodGet, "/v1/game/state", "tok-a", nil, map[string]string{"If-None-Match": etag})
	if cached.status != http.StatusNotModified {
		t.Fatalf("conditional state status = %d", cached.status)
	}

	env.clock.Advance(time.Second)
	fresh := env.do(t, http.MethodGet, "/v1/game/state", "tok-a", nil, map[string]string{"If-None-Match": etag})
	if fresh.status != http.StatusOK {
		t.Fatalf("state after time passed status = %d", fresh.status)
	}

	other := env.do(t, http.MethodGet, "/v1/game/state", "tok-b", nil, nil)
	if other.status != http.StatusNotFound {
		t.Fatalf("second player sees status %d", other.status)
	}
}

func TestStartRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	tests := []struct {
		name string
		body any
	}{
		{name: "unknown field", body: map[string]string{"nation": "Altania"}},
		{name: "empty name", body: map[string]string{"nationName": "  "}},
		{name: "blocked name", body: map[string]string{"nationName": "Admin Empire"}},
	}
	for _, tc := range tests {
		res := env.do(t, http.MethodPost, "/v1/game/start", "tok-a", tc.body, nil)
		if res.status != http.StatusBadRequest || res.code(t) != "invalid_input" {
			t.Fatalf("%s: status=%d body=%s", tc.name, res.status, res.body)
		}
	}
}

func TestEconomyOverHTTP(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")

	env.clock.Advance(10 * time.Second)
	res := env.do(t, http.MethodPost, "/v1/game/buy-generator", "tok-a", map[string]string{"type": "solarPanels"}, nil)
	if res.status != http.StatusBadRequest || res.code(t) != "insufficient_resources" {
		t.Fatalf("buy at 20: status=%d body=%s", res.status, res.body)
	}

	env.clock.Advance(15 * time.Second)
	res = env.do(t, http.MethodPost, "/v1/game/buy-generator", "tok-a", map[string]string{"type": "solarPanels"}, nil)
	if res.status != http.StatusOK {
		t.Fatalf("buy at 50: status=%d body=%s", res.status, res.body)
	}
	var snap gameResponse
	res.decode(t, &snap)
	if snap.Game.Resources.Energy != 0 || snap.Game.Generators.SolarPanels != 1 || snap.Rates.EnergyPerSec != 3.5 {
		t.Fatalf("after buy = %+v rates = %+v", snap.Game.Resources, snap.Rates)
	}

	res = env.do(t, http.MethodPost, "/v1/game/buy-generator", "tok-a", map[string]string{"type": "warpGates"}, nil)
	if res.status != http.StatusBadRequest || res.code(t) != "invalid_input" {
		t.Fatalf("unknown generator: status=%d body=%s", res.status, res.body)
	}
	res = env.do(t, http.MethodPost, "/v1/game/build-ship", "tok-a", nil, nil)
	if res.status != http.StatusBadRequest || res.code(t) != "insufficient_resources" {
		t.Fatalf("build ship: status=%d body=%s", res.status, res.body)
	}
	res = env.do(t, http.MethodPost, "/v1/game/launch", "tok-a", nil, nil)
	if res.status != http.StatusBadRequest || res.code(t) != "illegal_state" {
		t.Fatalf("launch without ship: status=%d body=%s", res.status, res.body)
	}
}

func TestShipTravelOverHTTP(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")
	if _, err := env.store.Update(context.Background(), "user-a", func(l *game.Ledger) error {
		l.Resources = game.Resources{Energy: 600, Altanerite: 10}
		return nil
	}); err != nil {
		t.Fatalf("seed resources: %v", err)
	}

	for _, path := range []string{"/v1/game/build-ship", "/v1/game/launch"} {
		if res := env.do(t, http.MethodPost, path, "tok-a", nil, nil); res.status != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, res.status, res.body)
		}
	}

	res := env.do(t, http.MethodPost, "/v1/game/travel-cost", "tok-a", map[string]string{"direction": "next"}, nil)
	if res.status != http.StatusOK {
		t.Fatalf("travel-cost status=%d body=%s", res.status, res.body)
	}
	var quote game.TravelQuote
	res.decode(t, &quote)
	if quote.Cost != 100 || !quote.EnergyOK || !quote.RangeOK || quote.Target != 1 {
		t.Fatalf("quote = %+v", quote)
	}

	res = env.do(t, http.MethodPost, "/v1/game/travel", "tok-a", map[string]string{"direction": "next"}, nil)
	if res.status != http.StatusOK {
		t.Fatalf("travel status=%d body=%s", res.status, res.body)
	}
	validateState(t, stateSchema(t), res.body)
	var snap gameResponse
	res.decode(t, &snap)
	if snap.SystemIndex == nil || *snap.SystemIndex != 1 || snap.Game.Resources.Energy != 0 {
		t.Fatalf("after travel index=%v energy=%v", snap.SystemIndex, snap.Game.Resources.Energy)
	}

	res = env.do(t, http.MethodPost, "/v1/game/travel", "tok-a", map[string]string{"direction": "next"}, nil)
	if res.status != http.StatusBadRequest || res.code(t) != "insufficient_resources" {
		t.Fatalf("travel broke: status=%d body=%s", res.status, res.body)
	}

	res = env.do(t, http.MethodGet, "/v1/game/system", "tok-a", nil, nil)
	var sys game.System
	res.decode(t, &sys)
	if res.status != http.StatusOK || sys.Index != 1 || sys.Star.Name != snap.Game.Location.System {
		t.Fatalf("system status=%d sys=%+v", res.status, sys.Star)
	}
	res = env.do(t, http.MethodGet, "/v1/game/system?index=0", "tok-a", nil, nil)
	res.decode(t, &sys)
	if sys.Star.Name != game.HomeSystemName {
		t.Fatalf("system 0 = %+v", sys.Star)
	}
	res = env.do(t, http.MethodGet, "/v1/game/system?index=abc", "tok-a", nil, nil)
	if res.status != http.StatusBadRequest {
		t.Fatalf("bad index status = %d", res.status)
	}

	res = env.do(t, http.MethodPost, "/v1/game/land", "tok-a", nil, nil)
	if res.status != http.StatusOK {
		t.Fatalf("land status=%d body=%s", res.status, res.body)
	}
	res.decode(t, &snap)
	if snap.Game.Location.Mode != game.ModePlanet {
		t.Fatalf("mode after land = %q", snap.Game.Location.Mode)
	}
}

func TestPlanetClickReturnsGain(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")

	res := env.do(t, http.MethodPost, "/v1/game/planet-click", "tok-a", nil, nil)
	if res.status != http.StatusOK {
		t.Fatalf("planet-click status=%d body=%s", res.status, res.body)
	}
	validateState(t, stateSchema(t), res.body)
	var out gameResponse
	res.decode(t, &out)
	if out.Gained == nil || out.Gained.Amount < 1 || out.Game.Harvests != 1 {
		t.Fatalf("gained = %+v harvests = %d", out.Gained, out.Game.Harvests)
	}

	res = env.do(t, http.MethodPost, "/v1/game/planet-click", "tok-a", map[string]string{"planetName": "Veyra"}, nil)
	if res.status != http.StatusBadRequest || res.code(t) != "illegal_state" {
		t.Fatalf("wrong planet: status=%d body=%s", res.status, res.body)
	}
}

func TestCraftingOverHTTP(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")

	steps := []struct {
		path string
		body any
	}{
		{path: "/v1/game/allocate-energy", body: map[string]float64{"craftingPct": 50}},
		{path: "/v1/game/craft", body: map[string]any{"type": "glass", "energyRequired": 10}},
		{path: "/v1/game/craft", body: map[string]any{"type": "wood", "energyRequired": 50}},
		{path: "/v1/game/cancel-craft", body: map[string]int{"index": 1}},
		{path: "/v1/game/cancel-craft", body: map[string]int{"index": 9}},
		{path: "/v1/game/fm/auto", body: map[string]bool{"autoFuel": true}},
	}
	for _, step := range steps {
		if res := env.do(t, http.MethodPost, step.path, "tok-a", step.body, nil); res.status != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", step.path, res.status, res.body)
		}
	}

	env.clock.Advance(10 * time.Second)
	res := env.do(t, http.MethodPost, "/v1/game/tick", "tok-a", nil, nil)
	var snap gameResponse
	res.decode(t, &snap)
	if snap.Game.Inventory.Get("glass") != 1 || len(snap.Game.CraftingQueue) != 0 || !snap.Game.FM.AutoFuel {
		t.Fatalf("after tick inventory=%v queue=%+v fm=%+v", snap.Game.Inventory.Get("glass"), snap.Game.CraftingQueue, snap.Game.FM)
	}

	res = env.do(t, http.MethodPost, "/v1/game/craft", "tok-a", map[string]any{"type": "glass", "energyRequired": -1}, nil)
	if res.status != http.StatusBadRequest || res.code(t) != "invalid_input" {
		t.Fatalf("bad craft: status=%d body=%s", res.status, res.body)
	}
	res = env.do(t, http.MethodPost, "/v1/game/fm/fuel", "tok-a", map[string]float64{"amount": 5}, nil)
	if res.status != http.StatusBadRequest || res.code(t) != "insufficient_resources" {
		t.Fatalf("fuel without alexandrite: status=%d body=%s", res.status, res.body)
	}
}

func TestSaveFleetAndStory(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")

	res := env.do(t, http.MethodPost, "/v1/game/save-fleet", "tok-a", map[string]any{
		"mainShips":       2,
		"alexandriteArmy": map[string]int{"count": 30, "level": 2},
	}, nil)
	if res.status != http.StatusOK {
		t.Fatalf("save-fleet status=%d body=%s", res.status, res.body)
	}
	var snap gameResponse
	res.decode(t, &snap)
	if snap.Game.Fleet.MainShips != 2 || snap.Game.Fleet.AlexandriteArmy.Count != 30 || snap.Game.Fleet.TopazTroopers.Level != 1 {
		t.Fatalf("fleet = %+v", snap.Game.Fleet)
	}

	res = env.do(t, http.MethodGet, "/v1/game/story", "tok-a", nil, nil)
	var story game.StoryView
	res.decode(t, &story)
	if res.status != http.StatusOK || story.Nation != "Altania" || story.Chapter == "" {
		t.Fatalf("story status=%d body=%s", res.status, res.body)
	}
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")

	key := map[string]string{"Idempotency-Key": "click-1"}
	first := env.do(t, http.MethodPost, "/v1/game/click", "tok-a", nil, key)
	second := env.do(t, http.MethodPost, "/v1/game/click", "tok-a", nil, key)
	if first.status != http.StatusOK || second.status != http.StatusOK {
		t.Fatalf("statuses %d %d", first.status, second.status)
	}
	if second.header.Get("Idempotent-Replayed") != "true" {
		t.Fatalf("second response was not a replay")
	}
	if !bytes.Equal(first.body, second.body) {
		t.Fatalf("replayed body differs:\n%s\n%s", first.body, second.body)
	}

	env.do(t, http.MethodPost, "/v1/game/click", "tok-a", nil, map[string]string{"Idempotency-Key": "click-2"})
	res := env.do(t, http.MethodGet, "/v1/game/state", "tok-a", nil, nil)
	var snap gameResponse
	res.decode(t, &snap)
	if snap.Game.Resources.Energy != 2 {
		t.Fatalf("energy = %v, want 2", snap.Game.Resources.Energy)
	}
}

func TestIdempotencyKeysArePerPlayer(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.start(t, "tok-a", "Altania")
	env.start(t, "tok-b", "Veyrans")

	key := map[string]string{"Idempotency-Key": "same"}
	env.do(t, http.MethodPost, "/v1/game/click", "tok-a", nil, key)
	res := env.do(t, http.MethodPost, "/v1/game/click", "tok-b", nil, key)
	if res.header.Get("Idempotent-Replayed") != "" {
		t.Fatalf("key leaked across players")
	}
	var snap gameResponse
	res.decode(t, &snap)
	if snap.Game.UserID != "user-b" || snap.Game.Resources.Energy != 1 {
		t.Fatalf("player b = %+v", snap.Game)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{RateLimitRPS: 0.5, RateLimitBurst: 2})
	env.start(t, "tok-a", "Altania")

	env.do(t, http.MethodPost, "/v1/game/click", "tok-a", nil, nil)
	res := env.do(t, http.MethodPost, "/v1/game/click", "tok-a", nil, nil)
	if res.status != http.StatusTooManyRequests || res.code(t) != "rate_limited" {
		t.Fatalf("status=%d body=%s", res.status, res.body)
	}
	if res.header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if other := env.do(t, http.MethodGet, "/v1/game/state", "tok-b", nil, nil); other.status == http.StatusTooManyRequests {
		t.Fatalf("limiter is not per player")
	}
}

func TestAuthProxyUnsupportedWithStaticTokens(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	for _, path := range []string{"/v1/auth/signup", "/v1/auth/login"} {
		res := env.do(t, http.MethodPost, path, "", map[string]string{"email": "a@b.c", "password": "pw"}, nil)
		if res.status != http.StatusNotImplemented || res.code(t) != "unsupported" {
			t.Fatalf("%s status=%d body=%s", path, res.status, res.body)
		}
	}
}

// offlineStore fails every call the way an unreachable database does.
type offlineStore struct{}

func (offlineStore) Create(context.Context, game.Ledger) (game.Ledger, bool, error) {
	return game.Ledger{}, false, fmt.Errorf("%w: dial tcp: connection refused", game.ErrStorageUnavailable)
}

func (offlineStore) Load(context.Context, string) (game.Ledger, error) {
	return game.Ledger{}, fmt.Errorf("%w: dial tcp: connection refused", game.ErrStorageUnavailable)
}

func (offlineStore) Update(context.Context, string, func(*game.Ledger) error) (game.Ledger, error) {
	return game.Ledger{}, fmt.Errorf("%w: dial tcp: connection refused", game.ErrStorageUnavailable)
}

func (offlineStore) ListUserIDs(context.Context) ([]string, error) {
	return nil, fmt.Errorf("%w: dial tcp: connection refused", game.ErrStorageUnavailable)
}

func TestStorageUnavailableIs503(t *testing.T) {
	env := newTestEnvWithStore(t, config.APIConfig{}, offlineStore{}, nil)
	key := map[string]string{"Idempotency-Key": "retry-me"}
	for i := 0; i < 2; i++ {
		res := env.do(t, http.MethodPost, "/v1/game/click", "tok-a", nil, key)
		if res.status != http.StatusServiceUnavailable || res.code(t) != "storage_unavailable" {
			t.Fatalf("attempt %d: status=%d body=%s", i, res.status, res.body)
		}
		if res.header.Get("Idempotent-Replayed") != "" {
			t.Fatalf("server error was replayed from cache")
		}
	}
}
