package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientActionSendsHeaders(t *testing.T) {
	var gotAuth, gotKey, gotPath string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"game":{"userId":"u1","resources":{"energy":7}},"rates":{"energyPerSec":2},"digest":"abc","gained":{"key":"wood","amount":2}}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL + "/")
	out, err := c.Action(context.Background(), "tok", PathPlanetClick, nil, "key-1")
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	if gotAuth != "Bearer tok" || gotKey != "key-1" || gotPath != PathPlanetClick {
		t.Fatalf("auth=%q key=%q path=%q", gotAuth, gotKey, gotPath)
	}
	if gotBody == nil {
		t.Fatalf("expected an empty JSON object body")
	}
	if out.Game.UserID != "u1" || out.Game.Resources.Energy != 7 || out.Digest != "abc" {
		t.Fatalf("out = %+v", out)
	}
	if out.Gained == nil || out.Gained.Key != "wood" || out.Gained.Amount != 2 {
		t.Fatalf("gained = %+v", out.Gained)
	}
}

func TestClientParsesStructuredErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"insufficient resources: need 50 energy, have 20","code":"insufficient_resources"}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Action(context.Background(), "tok", PathBuyGenerator, map[string]any{"type": "solarPanels"}, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != "insufficient_resources" {
		t.Fatalf("api error = %+v", apiErr)
	}
	if !IsAPIError(err) {
		t.Fatalf("IsAPIError = false")
	}
}

func TestClientTransportErrorIsNotAPIError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewClient(url).State(context.Background(), "tok")
	if err == nil || IsAPIError(err) {
		t.Fatalf("err = %v", err)
	}
}
