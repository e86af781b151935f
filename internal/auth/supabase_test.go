package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newFakeGoTrue(t *testing.T, userCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		userCalls.Add(1)
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("missing apikey header")
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":401,"error_code":"bad_jwt","msg":"invalid JWT"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(User{ID: "u-1", Email: "a@b.c"})
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "hunter22" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(Session{AccessToken: "good", User: User{ID: "u-1"}})
	})
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSupabaseAuthenticateCachesPrincipal(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeGoTrue(t, &calls)
	c := NewSupabaseClient(srv.URL+"/", "anon")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		p, err := c.Authenticate(context.Background(), "good")
		if err != nil || p.UserID != "u-1" || p.Email != "a@b.c" {
			t.Fatalf("authenticate = %+v err=%v", p, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("user endpoint hit %d times, want 1", calls.Load())
	}

	now = now.Add(principalTTL)
	if _, err := c.Authenticate(context.Background(), "good"); err != nil {
		t.Fatalf("authenticate after ttl: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expired entry was served from cache")
	}
}

func TestSupabaseRejectedTokenNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeGoTrue(t, &calls)
	c := NewSupabaseClient(srv.URL, "anon")

	for i := 0; i < 2; i++ {
		_, err := c.Authenticate(context.Background(), "bad")
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("err = %v, want ErrInvalidToken", err)
		}
		if !strings.Contains(err.Error(), "invalid JWT") {
			t.Fatalf("provider message lost: %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("user endpoint hit %d times, want 2", calls.Load())
	}
	if _, err := c.Authenticate(context.Background(), "  "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("blank token err = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("blank token reached the provider")
	}
}

func TestSupabaseLoginErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeGoTrue(t, &calls)
	c := NewSupabaseClient(srv.URL, "anon")

	s, err := c.Login(context.Background(), "a@b.c", "hunter22")
	if err != nil || s.AccessToken != "good" {
		t.Fatalf("login = %+v err=%v", s, err)
	}

	_, err = c.Login(context.Background(), "a@b.c", "nope")
	if !errors.Is(err, ErrRejected) || !strings.Contains(err.Error(), "Invalid login credentials") {
		t.Fatalf("bad password err = %v", err)
	}

	_, err = c.SignUp(context.Background(), "a@b.c", "hunter22")
	if err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("5xx err = %v, want non-rejection failure", err)
	}
}
