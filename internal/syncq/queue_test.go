package syncq

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestPushLoadSave(t *testing.T) {
	t.Setenv("CONQ_HOME", t.TempDir())

	got, err := Load()
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty queue, got %d", len(got))
	}

	if err := Push(Command{Method: "POST", Path: "/v1/game/click", IdempotencyKey: "k1"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := Push(Command{Method: "POST", Path: "/v1/game/buy-generator", Body: map[string]any{"type": "miners"}, IdempotencyKey: "k2"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[1].Body["type"] != "miners" {
		t.Fatalf("unexpected queue %+v", got)
	}
	if got[0].QueuedAt.IsZero() {
		t.Fatalf("queued_at not stamped")
	}

	if err := Save(got[1:]); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got) != 1 || got[0].IdempotencyKey != "k2" {
		t.Fatalf("unexpected queue after save %+v", got)
	}
}

func TestPushDedupesAndCaps(t *testing.T) {
	t.Setenv("CONQ_HOME", t.TempDir())

	for i := 0; i < 3; i++ {
		if err := Push(Command{Method: "POST", Path: "/v1/game/click", IdempotencyKey: "same"}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	got, _ := Load()
	if len(got) != 1 {
		t.Fatalf("duplicate keys queued: %d", len(got))
	}

	full := make([]Command, MaxQueued)
	for i := range full {
		full[i] = Command{Method: "POST", Path: "/v1/game/click", IdempotencyKey: fmt.Sprintf("k%d", i)}
	}
	if err := Save(full); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := Push(Command{Method: "POST", Path: "/v1/game/click", IdempotencyKey: "over"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("push over cap err = %v", err)
	}
}

var errRejected = errors.New("400 insufficient_resources")

func TestDrain(t *testing.T) {
	t.Setenv("CONQ_HOME", t.TempDir())

	if res, err := Drain(context.Background(), nil, nil, nil); err != nil || res != (Result{}) {
		t.Fatalf("drain empty = %+v err=%v", res, err)
	}

	for _, key := range []string{"ok", "no", "down", "ok2"} {
		if err := Push(Command{Method: "POST", Path: "/v1/game/click", IdempotencyKey: key}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	var sent []string
	send := func(_ context.Context, c Command) error {
		sent = append(sent, c.IdempotencyKey)
		switch c.IdempotencyKey {
		case "no":
			return errRejected
		case "down":
			return errors.New("connection refused")
		}
		return nil
	}
	permanent := func(err error) bool { return errors.Is(err, errRejected) }
	failures := 0
	res, err := Drain(context.Background(), send, permanent, func(Command, error) { failures++ })
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res != (Result{Replayed: 2, Rejected: 1, Remaining: 1}) {
		t.Fatalf("result = %+v", res)
	}
	if len(sent) != 4 || sent[0] != "ok" || sent[3] != "ok2" {
		t.Fatalf("replay order = %v", sent)
	}
	if failures != 2 {
		t.Fatalf("onErr called %d times", failures)
	}
	left, _ := Load()
	if len(left) != 1 || left[0].IdempotencyKey != "down" {
		t.Fatalf("queue after drain = %+v", left)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err = Drain(ctx, send, permanent, nil)
	if err != nil || res.Remaining != 1 || res.Replayed != 0 {
		t.Fatalf("canceled drain = %+v err=%v", res, err)
	}
}
