// Package syncq persists game commands that could not reach the server so
// `conq sync` can replay them later.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"altanian/internal/cli"
)

// MaxQueued caps the offline queue; a player offline long enough to fill
// it should resync state rather than replay a backlog.
const MaxQueued = 500

var ErrQueueFull = errors.New("offline queue is full")

type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

func queuePath() (string, error) {
	dir, err := cli.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return cli.WriteFileAtomic(path, raw)
}

// Push appends cmd unless a command with the same idempotency key is
// already queued.
func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	for _, q := range commands {
		if cmd.IdempotencyKey != "" && q.IdempotencyKey == cmd.IdempotencyKey {
			return nil
		}
	}
	if len(commands) >= MaxQueued {
		return fmt.Errorf("%w (%d commands); run `conq sync`", ErrQueueFull, len(commands))
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Result counts what Drain did with each queued command.
type Result struct {
	Replayed  int
	Rejected  int
	Remaining int
}

// Drain replays the queue in order through send. Commands for which
// permanent(err) is true are dropped (the server saw them and said no);
// other failures stay queued. The queue file is rewritten once at the end.
func Drain(ctx context.Context, send func(context.Context, Command) error, permanent func(error) bool, onErr func(Command, error)) (Result, error) {
	queue, err := Load()
	if err != nil {
		return Result{}, err
	}
	var res Result
	if len(queue) == 0 {
		return res, nil
	}
	remaining := make([]Command, 0, len(queue))
	for _, q := range queue {
		if ctx.Err() != nil {
			remaining = append(remaining, q)
			continue
		}
		err := send(ctx, q)
		switch {
		case err == nil:
			res.Replayed++
			continue
		case permanent(err):
			res.Rejected++
		default:
			remaining = append(remaining, q)
		}
		if onErr != nil {
			onErr(q, err)
		}
	}
	res.Remaining = len(remaining)
	if err := Save(remaining); err != nil {
		return res, err
	}
	return res, nil
}
