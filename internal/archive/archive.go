// Package archive writes and reads zstd-compressed JSONL dumps of ledgers.
// The first line is a Header; each following line is one ledger document.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"altanian/internal/game"

	"github.com/klauspost/compress/zstd"
)

const Kind = "altanian.ledgers"

type Header struct {
	Kind          string    `json:"kind"`
	SchemaVersion int       `json:"schemaVersion"`
	CreatedAt     time.Time `json:"createdAt"`
	Count         int       `json:"count"`
}

// Path names the archive written at t inside dir.
func Path(dir string, t time.Time) string {
	return filepath.Join(dir, "ledgers-"+t.UTC().Format("20060102T150405Z")+".jsonl.zst")
}

// Write stores ledgers at path. The file appears atomically.
func Write(path string, ledgers []game.Ledger, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := write(tmp, ledgers, now); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func write(path string, ledgers []game.Ledger, now time.Time) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	je := json.NewEncoder(bw)

	if err := je.Encode(Header{
		Kind:          Kind,
		SchemaVersion: game.SchemaVersion,
		CreatedAt:     now.UTC(),
		Count:         len(ledgers),
	}); err != nil {
		enc.Close()
		return err
	}
	for _, l := range ledgers {
		if err := je.Encode(l); err != nil {
			enc.Close()
			return fmt.Errorf("encode ledger %s: %w", l.UserID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// Read loads an archive. Each ledger passes through the versioned decoder,
// so archives from older schema versions still load.
func Read(path string) (Header, []game.Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, nil, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return Header{}, nil, err
		}
		return Header{}, nil, fmt.Errorf("empty archive")
	}
	var hdr Header
	if err := json.Unmarshal(sc.Bytes(), &hdr); err != nil {
		return Header{}, nil, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Kind != Kind {
		return Header{}, nil, fmt.Errorf("not a ledger archive: kind %q", hdr.Kind)
	}
	out := make([]game.Ledger, 0, hdr.Count)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		l, err := game.DecodeLedger(sc.Bytes())
		if err != nil {
			return hdr, nil, fmt.Errorf("decode ledger %d: %w", len(out)+1, err)
		}
		out = append(out, l)
	}
	if err := sc.Err(); err != nil {
		return hdr, nil, err
	}
	if len(out) != hdr.Count {
		return hdr, out, fmt.Errorf("archive truncated: header says %d ledgers, read %d", hdr.Count, len(out))
	}
	return hdr, out, nil
}
