package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

func TestWriter_AppendsCompressedJSONL(t *testing.T) {
	dir := t.TempDir()
	l := NewPlacementLogger(dir)

	entries := []Entry{
		{Time: 1700000000000, CanvasID: "default", X: 1, Y: 2, Color: "#FF0000", AgentID: "A1", Outcome: "place"},
		{Time: 1700000001000, CanvasID: "default", X: 1, Y: 2, Color: "#00FF00", AgentID: "A2", Outcome: "conquer", PreviousOwner: "A1"},
	}
	for _, e := range entries {
		if err := l.WritePlacement(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "placements", "placements-*.jsonl.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("journal files = %v, %v; want exactly one", matches, err)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var got []Entry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[1].Outcome != "conquer" || got[1].PreviousOwner != "A1" {
		t.Fatalf("second entry = %+v", got[1])
	}
}

func TestSQLiteIndex_Placements(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "placements.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	for i := 0; i < 5; i++ {
		e := Entry{
			Time:     1700000000000 + int64(i)*1000,
			CanvasID: "default",
			X:        i, Y: i,
			Color:   "#FFFFFF",
			AgentID: "A1",
			Outcome: "place",
		}
		if err := idx.WritePlacement(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = idx.WritePlacement(Entry{Time: 1700000010000, CanvasID: "default", AgentID: "A2", Color: "#000000", Outcome: "place"})

	// The writer goroutine commits on a short timer; poll instead of sleeping
	// a fixed worst case.
	deadline := time.Now().Add(10 * time.Second)
	for {
		n, err := idx.AgentPlacementCount(context.Background(), "A1")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("count = %d after 10s, want 5", n)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Writes after close are silently dropped.
	if err := idx.WritePlacement(Entry{AgentID: "A3"}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
}
