package ratelimit

import (
	"testing"
	"time"
)

func TestTable_CheckAndTouch(t *testing.T) {
	tbl := NewTable()
	now := time.Unix(1_700_000_000, 0)
	tbl.SetClock(func() time.Time { return now })

	cooldown := 10 * time.Second

	res := tbl.Check("A1", cooldown)
	if !res.Allowed {
		t.Fatalf("first check should be allowed")
	}

	// Check alone never starts a cooldown.
	res = tbl.Check("A1", cooldown)
	if !res.Allowed {
		t.Fatalf("repeated check without touch should stay allowed")
	}

	tbl.Touch("A1", now)

	res = tbl.Check("A1", cooldown)
	if res.Allowed {
		t.Fatalf("check right after touch should be limited")
	}
	if res.Wait != cooldown {
		t.Fatalf("wait = %v, want %v", res.Wait, cooldown)
	}

	now = now.Add(4 * time.Second)
	res = tbl.Check("A1", cooldown)
	if res.Allowed || res.Wait != 6*time.Second {
		t.Fatalf("after 4s: allowed=%v wait=%v, want limited 6s", res.Allowed, res.Wait)
	}

	now = now.Add(6 * time.Second)
	res = tbl.Check("A1", cooldown)
	if !res.Allowed {
		t.Fatalf("after full cooldown, check should be allowed")
	}
}

func TestTable_PerAgentIsolation(t *testing.T) {
	tbl := NewTable()
	now := time.Unix(1_700_000_000, 0)
	tbl.SetClock(func() time.Time { return now })

	tbl.Touch("A1", now)
	if res := tbl.Check("A2", time.Minute); !res.Allowed {
		t.Fatalf("A2 should be unaffected by A1's cooldown")
	}
}
