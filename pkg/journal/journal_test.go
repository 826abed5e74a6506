package journal

import (
	"testing"
	"time"
)

func TestJournalAppend(t *testing.T) {
	j := New("credit")
	seq, err := j.Append("transfer", "citizen_000001", map[string]any{"amount": "10"})
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Fatalf("expected seq 1, got %d", seq)
	}
	if j.Len() != 1 {
		t.Fatalf("expected length 1, got %d", j.Len())
	}
}

func TestJournalChainIntegrity(t *testing.T) {
	j := New("credit")
	_, _ = j.Append("stake", "a", map[string]any{"amount": "5"})
	_, _ = j.Append("unstake", "a", map[string]any{"amount": "2"})
	_, _ = j.Append("burn", "a", map[string]any{"amount": "1"})

	if err := j.Verify(); err != nil {
		t.Fatalf("expected valid chain, got: %v", err)
	}
}

func TestJournalDetectsTampering(t *testing.T) {
	j := New("credit")
	_, _ = j.Append("transfer", "a", map[string]any{"amount": "10"})
	_, _ = j.Append("transfer", "b", map[string]any{"amount": "20"})

	j.entries[0].Data["amount"] = "1000"
	if err := j.Verify(); err == nil {
		t.Fatal("expected tampering to be detected")
	}
}

func TestJournalGetNotFound(t *testing.T) {
	j := New("credit")
	if _, err := j.Get(99); err == nil {
		t.Fatal("expected error for missing entry")
	}
}

func TestJournalHead(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	j := New("credit").WithClock(func() time.Time { return fixed })
	if j.Head() != Genesis {
		t.Fatal("expected genesis head")
	}
	_, _ = j.Append("airdrop", "treasury", map[string]any{"n": "1"})
	if j.Head() == Genesis {
		t.Fatal("head should advance after append")
	}
	e, err := j.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Timestamp.Equal(fixed) {
		t.Fatalf("expected injected clock, got %v", e.Timestamp)
	}
}

func TestJournalCloneIsIndependent(t *testing.T) {
	j := New("credit")
	_, _ = j.Append("stake", "a", map[string]any{"amount": "5"})

	c := j.Clone()
	_, _ = c.Append("stake", "a", map[string]any{"amount": "6"})

	if j.Len() != 1 || c.Len() != 2 {
		t.Fatalf("clone shares entries: orig=%d clone=%d", j.Len(), c.Len())
	}
}

func TestJournalRestore(t *testing.T) {
	src := New("credit")
	_, _ = src.Append("stake", "a", map[string]any{"amount": "5"})
	_, _ = src.Append("burn", "a", map[string]any{"amount": "1"})

	dst := New("credit")
	if err := dst.Restore(src.Entries()); err != nil {
		t.Fatal(err)
	}
	if dst.Head() != src.Head() {
		t.Fatal("restored head mismatch")
	}

	bad := src.Entries()
	bad[1].PrevHash = "bogus"
	if err := New("credit").Restore(bad); err == nil {
		t.Fatal("expected restore of broken chain to fail")
	}
}
