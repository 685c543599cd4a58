package logbuf

import (
	"fmt"
	"testing"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

func entry(i int) domain.ConnectionLog {
	return domain.ConnectionLog{ID: fmt.Sprintf("log-%d", i), Message: fmt.Sprintf("m%d", i), Type: domain.LogInfo}
}

func TestAppendKeepsMostRecentHundred(t *testing.T) {
	agg := New(DefaultCapacity)
	for i := 1; i <= 150; i++ {
		agg.Append("acc-1", entry(i))
	}
	got := agg.Entries("acc-1")
	if len(got) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(got))
	}
	for i, e := range got {
		want := fmt.Sprintf("log-%d", 150-i)
		if e.ID != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, e.ID)
		}
		if e.AccountID != "acc-1" {
			t.Fatalf("entry %d: account not stamped: %q", i, e.AccountID)
		}
	}
}

func TestAppendDoesNotDeduplicate(t *testing.T) {
	agg := New(5)
	agg.Append("a", entry(1))
	agg.Append("a", entry(1))
	if n := agg.Len("a"); n != 2 {
		t.Fatalf("expected duplicates kept, got %d entries", n)
	}
}

func TestAccountsAreIsolated(t *testing.T) {
	agg := New(3)
	agg.Append("a", entry(1))
	agg.Append("b", entry(2))
	if got := agg.Entries("a"); len(got) != 1 || got[0].ID != "log-1" {
		t.Fatalf("unexpected entries for a: %+v", got)
	}
	if got := agg.Entries("missing"); len(got) != 0 {
		t.Fatalf("expected empty log for unknown account, got %d", len(got))
	}
}

func TestSeedPutsLocalEntriesOnTopOfHistory(t *testing.T) {
	agg := New(4)
	agg.Append("a", entry(100))
	agg.Seed("a", []domain.ConnectionLog{entry(3), entry(2), entry(1)})

	got := agg.Entries("a")
	want := []string{"log-100", "log-3", "log-2", "log-1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], got[i].ID)
		}
	}

	// Later local appends keep prepending onto the seeded base.
	agg.Append("a", entry(101))
	got = agg.Entries("a")
	if got[0].ID != "log-101" || got[len(got)-1].ID != "log-2" {
		t.Fatalf("unexpected order after append: first=%s last=%s", got[0].ID, got[len(got)-1].ID)
	}
}

func TestSeedTruncatesOldestHistory(t *testing.T) {
	agg := New(2)
	agg.Seed("a", []domain.ConnectionLog{entry(3), entry(2), entry(1)})
	got := agg.Entries("a")
	if len(got) != 2 || got[0].ID != "log-3" || got[1].ID != "log-2" {
		t.Fatalf("unexpected seeded entries: %+v", got)
	}
}

func TestDrop(t *testing.T) {
	agg := New(2)
	agg.Append("a", entry(1))
	agg.Drop("a")
	if agg.Len("a") != 0 {
		t.Fatalf("expected empty log after drop")
	}
	if ids := agg.Accounts(); len(ids) != 0 {
		t.Fatalf("expected no accounts, got %v", ids)
	}
}

func TestReseedReplacesHistory(t *testing.T) {
	agg := New(10)
	history := []domain.ConnectionLog{entry(2), entry(1)}
	agg.Seed("a", history)
	agg.Append("a", entry(100))
	agg.Seed("a", history)
	agg.Seed("a", history)

	got := agg.Entries("a")
	want := []string{"log-100", "log-2", "log-1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], got[i].ID)
		}
	}

	agg.Seed("a", []domain.ConnectionLog{entry(3), entry(2), entry(1)})
	if got := agg.Entries("a"); len(got) != 4 || got[1].ID != "log-3" {
		t.Fatalf("expected newer history under local entries, got %+v", got)
	}
}
