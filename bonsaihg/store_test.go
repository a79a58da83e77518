package bonsaihg

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/scmcore/corestore/ids"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	dir := t.TempDir()
	st, err := OpenSQLStore(context.Background(), "file:"+filepath.Join(dir, "mapping.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testEntry(repoID int64, seed byte) Entry {
	return Entry{
		RepoID: repoID,
		Bonsai: NewBonsaiID([]byte{seed}),
		Hg:     HashHgChangeset(nil, nil, []byte{seed}),
	}
}

func TestAddAndRoundTrip(t *testing.T) {
	st := newTestSQLStore(t)
	ctx := context.Background()
	e := testEntry(1, 0x42)

	inserted, err := st.Add(ctx, e)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !inserted {
		t.Fatalf("expected fresh insert")
	}

	byBonsai, err := st.GetByBonsai(ctx, QueryOptions{}, []BonsaiID{e.Bonsai})
	if err != nil {
		t.Fatalf("get by bonsai: %v", err)
	}
	if len(byBonsai) != 1 || !byBonsai[0].Equal(e) {
		t.Fatalf("unexpected bonsai lookup result: %+v", byBonsai)
	}

	byHg, err := st.GetByHg(ctx, QueryOptions{}, []HgID{e.Hg})
	if err != nil {
		t.Fatalf("get by hg: %v", err)
	}
	if len(byHg) != 1 || !byHg[0].Equal(e) {
		t.Fatalf("unexpected hg lookup result: %+v", byHg)
	}
}

func TestAddIdempotent(t *testing.T) {
	st := newTestSQLStore(t)
	ctx := context.Background()
	e := testEntry(1, 0x01)

	if _, err := st.Add(ctx, e); err != nil {
		t.Fatalf("first add: %v", err)
	}
	inserted, err := st.Add(ctx, e)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if inserted {
		t.Fatalf("expected second identical add to be a no-op")
	}
}

func TestAddConflict(t *testing.T) {
	st := newTestSQLStore(t)
	ctx := context.Background()
	e := testEntry(1, 0x02)
	if _, err := st.Add(ctx, e); err != nil {
		t.Fatalf("first add: %v", err)
	}

	conflicting := e
	conflicting.Hg = HashHgChangeset(nil, nil, []byte{0x99})
	_, err := st.Add(ctx, conflicting)
	var conflictErr *ConflictingEntriesError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected ConflictingEntriesError, got %v", err)
	}
}

func TestGetHgInRange(t *testing.T) {
	st := newTestSQLStore(t)
	ctx := context.Background()
	for i := byte(0); i < 5; i++ {
		if _, err := st.Add(ctx, testEntry(7, i)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	all, err := st.GetHgInRange(ctx, 7, HgID{}, HgID{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff,
	}, 100)
	if err != nil {
		t.Fatalf("get_hg_in_range: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Compare(all[i]) > 0 {
			t.Fatalf("results not sorted: %v", all)
		}
	}
}

func TestMissingLookupReturnsEmpty(t *testing.T) {
	st := newTestSQLStore(t)
	ctx := context.Background()
	missing := BonsaiID{ids.New(ids.DomainChangeset, []byte("nope"))}
	got, err := st.GetByBonsai(ctx, QueryOptions{}, []BonsaiID{missing})
	if err != nil {
		t.Fatalf("get by bonsai: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no rows, got %+v", got)
	}
}
