package state

import (
	"errors"
	"testing"

	"reserveledger/storage"
)

type storedRecord struct {
	Name   string
	Amount string
}

func TestTxCommitPersistsWrites(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	tx, err := mgr.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.KVPut([]byte("record/a"), storedRecord{Name: "a", Amount: "10"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got storedRecord
	ok, err := tx.KVGet([]byte("record/a"), &got)
	if err != nil || !ok {
		t.Fatalf("read own write: ok=%v err=%v", ok, err)
	}
	if db.Len() != 0 {
		t.Fatalf("write leaked before commit")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if db.Len() != 1 {
		t.Fatalf("expected one key after commit, got %d", db.Len())
	}

	view := mgr.View()
	defer view.Discard()
	ok, err = view.KVGet([]byte("record/a"), &got)
	if err != nil || !ok {
		t.Fatalf("view read: ok=%v err=%v", ok, err)
	}
	if got.Amount != "10" {
		t.Fatalf("unexpected amount %s", got.Amount)
	}
}

func TestTxDiscardLeavesStoreUntouched(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	seed, _ := mgr.Begin()
	if err := seed.KVPut([]byte("keep"), storedRecord{Name: "keep"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	tx, err := mgr.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.KVDelete([]byte("keep")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tx.KVPut([]byte("other"), storedRecord{Name: "other"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, _ := tx.KVGet([]byte("keep"), nil)
	if ok {
		t.Fatalf("deleted key still visible inside tx")
	}
	tx.Discard()

	if db.Len() != 1 {
		t.Fatalf("discard should keep store unchanged, have %d keys", db.Len())
	}
	if _, err := tx.KVGet([]byte("keep"), nil); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed, got %v", err)
	}
}

func TestBeginRejectsConcurrentWriter(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	tx, err := mgr.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := mgr.Begin(); !errors.Is(err, ErrTxActive) {
		t.Fatalf("expected ErrTxActive, got %v", err)
	}
	tx.Discard()
	again, err := mgr.Begin()
	if err != nil {
		t.Fatalf("begin after discard: %v", err)
	}
	again.Discard()
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	tx, _ := mgr.Begin()
	defer tx.Discard()
	for _, v := range []string{"a", "b", "a"} {
		if err := tx.KVAppend([]byte("list"), []byte(v)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := tx.KVGetList([]byte("list"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	var empty [][]byte
	if err := tx.KVGetList([]byte("missing"), &empty); err != nil {
		t.Fatalf("missing list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty slice")
	}
}

func TestViewCannotCommit(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	view := mgr.View()
	if err := view.KVPut([]byte("x"), storedRecord{Name: "x"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := view.Commit(); err == nil {
		t.Fatalf("expected read-only commit to fail")
	}
	view.Discard()
}
