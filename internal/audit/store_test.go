package audit

import (
	"path/filepath"
	"testing"
)

func TestRecordOutcomeChainsHashes(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	first, err := store.RecordOutcome("wf-1", "recipe_workflow_full", "completed", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	second, err := store.RecordOutcome("wf-2", "recipe_workflow_full", "failed", "sink unreachable")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if second.PrevHash != first.Hash {
		t.Fatalf("expected second entry to chain to first's hash")
	}
	if second.Index != first.Index+1 {
		t.Fatalf("expected monotonically increasing index")
	}

	ok, err := store.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected chain to verify")
	}
}

func TestOpenReloadsLastHashForContinuedChaining(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := store.RecordOutcome("wf-1", "recipe_workflow_full", "completed", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	second, err := reopened.RecordOutcome("wf-2", "recipe_workflow_full", "completed", "")
	if err != nil {
		t.Fatalf("record after reopen: %v", err)
	}
	if second.PrevHash != first.Hash {
		t.Fatalf("expected chain to continue across reopen")
	}
}
