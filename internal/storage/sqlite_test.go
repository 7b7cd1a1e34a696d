package storage

import (
	"context"
	"path/filepath"
	"testing"

	logx "github.com/purpose168/xyops/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "xyops.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) should return nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.GetState(ctx, "events/e1/cursor"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	if err := st.PutState(ctx, "events/e1/cursor", "1767225600"); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	if err := st.PutState(ctx, "events/e1/cursor", "1767225660"); err != nil {
		t.Fatalf("PutState overwrite: %v", err)
	}

	v, ok, err := st.GetState(ctx, "events/e1/cursor")
	if err != nil || !ok {
		t.Fatalf("GetState: ok=%v err=%v", ok, err)
	}
	if v != "1767225660" {
		t.Fatalf("got %q, want overwritten value", v)
	}
}

func TestDeleteStateRemovesNamespace(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	seed := map[string]string{
		"events/e1":         "x",
		"events/e1/cursor":  "100",
		"events/e10/cursor": "200",
		"events/e2/cursor":  "300",
	}
	for k, v := range seed {
		if err := st.PutState(ctx, k, v); err != nil {
			t.Fatalf("PutState(%q): %v", k, err)
		}
	}

	if err := st.DeleteState(ctx, "events/e1"); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}

	for _, gone := range []string{"events/e1", "events/e1/cursor"} {
		if _, ok, _ := st.GetState(ctx, gone); ok {
			t.Fatalf("key %q should be deleted", gone)
		}
	}
	// sibling prefixes survive ("events/e10" is not under "events/e1/")
	for _, kept := range []string{"events/e10/cursor", "events/e2/cursor"} {
		if _, ok, _ := st.GetState(ctx, kept); !ok {
			t.Fatalf("key %q should survive", kept)
		}
	}
}

func TestAppendTransactionFillsDefaults(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.AppendTransaction(ctx, Transaction{
		Kind:        "warning",
		Description: "Unexpected result from Scheduler Plugin: workload",
	}); err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}
	// a second entry must not collide on the generated id
	if err := st.AppendTransaction(ctx, Transaction{Kind: "warning", Description: "again"}); err != nil {
		t.Fatalf("AppendTransaction second: %v", err)
	}
}
