package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logx "github.com/purpose168/xyops/pkg/logx"
)

const testDoc = `
events:
  - id: e1
    title: nightly report
    enabled: true
    triggers:
      - type: schedule
        enabled: true
        hours: [2]
        minutes: [0]
  - id: e2
    title: one shot
    enabled: true
    triggers:
      - type: single
        enabled: true
        epoch: 1767225600
plugins:
  - id: workload
    title: workload gate
    enabled: true
    command: /usr/local/bin/workload-gate
categories:
  - id: maint
    title: maintenance
    enabled: false
channels:
  - id: ch1
    title: ops alerts
    enabled: true
    email: ops@example.com
web_hooks:
  - id: wh1
    title: alerting
    enabled: true
    method: POST
    url: https://alerts.example.com/in
`

func writeRepo(t *testing.T) *FileRepo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.yaml")
	if err := os.WriteFile(path, []byte(testDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewFileRepo(path, logx.Nop())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestSnapshotLookups(t *testing.T) {
	t.Parallel()
	r := writeRepo(t)
	snap := r.Snapshot()

	if got := len(snap.Events()); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
	ev := snap.Event("e1")
	if ev == nil || ev.Title != "nightly report" {
		t.Fatalf("event e1 not loaded: %+v", ev)
	}
	if len(ev.Triggers) != 1 || ev.Triggers[0].Hours[0] != 2 {
		t.Fatalf("trigger not decoded: %+v", ev.Triggers)
	}
	if pl := snap.Plugin("workload"); pl == nil || pl.Command == "" {
		t.Fatalf("plugin not loaded: %+v", pl)
	}
	if cat := snap.Category("maint"); cat == nil || cat.Enabled {
		t.Fatalf("category not loaded: %+v", cat)
	}
	if ch := snap.Channel("ch1"); ch == nil || ch.Email != "ops@example.com" {
		t.Fatalf("channel not loaded: %+v", ch)
	}
	if wh := snap.WebHook("wh1"); wh == nil || wh.Method != "POST" {
		t.Fatalf("web hook not loaded: %+v", wh)
	}
	if snap.Event("nope") != nil || snap.Server("nope") != nil {
		t.Fatal("missing lookups should return nil")
	}
}

func TestEmptyRepoSnapshot(t *testing.T) {
	t.Parallel()
	r := NewFileRepo(filepath.Join(t.TempDir(), "missing.yaml"), logx.Nop())
	snap := r.Snapshot()
	if len(snap.Events()) != 0 || snap.Event("x") != nil {
		t.Fatal("unloaded repo should serve an empty snapshot")
	}
}

func TestDeleteEventRewritesFile(t *testing.T) {
	t.Parallel()
	r := writeRepo(t)

	old := r.Snapshot()
	if err := r.DeleteEvent(context.Background(), "e2"); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}

	snap := r.Snapshot()
	if snap.Event("e2") != nil || len(snap.Events()) != 1 {
		t.Fatal("event e2 still visible after delete")
	}
	// snapshots handed out earlier stay stable
	if old.Event("e2") == nil {
		t.Fatal("previously issued snapshot must not change")
	}

	// the deletion survives a reload from disk
	if err := r.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	reloaded := r.Snapshot()
	if reloaded.Event("e2") != nil || reloaded.Event("e1") == nil {
		t.Fatal("delete was not persisted to the record file")
	}
	// the other record kinds survive the rewrite too
	if reloaded.Plugin("workload") == nil || reloaded.WebHook("wh1") == nil {
		t.Fatal("rewrite dropped non-event records")
	}

	if err := r.DeleteEvent(context.Background(), "e2"); err == nil {
		t.Fatal("deleting a missing event should error")
	}
}
