package scheduler

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/purpose168/xyops/internal/core"
	"github.com/purpose168/xyops/internal/storage"
)

// fakeSnapshot serves a fixed set of records.
type fakeSnapshot struct {
	events     []*core.Event
	plugins    map[string]*core.Plugin
	categories map[string]*core.Category
}

func (s *fakeSnapshot) Events() []*core.Event { return s.events }
func (s *fakeSnapshot) Event(id string) *core.Event {
	for _, ev := range s.events {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}
func (s *fakeSnapshot) Plugin(id string) *core.Plugin               { return s.plugins[id] }
func (s *fakeSnapshot) Category(id string) *core.Category           { return s.categories[id] }
func (s *fakeSnapshot) Channel(id string) *core.NotificationChannel { return nil }
func (s *fakeSnapshot) WebHook(id string) *core.WebHookDefinition   { return nil }
func (s *fakeSnapshot) Server(id string) *core.Server               { return nil }

// fakeLauncher records every draft it receives.
type fakeLauncher struct {
	mu     sync.Mutex
	drafts []*core.JobDraft
}

func (l *fakeLauncher) LaunchJob(ctx context.Context, draft *core.JobDraft) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drafts = append(l.drafts, draft)
	return "j" + strconv.Itoa(len(l.drafts)), nil
}

func (l *fakeLauncher) launched() []*core.JobDraft {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*core.JobDraft(nil), l.drafts...)
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu           sync.Mutex
	state        map[string]string
	transactions []storage.Transaction
}

func newMemStore() *memStore { return &memStore{state: map[string]string{}} }

func (s *memStore) GetState(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok, nil
}

func (s *memStore) PutState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	return nil
}

func (s *memStore) DeleteState(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.state {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			delete(s.state, k)
		}
	}
	return nil
}

func (s *memStore) AppendTransaction(ctx context.Context, t storage.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, t)
	return nil
}

func (s *memStore) Close() error { return nil }

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []string
}

func (d *fakeDeleter) DeleteEvent(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, id)
	return nil
}

// tickMinute is an arbitrary minute-aligned instant (2026-03-10 14:30 UTC).
func tickMinute(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", "2026-03-10 14:30")
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func newTestEngine(launcher *fakeLauncher, store storage.Store, deleter core.EventDeleter) *Engine {
	return NewEngine(Config{DefaultTimezone: "UTC", Version: "test"}, Deps{
		Launcher: launcher,
		Store:    store,
		Deleter:  deleter,
	})
}

func scheduleEvent(id string, triggers ...*core.Trigger) *core.Event {
	return &core.Event{ID: id, Title: "event " + id, Enabled: true, Triggers: triggers}
}

func TestTickScheduleMinuteMatch(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	eng := newTestEngine(launcher, nil, nil)
	now := tickMinute(t)

	snap := &fakeSnapshot{events: []*core.Event{
		scheduleEvent("e1", &core.Trigger{Type: core.TriggerSchedule, Enabled: true, Minutes: []int{30}}),
		scheduleEvent("e2", &core.Trigger{Type: core.TriggerSchedule, Enabled: true, Minutes: []int{31}}),
	}}
	eng.Tick(context.Background(), now, snap)

	drafts := launcher.launched()
	if len(drafts) != 1 {
		t.Fatalf("expected 1 launch, got %d", len(drafts))
	}
	d := drafts[0]
	if d.ID != "e1" || d.Source != core.SourceScheduler || d.Now != now.Unix() {
		t.Fatalf("unexpected draft: id=%s source=%s now=%d", d.ID, d.Source, d.Now)
	}
	if d.SubType != "" || d.State != "" {
		t.Fatalf("plain schedule launch should carry no sub-type or state, got %q/%q", d.SubType, d.State)
	}
}

func TestTickSingleTrigger(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	eng := newTestEngine(launcher, nil, nil)
	now := tickMinute(t)

	snap := &fakeSnapshot{events: []*core.Event{
		// epoch mid-minute still matches its containing minute
		scheduleEvent("once", &core.Trigger{Type: core.TriggerSingle, Enabled: true, Epoch: now.Unix() + 42}),
	}}
	eng.Tick(context.Background(), now, snap)

	drafts := launcher.launched()
	if len(drafts) != 1 {
		t.Fatalf("expected 1 launch, got %d", len(drafts))
	}
	if drafts[0].SubType != core.TriggerSingle {
		t.Fatalf("expected sub-type single, got %q", drafts[0].SubType)
	}

	// the same event does not fire again on the next minute
	eng.Tick(context.Background(), now.Add(time.Minute), snap)
	if got := len(launcher.launched()); got != 1 {
		t.Fatalf("single trigger fired again: %d launches", got)
	}
}

func TestTickPrecisionOffsets(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	eng := newTestEngine(launcher, nil, nil)
	now := tickMinute(t)

	snap := &fakeSnapshot{events: []*core.Event{
		scheduleEvent("quarter",
			&core.Trigger{Type: core.TriggerSchedule, Enabled: true},
			&core.Trigger{Type: core.TriggerPrecision, Enabled: true, Seconds: []int{0, 15, 30, 45}},
		),
	}}
	eng.Tick(context.Background(), now, snap)

	drafts := launcher.launched()
	if len(drafts) != 4 {
		t.Fatalf("expected 4 launches, got %d", len(drafts))
	}
	for i, want := range []int64{0, 15, 30, 45} {
		d := drafts[i]
		if d.State != core.StateStartDelay || d.Until != now.Unix()+want {
			t.Fatalf("launch %d: state=%q until=%d, want start_delay until=%d",
				i, d.State, d.Until, now.Unix()+want)
		}
	}
}

func TestTickIntervalOffsets(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	eng := newTestEngine(launcher, nil, nil)
	now := tickMinute(t)

	snap := &fakeSnapshot{events: []*core.Event{
		scheduleEvent("cadence",
			&core.Trigger{Type: core.TriggerInterval, Enabled: true, Start: 0, Duration: 20},
		),
	}}
	eng.Tick(context.Background(), now, snap)

	drafts := launcher.launched()
	if len(drafts) != 3 {
		t.Fatalf("expected 3 launches, got %d", len(drafts))
	}
	for i, want := range []int64{0, 20, 40} {
		d := drafts[i]
		if d.SubType != core.TriggerInterval || d.Until != now.Unix()+want {
			t.Fatalf("launch %d: sub=%q until=%d, want interval until=%d",
				i, d.SubType, d.Until, now.Unix()+want)
		}
	}
}

func TestTickDelayTrigger(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	eng := newTestEngine(launcher, nil, nil)
	now := tickMinute(t)

	snap := &fakeSnapshot{events: []*core.Event{
		scheduleEvent("slow",
			&core.Trigger{Type: core.TriggerSchedule, Enabled: true},
			&core.Trigger{Type: core.TriggerDelay, Enabled: true, Duration: 120},
		),
	}}
	eng.Tick(context.Background(), now, snap)

	drafts := launcher.launched()
	if len(drafts) != 1 {
		t.Fatalf("expected 1 launch, got %d", len(drafts))
	}
	if drafts[0].State != core.StateStartDelay || drafts[0].Until != now.Unix()+120 {
		t.Fatalf("expected start_delay until=%d, got state=%q until=%d",
			now.Unix()+120, drafts[0].State, drafts[0].Until)
	}
}

func TestTickBlackoutBlocks(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	eng := newTestEngine(launcher, nil, nil)
	now := tickMinute(t)

	snap := &fakeSnapshot{events: []*core.Event{
		scheduleEvent("dark",
			&core.Trigger{Type: core.TriggerSchedule, Enabled: true},
			&core.Trigger{Type: core.TriggerBlackout, Enabled: true, Start: now.Unix() - 3600, End: now.Unix() + 3600},
		),
	}}
	eng.Tick(context.Background(), now, snap)

	if got := len(launcher.launched()); got != 0 {
		t.Fatalf("blackout should block all launches, got %d", got)
	}
}

func TestTickDisabledGates(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	eng := newTestEngine(launcher, nil, nil)
	now := tickMinute(t)

	disabledEvent := scheduleEvent("off", &core.Trigger{Type: core.TriggerSchedule, Enabled: true})
	disabledEvent.Enabled = false

	disabledTrigger := scheduleEvent("offtrig", &core.Trigger{Type: core.TriggerSchedule, Enabled: false})

	gated := scheduleEvent("gated", &core.Trigger{Type: core.TriggerSchedule, Enabled: true})
	gated.Category = "maint"

	snap := &fakeSnapshot{
		events:     []*core.Event{disabledEvent, disabledTrigger, gated},
		categories: map[string]*core.Category{"maint": {ID: "maint", Enabled: false}},
	}
	eng.Tick(context.Background(), now, snap)

	if got := len(launcher.launched()); got != 0 {
		t.Fatalf("expected no launches, got %d", got)
	}
}

func TestTickCatchupReplaysMissedMinutes(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	store := newMemStore()
	eng := newTestEngine(launcher, store, nil)
	now := tickMinute(t)

	event := scheduleEvent("cu",
		&core.Trigger{Type: core.TriggerSchedule, Enabled: true},
		&core.Trigger{Type: core.TriggerCatchup, Enabled: true},
	)
	store.state[cursorKey("cu")] = strconv.FormatInt(now.Unix()-180, 10)

	snap := &fakeSnapshot{events: []*core.Event{event}}
	eng.Tick(context.Background(), now, snap)

	drafts := launcher.launched()
	if len(drafts) != 3 {
		t.Fatalf("expected 3 replayed launches, got %d", len(drafts))
	}
	for i, want := range []int64{now.Unix() - 120, now.Unix() - 60, now.Unix()} {
		if drafts[i].Now != want {
			t.Fatalf("launch %d: now=%d, want %d", i, drafts[i].Now, want)
		}
	}

	if raw := store.state[cursorKey("cu")]; raw != strconv.FormatInt(now.Unix(), 10) {
		t.Fatalf("cursor not advanced: %q", raw)
	}

	// ticking the same minute again must not relaunch anything
	eng.Tick(context.Background(), now, snap)
	if got := len(launcher.launched()); got != 3 {
		t.Fatalf("catch-up replayed already-launched minutes: %d launches", got)
	}
}

func TestTickDestruct(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	store := newMemStore()
	deleter := &fakeDeleter{}
	eng := newTestEngine(launcher, store, deleter)
	now := tickMinute(t)

	event := scheduleEvent("boom",
		&core.Trigger{Type: core.TriggerSchedule, Enabled: true},
		&core.Trigger{Type: core.TriggerCatchup, Enabled: true},
		&core.Trigger{Type: core.TriggerDestruct, Enabled: true},
	)
	// several missed minutes pending; destruct still permits only one launch
	store.state[cursorKey("boom")] = strconv.FormatInt(now.Unix()-300, 10)

	snap := &fakeSnapshot{events: []*core.Event{event}}
	eng.Tick(context.Background(), now, snap)

	if got := len(launcher.launched()); got != 1 {
		t.Fatalf("expected exactly 1 launch before self-destruct, got %d", got)
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0] != "boom" {
		t.Fatalf("event not deleted: %v", deleter.deleted)
	}
	if _, ok := store.state[cursorKey("boom")]; ok {
		t.Fatal("cursor state should be removed with the event")
	}
	var kinds []string
	for _, tr := range store.transactions {
		kinds = append(kinds, tr.Kind)
	}
	if len(kinds) != 1 || kinds[0] != "event_delete" {
		t.Fatalf("expected one event_delete transaction, got %v", kinds)
	}
}

func TestTickMalformedTriggerSkipped(t *testing.T) {
	t.Parallel()
	launcher := &fakeLauncher{}
	eng := newTestEngine(launcher, nil, nil)
	now := tickMinute(t)

	snap := &fakeSnapshot{events: []*core.Event{
		scheduleEvent("mixed",
			&core.Trigger{Type: core.TriggerInterval, Enabled: true, Start: 0, Duration: 0},
			&core.Trigger{Type: core.TriggerSchedule, Enabled: true},
		),
	}}
	eng.Tick(context.Background(), now, snap)

	if got := len(launcher.launched()); got != 1 {
		t.Fatalf("malformed interval should not block the schedule trigger, got %d launches", got)
	}
}
