// Package scheduler evaluates event triggers once per wall-clock minute and
// turns matches into job drafts. It owns the catch-up cursor loop, the
// calendar projection cache, and the hand-off of plugin-deferred matches to
// the external scheduler plugin processes.
package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/purpose168/xyops/internal/core"
	"github.com/purpose168/xyops/internal/eventbus"
	"github.com/purpose168/xyops/internal/observability/metrics"
	"github.com/purpose168/xyops/internal/storage"
	logx "github.com/purpose168/xyops/pkg/logx"
)

type Config struct {
	// DefaultTimezone is applied to schedule triggers without an explicit
	// timezone. Empty means the host's local zone.
	DefaultTimezone string

	// TempDir holds staged plugin scripts (plugins/{id}.bin).
	TempDir string

	// Version is advertised to scheduler plugin processes via $XYOPS.
	Version string
}

// Deps are the engine's collaborators. Store, Deleter, Bus and Metrics are
// optional; a nil Store disables catch-up persistence.
type Deps struct {
	Log      logx.Logger
	Store    storage.Store
	Launcher core.Launcher
	Deleter  core.EventDeleter
	Bus      eventbus.Bus
	Metrics  *metrics.Collector
}

type Engine struct {
	cfg      Config
	log      logx.Logger
	store    storage.Store
	launcher core.Launcher
	deleter  core.EventDeleter
	bus      eventbus.Bus
	metrics  *metrics.Collector
	plugins  *PluginRunner

	// throttles repeated malformed-trigger warnings during catch-up replay
	warnLimit *rate.Limiter

	// tracks in-flight plugin batch goroutines across ticks
	pluginWG sync.WaitGroup
}

func NewEngine(cfg Config, deps Deps) *Engine {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:       cfg,
		log:       log,
		store:     deps.Store,
		launcher:  deps.Launcher,
		deleter:   deps.Deleter,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 3),
	}
	e.plugins = newPluginRunner(cfg, e)
	return e
}

// cursorKey is where an event's catch-up high-water mark lives in the
// state store.
func cursorKey(eventID string) string { return "events/" + eventID + "/cursor" }

// Tick evaluates every event in the snapshot for the minute containing
// now, replaying missed minutes for events with catch-up enabled. Events
// are processed sequentially. Deferred scheduler plugin batches are handed
// to a background goroutine: a plugin that runs past the minute boundary
// must never hold up the next minute's event evaluation. Wait reaps them
// at shutdown.
func (e *Engine) Tick(ctx context.Context, now time.Time, snap core.Snapshot) {
	started := time.Now()
	epoch := now.Unix() - now.Unix()%60
	proj := NewProjector()

	e.log.Debug("scheduler tick", logx.Time("minute", time.Unix(epoch, 0)))

	var deferred []*DeferredItem
	for _, event := range snap.Events() {
		deferred = append(deferred, e.tickEvent(ctx, epoch, proj, snap, event)...)
	}

	if len(deferred) > 0 {
		e.pluginWG.Add(1)
		go func() {
			defer e.pluginWG.Done()
			e.plugins.Run(ctx, snap, deferred)
		}()
	}

	e.metrics.RecordTick(time.Since(started))
	e.log.Debug("scheduler tick complete",
		logx.Duration("took", time.Since(started)),
		logx.Int("deferred", len(deferred)))
}

// Wait blocks until every in-flight scheduler plugin batch has finished.
// Cancelling the tick context first kills the plugin processes, so a
// shutdown never waits out a full plugin timeout.
func (e *Engine) Wait() {
	e.pluginWG.Wait()
}

func (e *Engine) tickEvent(ctx context.Context, now int64, proj *Projector, snap core.Snapshot, event *core.Event) []*DeferredItem {
	if !event.Enabled || len(event.Triggers) == 0 {
		return nil
	}
	if event.Category != "" {
		if cat := snap.Category(event.Category); cat == nil || !cat.Enabled {
			return nil
		}
	}
	if event.Plugin != "" {
		if pl := snap.Plugin(event.Plugin); pl == nil || !pl.Enabled {
			return nil
		}
	}

	var schedules, ranges []*core.Trigger
	var catchup, destruct, delay, precision *core.Trigger
	for _, t := range event.Triggers {
		if !t.Enabled || t.Type == "" {
			continue
		}
		switch t.Type {
		case core.TriggerSchedule, core.TriggerSingle, core.TriggerPlugin, core.TriggerInterval:
			schedules = append(schedules, t)
		case core.TriggerRange, core.TriggerBlackout:
			ranges = append(ranges, t)
		case core.TriggerCatchup:
			catchup = t
		case core.TriggerDestruct:
			destruct = t
		case core.TriggerDelay:
			delay = t
		case core.TriggerPrecision:
			precision = t
		}
	}
	if len(schedules) == 0 {
		return nil // on-demand event
	}

	cursor := now - 60
	if catchup != nil {
		if persisted, ok := e.loadCursor(ctx, event.ID); ok {
			cursor = persisted
		}
	}

	defaultTZ := e.defaultTimezone()
	var deferred []*DeferredItem
	destructFired := false

	for cursor < now {
		cursor += 60

		scheduled := ""
		var chosen *core.Trigger
		var offsets []int64

		for _, t := range schedules {
			switch t.Type {
			case core.TriggerSingle:
				if t.Epoch-t.Epoch%60 == cursor {
					scheduled, chosen = core.TriggerSingle, t
				}
			case core.TriggerPlugin:
				scheduled, chosen = core.TriggerPlugin, t
			case core.TriggerInterval:
				hits, err := IntervalHits(t.Start, t.Duration, cursor)
				if err != nil {
					if e.warnLimit.Allow() {
						e.log.Warn("skipping malformed trigger",
							logx.String("event", event.ID), logx.Err(err))
					}
					continue
				}
				if len(hits) > 0 {
					scheduled, chosen, offsets = core.TriggerInterval, t, hits
				}
			case core.TriggerSchedule:
				tz := t.Timezone
				if tz == "" {
					tz = defaultTZ
				}
				b, err := proj.Project(cursor, tz)
				if err != nil {
					if e.warnLimit.Allow() {
						e.log.Warn("skipping trigger with bad timezone",
							logx.String("event", event.ID), logx.Err(err))
					}
					continue
				}
				if Matches(b, t) {
					scheduled, chosen = core.TriggerSchedule, t
				}
			}
			if scheduled != "" {
				break // first match wins
			}
		}
		if scheduled == "" {
			continue
		}

		// check ranges (both bounds are inclusive)
		blocked := false
		for _, t := range ranges {
			if !InRange(cursor, t) {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}

		// we're go for launch
		draft := &core.JobDraft{
			Event:  event.Clone(),
			Now:    cursor,
			Source: core.SourceScheduler,
		}
		switch scheduled {
		case core.TriggerSingle, core.TriggerInterval:
			draft.SubType = scheduled
		}
		if delay != nil && delay.Duration > 0 {
			draft.State = core.StateStartDelay
			draft.Until = cursor + delay.Duration
		}

		if scheduled == core.TriggerPlugin {
			tz := chosen.Timezone
			if tz == "" {
				tz = defaultTZ
			}
			dargs, err := proj.Project(cursor, tz)
			if err != nil {
				dargs, _ = proj.Project(cursor, "UTC")
			}
			draft.SchedulerPlugin = chosen.PluginID
			deferred = append(deferred, &DeferredItem{
				PluginID: chosen.PluginID,
				Params:   chosen.Params,
				Timezone: tz,
				Dargs:    dargs,
				Now:      cursor,
				Job:      draft,
			})
			continue
		}

		if scheduled != core.TriggerInterval && precision != nil {
			offsets = secondsToOffsets(precision.Seconds)
		}

		e.log.Debug("auto-launching scheduled event",
			logx.String("event", event.ID),
			logx.String("title", event.Title),
			logx.Time("minute", time.Unix(cursor, 0)),
			logx.Int("launches", max(1, len(offsets))))

		if len(offsets) > 0 {
			for _, off := range offsets {
				sub := *draft
				sub.Event = event.Clone()
				sub.State = core.StateStartDelay
				sub.Until = cursor + off
				e.launch(ctx, &sub)
			}
		} else {
			e.launch(ctx, draft)
		}

		// bail out of the catch-up loop after one launch if self-destruct is set
		if destruct != nil {
			destructFired = true
			cursor = now
		}
	}

	if destructFired {
		e.destructEvent(ctx, event)
	} else if catchup != nil {
		e.saveCursor(ctx, event.ID, cursor)
	}
	return deferred
}

// launch hands a draft to the job runtime. Launching is fire-and-forget
// from the engine's perspective: errors are logged, never propagated.
func (e *Engine) launch(ctx context.Context, draft *core.JobDraft) {
	id, err := e.launcher.LaunchJob(ctx, draft)
	if err != nil {
		e.metrics.RecordLaunchError()
		e.log.Error("failed to launch job", logx.String("event", draft.ID), logx.Err(err))
		return
	}
	e.metrics.RecordLaunch(draft.Source)
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeJobLaunched, Data: id})
	}
}

func (e *Engine) destructEvent(ctx context.Context, event *core.Event) {
	e.log.Debug("deleting event due to self-destruct", logx.String("event", event.ID))

	if e.deleter != nil {
		if err := e.deleter.DeleteEvent(ctx, event.ID); err != nil {
			e.log.Error("failed to delete event", logx.String("event", event.ID), logx.Err(err))
			return
		}
	}
	if e.store != nil {
		if err := e.store.DeleteState(ctx, "events/"+event.ID); err != nil {
			e.log.Error("failed to delete event state", logx.String("event", event.ID), logx.Err(err))
		}
		_ = e.store.AppendTransaction(ctx, storage.Transaction{
			Kind:        "event_delete",
			Description: "Deleted event after self-destruct launch: " + event.Title,
		})
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeEventDeleted, Data: event.ID})
	}
	e.log.Debug("successfully deleted event", logx.String("title", event.Title))
}

func (e *Engine) loadCursor(ctx context.Context, eventID string) (int64, bool) {
	if e.store == nil {
		return 0, false
	}
	raw, ok, err := e.store.GetState(ctx, cursorKey(eventID))
	if err != nil || !ok {
		if err != nil {
			e.log.Error("failed to read cursor", logx.String("event", eventID), logx.Err(err))
		}
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.log.Warn("ignoring malformed cursor", logx.String("event", eventID), logx.String("value", raw))
		return 0, false
	}
	return v, true
}

// saveCursor persists the event's high-water mark, exactly once per tick,
// after the event's full catch-up loop has completed.
func (e *Engine) saveCursor(ctx context.Context, eventID string, cursor int64) {
	if e.store == nil {
		return
	}
	if err := e.store.PutState(ctx, cursorKey(eventID), strconv.FormatInt(cursor, 10)); err != nil {
		e.log.Error("failed to persist cursor", logx.String("event", eventID), logx.Err(err))
	}
}

func (e *Engine) defaultTimezone() string {
	if e.cfg.DefaultTimezone != "" {
		return e.cfg.DefaultTimezone
	}
	return time.Local.String()
}

func secondsToOffsets(secs []int) []int64 {
	if len(secs) == 0 {
		return nil
	}
	out := make([]int64, 0, len(secs))
	for _, s := range secs {
		if s >= 0 && s < 60 {
			out = append(out, int64(s))
		}
	}
	return out
}
