// Package action resolves and executes the side effects attached to a job
// when it reaches a named trigger condition: email, web hook, chained
// event launch, notification channel fan-out, event disable, and server
// snapshot. System hooks (admin-configured, job-independent) fire from
// here as well.
package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/purpose168/xyops/internal/core"
	"github.com/purpose168/xyops/internal/mail"
	"github.com/purpose168/xyops/internal/observability/metrics"
	"github.com/purpose168/xyops/internal/webhook"
	logx "github.com/purpose168/xyops/pkg/logx"
)

type Config struct {
	// BaseAppURL prefixes the links embedded in hook data, e.g.
	// "https://xyops.example.com".
	BaseAppURL string

	// SecretKey signs the log-download link.
	SecretKey string

	// EmailTemplateDir holds job_start.txt, job_success.txt, job_fail.txt.
	EmailTemplateDir string

	// Hooks maps hook-action names (or "*") to a system hook: a bare URL
	// string, a bare web-hook id, or an object with any of url / web_hook
	// / shell_exec.
	Hooks map[string]any

	// HookTextTemplates provides the short outcome summaries, keyed
	// job_start, job_complete, job_success, job_error, ...
	HookTextTemplates map[string]string

	// WebHookCustomData is merged into every system-hook payload.
	WebHookCustomData map[string]any
}

// LogExcerpter supplies the trailing log excerpt embedded in email
// notifications. The job runtime owns job logs, so this is an interface.
type LogExcerpter interface {
	JobLogExcerpt(ctx context.Context, jobID string) (string, error)
}

// Snapshotter requests an out-of-band system snapshot of a server.
type Snapshotter interface {
	CreateSnapshot(ctx context.Context, serverID, source string) (snapshotID string, err error)
}

// Deps are the dispatcher's collaborators. Mailer, Excerpts and Snapshots
// are optional; the corresponding action kinds fail gracefully without
// them.
type Deps struct {
	Log       logx.Logger
	Snapshot  func() core.Snapshot
	Launcher  core.Launcher
	Web       *webhook.Client
	Mailer    mail.Sender
	Excerpts  LogExcerpter
	Snapshots Snapshotter
	Metrics   *metrics.Collector
}

type handlerFunc func(ctx context.Context, st *dispatchState, job *core.Job, act *core.Action)

type Dispatcher struct {
	cfg       Config
	log       logx.Logger
	snap      func() core.Snapshot
	launcher  core.Launcher
	web       *webhook.Client
	mailer    mail.Sender
	excerpts  LogExcerpter
	snapshots Snapshotter
	metrics   *metrics.Collector

	handlers  map[string]handlerFunc
	hookLimit *rate.Limiter
}

func NewDispatcher(cfg Config, deps Deps) *Dispatcher {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	web := deps.Web
	if web == nil {
		web = webhook.NewClient(log)
	}
	d := &Dispatcher{
		cfg:       cfg,
		log:       log,
		snap:      deps.Snapshot,
		launcher:  deps.Launcher,
		web:       web,
		mailer:    deps.Mailer,
		excerpts:  deps.Excerpts,
		snapshots: deps.Snapshots,
		metrics:   deps.Metrics,
		hookLimit: rate.NewLimiter(rate.Limit(10), 20),
	}
	d.handlers = map[string]handlerFunc{
		core.ActionEmail:    d.runEmail,
		core.ActionWebHook:  d.runWebHook,
		core.ActionRunEvent: d.runEvent,
		core.ActionChannel:  d.runChannel,
		core.ActionDisable:  d.runDisable,
		core.ActionSnapshot: d.runSnapshot,
	}
	return d
}

// Result is everything one dispatch call produced: the executed action
// copies with their results, the job-record patch for the runtime to
// apply, and the meta-log lines describing what ran.
type Result struct {
	Actions []*core.Action
	Patch   core.JobPatch
	MetaLog []string
}

// dispatchState is the per-call mutable state shared by concurrently
// executing handlers.
type dispatchState struct {
	snap core.Snapshot

	mu      sync.Mutex
	patch   core.JobPatch
	metaLog []string
}

func (st *dispatchState) appendMetaLog(line string) {
	st.mu.Lock()
	st.metaLog = append(st.metaLog, line)
	st.mu.Unlock()
}

func (st *dispatchState) addChild(id, reason string) {
	st.mu.Lock()
	st.patch.Children = append(st.patch.Children, core.ChildJob{ID: id, Reason: reason})
	st.mu.Unlock()
}

// Dispatch fires all of the job's actions that match any of the trigger
// keys, plus the matching system hooks. Deduplicated actions run fully in
// parallel; Dispatch returns once every one of them has completed.
// Individual action failures land in each action's result fields and are
// never returned as an error; dispatching with nothing to do is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, job *core.Job, triggers []string) (*Result, error) {
	snap := d.snap()
	st := &dispatchState{snap: snap}

	var collected []*core.Action
	for _, trigger := range triggers {
		d.log.Debug("running job actions for trigger",
			logx.String("trigger", trigger), logx.String("job", job.ID))

		for _, act := range job.Actions {
			if act.Enabled && act.Trigger == trigger {
				collected = append(collected, act)
			}
		}

		// universal system hooks fire in the background, independent of
		// job-level actions
		hookData := d.buildHookData(snap, job, &core.Action{Trigger: trigger})
		go d.FireSystemHook(context.WithoutCancel(ctx), snap, "job_"+trigger, hookData)
	}

	final := dedupeActions(collected)
	if len(final) == 0 {
		return &Result{}, nil
	}

	// run a private copy of each action so result stamping never races
	// with the job record itself
	executed := make([]*core.Action, len(final))
	for i, act := range final {
		cp := *act
		executed[i] = &cp
	}

	var wg sync.WaitGroup
	for _, act := range executed {
		wg.Add(1)
		go func(act *core.Action) {
			defer wg.Done()
			d.runAction(ctx, st, job, act)
		}(act)
	}
	wg.Wait()

	return &Result{Actions: executed, Patch: st.patch, MetaLog: st.metaLog}, nil
}

// dedupeActions filters the collected actions down to distinct
// (type, destination) pairs so one dispatch call never fires the same
// destination twice.
func dedupeActions(actions []*core.Action) []*core.Action {
	seen := map[string]bool{}
	var out []*core.Action
	for _, act := range actions {
		key := act.Type + "-"
		switch act.Type {
		case core.ActionEmail:
			key += act.Email
		case core.ActionWebHook:
			key += act.WebHook
		case core.ActionRunEvent:
			key += act.EventID
		case core.ActionChannel:
			key += act.ChannelID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, act)
	}
	return out
}

func (d *Dispatcher) runAction(ctx context.Context, st *dispatchState, job *core.Job, act *core.Action) {
	d.log.Debug("executing job action",
		logx.String("type", act.Type),
		logx.String("trigger", act.Trigger),
		logx.String("job", job.ID))

	st.appendMetaLog(fmt.Sprintf("Executing job %s action: %s", act.Trigger, act.Type))

	act.Date = time.Now().Unix()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			act.Code = errorCodeFor(act.Type)
			act.Description = fmt.Sprintf("internal error: %v", r)
		}
		act.ElapsedMS = time.Since(started).Milliseconds()
		d.metrics.RecordAction(act.Type, act.Code)
		if act.Code != core.CodeSuccess {
			d.log.Error(act.Description,
				logx.String("code", act.Code), logx.String("job", job.ID))
		} else {
			d.log.Debug(act.Type+": "+act.Description, logx.String("job", job.ID))
		}
	}()

	handler, ok := d.handlers[act.Type]
	if !ok {
		// should never happen; indicates a configuration bug
		act.Code = core.CodeType
		act.Description = "Unknown action type: " + act.Type
		return
	}
	handler(ctx, st, job, act)
}

// errorCodeFor maps an action type to its error-kind code.
func errorCodeFor(typ string) string {
	switch typ {
	case core.ActionEmail:
		return core.CodeEmail
	case core.ActionWebHook:
		return core.CodeWebHook
	case core.ActionRunEvent:
		return core.CodeEvent
	case core.ActionChannel:
		return core.CodeChannel
	case core.ActionSnapshot:
		return core.CodeSnapshot
	case "shell_exec":
		return core.CodeExec
	default:
		return core.CodeType
	}
}
