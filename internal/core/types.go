package core

import (
	"context"
)

// Trigger types understood by the scheduler.
const (
	TriggerSchedule  = "schedule"
	TriggerSingle    = "single"
	TriggerInterval  = "interval"
	TriggerPlugin    = "plugin"
	TriggerRange     = "range"
	TriggerBlackout  = "blackout"
	TriggerCatchup   = "catchup"
	TriggerDelay     = "delay"
	TriggerPrecision = "precision"
	TriggerDestruct  = "destruct"
)

// Trigger is one timing rule on an event. The Type field selects which of
// the remaining fields are meaningful; everything else is ignored.
//
// For schedule triggers, an empty whitelist means "any". Days may contain
// negative values, which match the reverse day-of-month (-1 = last day).
type Trigger struct {
	Type    string `json:"type" yaml:"type"`
	Enabled bool   `json:"enabled" yaml:"enabled"`

	// schedule
	Years    []int  `json:"years,omitempty" yaml:"years,omitempty"`
	Months   []int  `json:"months,omitempty" yaml:"months,omitempty"`
	Days     []int  `json:"days,omitempty" yaml:"days,omitempty"`
	Weekdays []int  `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	Hours    []int  `json:"hours,omitempty" yaml:"hours,omitempty"`
	Minutes  []int  `json:"minutes,omitempty" yaml:"minutes,omitempty"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// single
	Epoch int64 `json:"epoch,omitempty" yaml:"epoch,omitempty"`

	// interval (Start + Duration), range/blackout (Start + End), delay (Duration)
	Start    int64 `json:"start,omitempty" yaml:"start,omitempty"`
	End      int64 `json:"end,omitempty" yaml:"end,omitempty"`
	Duration int64 `json:"duration,omitempty" yaml:"duration,omitempty"`

	// precision: sub-minute second offsets
	Seconds []int `json:"seconds,omitempty" yaml:"seconds,omitempty"`

	// plugin
	PluginID string            `json:"plugin_id,omitempty" yaml:"plugin_id,omitempty"`
	Params   map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Action result codes (Action.Code). Empty string means success.
const (
	CodeSuccess  = ""
	CodeEmail    = "email"
	CodeWebHook  = "webhook"
	CodeEvent    = "event"
	CodeChannel  = "channel"
	CodeExec     = "exec"
	CodeSnapshot = "snapshot"
	CodeType     = "type"
)

// Action types.
const (
	ActionEmail    = "email"
	ActionWebHook  = "web_hook"
	ActionRunEvent = "run_event"
	ActionChannel  = "channel"
	ActionDisable  = "disable"
	ActionSnapshot = "snapshot"
)

// Action is one side effect attached to an event, fired when the owning job
// reaches the named trigger condition (start, success, error, complete...).
// The result fields (Code and below) are populated exactly once per
// execution by the action dispatcher.
type Action struct {
	Type    string `json:"type" yaml:"type"`
	Trigger string `json:"trigger" yaml:"trigger"`
	Enabled bool   `json:"enabled" yaml:"enabled"`

	Email     string         `json:"email,omitempty" yaml:"email,omitempty"`
	WebHook   string         `json:"web_hook,omitempty" yaml:"web_hook,omitempty"`
	EventID   string         `json:"event_id,omitempty" yaml:"event_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// results
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Details     string `json:"details,omitempty" yaml:"details,omitempty"`
	Loc         string `json:"loc,omitempty" yaml:"loc,omitempty"`
	Date        int64  `json:"date,omitempty" yaml:"date,omitempty"`
	ElapsedMS   int64  `json:"elapsed_ms,omitempty" yaml:"elapsed_ms,omitempty"`
}

// Limit caps one resource for jobs launched from an event. Enforcement
// belongs to the job runtime; the scheduler carries limits through to
// drafts verbatim.
type Limit struct {
	Type    string `json:"type" yaml:"type"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Amount  int64  `json:"amount,omitempty" yaml:"amount,omitempty"`
}

// Event is a recurring-work definition. The scheduler consumes events
// read-only each tick; the only mutation it ever performs is deleting an
// event whose destruct trigger fired.
type Event struct {
	ID       string         `json:"id" yaml:"id"`
	Title    string         `json:"title" yaml:"title"`
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Category string         `json:"category,omitempty" yaml:"category,omitempty"`
	Plugin   string         `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Triggers []*Trigger     `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Actions  []*Action      `json:"actions,omitempty" yaml:"actions,omitempty"`
	Limits   []*Limit       `json:"limits,omitempty" yaml:"limits,omitempty"`
	Params   map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Clone returns a copy of the event deep enough to hand off as a job
// draft: slices and maps are re-allocated, trigger/action values copied.
func (e *Event) Clone() Event {
	cp := *e
	if e.Triggers != nil {
		cp.Triggers = make([]*Trigger, len(e.Triggers))
		for i, t := range e.Triggers {
			tc := *t
			cp.Triggers[i] = &tc
		}
	}
	if e.Actions != nil {
		cp.Actions = make([]*Action, len(e.Actions))
		for i, a := range e.Actions {
			ac := *a
			cp.Actions[i] = &ac
		}
	}
	if e.Limits != nil {
		cp.Limits = make([]*Limit, len(e.Limits))
		for i, l := range e.Limits {
			lc := *l
			cp.Limits[i] = &lc
		}
	}
	if e.Params != nil {
		cp.Params = make(map[string]any, len(e.Params))
		for k, v := range e.Params {
			cp.Params[k] = v
		}
	}
	return cp
}

// FindTrigger returns the first enabled trigger of the given type, or nil.
func (e *Event) FindTrigger(typ string) *Trigger {
	for _, t := range e.Triggers {
		if t.Enabled && t.Type == typ {
			return t
		}
	}
	return nil
}

// JobDraft source tags.
const (
	SourceScheduler = "scheduler"
	SourcePlugin    = "plugin"
	SourceAction    = "action"
)

// JobInput carries the parent job's output into a chained child job.
type JobInput struct {
	Data  map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Files []string       `json:"files,omitempty" yaml:"files,omitempty"`
}

// StateStartDelay marks a draft that becomes runnable at Until.
const StateStartDelay = "start_delay"

// JobDraft is the value the scheduler hands to the job runtime. It is a
// shallow copy of the owning event plus launch metadata; the scheduler does
// not own its lifecycle after LaunchJob returns.
type JobDraft struct {
	Event `yaml:",inline"`

	Now     int64  `json:"now" yaml:"now"`
	Source  string `json:"source" yaml:"source"`
	SubType string `json:"sub_type,omitempty" yaml:"sub_type,omitempty"`

	// start-delay state
	State string `json:"state,omitempty" yaml:"state,omitempty"`
	Until int64  `json:"until,omitempty" yaml:"until,omitempty"`

	// plugin-deferred launches record the deciding scheduler plugin
	SchedulerPlugin string `json:"splugin,omitempty" yaml:"splugin,omitempty"`

	// chained launches (run_event action)
	Parent string    `json:"parent,omitempty" yaml:"parent,omitempty"`
	Input  *JobInput `json:"input,omitempty" yaml:"input,omitempty"`
}

// UsageStats accumulates a sampled resource metric over a job's lifetime.
type UsageStats struct {
	Count int     `json:"count" yaml:"count"`
	Total float64 `json:"total" yaml:"total"`
	Max   float64 `json:"max" yaml:"max"`
}

// Job is the runtime's view of an executed (or executing) job, as passed
// into the action dispatcher. Code is empty for success, an error-kind
// string otherwise.
type Job struct {
	ID          string         `json:"id" yaml:"id"`
	EventID     string         `json:"event" yaml:"event"`
	Title       string         `json:"title,omitempty" yaml:"title,omitempty"`
	Plugin      string         `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Category    string         `json:"category,omitempty" yaml:"category,omitempty"`
	Server      string         `json:"server,omitempty" yaml:"server,omitempty"`
	Code        string         `json:"code" yaml:"code"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Actions     []*Action      `json:"actions,omitempty" yaml:"actions,omitempty"`
	Data        map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Files       []string       `json:"files,omitempty" yaml:"files,omitempty"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Elapsed     int64          `json:"elapsed,omitempty" yaml:"elapsed,omitempty"`
	LogFileSize int64          `json:"log_file_size,omitempty" yaml:"log_file_size,omitempty"`
	Perf        any            `json:"perf,omitempty" yaml:"perf,omitempty"`
	CPU         *UsageStats    `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Mem         *UsageStats    `json:"mem,omitempty" yaml:"mem,omitempty"`
}

// ChildJob links a job launched on behalf of another.
type ChildJob struct {
	ID     string `json:"id" yaml:"id"`
	Reason string `json:"reason" yaml:"reason"`
}

// JobPatch is the set of job-record changes produced by one action
// dispatch. Components never mutate the job in place; the job runtime
// applies the patch once after dispatch completes.
type JobPatch struct {
	Children     []ChildJob `json:"children,omitempty" yaml:"children,omitempty"`
	DisableEvent bool       `json:"disable_event,omitempty" yaml:"disable_event,omitempty"`
}

// Empty reports whether applying the patch would be a no-op.
func (p *JobPatch) Empty() bool {
	return p == nil || (len(p.Children) == 0 && !p.DisableEvent)
}

// NotificationChannel groups up to four destinations. Firing the channel
// fires every present destination.
type NotificationChannel struct {
	ID        string `json:"id" yaml:"id"`
	Title     string `json:"title" yaml:"title"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Email     string `json:"email,omitempty" yaml:"email,omitempty"`
	WebHook   string `json:"web_hook,omitempty" yaml:"web_hook,omitempty"`
	RunEvent  string `json:"run_event,omitempty" yaml:"run_event,omitempty"`
	ShellExec string `json:"shell_exec,omitempty" yaml:"shell_exec,omitempty"`
}

// WebHookDefinition is a reusable outbound HTTP call template. Timeout is
// in seconds. Follow enables redirect following (capped by the client).
type WebHookDefinition struct {
	ID            string `json:"id" yaml:"id"`
	Title         string `json:"title" yaml:"title"`
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Method        string `json:"method" yaml:"method"`
	URL           string `json:"url" yaml:"url"`
	Headers       string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body          string `json:"body,omitempty" yaml:"body,omitempty"`
	Timeout       int64  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries       int    `json:"retries,omitempty" yaml:"retries,omitempty"`
	Follow        bool   `json:"follow,omitempty" yaml:"follow,omitempty"`
	SSLCertBypass bool   `json:"ssl_cert_bypass,omitempty" yaml:"ssl_cert_bypass,omitempty"`
}

// Plugin describes a job or scheduler plugin. For scheduler plugins the
// Command is spawned once per tick per distinct plugin id, with the batch
// written to its stdin as JSON.
type Plugin struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	Script  string `json:"script,omitempty" yaml:"script,omitempty"`
	CWD     string `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Timeout int64  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	UID     string `json:"uid,omitempty" yaml:"uid,omitempty"`
	GID     string `json:"gid,omitempty" yaml:"gid,omitempty"`
}

// Category groups events; a disabled category suppresses its events.
type Category struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Server identifies a worker host a job ran on.
type Server struct {
	ID       string `json:"id" yaml:"id"`
	Hostname string `json:"hostname" yaml:"hostname"`
	IP       string `json:"ip,omitempty" yaml:"ip,omitempty"`
}

// Snapshot is the read-only view of the record store handed to the
// scheduler engine and the action dispatcher. Implementations must be safe
// for concurrent reads and stable for the duration of one tick or one
// dispatch call.
type Snapshot interface {
	Events() []*Event
	Event(id string) *Event
	Plugin(id string) *Plugin
	Category(id string) *Category
	Channel(id string) *NotificationChannel
	WebHook(id string) *WebHookDefinition
	Server(id string) *Server
}

// Launcher is the job-launch entry point. The scheduler engine, the plugin
// dispatcher, and the run_event action all hand drafts to it; what happens
// afterwards is the job runtime's business.
type Launcher interface {
	LaunchJob(ctx context.Context, draft *JobDraft) (jobID string, err error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, draft *JobDraft) (string, error)

func (f LauncherFunc) LaunchJob(ctx context.Context, draft *JobDraft) (string, error) {
	return f(ctx, draft)
}

// EventDeleter removes an event from the backing record store. The engine
// uses it when a destruct trigger fires.
type EventDeleter interface {
	DeleteEvent(ctx context.Context, id string) error
}
