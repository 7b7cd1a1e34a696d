package action

import (
	"context"
	"time"

	"github.com/purpose168/xyops/internal/core"
	logx "github.com/purpose168/xyops/pkg/logx"
)

// runEvent launches the referenced event as a child job, carrying the
// triggering job's data and files as the child's input. The new job id is
// recorded in the dispatch patch, not written into the job record here.
func (d *Dispatcher) runEvent(ctx context.Context, st *dispatchState, job *core.Job, act *core.Action) {
	event := st.snap.Event(act.EventID)
	if event == nil {
		act.Code = core.CodeEvent
		act.Description = "Event not found: " + act.EventID
		return
	}

	draft := &core.JobDraft{
		Event:  event.Clone(),
		Now:    time.Now().Unix(),
		Source: core.SourceAction,
		Parent: job.ID,
		Input: &core.JobInput{
			Data:  job.Data,
			Files: job.Files,
		},
	}

	// action-supplied parameter overrides
	if len(act.Params) > 0 {
		if draft.Params == nil {
			draft.Params = map[string]any{}
		}
		for k, v := range act.Params {
			draft.Params[k] = v
		}
	}

	st.appendMetaLog("Running custom event: " + event.Title)
	d.log.Debug("running event for action",
		logx.String("trigger", act.Trigger), logx.String("event", event.ID))

	id, err := d.launcher.LaunchJob(ctx, draft)
	if err != nil {
		act.Code = core.CodeEvent
		act.Description = "Failed to launch event: " + err.Error()
		return
	}

	act.Code = core.CodeSuccess
	act.Description = "Successfully launched job: " + id
	act.Loc = "#Job?id=" + id
	st.addChild(id, "action")
}
