package action

import (
	"context"

	"github.com/purpose168/xyops/internal/core"
)

// runDisable marks the owning event for disablement. The dispatcher never
// mutates the event record itself; the patch tells the job-update layer to
// do it.
func (d *Dispatcher) runDisable(ctx context.Context, st *dispatchState, job *core.Job, act *core.Action) {
	st.appendMetaLog("Disabling event for action")

	st.mu.Lock()
	st.patch.DisableEvent = true
	st.mu.Unlock()

	act.Code = core.CodeSuccess
	act.Description = "Successfully disabled event."
	act.Loc = "#Events?id=" + job.EventID
}

func (d *Dispatcher) runSnapshot(ctx context.Context, st *dispatchState, job *core.Job, act *core.Action) {
	if job.Server == "" {
		act.Code = core.CodeSnapshot
		act.Description = "Failed to take snapshot: No server selected for job."
		return
	}
	if d.snapshots == nil {
		act.Code = core.CodeSnapshot
		act.Description = "Failed to take snapshot: snapshot service is not available."
		return
	}

	st.appendMetaLog("Taking snapshot of server: " + job.Server)

	id, err := d.snapshots.CreateSnapshot(ctx, job.Server, "job")
	if err != nil {
		act.Code = core.CodeSnapshot
		act.Description = "Failed to take snapshot: " + err.Error()
		return
	}

	act.Code = core.CodeSuccess
	act.Description = "Successfully took snapshot of server: " + job.Server
	act.Loc = "#Snapshots?id=" + id
}
