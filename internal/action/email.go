package action

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/purpose168/xyops/internal/core"
	"github.com/purpose168/xyops/internal/macro"
)

// runEmail renders the outcome-appropriate template against the hook data
// and hands the message to the mail transport. The template is loaded and
// substituted here (not inside the transport) so missing fields degrade to
// 'n/a' instead of broken messages.
func (d *Dispatcher) runEmail(ctx context.Context, st *dispatchState, job *core.Job, act *core.Action) {
	st.appendMetaLog("Sending email notification to: " + act.Email)

	var name string
	switch {
	case act.Trigger == "start":
		name = "job_start.txt"
	case job.Code == "":
		name = "job_success.txt"
	default:
		name = "job_fail.txt"
	}
	path := filepath.Join(d.cfg.EmailTemplateDir, name)

	data := d.buildHookData(st.snap, job, act)

	excerpt := "n/a"
	if d.excerpts != nil {
		if text, err := d.excerpts.JobLogExcerpt(ctx, job.ID); err == nil && text != "" {
			excerpt = text
		}
	}
	data["log_excerpt"] = excerpt

	tpl, err := os.ReadFile(path)
	if err != nil {
		act.Code = core.CodeEmail
		act.Description = "Failed to load email template: " + path + ": " + err.Error()
		return
	}

	mailText := macro.Render(string(tpl), data, "n/a", nil)
	act.Details = "**Message Content:**\n\n```\n" + strings.TrimSpace(mailText) + "\n```\n"

	if d.mailer == nil {
		act.Code = core.CodeEmail
		act.Description = "Failed to send e-mail: " + act.Email + ": mail transport is not configured"
		return
	}
	if err := d.mailer.Send(mailText); err != nil {
		act.Code = core.CodeEmail
		act.Description = "Failed to send e-mail: " + act.Email + ": " + err.Error()
		return
	}

	act.Code = core.CodeSuccess
	act.Description = "Email sent successfully to: " + act.Email
}
