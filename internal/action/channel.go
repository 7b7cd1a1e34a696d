package action

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/purpose168/xyops/internal/core"
	"github.com/purpose168/xyops/internal/macro"
	logx "github.com/purpose168/xyops/pkg/logx"
)

// runChannel fans a single action out to every destination the referenced
// notification channel carries. The sub-destinations run in parallel; the
// channel as a whole fails if any of them failed, with the last failure's
// code and description winning.
func (d *Dispatcher) runChannel(ctx context.Context, st *dispatchState, job *core.Job, act *core.Action) {
	ch := st.snap.Channel(act.ChannelID)
	if ch == nil {
		act.Code = core.CodeChannel
		act.Description = "Notification channel not found: " + act.ChannelID
		return
	}
	if !ch.Enabled {
		act.Code = core.CodeChannel
		act.Description = "Notification channel is disabled: " + ch.ID
		return
	}

	st.appendMetaLog("Firing notification channel: " + ch.Title)
	d.log.Debug("firing notification channel",
		logx.String("trigger", act.Trigger),
		logx.String("channel", ch.ID),
		logx.String("job", job.ID))

	type subResult struct {
		label string
		act   *core.Action
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []subResult
	)
	run := func(label string, sub *core.Action, fn handlerFunc) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				// a panicking destination is a failed destination, same
				// containment contract runAction gives top-level handlers
				if r := recover(); r != nil {
					sub.Code = errorCodeFor(sub.Type)
					sub.Description = fmt.Sprintf("internal error: %v", r)
				}
				mu.Lock()
				results = append(results, subResult{label: label, act: sub})
				mu.Unlock()
			}()
			fn(ctx, st, job, sub)
		}()
	}

	if ch.Email != "" {
		sub := *act
		sub.Type = core.ActionEmail
		sub.Email = ch.Email
		run("Email", &sub, d.runEmail)
	}
	if ch.WebHook != "" {
		sub := *act
		sub.Type = core.ActionWebHook
		sub.WebHook = ch.WebHook
		run("Web Hook", &sub, d.runWebHook)
	}
	if ch.RunEvent != "" {
		sub := *act
		sub.Type = core.ActionRunEvent
		sub.EventID = ch.RunEvent
		run("Event", &sub, d.runEvent)
	}
	if ch.ShellExec != "" {
		sub := *act
		sub.Type = "shell_exec"
		run("Shell Exec", &sub, func(ctx context.Context, st *dispatchState, job *core.Job, a *core.Action) {
			d.runChannelShell(ctx, st, job, a, ch.ShellExec)
		})
	}

	wg.Wait()

	if len(results) == 0 {
		act.Code = core.CodeChannel
		act.Description = "Notification channel has no destinations: " + ch.ID
		return
	}

	// keep label order deterministic no matter which goroutine finished
	// first
	order := map[string]int{"Email": 0, "Web Hook": 1, "Event": 2, "Shell Exec": 3}
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if order[results[j].label] < order[results[i].label] {
				results[i], results[j] = results[j], results[i]
			}
		}
	}

	act.Code = core.CodeSuccess
	act.Description = "Notification channel fired successfully: " + ch.Title

	var details strings.Builder
	for _, res := range results {
		if res.act.Code != core.CodeSuccess {
			act.Code = res.act.Code
			act.Description = res.act.Description
		}
		fmt.Fprintf(&details, "### %s Details:\n\n", res.label)
		fmt.Fprintf(&details, "**Result:** %s\n\n", res.act.Description)
		if res.act.Details != "" {
			details.WriteString(strings.TrimSpace(res.act.Details))
			details.WriteString("\n\n")
		}
	}
	act.Details = strings.TrimSpace(details.String()) + "\n"
}

// runChannelShell renders the channel's shell command against the hook
// data and executes it, capturing output into the sub-action's details.
func (d *Dispatcher) runChannelShell(ctx context.Context, st *dispatchState, job *core.Job, act *core.Action, cmdline string) {
	data := d.buildHookData(st.snap, job, act)
	rendered := macro.Render(cmdline, data, "", nil)

	st.appendMetaLog("Executing shell command: " + rendered)
	res := runShell(ctx, rendered)

	var details strings.Builder
	fmt.Fprintf(&details, "**Command:** `%s`\n\n", rendered)
	if res.stdout != "" {
		details.WriteString("**Output:**\n\n```\n" + strings.TrimSpace(res.stdout) + "\n```\n\n")
	}
	if res.stderr != "" {
		details.WriteString("**Error Output:**\n\n```\n" + strings.TrimSpace(res.stderr) + "\n```\n\n")
	}
	act.Details = strings.TrimSpace(details.String()) + "\n"

	if res.err != nil {
		act.Code = core.CodeExec
		if res.signal != "" {
			act.Description = "Shell command terminated by signal: " + res.signal
		} else if res.exitCode != 0 {
			act.Description = fmt.Sprintf("Shell command exited with code %d", res.exitCode)
		} else {
			act.Description = "Shell command failed: " + res.err.Error()
		}
		return
	}

	act.Code = core.CodeSuccess
	act.Description = "Shell command completed successfully"
}
