package action

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/purpose168/xyops/internal/core"
	"github.com/purpose168/xyops/internal/macro"
	"github.com/purpose168/xyops/internal/webhook"
	logx "github.com/purpose168/xyops/pkg/logx"
)

// runWebHook fires the web-hook definition referenced by the action. The
// details markdown is populated whether or not the call succeeds.
func (d *Dispatcher) runWebHook(ctx context.Context, st *dispatchState, job *core.Job, act *core.Action) {
	st.appendMetaLog("Firing web hook: " + act.WebHook)
	d.log.Debug("firing job web hook",
		logx.String("trigger", act.Trigger), logx.String("web_hook", act.WebHook))

	data := d.buildHookData(st.snap, job, act)
	res := d.FireWebHookID(ctx, st.snap, act.WebHook, data)

	act.Code = res.Code
	act.Description = res.Description
	act.Details = res.Details
}

// FireWebHookID resolves a stored definition by id and fires it.
func (d *Dispatcher) FireWebHookID(ctx context.Context, snap core.Snapshot, id string, data map[string]any) *webhook.Result {
	def := snap.WebHook(id)
	if def == nil {
		return &webhook.Result{
			Code:        core.CodeWebHook,
			Description: webhook.ErrNotFound.Error() + ": " + id,
		}
	}
	if !def.Enabled {
		return &webhook.Result{
			Code:        core.CodeWebHook,
			Description: "Web Hook is disabled: " + id,
		}
	}
	return d.FireWebHook(ctx, def, data)
}

// FireWebHook renders and fires a definition directly. Inline definitions
// (test/preview mode) come through here without touching the snapshot.
func (d *Dispatcher) FireWebHook(ctx context.Context, def *core.WebHookDefinition, data map[string]any) *webhook.Result {
	fallback := "N/A"
	if fb, ok := data["_fallback"].(string); ok && fb != "" {
		fallback = fb
	}

	// placeholder subs on the url are percent-encoded
	target := macro.Render(def.URL, data, fallback, url.QueryEscape)

	var headers http.Header
	if strings.TrimSpace(def.Headers) != "" {
		headers = webhook.ParseHeaderLines(macro.Render(def.Headers, data, fallback, nil))
	}

	var body []byte
	method := strings.ToUpper(strings.TrimSpace(def.Method))
	if method != http.MethodGet && method != http.MethodHead && strings.TrimSpace(def.Body) != "" {
		body = []byte(macro.Render(def.Body, data, fallback, nil))
	}

	return d.web.Call(ctx, def, target, headers, body)
}
