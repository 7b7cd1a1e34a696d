package action

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"github.com/purpose168/xyops/internal/core"
	"github.com/purpose168/xyops/internal/macro"
	logx "github.com/purpose168/xyops/pkg/logx"
)

var (
	bareURLRe  = regexp.MustCompile(`^\w+://\S+$`)
	bareWordRe = regexp.MustCompile(`^\w+$`)
)

// FireSystemHook fires the admin-configured system hook registered for the
// given hook name (or the "*" catch-all). A hook can be a bare URL, a bare
// web-hook id, or an object with any combination of url, web_hook and
// shell_exec keys; every present destination fires. Errors are logged,
// never returned: system hooks are fire-and-forget observers.
func (d *Dispatcher) FireSystemHook(ctx context.Context, snap core.Snapshot, name string, data map[string]any) {
	// usually invoked from a bare goroutine; a panic here must not take
	// the process down
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("system hook panicked", logx.String("hook", name), logx.Any("panic", r))
		}
	}()

	hook := d.systemHook(name)
	if hook == nil {
		return
	}
	if err := d.hookLimit.Wait(ctx); err != nil {
		return
	}

	d.log.Debug("firing system hook", logx.String("hook", name))

	payload := make(map[string]any, len(data)+4)
	for k, v := range data {
		payload[k] = v
	}
	payload["action"] = name
	payload["epoch"] = time.Now().Unix()

	// chat-oriented receivers want a short summary under text/content
	desc, _ := payload["description"].(string)
	if desc != "" {
		if _, ok := payload["text"]; !ok {
			payload["text"] = desc
		}
		if _, ok := payload["content"]; !ok {
			payload["content"] = desc
		}
	}
	for k, v := range d.cfg.WebHookCustomData {
		payload[k] = v
	}

	if raw, ok := hook["url"].(string); ok && raw != "" {
		target := macro.Render(raw, payload, "", url.QueryEscape)
		if status, err := d.web.PostJSON(ctx, target, payload); err != nil {
			d.log.Error("system hook url failed",
				logx.String("hook", name), logx.String("url", target), logx.Err(err))
		} else {
			d.log.Debug("system hook url fired",
				logx.String("hook", name), logx.String("status", status))
		}
	}

	if id, ok := hook["web_hook"].(string); ok && id != "" {
		res := d.FireWebHookID(ctx, snap, id, payload)
		if res.Code != core.CodeSuccess {
			d.log.Error("system hook web hook failed",
				logx.String("hook", name), logx.String("web_hook", id),
				logx.String("description", res.Description))
		}
	}

	if cmdline, ok := hook["shell_exec"].(string); ok && cmdline != "" {
		rendered := macro.Render(cmdline, payload, "", nil)
		res := runShell(ctx, rendered)
		if res.err != nil {
			d.log.Error("system hook shell command failed",
				logx.String("hook", name), logx.String("stderr", res.stderr), logx.Err(res.err))
		}
	}
}

// systemHook resolves the configured hook for a name, normalizing the
// bare-string shorthand forms.
func (d *Dispatcher) systemHook(name string) map[string]any {
	raw, ok := d.cfg.Hooks[name]
	if !ok {
		raw, ok = d.cfg.Hooks["*"]
	}
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case string:
		if bareURLRe.MatchString(v) {
			return map[string]any{"url": v}
		}
		if bareWordRe.MatchString(v) {
			return map[string]any{"web_hook": v}
		}
		d.log.Error("invalid system hook value", logx.String("hook", name), logx.String("value", v))
		return nil
	case map[string]any:
		return v
	default:
		d.log.Error("invalid system hook value", logx.String("hook", name))
		return nil
	}
}
