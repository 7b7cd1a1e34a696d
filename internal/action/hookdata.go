package action

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/purpose168/xyops/internal/core"
	"github.com/purpose168/xyops/internal/macro"
)

// buildHookData assembles the template context for action and system-hook
// rendering: the raw environment, the job and action, the resolved
// event/plugin/category/server records, computed links, and display
// strings.
func (d *Dispatcher) buildHookData(snap core.Snapshot, job *core.Job, act *core.Action) map[string]any {
	data := map[string]any{
		"env":    envMap(),
		"job":    toMap(job),
		"action": toMap(act),
	}

	if ev := snap.Event(job.EventID); ev != nil {
		data["event"] = toMap(ev)
	}
	if pl := snap.Plugin(job.Plugin); pl != nil {
		data["plugin"] = toMap(pl)
	}
	if cat := snap.Category(job.Category); cat != nil {
		data["category"] = toMap(cat)
	}
	if job.Server != "" {
		if srv := snap.Server(job.Server); srv != nil {
			data["server"] = toMap(srv)
		}
	}

	data["links"] = map[string]any{
		"job_details": d.cfg.BaseAppURL + "/#Job?id=" + job.ID,
		"job_log": d.cfg.BaseAppURL + "/api/app/download_job_log?id=" + job.ID +
			"&t=" + signDownload(job.ID, d.cfg.SecretKey),
	}

	display := map[string]any{
		"elapsed":  elapsedText(job.Elapsed),
		"log_size": humanize.Bytes(uint64(max(job.LogFileSize, 0))),
		"perf":     perfText(job.Perf),
		"mem":      usageText(job.Mem, func(v float64) string { return humanize.Bytes(uint64(v)) }),
		"cpu":      usageText(job.CPU, func(v float64) string { return shortFloat(v) + "%" }),
	}
	data["display"] = display

	// short natural-language summary chosen by outcome + trigger
	tpl := d.cfg.HookTextTemplates["job_"+act.Trigger]
	if tpl == "" {
		if job.Code != "" {
			tpl = d.cfg.HookTextTemplates["job_error"]
		} else {
			tpl = d.cfg.HookTextTemplates["job_success"]
		}
	}
	text := macro.Render(tpl, data, "n/a", nil)
	data["text"] = text
	data["content"] = text

	return data
}

// signDownload produces the keyed digest that authorizes a log download
// link without a session.
func signDownload(jobID, secret string) string {
	sum := sha256.Sum256([]byte("download" + jobID + secret))
	s := base64.StdEncoding.EncodeToString(sum[:])
	if len(s) > 16 {
		s = s[:16]
	}
	return s
}

func elapsedText(sec int64) string {
	if sec < 0 {
		sec = 0
	}
	h, m, s := sec/3600, (sec%3600)/60, sec%60
	switch {
	case h > 0:
		return fmt.Sprintf("%d hours %d minutes", h, m)
	case m > 0:
		return fmt.Sprintf("%d minutes %d seconds", m, s)
	default:
		return fmt.Sprintf("%d seconds", s)
	}
}

func perfText(perf any) string {
	switch p := perf.(type) {
	case nil:
		return "(No metrics provided)"
	case string:
		if p == "" {
			return "(No metrics provided)"
		}
		return p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return "(No metrics provided)"
		}
		return string(b)
	}
}

func usageText(u *core.UsageStats, format func(float64) string) string {
	if u == nil || u.Count == 0 {
		return "(Unknown)"
	}
	avg := u.Total / float64(u.Count)
	return format(avg) + " (Peak: " + format(u.Max) + ")"
}

func shortFloat(v float64) string {
	return fmt.Sprintf("%g", math.Round(v*100)/100)
}

func envMap() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// toMap converts a record to the nested map form the macro engine walks.
func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
