package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/purpose168/xyops/internal/core"
	"github.com/purpose168/xyops/internal/storage"
	logx "github.com/purpose168/xyops/pkg/logx"
)

const defaultPluginTimeout = 30 * time.Second

// DeferredItem is one plugin-deferred trigger match, queued during the
// tick's event loop and resolved by the plugin's verdict afterwards. Its
// JSON shape is the wire format written to the plugin process.
type DeferredItem struct {
	PluginID string            `json:"plugin_id"`
	Params   map[string]string `json:"params,omitempty"`
	Timezone string            `json:"timezone"`
	Dargs    Breakdown         `json:"dargs"`
	Now      int64             `json:"now"`
	Job      *core.JobDraft    `json:"job"`
}

type pluginRequest struct {
	Trigger bool            `json:"trigger"`
	Items   []*DeferredItem `json:"items"`
}

type pluginResult struct {
	Launch bool           `json:"launch"`
	Job    *core.JobDraft `json:"job,omitempty"`
}

type pluginResponse struct {
	Trigger bool           `json:"trigger"`
	Items   []pluginResult `json:"items"`
}

// PluginRunner executes scheduler plugin processes, one per distinct
// plugin id per tick, and launches the jobs each plugin approves.
type PluginRunner struct {
	cfg Config
	eng *Engine
}

func newPluginRunner(cfg Config, eng *Engine) *PluginRunner {
	return &PluginRunner{cfg: cfg, eng: eng}
}

// Run distributes the deferred items into per-plugin-id batches and
// executes the distinct plugins concurrently, returning once every batch
// has finished. A failing batch drops its launches; it never fails the
// tick.
func (r *PluginRunner) Run(ctx context.Context, snap core.Snapshot, items []*DeferredItem) {
	r.eng.log.Debug("processing deferred plugin jobs", logx.Int("count", len(items)))

	batches := map[string][]*DeferredItem{}
	for _, item := range items {
		batches[item.PluginID] = append(batches[item.PluginID], item)
	}

	var wg sync.WaitGroup
	for id, batch := range batches {
		wg.Add(1)
		go func(id string, batch []*DeferredItem) {
			defer wg.Done()
			r.runBatch(ctx, snap, id, batch)
		}(id, batch)
	}
	wg.Wait()

	r.eng.log.Debug("deferred schedule launches complete")
}

func (r *PluginRunner) runBatch(ctx context.Context, snap core.Snapshot, pluginID string, items []*DeferredItem) {
	log := r.eng.log.With(logx.String("plugin", pluginID))

	plugin := snap.Plugin(pluginID)
	if plugin == nil {
		log.Error("scheduler plugin not found, skipping launches", logx.Int("count", len(items)))
		r.eng.metrics.RecordPluginBatch("skipped")
		return
	}
	if !plugin.Enabled {
		log.Debug("scheduler plugin is disabled, skipping launches", logx.Int("count", len(items)))
		r.eng.metrics.RecordPluginBatch("skipped")
		return
	}

	cmdline := plugin.Command
	if plugin.Script != "" {
		cmdline += " " + filepath.Join(r.cfg.TempDir, "plugins", plugin.ID+".bin")
	}

	env := environMap()
	env["XYOPS"] = r.cfg.Version
	if len(items[0].Params) > 0 {
		for key, val := range items[0].Params {
			env[strings.ToUpper(key)] = expandVars(val, env)
		}
	}

	cred, err := resolveRunAs(plugin, env)
	if err != nil {
		log.Error("could not resolve run-as identity, skipping batch", logx.Err(err))
		r.eng.metrics.RecordPluginBatch("skipped")
		return
	}

	timeout := defaultPluginTimeout
	if plugin.Timeout > 0 {
		timeout = time.Duration(plugin.Timeout) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug("firing scheduler plugin",
		logx.Int("count", len(items)), logx.String("cmd", cmdline))

	input, err := json.Marshal(pluginRequest{Trigger: true, Items: items})
	if err != nil {
		log.Error("failed to encode plugin request", logx.Err(err))
		r.eng.metrics.RecordPluginBatch("failed")
		return
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", cmdline)
	cmd.Dir = plugin.CWD
	if cmd.Dir == "" {
		cmd.Dir = os.TempDir()
	}
	cmd.Env = flattenEnv(env)
	applyCredential(cmd, cred)
	cmd.Stdin = bytes.NewReader(append(input, '\n'))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var resp pluginResponse
	if runErr == nil {
		out := strings.TrimSpace(stdout.String())
		if !strings.HasPrefix(out, "{") || json.Unmarshal([]byte(out), &resp) != nil {
			runErr = fmt.Errorf("unparseable plugin output")
		}
	}
	if runErr != nil {
		r.failBatch(ctx, log, pluginID,
			"Failed to launch Scheduler Plugin: "+pluginID+": "+runErr.Error(),
			cmdline, stdout.String(), stderr.String())
		return
	}
	if !resp.Trigger || len(resp.Items) != len(items) {
		r.failBatch(ctx, log, pluginID,
			"Unexpected result from Scheduler Plugin: "+pluginID,
			cmdline, stdout.String(), stderr.String())
		return
	}

	log.Debug("scheduler plugin completed", logx.String("stderr", strings.TrimSpace(stderr.String())))
	r.eng.metrics.RecordPluginBatch("ok")

	for idx, result := range resp.Items {
		if !result.Launch {
			continue
		}
		item := items[idx]
		draft := item.Job
		if result.Job != nil {
			draft = result.Job
		}

		log.Debug("auto-launching deferred scheduled event",
			logx.String("event", item.Job.ID),
			logx.Time("minute", time.Unix(item.Now, 0)))

		// the plugin's verdict is still subject to the original event's
		// precision trigger
		if prec := item.Job.Event.FindTrigger(core.TriggerPrecision); prec != nil && len(prec.Seconds) > 0 {
			for _, off := range secondsToOffsets(prec.Seconds) {
				sub := *draft
				sub.State = core.StateStartDelay
				sub.Until = item.Now + off
				sub.Source = core.SourcePlugin
				r.eng.launch(ctx, &sub)
			}
			continue
		}

		launch := *draft
		launch.Source = core.SourcePlugin
		r.eng.launch(ctx, &launch)
	}
}

// failBatch drops every potential launch from the batch. Partial launches
// from a malformed response are never permitted.
func (r *PluginRunner) failBatch(ctx context.Context, log logx.Logger, pluginID, desc, cmdline, stdout, stderr string) {
	log.Error(desc,
		logx.String("cmd", cmdline),
		logx.String("stdout", strings.TrimSpace(stdout)),
		logx.String("stderr", strings.TrimSpace(stderr)))
	if r.eng.store != nil {
		_ = r.eng.store.AppendTransaction(ctx, storage.Transaction{
			Kind:        "warning",
			Description: desc,
		})
	}
	r.eng.metrics.RecordPluginBatch("failed")
}

var envVarRe = regexp.MustCompile(`\$(\w+)`)

// expandVars substitutes $NAME references against env; unknown names
// expand to the empty string.
func expandVars(s string, env map[string]string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(m string) string {
		return env[m[1:]]
	})
}

func environMap() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
