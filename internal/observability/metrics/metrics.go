// Package metrics exposes the scheduler core's operational counters in
// Prometheus format. Registration uses a private registry so tests can
// build as many collectors as they like.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ticks         prometheus.Counter
	launches      *prometheus.CounterVec
	launchErrors  prometheus.Counter
	pluginBatches *prometheus.CounterVec
	actions       *prometheus.CounterVec
	tickDuration  prometheus.Histogram
}

func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xyops_scheduler_ticks_total",
			Help: "Total number of scheduler minute ticks processed",
		}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xyops_jobs_launched_total",
			Help: "Total number of job drafts handed to the launcher",
		}, []string{"source"}),
		launchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xyops_job_launch_errors_total",
			Help: "Total number of launcher errors",
		}),
		pluginBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xyops_scheduler_plugin_batches_total",
			Help: "Total number of scheduler plugin batches by outcome",
		}, []string{"status"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xyops_actions_total",
			Help: "Total number of executed job actions by type and result code",
		}, []string{"type", "code"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "xyops_scheduler_tick_seconds",
			Help:    "Wall-clock duration of one scheduler tick",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.reg.MustRegister(c.ticks, c.launches, c.launchErrors, c.pluginBatches, c.actions, c.tickDuration)
	return c
}

func (c *Collector) RecordTick(d time.Duration) {
	if c == nil {
		return
	}
	c.ticks.Inc()
	c.tickDuration.Observe(d.Seconds())
}

func (c *Collector) RecordLaunch(source string) {
	if c == nil {
		return
	}
	c.launches.WithLabelValues(source).Inc()
}

func (c *Collector) RecordLaunchError() {
	if c == nil {
		return
	}
	c.launchErrors.Inc()
}

// RecordPluginBatch takes status "ok", "skipped" or "failed".
func (c *Collector) RecordPluginBatch(status string) {
	if c == nil {
		return
	}
	c.pluginBatches.WithLabelValues(status).Inc()
}

func (c *Collector) RecordAction(typ, code string) {
	if c == nil {
		return
	}
	if code == "" {
		code = "0"
	}
	c.actions.WithLabelValues(typ, code).Inc()
}

// Serve exposes /metrics on addr until ctx is done. It blocks; run it in
// its own goroutine.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	if c == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
