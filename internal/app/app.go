// Package app wires the daemon together: configuration, logging, record
// repository, persistence, the scheduler engine, the action dispatcher,
// the minute tick, and the metrics endpoint.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"github.com/rs/xid"

	"github.com/purpose168/xyops/internal/action"
	"github.com/purpose168/xyops/internal/config"
	"github.com/purpose168/xyops/internal/core"
	"github.com/purpose168/xyops/internal/eventbus"
	"github.com/purpose168/xyops/internal/mail"
	"github.com/purpose168/xyops/internal/observability/metrics"
	"github.com/purpose168/xyops/internal/repo"
	"github.com/purpose168/xyops/internal/scheduler"
	"github.com/purpose168/xyops/internal/storage"
	"github.com/purpose168/xyops/internal/webhook"
	logx "github.com/purpose168/xyops/pkg/logx"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

type App struct {
	cfgPath string

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	repo    *repo.FileRepo
	metrics *metrics.Collector

	engine     *scheduler.Engine
	dispatcher *action.Dispatcher

	cron *cron.Cron

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	if err := validate(cfg); err != nil {
		logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	collector := metrics.NewCollector()

	// storage (optional)
	var store storage.Store
	if sc, err := mapStorageConfig(cfg); err != nil {
		logSvc.Close()
		return nil, err
	} else {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		store = st
		if store != nil {
			log.Info("storage enabled", logx.String("driver", sc.Driver))
		}
	}

	records := repo.NewFileRepo(cfg.DataFile, log.With(logx.String("comp", "repo")))
	if err := records.Load(); err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("load data file: %w", err)
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		repo:    records,
		metrics: collector,
	}

	var mailer mail.Sender
	if cfg.Mail != nil {
		mailer = mail.New(mail.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
	}

	web := webhook.NewClient(log.With(logx.String("comp", "webhook")))

	a.dispatcher = action.NewDispatcher(action.Config{
		BaseAppURL:        cfg.BaseAppURL,
		SecretKey:         cfg.SecretKey,
		EmailTemplateDir:  cfg.Actions.EmailTemplateDir,
		Hooks:             cfg.Actions.Hooks,
		HookTextTemplates: cfg.Actions.HookTextTemplates,
		WebHookCustomData: cfg.Actions.WebHookCustomData,
	}, action.Deps{
		Log:      log.With(logx.String("comp", "action")),
		Snapshot: records.Snapshot,
		Launcher: core.LauncherFunc(a.launchJob),
		Web:      web,
		Mailer:   mailer,
		Metrics:  collector,
	})

	a.engine = scheduler.NewEngine(scheduler.Config{
		DefaultTimezone: cfg.Scheduler.Timezone,
		TempDir:         cfg.TempDir,
		Version:         Version,
	}, scheduler.Deps{
		Log:      log.With(logx.String("comp", "scheduler")),
		Store:    store,
		Launcher: core.LauncherFunc(a.launchJob),
		Deleter:  records,
		Bus:      bus,
		Metrics:  collector,
	})

	return a, nil
}

// launchJob is the placeholder launch path: the job runtime lives on the
// worker side, so the daemon assigns an id, announces the launch and
// leaves execution to whoever consumes the bus.
func (a *App) launchJob(ctx context.Context, draft *core.JobDraft) (string, error) {
	id := "j" + xid.New().String()
	a.log.Info("job launched",
		logx.String("job", id),
		logx.String("event", draft.Event.ID),
		logx.String("source", draft.Source),
		logx.String("title", draft.Title))
	a.bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobLaunched,
		Time: time.Now(),
		Data: map[string]any{
			"job":    id,
			"event":  draft.Event.ID,
			"source": draft.Source,
		},
	})
	return id, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	cfg := a.cfgm.Get()

	// hot reload: logging and record file
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				if err := validate(newCfg); err != nil {
					a.log.Warn("config rejected", logx.Err(err))
					continue
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded")
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = "127.0.0.1:9190"
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.metrics.Serve(runCtx, addr); err != nil {
				a.log.Error("metrics server failed", logx.Err(err))
			}
		}()
	}

	if cfg.Scheduler.Enabled {
		// one tick per minute; plugin batches detach from the tick, so the
		// guard only debounces a pathological evaluation overrun
		a.cron = cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		))
		_, err := a.cron.AddFunc("* * * * *", func() {
			if err := a.repo.Load(); err != nil {
				a.log.Warn("record file reload failed", logx.Err(err))
			}
			a.engine.Tick(runCtx, time.Now(), a.repo.Snapshot())
		})
		if err != nil {
			cancel()
			return err
		}
		a.cron.Start()
		a.log.Info("scheduler started", logx.String("timezone", cfg.Scheduler.Timezone))
	} else {
		a.log.Warn("scheduler disabled by config")
	}

	// systemd integration is a no-op outside a systemd unit
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}()
	}

	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.engine != nil {
		a.engine.Wait()
	}

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("shutdown complete")
	return a.logs.Close()
}

// Dispatcher exposes the action dispatcher for the job runtime side.
func (a *App) Dispatcher() *action.Dispatcher { return a.dispatcher }

func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.DataFile) == "" {
		return fmt.Errorf("data_file is required")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Storage != nil {
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}
