package core

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"wendybot/internal/adapters/telegram"
	"wendybot/internal/kit"
	"wendybot/internal/meet"
	"wendybot/internal/services/notify"
	"wendybot/internal/services/remind"
	"wendybot/internal/session"
	"wendybot/internal/storage"
	"wendybot/pkg/logx"
)

// App owns the full wiring: config, logging, the Telegram adapter, the
// session engine, the reminder scheduler and the notification pipeline.
type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	logs *logx.Service
	log  logx.Logger

	adapter kit.Adapter
	store   storage.Store
	gw      *meet.Client
	engine  *session.Engine
	rem     *remind.Service
	notif   *notify.Service
	disp    *Dispatcher

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
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

	pollTimeout, err := parseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := parseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	retention, err := parseDuration("storage.retention", cfg.Storage.Retention, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
		Retention:   retention,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	meetTimeout, err := parseDuration("meet.timeout", cfg.Meet.Timeout, 0)
	if err != nil {
		return nil, err
	}
	gw, err := meet.NewClient(meet.Config{
		BaseURL: cfg.Meet.BaseURL,
		Timeout: meetTimeout,
	}, log.With(logx.String("comp", "meet")))
	if err != nil {
		return nil, err
	}

	voteDeadline, err := parseDuration("sessions.vote_deadline", cfg.Sessions.VoteDeadline, 0)
	if err != nil {
		return nil, err
	}
	engine := session.NewEngine(session.Config{
		MaxWeeks:     cfg.Sessions.MaxWeeks,
		VoteName:     cfg.Sessions.VoteName,
		VoteDeadline: voteDeadline,
	}, gw, log.With(logx.String("comp", "session")))

	notifSvc := notify.New(notify.Config{
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
		RetryMax:   cfg.Notify.RetryMax,
	}, ad, store, log.With(logx.String("comp", "notify")))

	stepTimeout, err := parseDuration("remind.step_timeout", cfg.Remind.StepTimeout, 0)
	if err != nil {
		return nil, err
	}
	idleExpiry, err := parseDuration("sessions.idle_expiry", cfg.Sessions.IdleExpiry, 0)
	if err != nil {
		return nil, err
	}
	remSvc := remind.New(remind.Config{
		Workers:     cfg.Remind.Workers,
		QueueSize:   cfg.Remind.QueueSize,
		StepTimeout: stepTimeout,
		SweepSpec:   cfg.Remind.SweepSpec,
		MaxIdle:     idleExpiry,
	}, remind.Deps{
		Sessions: engine,
		Gateway:  gw,
		Notifier: notifSvc,
		Target:   ParseSessionKey,
		Mention:  MentionMarkdown,
	}, log.With(logx.String("comp", "remind")))

	engine.SetScheduler(remSvc)

	disp := NewDispatcher(log.With(logx.String("comp", "dispatch")), ad, engine, gw, store)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		adapter: ad,
		store:   store,
		gw:      gw,
		engine:  engine,
		rem:     remSvc,
		notif:   notifSvc,
		disp:    disp,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish. Only
	// logging applies live; other sections need a restart and are only
	// sanity-checked here so a bad edit is rejected instead of latched.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		if cfg.Remind.Workers < 0 {
			return fmt.Errorf("remind.workers must be >= 0")
		}
		if cfg.Notify.RatePerSec < 0 {
			return fmt.Errorf("notify.rate_per_sec must be >= 0")
		}
		for _, f := range []struct{ path, raw string }{
			{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
			{"meet.timeout", cfg.Meet.Timeout},
			{"sessions.vote_deadline", cfg.Sessions.VoteDeadline},
			{"sessions.idle_expiry", cfg.Sessions.IdleExpiry},
			{"remind.step_timeout", cfg.Remind.StepTimeout},
			{"storage.busy_timeout", cfg.Storage.BusyTimeout},
			{"storage.retention", cfg.Storage.Retention},
		} {
			if _, err := parseDuration(f.path, f.raw, 0); err != nil {
				return err
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.notif.Start(a.sup.Context())
	a.rem.Start(a.sup.Context())

	a.sup.Go("dispatch", func(c context.Context) error {
		return a.disp.DispatchLoop(c, a.updates)
	})

	// hot reload fan-out (logging only)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.log.Info("logging config applied")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// best-effort command menu registration, for adapters that have one
	if menu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("menu.register", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := menu.UpdateMenuCommands(mctx, a.disp.MenuCommands()); err != nil {
				a.log.Warn("menu registration failed", logx.Err(err))
			}
		})
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("remind", 2*time.Second, func(c context.Context) error { a.rem.Stop(c); return nil })
	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
