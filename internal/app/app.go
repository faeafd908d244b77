package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"surveybot/internal/admin"
	"surveybot/internal/audience"
	"surveybot/internal/config"
	"surveybot/internal/directory"
	"surveybot/internal/eventbus"
	"surveybot/internal/notifier"
	"surveybot/internal/notifier/broadcast"
	"surveybot/internal/reminder"
	"surveybot/internal/response"
	rtsup "surveybot/internal/runtime/supervisor"
	"surveybot/internal/storage"
	"surveybot/internal/survey"
	"surveybot/internal/task/scheduler"
	kit "surveybot/internal/transport"
	"surveybot/internal/transport/httpapi"
	telegram "surveybot/internal/transport/telegram/adapter"
	"surveybot/internal/transport/telegram/router"
	logx "surveybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	gate      *admin.Gate
	dir       *directory.Directory
	notif     *notifier.Service
	bcast     *broadcast.Service
	tracker   *response.Tracker
	lists     *survey.Lists
	campaigns *survey.Lifecycle
	cron      *scheduler.Service
	reminders *reminder.Service
	http      *httpapi.Service
	export    *eventbus.Forwarder // nil when events.amqp.url is empty

	router  *router.Manager
	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	a, err := build(cfg, ad, logSvc, log, bus, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgm = cfgm

	bctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := a.gate.Bootstrap(bctx, cfg.Admin.BootstrapUserIDs)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("admin bootstrap: %w", err)
	}
	if n > 0 {
		a.log.Info("admins bootstrapped", logx.Int("added", n))
	}
	return a, nil
}

// build wires the services around an already opened store and adapter.
func build(cfg *config.Config, ad kit.Adapter, logSvc *logx.Service, log logx.Logger, bus eventbus.Bus, store storage.Store) (*App, error) {
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		return nil, err
	}
	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	ropt, err := mapRouterOptions(cfg)
	if err != nil {
		return nil, err
	}

	gate := admin.New(store, bus, log)
	dir := directory.New(store, gate, bus, log)
	notif := notifier.New(ncfg, ad, gate, bus, log)
	bcast := broadcast.New(mapBroadcastConfig(cfg), notif, log)
	tracker := response.New(store, bus, log)
	lists := survey.NewLists(store, gate, bus, log)
	campaigns := survey.NewLifecycle(store, gate, audience.NewResolver(dir), bcast, tracker, bus, log)
	tracker.SetAcceptHook(campaigns.OnResponse)

	cron := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), bus)
	passes := reminder.NewScheduler(rcfg, store, tracker, campaigns, notif, bus, log)
	reminders := reminder.NewService(rcfg, passes, cron, gate, store, log)

	a := &App{
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		gate:      gate,
		dir:       dir,
		notif:     notif,
		bcast:     bcast,
		tracker:   tracker,
		lists:     lists,
		campaigns: campaigns,
		cron:      cron,
		reminders: reminders,
		updates:   make(chan kit.Update, 256),
	}
	a.http = httpapi.New(hcfg, opsAPI{campaigns: campaigns, reminders: reminders}, log)
	if ac, ok := mapAMQPConfig(cfg); ok {
		a.export = eventbus.NewForwarder(bus, ac, log)
	}

	ropt.OnMessage = a.onMessage
	ropt.RenderError = renderError
	a.router = router.New(log.With(logx.String("comp", "router")), ad, gate, ropt)
	return a, nil
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

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateReload(cfg)
	})

	// Subscribe before anything can publish so no audit entry is missed.
	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("events.sink", func(c context.Context) {
		defer unsub()
		a.sinkEvents(c, events)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())
	a.cron.Start(a.sup.Context())
	if err := a.reminders.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.http.Enabled() {
		a.http.Start(a.sup.Context())
	}
	if a.export != nil {
		a.sup.GoRestart("events.amqp", a.export.Run,
			rtsup.WithRestartBackoff(time.Second, time.Minute),
			rtsup.WithPublishFirstError(false),
		)
	}

	a.router.SetRegistry(a.sup.Context(), a.commands(), a.callbacks())
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes hot-reloadable sections into the running services.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	a.bcast.Apply(mapBroadcastConfig(newCfg))

	a.cron.Apply(mapSchedulerConfig(newCfg))
	if rcfg, err := mapReminderConfig(newCfg); err != nil {
		a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
	} else if err := a.reminders.Apply(rcfg); err != nil {
		a.log.Warn("reminder reschedule failed", logx.Err(err))
	}

	if hcfg, err := mapHTTPConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hcfg)
	}

	if slicesDiffer(oldCfg.Admin.BootstrapUserIDs, newCfg.Admin.BootstrapUserIDs) {
		if n, err := a.gate.Bootstrap(ctx, newCfg.Admin.BootstrapUserIDs); err != nil {
			a.log.Warn("admin bootstrap failed", logx.Err(err))
		} else if n > 0 {
			a.log.Info("admins bootstrapped", logx.Int("added", n))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func slicesDiffer(a, b []int64) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		if max > 0 {
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
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("reminders", 3*time.Second, func(c context.Context) error { a.reminders.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.cron.Stop(c); return nil })
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
