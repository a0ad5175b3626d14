package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"chatblast/internal/config"
	"chatblast/internal/dispatch"
	"chatblast/internal/eventbus"
	"chatblast/internal/maintenance"
	"chatblast/internal/messaging"
	"chatblast/internal/notifier"
	rtsup "chatblast/internal/runtime/supervisor"
	"chatblast/internal/storage"
	"chatblast/internal/transport"
	"chatblast/internal/transport/telegram"
	logx "chatblast/pkg/logx"
	"chatblast/pkg/systemd"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Options struct {
	ConfigPath string
	// EnvPath is loaded into the environment before the config; a missing
	// file is not an error.
	EnvPath string

	In  io.Reader
	Out io.Writer

	// Client replaces the configured messaging driver.
	Client messaging.Client
	// Sender replaces the Telegram transport.
	Sender transport.Sender
	// Notify replaces the sd_notify socket.
	Notify func(state string) (bool, error)
}

type App struct {
	opts Options

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    *eventbus.MemBus
	store  storage.Store
	client messaging.Client
	notif  *notifier.Service
	sd     *systemd.Notifier
	runID  string

	// mu guards the components of the current run that hot reload touches.
	mu    sync.Mutex
	sched *dispatch.Scheduler
	sweep *maintenance.Sweeper
}

func New(opts Options) (*App, error) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if p := strings.TrimSpace(opts.EnvPath); p != "" {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env %s: %w", p, err)
		}
	}

	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	sc, storageOn, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("run", runID[:8]))

	bus := eventbus.New()

	sender := opts.Sender
	if sender == nil && cfg.Telegram.Enabled {
		tg, err := telegram.New(mapTelegramConfig(cfg), log.With(logx.String("comp", "telegram")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		sender = tg
	}
	notif := notifier.New(mapNotifierConfig(cfg), sender, log.With(logx.String("comp", "notifier")), bus)
	if notif.Enabled() {
		logSvc.SetSink(notif)
		logSvc.Apply(mapLogConfig(cfg))
	}

	var store storage.Store
	if storageOn {
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		log.Info("audit storage enabled", logx.String("driver", sc.Driver))
	}

	client := opts.Client
	if client == nil {
		client, err = messaging.Open(mapMessagingConfig(cfg), log.With(logx.String("comp", "messaging")))
		if err != nil {
			if store != nil {
				_ = store.Close()
			}
			logSvc.Close()
			return nil, err
		}
	}

	sd := systemd.New(cfg.Systemd.Notify)
	if opts.Notify != nil {
		sd = systemd.NewWith(opts.Notify)
	}

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, _, err := mapStorageConfig(c); err != nil {
			return err
		}
		if _, err := maintenance.ParseSchedule(c.Maintenance.Schedule); err != nil {
			return fmt.Errorf("maintenance.schedule: %w", err)
		}
		return nil
	})

	return &App{
		opts:   opts,
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		bus:    bus,
		store:  store,
		client: client,
		notif:  notif,
		sd:     sd,
		runID:  runID,
	}, nil
}

func (a *App) RunID() string { return a.runID }

func (a *App) Logger() logx.Logger { return a.log }

// Start launches the background services: notifier, config watch and the
// hot-reload fan-out.
func (a *App) Start(ctx context.Context) {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.notif.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	a.log.Debug("app started", logx.String("config", a.cfgm.Path()))
}

// applyConfig pushes the live-reloadable sections to running components.
// Worker count, batch size, driver and storage only apply to the next run.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))
	a.notif.Apply(mapNotifierConfig(cfg))

	a.mu.Lock()
	sched, sweep := a.sched, a.sweep
	a.mu.Unlock()

	if sched != nil {
		if err := sched.Apply(mapDispatchConfig(cfg)); err != nil {
			a.log.Warn("dispatch config rejected; keeping previous", logx.Err(err))
		}
	}
	if sweep != nil {
		if err := sweep.Apply(mapMaintenanceConfig(cfg)); err != nil {
			a.log.Warn("maintenance config rejected; keeping previous", logx.Err(err))
		}
	}
}

// Stop shuts the background services down. Every step is bounded so one
// stuck component cannot hold the process.
func (a *App) Stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping(string(reason))

	step := func(name string, max time.Duration, fn func(context.Context)) {
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		fn(c)
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// The notifier drains first so the run summary still goes out.
	step("notifier", 5*time.Second, a.notif.Stop)
	if a.sup != nil {
		a.sup.Cancel()
		step("supervisor", 2*time.Second, func(c context.Context) {
			if err := a.sup.Wait(c); err != nil {
				a.log.Warn("background tasks did not stop cleanly", logx.Err(err))
			}
		})
	}
	if a.store != nil {
		step("storage", time.Second, func(context.Context) {
			if err := a.store.Close(); err != nil {
				a.log.Warn("close storage", logx.Err(err))
			}
		})
	}
	a.log.Info("stopped", logx.String("reason", string(reason)))
	_ = a.logs.Close()
}
