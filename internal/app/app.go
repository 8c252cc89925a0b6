// Package app assembles the notification core: config, logging, bus,
// connectivity monitor, ingestion hub, router, viewer session, and poller.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gatepass/internal/api"
	"gatepass/internal/config"
	"gatepass/internal/connectivity"
	"gatepass/internal/eventbus"
	"gatepass/internal/notify"
	"gatepass/internal/poll"
	"gatepass/internal/runtime/supervisor"
	"gatepass/internal/session"
	"gatepass/internal/storage"
	"gatepass/pkg/logx"
)

// Ports are the host-provided collaborators. Haptics, Cache, Navigator and
// Status may be nil; the affected side effects simply don't fire. Dialer may
// be nil when no realtime transport is wired (connectivity then stays on its
// grace-window default). Fetcher overrides the HTTP client built from
// config.api; leave it nil in production.
type Ports struct {
	Haptics   notify.Haptics
	Cache     notify.CacheInvalidator
	Navigator notify.Navigator
	Status    connectivity.StatusSink
	Dialer    session.Dialer
	Fetcher   poll.Fetcher
}

type App struct {
	mu sync.Mutex

	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus
	ports  Ports

	store   storage.Store
	monitor *connectivity.Monitor
	hub     *notify.Hub
	router  *notify.Router
	session *session.Manager
	poller  *poll.Poller
	sup     *supervisor.Supervisor

	started bool
}

func New(cfgPath string, ports Ports) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	return &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		bus:    eventbus.New(),
		ports:  ports,
	}, nil
}

// Bus exposes the internal event bus for observability consumers.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Hub returns the ingestion hub (nil before Start).
func (a *App) Hub() *notify.Hub {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hub
}

// Monitor returns the connectivity monitor (nil before Start).
func (a *App) Monitor() *connectivity.Monitor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.monitor
}

// Session returns the viewer session manager (nil before Start).
func (a *App) Session() *session.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// PushDelivered is the entry point for a system push received while the app
// is foregrounded.
func (a *App) PushDelivered(n notify.Notification) {
	a.mu.Lock()
	hub := a.hub
	a.mu.Unlock()
	if hub == nil {
		return
	}
	n.Source = notify.SourcePush
	hub.Deliver(n)
}

// PushTapped is the entry point for the tap-response payload of a background
// push: it carries data only and goes straight to the router.
func (a *App) PushTapped(d notify.Data) {
	a.mu.Lock()
	r := a.router
	a.mu.Unlock()
	if r == nil {
		return
	}
	r.Route(d)
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	cfg := a.cfgMgr.Get()
	if cfg == nil {
		return errors.New("config not loaded")
	}

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "app"))))

	// Storage (optional).
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	// Connectivity monitor: its grace window starts now.
	connCfg, err := resolveConnectivity(cfg.Connectivity)
	if err != nil {
		return err
	}
	a.monitor = connectivity.NewMonitor(connCfg, a.ports.Status,
		a.log.With(logx.String("comp", "connectivity")), a.bus)

	// Ingestion hub.
	dismiss, err := config.ParseDurationField("notify.dismiss_after", cfg.Notify.DismissAfter)
	if err != nil {
		return err
	}
	a.hub = notify.NewHub(notify.HubConfig{DismissAfter: dismiss},
		a.ports.Haptics, a.ports.Cache,
		a.log.With(logx.String("comp", "notify")), a.bus)

	// Viewer session owns the realtime channel.
	redial, err := config.ParseDurationField("session.redial_every", cfg.Session.RedialEvery)
	if err != nil {
		return err
	}
	a.session = session.NewManager(ctx,
		session.Config{RedialEvery: redial, RedialBurst: cfg.Session.RedialBurst},
		a.ports.Dialer, a.monitor, a.hub.Deliver,
		a.log.With(logx.String("comp", "session")), a.bus)

	// Router reads identity from the session manager.
	a.router = notify.NewRouter(a.ports.Navigator, a.session, a.hub,
		a.log.With(logx.String("comp", "router")), a.bus)

	// Poller (optional).
	if cfg.Poll.PollEnabled() {
		fetcher := a.ports.Fetcher
		if fetcher == nil {
			timeout, err := config.ParseDurationField("api.timeout", cfg.API.Timeout)
			if err != nil {
				return err
			}
			client, err := api.NewClient(api.Config{
				BaseURL: cfg.API.BaseURL,
				Token:   cfg.API.Token,
				Timeout: timeout,
			})
			if err != nil {
				if !errors.Is(err, api.ErrNoBaseURL) {
					return err
				}
				a.log.Warn("poll enabled but api.base_url missing; poller disabled")
			} else {
				fetcher = client
			}
		}
		if fetcher != nil {
			pollTimeout, err := config.ParseDurationField("poll.timeout", cfg.Poll.Timeout)
			if err != nil {
				return err
			}
			retention, err := config.ParseDurationField("poll.retention", cfg.Poll.Retention)
			if err != nil {
				return err
			}
			pruneEvery, err := config.ParseDurationField("poll.prune_every", cfg.Poll.PruneEvery)
			if err != nil {
				return err
			}
			a.poller = poll.New(poll.Config{
				Schedule:   cfg.Poll.Schedule,
				Timeout:    pollTimeout,
				Retention:  retention,
				PruneEvery: pruneEvery,
			}, fetcher, a.hub.Deliver, a.store, a.session,
				a.log.With(logx.String("comp", "poll")), a.bus)
			if err := a.poller.Start(ctx); err != nil {
				return fmt.Errorf("start poller: %w", err)
			}
		}
	}

	// Hot-reload: watch the config file and apply logging changes live.
	a.sup.Go("config.watch", a.cfgMgr.Watch)
	updates := a.cfgMgr.Subscribe(2)
	a.sup.Go0("config.apply", func(ctx context.Context) {
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case ncfg, ok := <-updates:
				if !ok || ncfg == nil {
					return
				}
				a.logSvc.Apply(logx.Config{
					Level:   ncfg.Logging.Level,
					Console: ncfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: ncfg.Logging.File.Enabled,
						Path:    ncfg.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded", logx.String("level", ncfg.Logging.Level))
			}
		}
	})

	a.started = true
	a.log.Info("gatepass core started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	poller := a.poller
	sess := a.session
	monitor := a.monitor
	hub := a.hub
	store := a.store
	sup := a.sup
	a.mu.Unlock()

	var firstErr error
	if poller != nil {
		if err := poller.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if sess != nil {
		if err := sess.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if monitor != nil {
		monitor.Close()
	}
	if hub != nil {
		hub.Close()
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if store != nil {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = a.logSvc.Close()
	return firstErr
}

func resolveConnectivity(c config.ConnectivityConfig) (connectivity.Config, error) {
	grace, err := config.ParseDurationField("connectivity.grace", c.Grace)
	if err != nil {
		return connectivity.Config{}, err
	}
	online, err := config.ParseDurationField("connectivity.online_delay", c.OnlineDelay)
	if err != nil {
		return connectivity.Config{}, err
	}
	offline, err := config.ParseDurationField("connectivity.offline_delay", c.OfflineDelay)
	if err != nil {
		return connectivity.Config{}, err
	}
	hide, err := config.ParseDurationField("connectivity.banner_auto_hide", c.BannerAutoHide)
	if err != nil {
		return connectivity.Config{}, err
	}
	return connectivity.Config{
		Grace:          grace,
		OnlineDelay:    online,
		OfflineDelay:   offline,
		BannerAutoHide: hide,
	}, nil
}

// validate rejects configs with unparseable durations or schedules before
// they are committed by the watcher.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := resolveConnectivity(cfg.Connectivity); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("notify.dismiss_after", cfg.Notify.DismissAfter); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("session.redial_every", cfg.Session.RedialEvery); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("poll.timeout", cfg.Poll.Timeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("poll.retention", cfg.Poll.Retention); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("poll.prune_every", cfg.Poll.PruneEvery); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("api.timeout", cfg.API.Timeout); err != nil {
		return err
	}
	if cfg.Poll.PollEnabled() && cfg.Poll.Schedule != "" {
		if _, err := poll.ParseSchedule(cfg.Poll.Schedule); err != nil {
			return err
		}
	}
	return nil
}
