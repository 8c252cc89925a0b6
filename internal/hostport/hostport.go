// Package hostport provides headless stand-ins for the host-UI ports so the
// agent binary can run without an embedding application. Each side effect is
// logged instead of performed.
package hostport

import (
	"gatepass/internal/app"
	"gatepass/internal/connectivity"
	"gatepass/internal/notify"
	"gatepass/pkg/logx"
)

var log = logx.NewConsole("info").With(logx.String("comp", "hostport"))

type Haptics struct{}

func (Haptics) Success() {
	log.Debug("haptic success")
}

type Cache struct{}

func (Cache) Invalidate(key notify.CacheKey) {
	log.Debug("cache invalidated", logx.String("key", string(key)))
}

// Navigator is always ready and records navigations in the log.
type Navigator struct{}

func (Navigator) IsReady() bool { return true }

func (Navigator) Navigate(screen string, params map[string]string) {
	log.Info("navigate", logx.String("screen", screen), logx.Any("params", params))
}

type Status struct{}

func (Status) StatusChanged(st connectivity.State, bannerVisible bool) {
	log.Info("connectivity changed",
		logx.String("state", st.String()),
		logx.Bool("banner", bannerVisible))
}

// Bind attaches a bus tap that mirrors pipeline events into the log, which
// is the only observable output of a headless agent.
func Bind(a *app.App) {
	ch, _ := a.Bus().Subscribe(32)
	go func() {
		for ev := range ch {
			log.Debug("bus event", logx.String("topic", ev.Type), logx.Any("data", ev.Data))
		}
	}()
}
