package config

// Config is the root configuration for the gatepass agent.
//
// All durations are Go duration strings (e.g. "300ms", "5s", "1m").
// Omitted duration fields fall back to the component defaults, which match
// the product's shipped timings.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Connectivity tunes the connection status monitor.
	Connectivity ConnectivityConfig `json:"connectivity,omitempty"`

	// Notify tunes the notification banner behavior.
	Notify NotifyConfig `json:"notify,omitempty"`

	// Session tunes realtime channel dialing for the signed-in viewer.
	Session SessionConfig `json:"session,omitempty"`

	// Poll controls the periodic unseen-notification fetch.
	Poll PollConfig `json:"poll"`

	// API locates the remote notifications endpoint consumed by the poller.
	API APIConfig `json:"api"`

	// Storage controls the optional seen-marker persistence layer.
	// If omitted, seen markers are kept in memory for the process lifetime.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// ConnectivityConfig overrides the status monitor timings.
//
// Defaults (when fields are omitted):
//   - grace: "3s"
//   - online_delay: "300ms"
//   - offline_delay: "2s"
//   - banner_auto_hide: "2.5s"
type ConnectivityConfig struct {
	Grace          string `json:"grace,omitempty"`
	OnlineDelay    string `json:"online_delay,omitempty"`
	OfflineDelay   string `json:"offline_delay,omitempty"`
	BannerAutoHide string `json:"banner_auto_hide,omitempty"`
}

// NotifyConfig overrides the ingestion hub timings.
//
// Defaults: dismiss_after: "5s".
type NotifyConfig struct {
	DismissAfter string `json:"dismiss_after,omitempty"`
}

// SessionConfig tunes realtime channel redialing.
//
// Defaults: redial_every: "2s", redial_burst: 1.
type SessionConfig struct {
	RedialEvery string `json:"redial_every,omitempty"`
	RedialBurst int    `json:"redial_burst,omitempty"`
}

// PollConfig controls the unseen-notification poller.
//
// Schedule accepts either a fixed interval ("30s", "interval:45s") or a cron
// expression ("*/1 * * * *", "cron:0 * * * *", "@every 30s").
// Defaults: enabled=true, schedule="30s", timeout="10s", retention="720h",
// prune_every="1h".
type PollConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	// Retention is how long seen markers are kept before being pruned.
	Retention string `json:"retention,omitempty"`
	// PruneEvery is how often the retention pass runs.
	PruneEvery string `json:"prune_every,omitempty"`
}

type APIConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the seen-marker persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./gatepass.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// PollEnabled resolves the tri-state enabled flag (omitted means enabled).
func (p PollConfig) PollEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}
