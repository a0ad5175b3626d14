package config

// Config is the whole chatblast config file (JSON or YAML).
//
// Durations are Go duration strings ("2s", "500ms", "5m"). Secrets are not
// read from the file when the matching environment variable is set; see
// ApplyEnv.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Contacts    ContactsConfig    `json:"contacts"`
	Ledger      LedgerConfig      `json:"ledger"`
	Dispatch    DispatchConfig    `json:"dispatch"`
	Session     SessionConfig     `json:"session"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Messaging   MessagingConfig   `json:"messaging"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Telegram    TelegramConfig    `json:"telegram"`
	Systemd     SystemdConfig     `json:"systemd"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at or above MinLevel to the operator
// chat configured under "telegram".
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type ContactsConfig struct {
	Path      string         `json:"path"`       // default "contacts.csv"
	BatchSize int            `json:"batch_size"` // default 20
	Columns   *ColumnsConfig `json:"columns,omitempty"`
}

// ColumnsConfig renames the contact store columns. Empty fields keep the
// defaults ("First Name", "Phone 1 - Value", ...).
type ColumnsConfig struct {
	FirstName       string `json:"first_name,omitempty"`
	MiddleName      string `json:"middle_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Organization    string `json:"organization,omitempty"`
	Status          string `json:"status,omitempty"`
	NormalizedPhone string `json:"normalized_phone,omitempty"`
}

type LedgerConfig struct {
	SentPath   string `json:"sent_path"`
	FailedPath string `json:"failed_path"`
	QueueSize  int    `json:"queue_size,omitempty"`
}

// DispatchConfig: delay, send_timeout, max_per_second and failure_policy
// apply live on reload; workers takes effect on the next run.
type DispatchConfig struct {
	Workers       int     `json:"workers"`        // default 4
	Delay         string  `json:"delay"`          // default "2s"
	ChatSuffix    string  `json:"chat_suffix"`    // default "@c.us"
	FailurePolicy string  `json:"failure_policy"` // "mark_failed" | "leave_retryable"
	SendTimeout   string  `json:"send_timeout,omitempty"`
	MaxPerSecond  float64 `json:"max_per_second,omitempty"`
}

type SessionConfig struct {
	IdentityPrefix string `json:"identity_prefix"` // default "client-"
	PairTimeout    string `json:"pair_timeout,omitempty"`
}

type MaintenanceConfig struct {
	// Enabled is a pointer so an omitted key keeps the sweep on.
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule"` // cron, Go duration or HH:MM; default "@every 5m"
	Timeout  string `json:"timeout,omitempty"`
}

func (m MaintenanceConfig) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }

type MessagingConfig struct {
	Driver       string       `json:"driver"` // "dryrun" | "bridge"
	BodyPath     string       `json:"body_path"`
	TestBodyPath string       `json:"test_body_path,omitempty"`
	MediaPath    string       `json:"media_path,omitempty"`
	DryRun       DryRunConfig `json:"dryrun"`
	Bridge       BridgeConfig `json:"bridge"`
}

type DryRunConfig struct {
	FailEvery int    `json:"fail_every,omitempty"`
	Latency   string `json:"latency,omitempty"`
	PairDelay string `json:"pair_delay,omitempty"`
}

type BridgeConfig struct {
	BaseURL      string `json:"base_url"`
	Token        string `json:"token,omitempty"` // prefer CHATBLAST_BRIDGE_TOKEN
	PollInterval string `json:"poll_interval,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
}

// StorageConfig controls the optional outcome audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./chatblast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"` // prefer CHATBLAST_TELEGRAM_TOKEN
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// Timeout bounds one Bot API call; default "10s".
	Timeout string `json:"timeout,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
