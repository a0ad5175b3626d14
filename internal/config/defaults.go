package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultWorkers   = 4
	DefaultBatchSize = 20
	DefaultDelay     = "2s"
	DefaultSchedule  = "@every 5m"
)

// Environment variables that override secrets in the file.
const (
	EnvTelegramToken = "CHATBLAST_TELEGRAM_TOKEN"
	EnvBridgeToken   = "CHATBLAST_BRIDGE_TOKEN"
)

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Contacts.Path == "" {
		c.Contacts.Path = "contacts.csv"
	}
	if c.Contacts.BatchSize == 0 {
		c.Contacts.BatchSize = DefaultBatchSize
	}
	if c.Ledger.SentPath == "" {
		c.Ledger.SentPath = "sentMessages.csv"
	}
	if c.Ledger.FailedPath == "" {
		c.Ledger.FailedPath = "failedMessages.csv"
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = DefaultWorkers
	}
	if c.Dispatch.Delay == "" {
		c.Dispatch.Delay = DefaultDelay
	}
	if c.Dispatch.ChatSuffix == "" {
		c.Dispatch.ChatSuffix = "@c.us"
	}
	if c.Dispatch.FailurePolicy == "" {
		c.Dispatch.FailurePolicy = "mark_failed"
	}
	if c.Session.IdentityPrefix == "" {
		c.Session.IdentityPrefix = "client-"
	}
	if c.Maintenance.Schedule == "" {
		c.Maintenance.Schedule = DefaultSchedule
	}
	if c.Messaging.Driver == "" {
		c.Messaging.Driver = "dryrun"
	}
	if c.Messaging.BodyPath == "" {
		c.Messaging.BodyPath = "message.txt"
	}
}

// ApplyEnv overrides secrets from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvBridgeToken)); v != "" {
		c.Messaging.Bridge.Token = v
	}
}

// Validate checks everything a run cannot start without. Errors are joined so
// the operator sees all of them at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if c.Contacts.BatchSize <= 0 {
		add(fmt.Errorf("contacts.batch_size must be > 0, got %d", c.Contacts.BatchSize))
	}
	if c.Dispatch.Workers <= 0 {
		add(fmt.Errorf("dispatch.workers must be > 0, got %d", c.Dispatch.Workers))
	}
	switch c.Dispatch.FailurePolicy {
	case "mark_failed", "leave_retryable":
	default:
		add(fmt.Errorf("dispatch.failure_policy: unknown value %q", c.Dispatch.FailurePolicy))
	}
	if c.Dispatch.MaxPerSecond < 0 {
		add(errors.New("dispatch.max_per_second must be >= 0"))
	}
	dur("dispatch.delay", c.Dispatch.Delay)
	dur("dispatch.send_timeout", c.Dispatch.SendTimeout)
	dur("session.pair_timeout", c.Session.PairTimeout)
	dur("maintenance.timeout", c.Maintenance.Timeout)
	dur("messaging.dryrun.latency", c.Messaging.DryRun.Latency)
	dur("messaging.dryrun.pair_delay", c.Messaging.DryRun.PairDelay)
	dur("messaging.bridge.poll_interval", c.Messaging.Bridge.PollInterval)
	dur("messaging.bridge.timeout", c.Messaging.Bridge.Timeout)
	dur("telegram.timeout", c.Telegram.Timeout)

	switch strings.ToLower(c.Messaging.Driver) {
	case "dryrun", "dry-run":
	case "bridge", "http":
		if strings.TrimSpace(c.Messaging.Bridge.BaseURL) == "" {
			add(errors.New("messaging.bridge.base_url is required for the bridge driver"))
		}
	default:
		add(fmt.Errorf("messaging.driver: unknown value %q", c.Messaging.Driver))
	}

	if c.Storage != nil {
		dur("storage.busy_timeout", c.Storage.BusyTimeout)
	}
	if c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			add(fmt.Errorf("telegram.token is required when telegram is enabled (set %s)", EnvTelegramToken))
		}
		if c.Telegram.ChatID == 0 {
			add(errors.New("telegram.chat_id is required when telegram is enabled"))
		}
	}
	if c.Logging.Telegram.Enabled && !c.Telegram.Enabled {
		add(errors.New("logging.telegram needs the telegram section enabled"))
	}
	return errors.Join(errs...)
}
