package app

import (
	"fmt"
	"strings"
	"time"

	"chatblast/internal/config"
	"chatblast/internal/contacts"
	"chatblast/internal/dispatch"
	"chatblast/internal/ledger"
	"chatblast/internal/maintenance"
	"chatblast/internal/messaging"
	"chatblast/internal/notifier"
	"chatblast/internal/session"
	"chatblast/internal/storage"
	"chatblast/internal/transport/telegram"
	logx "chatblast/pkg/logx"
)

// Every mapper below takes a config that already passed Validate, so
// durations parse; the errors they return cover only what Validate cannot
// see.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapColumns(cfg *config.Config) contacts.Columns {
	c := cfg.Contacts.Columns
	if c == nil {
		return contacts.DefaultColumns()
	}
	return contacts.Columns{
		FirstName:       c.FirstName,
		MiddleName:      c.MiddleName,
		LastName:        c.LastName,
		Phone:           c.Phone,
		Organization:    c.Organization,
		Status:          c.Status,
		NormalizedPhone: c.NormalizedPhone,
	}
}

func mapLedgerConfig(cfg *config.Config) ledger.Config {
	return ledger.Config{
		SentPath:   cfg.Ledger.SentPath,
		FailedPath: cfg.Ledger.FailedPath,
		QueueSize:  cfg.Ledger.QueueSize,
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Delay:         config.MustDuration(cfg.Dispatch.Delay),
		ChatSuffix:    cfg.Dispatch.ChatSuffix,
		FailurePolicy: dispatch.FailurePolicy(cfg.Dispatch.FailurePolicy),
		SendTimeout:   config.MustDuration(cfg.Dispatch.SendTimeout),
		MaxPerSecond:  cfg.Dispatch.MaxPerSecond,
	}
}

func mapSessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		IdentityPrefix: cfg.Session.IdentityPrefix,
		PairTimeout:    config.MustDuration(cfg.Session.PairTimeout),
	}
}

func mapMaintenanceConfig(cfg *config.Config) maintenance.Config {
	return maintenance.Config{
		Enabled:  cfg.Maintenance.IsEnabled(),
		Schedule: cfg.Maintenance.Schedule,
		Timeout:  config.MustDuration(cfg.Maintenance.Timeout),
	}
}

func mapMessagingConfig(cfg *config.Config) messaging.Config {
	m := cfg.Messaging
	return messaging.Config{
		Driver: m.Driver,
		DryRun: messaging.DryRunConfig{
			FailEvery: m.DryRun.FailEvery,
			Latency:   config.MustDuration(m.DryRun.Latency),
			PairDelay: config.MustDuration(m.DryRun.PairDelay),
		},
		Bridge: messaging.BridgeConfig{
			BaseURL:      m.Bridge.BaseURL,
			Token:        m.Bridge.Token,
			PollInterval: config.MustDuration(m.Bridge.PollInterval),
			Timeout:      config.MustDuration(m.Bridge.Timeout),
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy := config.MustDuration(sc.BusyTimeout)
		if busy == 0 {
			busy = time.Second
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
		Timeout:  config.MustDuration(cfg.Telegram.Timeout),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Enabled:     cfg.Telegram.Enabled,
		RatePerSec:  1,
		RetryMax:    3,
		SendTimeout: config.MustDuration(cfg.Telegram.Timeout),
		DedupWindow: time.Minute,
	}
}
