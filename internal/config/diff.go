package config

import (
	"reflect"

	logx "chatblast/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ and safe fields for
// logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	var fields []logx.Field

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		fields = append(fields,
			logx.String("dispatch.delay", newCfg.Dispatch.Delay),
			logx.String("dispatch.failure_policy", newCfg.Dispatch.FailurePolicy),
			logx.Any("dispatch.max_per_second", newCfg.Dispatch.MaxPerSecond),
		)
	}
	if !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance) {
		changed = append(changed, "maintenance")
		fields = append(fields,
			logx.Bool("maintenance.enabled", newCfg.Maintenance.IsEnabled()),
			logx.String("maintenance.schedule", newCfg.Maintenance.Schedule),
		)
	}

	// These only apply on the next start.
	if !reflect.DeepEqual(oldCfg.Contacts, newCfg.Contacts) {
		changed = append(changed, "contacts")
	}
	if oldCfg.Ledger != newCfg.Ledger {
		changed = append(changed, "ledger")
	}
	if oldCfg.Session != newCfg.Session {
		changed = append(changed, "session")
	}
	if oldCfg.Messaging != newCfg.Messaging {
		changed = append(changed, "messaging")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}
	return changed, fields
}
