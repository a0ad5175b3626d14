package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "chatblast.yaml", `
contacts:
  path: ./data/contacts.csv
dispatch:
  workers: 2
  delay: 3s
maintenance:
  enabled: false
storage:
  driver: sqlite
  path: ./chatblast.db
`)
	m := NewConfigManager(p)
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "./data/contacts.csv", cfg.Contacts.Path)
	assert.Equal(t, DefaultBatchSize, cfg.Contacts.BatchSize)
	assert.Equal(t, 2, cfg.Dispatch.Workers)
	assert.Equal(t, 3*time.Second, MustDuration(cfg.Dispatch.Delay))
	assert.Equal(t, "@c.us", cfg.Dispatch.ChatSuffix)
	assert.Equal(t, "mark_failed", cfg.Dispatch.FailurePolicy)
	assert.False(t, cfg.Maintenance.IsEnabled())
	assert.Equal(t, DefaultSchedule, cfg.Maintenance.Schedule)
	assert.Equal(t, "dryrun", cfg.Messaging.Driver)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Same(t, cfg, m.Get())
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "chatblast.json", `{"dispatch": {"workerz": 3}}`)
	m := NewConfigManager(p)
	m.SetEnv(noEnv)
	_, err := m.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workerz")
}

func TestTrailingDataRejected(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "chatblast.json", `{} {}`)
	m := NewConfigManager(p)
	m.SetEnv(noEnv)
	_, err := m.Load()
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Contacts:  ContactsConfig{BatchSize: -1},
		Dispatch:  DispatchConfig{Delay: "soon", FailurePolicy: "retry"},
		Messaging: MessagingConfig{Driver: "bridge"},
		Telegram:  TelegramConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"batch_size", "dispatch.delay", "failure_policy", "base_url", "telegram.token", "chat_id"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "chatblast.json", `{
  "telegram": {"enabled": true, "token": "from-file", "chat_id": -100123},
  "messaging": {"driver": "bridge", "bridge": {"base_url": "http://127.0.0.1:3000"}}
}`)
	m := NewConfigManager(p)
	m.SetEnv(func(k string) string {
		return map[string]string{EnvTelegramToken: "from-env", EnvBridgeToken: "bridge-secret"}[k]
	})
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "bridge-secret", cfg.Messaging.Bridge.Token)
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "chatblast.json", `{"dispatch": {"delay": "2s"}}`)
	m := NewConfigManager(p)
	m.SetEnv(noEnv)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchErr := make(chan error, 1)
	go func() { watchErr <- m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"dispatch": {"delay": "5s"}}`), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "5s", cfg.Dispatch.Delay)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}

	cancel()
	assert.NoError(t, <-watchErr)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{}
	a.ApplyDefaults()
	b := *a
	b.Dispatch.Delay = "4s"
	b.Telegram.Token = "secret"

	sections, fields := SummarizeConfigChange(a, &b)
	assert.Equal(t, []string{"dispatch", "telegram"}, sections)
	assert.NotEmpty(t, fields)
}
