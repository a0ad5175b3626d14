package messaging

import (
	"errors"
	"strings"
	"time"

	logx "chatblast/pkg/logx"
)

// Config selects and configures a driver.
type Config struct {
	Driver string
	DryRun DryRunConfig
	Bridge BridgeConfig
}

type DryRunConfig struct {
	// FailEvery makes every Nth send fail (0 disables).
	FailEvery int
	Latency   time.Duration
	PairDelay time.Duration
}

type BridgeConfig struct {
	BaseURL      string
	Token        string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Open builds the configured client. An empty driver means "dryrun".
func Open(cfg Config, log logx.Logger) (Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "dryrun", "dry-run":
		return NewDryRun(cfg.DryRun, log), nil
	case "bridge", "http":
		b, err := NewBridge(cfg.Bridge, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, errors.New("unknown messaging driver: " + cfg.Driver)
	}
}
