package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "chatblast/pkg/logx"
)

// fileStore appends one JSON object per line to <prefix>.outcomes.jsonl.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	outPath := filepath.Join(dir, base) + ".outcomes.jsonl"

	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: outPath, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendOutcome(ctx context.Context, e OutcomeEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("outcome file closed")
	}
	return json.NewEncoder(s.f).Encode(e)
}

func (s *fileStore) Outcomes(ctx context.Context, runID string) (Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return Totals{}, err
	}
	defer f.Close()

	var t Totals
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return t, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e OutcomeEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			s.log.Debug("skip malformed outcome line", logx.Err(err))
			continue
		}
		if runID != "" && e.RunID != runID {
			continue
		}
		t.add(e.Outcome)
	}
	return t, sc.Err()
}
