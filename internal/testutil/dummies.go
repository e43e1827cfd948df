// Package testutil provides shared test doubles for use across package tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/raysh454/ztguard/internal/features"
	"github.com/raysh454/ztguard/internal/logging"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// WarnCount returns how many warnings were logged so far.
func (l *DummyLogger) WarnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Warns)
}

// ─── Score providers ───────────────────────────────────────────────────

// CountingProvider implements mlscore.Provider, returning Value (or Err) and
// counting calls. Block, when set, is awaited before answering.
type CountingProvider struct {
	Value float64
	Err   error
	Block <-chan struct{}
	calls atomic.Int64
}

func (p *CountingProvider) Score(ctx context.Context, _ *features.Vector) (float64, error) {
	p.calls.Add(1)
	if p.Block != nil {
		select {
		case <-p.Block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if p.Err != nil {
		return 0, p.Err
	}
	return p.Value, nil
}

func (p *CountingProvider) Calls() int64 { return p.calls.Load() }
