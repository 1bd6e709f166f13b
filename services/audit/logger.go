// Package audit implements the append-only audit trail: one JSON line per
// admission decision, written to stdout or a rotated JSONL file.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeroveil/gateway/config"
	"go.uber.org/zap"
)

// Action is the decision recorded by an event
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Event is an immutable record of one admission decision. It is created
// once per request, written exactly once, then discarded. Message content
// never appears here; the logging mode is metadata only.
type Event struct {
	SchemaVersion    string                 `json:"schema_version"`
	TS               int64                  `json:"ts"`
	TSISO            string                 `json:"ts_iso"`
	RequestID        string                 `json:"request_id"`
	TenantID         string                 `json:"tenant_id"`
	ClientIP         string                 `json:"client_ip"`
	UserAgent        string                 `json:"user_agent"`
	Action           Action                 `json:"action"`
	Reason           string                 `json:"reason"`
	Provider         string                 `json:"provider"`
	Model            string                 `json:"model"`
	TokensPrompt     int                    `json:"tokens_prompt"`
	TokensCompletion int                    `json:"tokens_completion"`
	MessageCount     int                    `json:"message_count"`
	TotalChars       int                    `json:"total_chars"`
	ZDROnly          bool                   `json:"zdr_only"`
	ScrubbedAttested bool                   `json:"scrubbed_attested"`
	LatencyMs        int64                  `json:"latency_ms"`
	Extra            map[string]interface{} `json:"extra"`
}

// NewEvent returns an event stamped at now with the current schema version
func NewEvent(now time.Time) Event {
	return Event{
		SchemaVersion: "1",
		TS:            now.Unix(),
		TSISO:         now.UTC().Format(time.RFC3339),
		Extra:         map[string]interface{}{},
	}
}

// Sink consumes audit events. The pipeline depends on this seam so tests
// can record events without touching the filesystem.
type Sink interface {
	Log(event Event) error
}

// Logger writes events to the configured sink. Appends and rotation are
// serialized through a single mutex so writers never interleave partial
// lines and rotation's rename ladder never races an append.
type Logger struct {
	sink      config.LoggingSink
	path      string
	retention config.RetentionConfig
	logger    *zap.Logger

	mu  sync.Mutex
	out io.Writer // stdout sink target, replaceable in tests
	now func() time.Time
}

// NewLogger creates a Logger for the policy's sink settings
func NewLogger(sink config.LoggingSink, path string, retention config.RetentionConfig, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		sink:      sink,
		path:      path,
		retention: retention,
		logger:    logger,
		out:       os.Stdout,
		now:       time.Now,
	}
}

// Log writes one event as a single JSON line
func (l *Logger) Log(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sink == config.SinkStdout {
		if _, err := fmt.Fprintln(l.out, string(line)); err != nil {
			return fmt.Errorf("write audit event: %w", err)
		}
		return nil
	}

	if l.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create audit log directory: %w", err)
	}
	if err := l.maybeRotate(); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// maybeRotate rotates the active log when it reaches the size threshold.
// Existing rotations shift from the highest index down, and the active log
// is renamed to .1 LAST so a crash mid-rotation loses at most a rename,
// never the live log's content.
func (l *Logger) maybeRotate() error {
	cfg := l.retention
	if cfg.RotateCount <= 0 || cfg.MaxSizeMB <= 0 {
		return nil
	}

	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	maxBytes := int64(cfg.MaxSizeMB) * 1024 * 1024
	if info.Size() < maxBytes {
		return nil
	}

	for i := cfg.RotateCount - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", l.path, i)
		dst := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return err
			}
		}
	}

	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return err
	}

	l.cleanupRotatedFiles()
	return nil
}

// cleanupRotatedFiles deletes rotated files whose numeric suffix exceeds the
// rotate count, and rotated files older than the age cutoff when one is set.
// Cleanup failures are reported operationally, never to the request path.
func (l *Logger) cleanupRotatedFiles() {
	cfg := l.retention
	if cfg.RotateCount <= 0 {
		return
	}

	cutoff := l.now().Add(-time.Duration(cfg.MaxAgeDays) * 24 * time.Hour)
	prefix := l.path + "."

	matches, err := filepath.Glob(l.path + ".*")
	if err != nil {
		l.logger.Warn("audit log cleanup glob failed", zap.Error(err))
		return
	}

	for _, p := range matches {
		suffix := strings.TrimPrefix(p, prefix)
		idx, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}

		if idx > cfg.RotateCount {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				l.logger.Warn("failed to remove rotated audit log",
					zap.String("path", p), zap.Error(err))
			}
			continue
		}

		if cfg.MaxAgeDays <= 0 {
			continue
		}

		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				l.logger.Warn("failed to remove expired audit log",
					zap.String("path", p), zap.Error(err))
			}
		}
	}
}
