// Package snapshot periodically persists collector state to disk and
// restores it on startup (spec.md §4.5, C5). The collector package
// owns the binary format and the in-memory mutation; this package
// owns only the ticker loop and the atomic file I/O around it.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/route-beacon/risotto/internal/collector"
	"github.com/route-beacon/risotto/internal/metrics"
)

// Engine drives the periodic snapshot timer task (spec.md §5, "one
// snapshot timer task").
type Engine struct {
	index    *collector.Index
	path     string
	interval time.Duration
	logger   *zap.Logger
	loaded   atomic.Bool

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewEngine builds an Engine writing to path every interval. The
// snapshot blob is zstd-compressed on disk: collector state is
// dominated by repeated peer/prefix structures, which compress well
// within zstd's window. Each write compresses its snapshot on its own.
func NewEngine(index *collector.Index, path string, interval time.Duration, logger *zap.Logger) (*Engine, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: building zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: building zstd decoder: %w", err)
	}
	return &Engine{index: index, path: path, interval: interval, logger: logger, enc: enc, dec: dec}, nil
}

// Load reads the snapshot file at startup, if it exists, and restores
// its contents into the index before the BMP listener begins accepting
// connections (spec.md §4.5, §7). A missing file is not an error: the
// collector simply starts empty. A corrupt file is logged and treated
// as a non-fatal startup diagnostic, per spec.md §7's supplemented
// behavior — Risotto still starts, trading state-recovery for
// availability.
func (e *Engine) Load() error {
	data, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		e.loaded.Store(true)
		return nil
	}
	if err != nil {
		metrics.SnapshotErrorsTotal.WithLabelValues("load").Inc()
		e.logger.Warn("snapshot: failed to read file, starting with empty state", zap.String("path", e.path), zap.Error(err))
		e.loaded.Store(true)
		return nil
	}

	raw, err := e.dec.DecodeAll(data, nil)
	if err != nil {
		metrics.SnapshotErrorsTotal.WithLabelValues("load").Inc()
		e.logger.Warn("snapshot: failed to decompress file, starting with empty state", zap.String("path", e.path), zap.Error(err))
		e.loaded.Store(true)
		return nil
	}

	if err := e.index.UnmarshalSnapshot(raw); err != nil {
		metrics.SnapshotErrorsTotal.WithLabelValues("load").Inc()
		e.logger.Warn("snapshot: failed to parse file, starting with empty state", zap.String("path", e.path), zap.Error(err))
		e.loaded.Store(true)
		return nil
	}

	e.logger.Info("snapshot: loaded", zap.String("path", e.path), zap.Int("routers", e.index.RouterCount()))
	e.loaded.Store(true)
	return nil
}

// Loaded reports whether the startup load has completed, satisfying
// httpd.SnapshotStatus.
func (e *Engine) Loaded() bool {
	return e.loaded.Load()
}

// Run serializes the index to disk on a fixed interval until ctx is
// canceled, then performs one final write before returning.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := e.writeOnce(); err != nil {
				e.logger.Error("snapshot: final write failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := e.writeOnce(); err != nil {
				e.logger.Error("snapshot: periodic write failed", zap.Error(err))
			}
		}
	}
}

// writeOnce serializes the index and atomically replaces the
// snapshot file: write to a temp file sibling to the configured path,
// then rename (spec.md §4.5).
func (e *Engine) writeOnce() error {
	start := time.Now()
	raw, err := e.index.MarshalSnapshot()
	if err != nil {
		metrics.SnapshotErrorsTotal.WithLabelValues("write").Inc()
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	data := e.enc.EncodeAll(raw, nil)

	dir := filepath.Dir(e.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(e.path)+".tmp-*")
	if err != nil {
		metrics.SnapshotErrorsTotal.WithLabelValues("write").Inc()
		return fmt.Errorf("snapshot: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		metrics.SnapshotErrorsTotal.WithLabelValues("write").Inc()
		return fmt.Errorf("snapshot: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		metrics.SnapshotErrorsTotal.WithLabelValues("write").Inc()
		return fmt.Errorf("snapshot: closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, e.path); err != nil {
		os.Remove(tmpName)
		metrics.SnapshotErrorsTotal.WithLabelValues("write").Inc()
		return fmt.Errorf("snapshot: renaming temp file: %w", err)
	}

	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	return nil
}
