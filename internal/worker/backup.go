package worker

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/hyperengineering/boardsync/internal/snapshot"
)

// DefaultBackupInterval is used when a non-positive interval is given.
const DefaultBackupInterval = time.Hour

// Exporter writes the write-cache document.
type Exporter interface {
	Export(w io.Writer) error
}

// BackupWorker periodically uploads the write-cache document. Uploads are
// skipped when the document has not changed since the last successful one.
type BackupWorker struct {
	cache    Exporter
	uploader snapshot.Uploader
	boardID  string
	interval time.Duration

	last []byte
}

// NewBackupWorker creates a backup worker.
func NewBackupWorker(cache Exporter, uploader snapshot.Uploader, boardID string, interval time.Duration) *BackupWorker {
	if interval <= 0 {
		interval = DefaultBackupInterval
	}
	return &BackupWorker{
		cache:    cache,
		uploader: uploader,
		boardID:  boardID,
		interval: interval,
	}
}

// Run backs up immediately, then on each interval until ctx is cancelled.
func (w *BackupWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.backup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.backup(ctx)
		}
	}
}

// backup uploads the current document. Failures are logged, never fatal:
// the primary state store is unaffected.
func (w *BackupWorker) backup(ctx context.Context) {
	var buf bytes.Buffer
	if err := w.cache.Export(&buf); err != nil {
		slog.Warn("write-cache export failed",
			"component", "worker",
			"worker", "backup",
			"action", "export_failed",
			"error", err,
		)
		return
	}
	doc := buf.Bytes()
	if w.last != nil && bytes.Equal(doc, w.last) {
		return
	}

	if err := w.uploader.Upload(ctx, w.boardID, doc); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("write-cache backup upload failed",
			"component", "worker",
			"worker", "backup",
			"action", "backup_upload_failed",
			"board_id", w.boardID,
			"error", err,
		)
		return
	}
	w.last = doc

	slog.Info("write-cache backed up",
		"component", "worker",
		"worker", "backup",
		"action", "backup_uploaded",
		"board_id", w.boardID,
		"bytes", len(doc),
	)
}
