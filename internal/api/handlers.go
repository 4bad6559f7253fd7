package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/hyperengineering/boardsync/internal/engine"
	"github.com/hyperengineering/boardsync/internal/event"
	"github.com/hyperengineering/boardsync/internal/snapshot"
	"github.com/hyperengineering/boardsync/internal/types"
	"github.com/hyperengineering/boardsync/internal/writecache"
)

// maxWebhookBody caps inbound notification bodies.
const maxWebhookBody = 1 << 20

// Enqueuer accepts normalized triggers for asynchronous reconciliation.
type Enqueuer interface {
	TryEnqueue(ev types.TriggerEvent) bool
}

// Reconciler runs a reconciliation pass synchronously.
type Reconciler interface {
	Reconcile(ctx context.Context, session *engine.Session, trigger *types.TriggerEvent) (*types.PassResult, error)
}

// CacheView is the read side of the write-cache.
type CacheView interface {
	Entries() map[string]writecache.Entry
}

// Deps are the collaborators of Handler. Reconciler, Cache and Backups may be
// nil when the management API is not mounted.
type Deps struct {
	Normalizer *event.Normalizer
	Queue      Enqueuer
	Reconciler Reconciler
	Cache      CacheView
	Backups    snapshot.Uploader
	BoardID    string
	APIKey     string
	Debug      bool
}

// Handler implements the HTTP handlers.
type Handler struct {
	normalizer *event.Normalizer
	queue      Enqueuer
	reconciler Reconciler
	cache      CacheView
	backups    snapshot.Uploader
	boardID    string
	apiKey     string
	debug      bool
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		normalizer: d.Normalizer,
		queue:      d.Queue,
		reconciler: d.Reconciler,
		cache:      d.Cache,
		backups:    d.Backups,
		boardID:    d.BoardID,
		apiKey:     d.APIKey,
		debug:      d.Debug,
	}
}

// Health handles GET /health and GET /.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// Webhook handles POST /webhook/monday. It always answers 200 before any
// reconciliation happens: challenges get their token back, triggers are
// queued and everything else is dropped.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		slog.Info("webhook body unreadable",
			"component", "api",
			"action", "webhook_discarded",
			"reason", event.ReasonMalformed,
			"error", err,
		)
		ack(w)
		return
	}

	res := h.normalizer.Normalize(body)
	switch res.Kind {
	case event.Challenge:
		slog.Info("webhook challenge answered",
			"component", "api",
			"action", "webhook_challenge",
		)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": res.Token})
		return

	case event.Trigger:
		queued := h.queue.TryEnqueue(*res.Trigger)
		slog.Info("webhook trigger received",
			"component", "api",
			"action", "webhook_trigger",
			"item_id", res.Trigger.ItemID,
			"value", res.Trigger.Value.String(),
			"variant", string(res.Variant),
			"queued", queued,
		)

	default:
		slog.Info("webhook discarded",
			"component", "api",
			"action", "webhook_discarded",
			"reason", res.Reason,
		)
	}
	ack(w)
}

func ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// Debug handles ANY /debug. It logs the full request and answers {"ok":true}.
// The Authorization header is redacted.
func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if k == "Authorization" {
			headers[k] = "[redacted]"
			continue
		}
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	slog.Info("debug endpoint hit",
		"component", "api",
		"action", "debug",
		"method", r.Method,
		"path", r.URL.Path,
		"query", r.URL.RawQuery,
		"headers", headers,
		"body", string(body),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// Reconcile handles POST /api/v1/reconcile: a synchronous baseline-only pass.
// The pass runs to completion even if the client disconnects.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	session := engine.NewSession()
	result, err := h.reconciler.Reconcile(context.WithoutCancel(r.Context()), session, nil)
	if err != nil {
		slog.Error("manual reconciliation failed",
			"component", "api",
			"action", "reconcile_failed",
			"session_id", session.ID,
			"error", err,
		)
		MapReconcileError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// WriteCacheEntry is one row of the write-cache listing.
type WriteCacheEntry struct {
	ItemID    string    `json:"item_id"`
	LastValue string    `json:"last_value"`
	WrittenAt time.Time `json:"written_at"`
}

// WriteCacheResponse is the body of GET /api/v1/writecache.
type WriteCacheResponse struct {
	Count   int               `json:"count"`
	Entries []WriteCacheEntry `json:"entries"`
}

// WriteCache handles GET /api/v1/writecache.
func (h *Handler) WriteCache(w http.ResponseWriter, r *http.Request) {
	entries := h.cache.Entries()
	resp := WriteCacheResponse{Count: len(entries), Entries: make([]WriteCacheEntry, 0, len(entries))}
	for id, e := range entries {
		resp.Entries = append(resp.Entries, WriteCacheEntry{ItemID: id, LastValue: e.LastValue, WrittenAt: e.WrittenAt})
	}
	sort.Slice(resp.Entries, func(i, j int) bool { return resp.Entries[i].ItemID < resp.Entries[j].ItemID })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// BackupURLResponse is the body of GET /api/v1/writecache/backup.
type BackupURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BackupURL handles GET /api/v1/writecache/backup.
func (h *Handler) BackupURL(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		WriteProblem(w, r, http.StatusNotFound, "Backup storage not configured")
		return
	}
	url, expiry, err := h.backups.PresignedURL(r.Context(), h.boardID)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotConfigured) {
			WriteProblem(w, r, http.StatusNotFound, "Backup storage not configured")
			return
		}
		slog.Error("pre-signed URL generation failed",
			"component", "api",
			"action", "backup_url_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusBadGateway, "Backup storage unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BackupURLResponse{URL: url, ExpiresAt: expiry.UTC()})
}
