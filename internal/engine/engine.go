// Package engine implements the reconciliation pass: fetch the board once,
// compute the aggregate for every row and write back only the cells whose
// value differs from what was last written.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/boardsync/internal/codec"
	"github.com/hyperengineering/boardsync/internal/types"
)

var (
	ErrNoAggregateColumn = errors.New("aggregate column not configured")
	ErrNoSourceColumn    = errors.New("mirror baseline requires a source column")
	ErrInvalidPolicy     = errors.New("invalid policy")
)

// Baseline decides the value written to rows other than the trigger row.
type Baseline string

const (
	BaselineReset  Baseline = "reset"
	BaselineMirror Baseline = "mirror"
)

// TriggerPolicy decides how the trigger value combines with the current
// aggregate of the trigger row.
type TriggerPolicy string

const (
	TriggerAdd     TriggerPolicy = "add"
	TriggerReplace TriggerPolicy = "replace"
)

// Board is the subset of the board client used by the engine.
type Board interface {
	FetchAllRows(ctx context.Context, boardID string) ([]types.Row, error)
	WriteCell(ctx context.Context, boardID, itemID, columnID, value string) error
}

// Cache is the write-cache gate.
type Cache interface {
	Get(itemID string) (string, bool)
	Set(ctx context.Context, itemID, value string) error
}

// Config holds the per-board settings of an Engine.
type Config struct {
	BoardID         string
	AggregateColumn string
	SourceColumn    string
	Kind            types.Kind
	Baseline        Baseline
	Trigger         TriggerPolicy
}

func (c *Config) normalize() error {
	if c.AggregateColumn == "" {
		return ErrNoAggregateColumn
	}
	if c.Kind == "" {
		c.Kind = types.KindNumber
	}
	if c.Baseline == "" {
		c.Baseline = BaselineReset
	}
	if c.Trigger == "" {
		c.Trigger = TriggerAdd
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidPolicy, c.Kind)
	}
	switch c.Baseline {
	case BaselineReset:
	case BaselineMirror:
		if c.SourceColumn == "" {
			return ErrNoSourceColumn
		}
	default:
		return fmt.Errorf("%w: baseline %q", ErrInvalidPolicy, c.Baseline)
	}
	if c.Trigger != TriggerAdd && c.Trigger != TriggerReplace {
		return fmt.Errorf("%w: trigger %q", ErrInvalidPolicy, c.Trigger)
	}
	return nil
}

// Engine runs reconciliation passes for one board. Passes are serialized.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	board Board
	cache Cache
	now   func() time.Time
}

// New validates cfg and returns an Engine.
func New(cfg Config, board Board, cache Cache) (*Engine, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, board: board, cache: cache, now: time.Now}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Reconcile runs one pass. A nil trigger runs a baseline-only pass.
//
// On a board or persistence error the pass stops at the failing row and the
// partial result is returned with the error. Rows already written keep their
// cache entries.
func (e *Engine) Reconcile(ctx context.Context, session *Session, trigger *types.TriggerEvent) (*types.PassResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if session == nil {
		session = NewSession()
	}
	start := e.now()
	result := &types.PassResult{SessionID: session.ID, Writes: []types.RowWrite{}}
	if trigger != nil {
		result.TriggerItemID = trigger.ItemID
	}
	defer func() { result.Duration = e.now().Sub(start) }()

	rows, err := e.board.FetchAllRows(ctx, e.cfg.BoardID)
	if err != nil {
		return result, fmt.Errorf("fetch rows: %w", err)
	}
	result.Rows = len(rows)

	if !session.HasLoggedInitialSnapshot {
		e.logSnapshot(session, rows)
		session.HasLoggedInitialSnapshot = true
	}

	for i := range rows {
		row := &rows[i]
		isTrigger := trigger != nil && row.ID == trigger.ItemID
		if isTrigger {
			result.TriggerFound = true
		}

		prev := codec.Decode(row.Cell(e.cfg.AggregateColumn), e.cfg.Kind)
		next := e.target(row, prev, trigger, isTrigger)
		wire := codec.Encode(next)

		if last, ok := e.cache.Get(row.ID); ok && last == wire {
			result.Skipped++
			continue
		}

		if err := e.board.WriteCell(ctx, e.cfg.BoardID, row.ID, e.cfg.AggregateColumn, wire); err != nil {
			return result, fmt.Errorf("write item %s: %w", row.ID, err)
		}
		if err := e.cache.Set(ctx, row.ID, wire); err != nil {
			return result, fmt.Errorf("record item %s: %w", row.ID, err)
		}

		result.Written++
		result.Writes = append(result.Writes, types.RowWrite{
			ItemID:   row.ID,
			Name:     row.Name,
			Previous: codec.Encode(prev),
			Value:    wire,
			Trigger:  isTrigger,
		})
		slog.Debug("cell written",
			"component", "engine",
			"action", "write",
			"session_id", session.ID,
			"item_id", row.ID,
			"value", wire,
			"trigger", isTrigger,
		)
	}

	if trigger != nil && !result.TriggerFound {
		slog.Warn("trigger item not on board",
			"component", "engine",
			"action", "trigger_not_found",
			"session_id", session.ID,
			"item_id", trigger.ItemID,
		)
	}
	return result, nil
}

// target computes the value a row should hold after this pass.
func (e *Engine) target(row *types.Row, prev types.Value, trigger *types.TriggerEvent, isTrigger bool) types.Value {
	if isTrigger {
		delta := trigger.Value
		// Accumulation only applies to numbers; text triggers always replace.
		if e.cfg.Trigger == TriggerAdd && e.cfg.Kind == types.KindNumber && delta.Kind == types.KindNumber {
			return types.Number(prev.Number + delta.Number)
		}
		if delta.Kind != e.cfg.Kind {
			return types.Zero(e.cfg.Kind)
		}
		return delta
	}
	if e.cfg.Baseline == BaselineMirror {
		return codec.Decode(row.Cell(e.cfg.SourceColumn), e.cfg.Kind)
	}
	return types.Zero(e.cfg.Kind)
}

func (e *Engine) logSnapshot(session *Session, rows []types.Row) {
	slog.Info("initial board snapshot",
		"component", "engine",
		"action", "initial_snapshot",
		"session_id", session.ID,
		"rows", len(rows),
	)
	for i := range rows {
		row := &rows[i]
		attrs := []any{
			"component", "engine",
			"action", "initial_snapshot_row",
			"session_id", session.ID,
			"item_id", row.ID,
			"name", row.Name,
			"aggregate", codec.Decode(row.Cell(e.cfg.AggregateColumn), e.cfg.Kind).String(),
		}
		if e.cfg.SourceColumn != "" {
			attrs = append(attrs, "source", codec.Decode(row.Cell(e.cfg.SourceColumn), e.cfg.Kind).String())
		}
		slog.Info("row", attrs...)
	}
}
