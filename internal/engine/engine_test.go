package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/hyperengineering/boardsync/internal/board"
	"github.com/hyperengineering/boardsync/internal/types"
	"github.com/hyperengineering/boardsync/internal/writecache"
)

const (
	colAgg    = "numeric_agg"
	colSource = "text_src"
)

type write struct {
	itemID, columnID, value string
}

// fakeBoard keeps rows in order and applies writes to them, like the real
// board would.
type fakeBoard struct {
	order     []string
	rows      map[string]*types.Row
	writes    []write
	fetches   int
	fetchErr  error
	failWrite map[string]error
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{rows: map[string]*types.Row{}, failWrite: map[string]error{}}
}

func (b *fakeBoard) addRow(id string, agg string, extra ...types.Cell) {
	row := &types.Row{ID: id, Name: "item " + id, Cells: map[string]types.Cell{}}
	if agg != "" {
		row.Cells[colAgg] = types.Cell{ColumnID: colAgg, Text: agg, Value: strconv.Quote(agg)}
	}
	for _, c := range extra {
		row.Cells[c.ColumnID] = c
	}
	b.order = append(b.order, id)
	b.rows[id] = row
}

func (b *fakeBoard) FetchAllRows(ctx context.Context, boardID string) ([]types.Row, error) {
	b.fetches++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	out := make([]types.Row, 0, len(b.order))
	for _, id := range b.order {
		r := *b.rows[id]
		cells := make(map[string]types.Cell, len(r.Cells))
		for k, v := range r.Cells {
			cells[k] = v
		}
		r.Cells = cells
		out = append(out, r)
	}
	return out, nil
}

func (b *fakeBoard) WriteCell(ctx context.Context, boardID, itemID, columnID, value string) error {
	if err := b.failWrite[itemID]; err != nil {
		return err
	}
	b.writes = append(b.writes, write{itemID, columnID, value})
	b.rows[itemID].Cells[columnID] = types.Cell{ColumnID: columnID, Text: value, Value: strconv.Quote(value)}
	return nil
}

func (b *fakeBoard) takeWrites() map[string]string {
	out := map[string]string{}
	for _, w := range b.writes {
		out[w.itemID] = w.value
	}
	b.writes = nil
	return out
}

func newCache(t *testing.T) *writecache.Cache {
	t.Helper()
	return writecache.Open(context.Background(), writecache.NewMemoryBackend())
}

func newEngine(t *testing.T, cfg Config, b Board, c Cache) *Engine {
	t.Helper()
	if cfg.AggregateColumn == "" {
		cfg.AggregateColumn = colAgg
	}
	if cfg.BoardID == "" {
		cfg.BoardID = "board-1"
	}
	e, err := New(cfg, b, c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func trigger(item string, delta float64) *types.TriggerEvent {
	return &types.TriggerEvent{ItemID: item, ColumnID: "trigger", Value: types.Number(delta)}
}

func assertWrites(t *testing.T, got, want map[string]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}
	for id, v := range want {
		if got[id] != v {
			t.Errorf("write %s = %q, want %q (all writes %v)", id, got[id], v, got)
		}
	}
}

func TestReconcile_TriggerAndReset(t *testing.T) {
	ctx := context.Background()
	b := newFakeBoard()
	b.addRow("A", "10")
	b.addRow("B", "3")
	b.addRow("C", "7")
	e := newEngine(t, Config{}, b, newCache(t))
	session := NewSession()

	// Given: A=10, B=3, C=7 and a trigger of +5 on A
	res, err := e.Reconcile(ctx, session, trigger("A", 5))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// Then: A accumulates, the others reset
	assertWrites(t, b.takeWrites(), map[string]string{"A": "15", "B": "0", "C": "0"})
	if res.Written != 3 || res.Skipped != 0 || !res.TriggerFound || res.Rows != 3 {
		t.Errorf("result = %+v", res)
	}

	// When: the identical trigger is replayed
	res, err = e.Reconcile(ctx, session, trigger("A", 5))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	// Then: only A is written again
	assertWrites(t, b.takeWrites(), map[string]string{"A": "20"})
	if res.Written != 1 || res.Skipped != 2 {
		t.Errorf("replay result = %+v", res)
	}
	if len(res.Writes) != 1 || !res.Writes[0].Trigger || res.Writes[0].Previous != "15" {
		t.Errorf("replay writes = %+v", res.Writes)
	}
	if b.fetches != 2 {
		t.Errorf("fetches = %d, want one per pass", b.fetches)
	}
}

func TestReconcile_EmptyCacheWritesBaselineOnce(t *testing.T) {
	ctx := context.Background()
	b := newFakeBoard()
	b.addRow("A", "1")
	b.addRow("B", "0")
	e := newEngine(t, Config{}, b, newCache(t))

	if _, err := e.Reconcile(ctx, nil, nil); err != nil {
		t.Fatal(err)
	}
	first := b.takeWrites()
	if first["B"] != "0" {
		t.Errorf("first pass must write B=0 with an empty cache, writes %v", first)
	}

	res, err := e.Reconcile(ctx, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	assertWrites(t, b.takeWrites(), map[string]string{})
	if res.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", res.Skipped)
	}
}

func TestReconcile_Deltas(t *testing.T) {
	tests := []struct {
		name  string
		prev  string
		delta float64
		want  string
	}{
		{"positive", "10", 5, "15"},
		{"negative", "10", -12, "-2"},
		{"fractional", "1.25", 0.5, "1.75"},
		{"negative fractional", "0", -0.5, "-0.5"},
		{"empty aggregate", "", 3, "3"},
		{"back to zero", "4", -4, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBoard()
			b.addRow("A", tt.prev)
			e := newEngine(t, Config{}, b, newCache(t))

			if _, err := e.Reconcile(context.Background(), nil, trigger("A", tt.delta)); err != nil {
				t.Fatal(err)
			}
			assertWrites(t, b.takeWrites(), map[string]string{"A": tt.want})
		})
	}
}

func TestReconcile_UnparsableAggregateCountsAsZero(t *testing.T) {
	b := newFakeBoard()
	b.addRow("A", "")
	b.rows["A"].Cells[colAgg] = types.Cell{ColumnID: colAgg, Text: "n/a", Value: `"n/a"`}
	e := newEngine(t, Config{}, b, newCache(t))

	if _, err := e.Reconcile(context.Background(), nil, trigger("A", 2)); err != nil {
		t.Fatal(err)
	}
	assertWrites(t, b.takeWrites(), map[string]string{"A": "2"})
}

func TestReconcile_ReplacePolicy(t *testing.T) {
	ctx := context.Background()
	b := newFakeBoard()
	b.addRow("A", "10")
	e := newEngine(t, Config{Trigger: TriggerReplace}, b, newCache(t))

	if _, err := e.Reconcile(ctx, nil, trigger("A", 5)); err != nil {
		t.Fatal(err)
	}
	assertWrites(t, b.takeWrites(), map[string]string{"A": "5"})

	// Replaying under replace is a no-op.
	if _, err := e.Reconcile(ctx, nil, trigger("A", 5)); err != nil {
		t.Fatal(err)
	}
	assertWrites(t, b.takeWrites(), map[string]string{})
}

func TestReconcile_MirrorBaseline(t *testing.T) {
	ctx := context.Background()
	b := newFakeBoard()
	b.addRow("A", "1", types.Cell{ColumnID: colSource, Text: "42"})
	b.addRow("B", "9", types.Cell{ColumnID: colSource, Text: "7.5", Value: `{"number":"7.5"}`})
	b.addRow("C", "9")
	e := newEngine(t, Config{Baseline: BaselineMirror, SourceColumn: colSource}, b, newCache(t))

	if _, err := e.Reconcile(ctx, nil, trigger("A", 1)); err != nil {
		t.Fatal(err)
	}
	// The trigger row still accumulates; the others copy their source.
	assertWrites(t, b.takeWrites(), map[string]string{"A": "2", "B": "7.5", "C": "0"})

	// A baseline-only pass mirrors every row, including the former trigger row.
	b.rows["B"].Cells[colSource] = types.Cell{ColumnID: colSource, Text: "8"}
	if _, err := e.Reconcile(ctx, nil, nil); err != nil {
		t.Fatal(err)
	}
	assertWrites(t, b.takeWrites(), map[string]string{"A": "42", "B": "8"})
}

func TestReconcile_TextMirror(t *testing.T) {
	b := newFakeBoard()
	b.addRow("A", "", types.Cell{ColumnID: colSource, Text: "Done", Value: `{"index":1}`})
	b.addRow("B", "")
	e := newEngine(t, Config{Kind: types.KindText, Baseline: BaselineMirror, SourceColumn: colSource}, b, newCache(t))

	if _, err := e.Reconcile(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
	assertWrites(t, b.takeWrites(), map[string]string{"A": "Done", "B": ""})
}

func TestReconcile_TextTriggerReplaces(t *testing.T) {
	b := newFakeBoard()
	b.addRow("A", "old")
	e := newEngine(t, Config{Kind: types.KindText}, b, newCache(t))

	ev := &types.TriggerEvent{ItemID: "A", Value: types.Text("new")}
	if _, err := e.Reconcile(context.Background(), nil, ev); err != nil {
		t.Fatal(err)
	}
	assertWrites(t, b.takeWrites(), map[string]string{"A": "new"})
}

func TestReconcile_TriggerNotOnBoard(t *testing.T) {
	b := newFakeBoard()
	b.addRow("A", "4")
	b.addRow("B", "3")
	e := newEngine(t, Config{}, b, newCache(t))

	res, err := e.Reconcile(context.Background(), nil, trigger("Z", 5))
	if err != nil {
		t.Fatal(err)
	}
	if res.TriggerFound {
		t.Error("TriggerFound = true for unknown item")
	}
	assertWrites(t, b.takeWrites(), map[string]string{"A": "0", "B": "0"})
}

func TestReconcile_FetchFailure(t *testing.T) {
	b := newFakeBoard()
	b.addRow("A", "1")
	b.fetchErr = fmt.Errorf("items_page: %w", board.ErrRemoteUnavailable)
	cache := newCache(t)
	e := newEngine(t, Config{}, b, cache)

	_, err := e.Reconcile(context.Background(), nil, trigger("A", 1))
	if !errors.Is(err, board.ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
	if len(b.writes) != 0 || cache.Len() != 0 {
		t.Error("failed fetch must not write anything")
	}
}

func TestReconcile_AbortsOnWriteFailure(t *testing.T) {
	b := newFakeBoard()
	b.addRow("A", "1")
	b.addRow("B", "2")
	b.addRow("C", "3")
	b.failWrite["B"] = fmt.Errorf("change_simple_column_value: %w", board.ErrRemoteUnavailable)
	cache := newCache(t)
	e := newEngine(t, Config{}, b, cache)

	res, err := e.Reconcile(context.Background(), nil, nil)
	if !errors.Is(err, board.ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}

	// A was written before the failure and keeps its entry; C was never reached.
	if v, ok := cache.Get("A"); !ok || v != "0" {
		t.Errorf("cache A = %q, %v", v, ok)
	}
	if _, ok := cache.Get("B"); ok {
		t.Error("failed row must not be cached")
	}
	if _, ok := cache.Get("C"); ok {
		t.Error("unprocessed row must not be cached")
	}
	assertWrites(t, b.takeWrites(), map[string]string{"A": "0"})
	if res.Written != 1 {
		t.Errorf("Written = %d, want 1", res.Written)
	}
}

type failingCache struct{ *writecache.Cache }

func (c failingCache) Set(ctx context.Context, itemID, value string) error {
	return fmt.Errorf("%w: disk full", writecache.ErrPersist)
}

func TestReconcile_AbortsOnPersistFailure(t *testing.T) {
	b := newFakeBoard()
	b.addRow("A", "1")
	b.addRow("B", "2")
	e := newEngine(t, Config{}, b, failingCache{newCache(t)})

	_, err := e.Reconcile(context.Background(), nil, nil)
	if !errors.Is(err, writecache.ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if len(b.writes) != 1 {
		t.Errorf("writes = %d, want the pass to stop after the first row", len(b.writes))
	}
}

func TestReconcile_SessionLogsSnapshotOnce(t *testing.T) {
	b := newFakeBoard()
	b.addRow("A", "1")
	e := newEngine(t, Config{}, b, newCache(t))
	session := NewSession()

	if session.HasLoggedInitialSnapshot {
		t.Fatal("new session already logged")
	}
	res, err := e.Reconcile(context.Background(), session, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !session.HasLoggedInitialSnapshot {
		t.Error("snapshot flag not set after first pass")
	}
	if res.SessionID != session.ID {
		t.Errorf("SessionID = %q, want %q", res.SessionID, session.ID)
	}

	other := NewSession()
	if other.ID == session.ID {
		t.Error("sessions share an id")
	}
	if other.HasLoggedInitialSnapshot {
		t.Error("flag leaked across sessions")
	}
}

func TestReconcile_Duration(t *testing.T) {
	b := newFakeBoard()
	b.addRow("A", "0")
	e := newEngine(t, Config{}, b, newCache(t))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	e.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	res, err := e.Reconcile(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", res.Duration)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no aggregate", Config{}, ErrNoAggregateColumn},
		{"mirror without source", Config{AggregateColumn: colAgg, Baseline: BaselineMirror}, ErrNoSourceColumn},
		{"bad baseline", Config{AggregateColumn: colAgg, Baseline: "keep"}, ErrInvalidPolicy},
		{"bad trigger", Config{AggregateColumn: colAgg, Trigger: "max"}, ErrInvalidPolicy},
		{"bad kind", Config{AggregateColumn: colAgg, Kind: "date"}, ErrInvalidPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, newFakeBoard(), nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	e, err := New(Config{AggregateColumn: colAgg}, newFakeBoard(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := e.Config()
	if got.Kind != types.KindNumber || got.Baseline != BaselineReset || got.Trigger != TriggerAdd {
		t.Errorf("defaults = %+v", got)
	}
}
