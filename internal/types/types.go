package types

import (
	"strconv"
	"time"
)

// Kind identifies the domain type a cell decodes to.
type Kind string

const (
	KindNumber Kind = "number"
	KindText   Kind = "text"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindNumber || k == KindText
}

// Value is a decoded cell value. Only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind    `json:"kind"`
	Number float64 `json:"number,omitempty"`
	Text   string  `json:"text,omitempty"`
}

// Number returns a numeric Value.
func Number(n float64) Value {
	return Value{Kind: KindNumber, Number: n}
}

// Text returns a textual Value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// Zero returns the default value for a kind: 0 for numbers, "" for text.
func Zero(k Kind) Value {
	if k == KindText {
		return Text("")
	}
	return Number(0)
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindText {
		return v.Text == o.Text
	}
	return v.Number == o.Number
}

// String is a human-readable rendering used in logs.
func (v Value) String() string {
	if v.Kind == KindText {
		return strconv.Quote(v.Text)
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// Cell is one column of one row as returned by the board.
// Value holds the raw structured payload (JSON text) and may be empty or "null".
type Cell struct {
	ColumnID string `json:"id"`
	Text     string `json:"text"`
	Value    string `json:"value"`
}

// Row is a board item. Rows are owned by the board and fetched fresh on every pass.
type Row struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Cells map[string]Cell `json:"cells"`
}

// Cell returns the cell for columnID, or nil when the row has no such column.
func (r *Row) Cell(columnID string) *Cell {
	if r == nil || r.Cells == nil {
		return nil
	}
	c, ok := r.Cells[columnID]
	if !ok {
		return nil
	}
	return &c
}

// TriggerEvent is the canonical form of an inbound change notification.
type TriggerEvent struct {
	ItemID     string    `json:"item_id"`
	ColumnID   string    `json:"column_id"`
	Value      Value     `json:"value"`
	Variant    string    `json:"variant,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// RowWrite records one cell write issued during a pass.
type RowWrite struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Previous string `json:"previous,omitempty"`
	Value    string `json:"value"`
	Trigger  bool   `json:"trigger,omitempty"`
}

// PassResult summarises one reconciliation pass.
type PassResult struct {
	SessionID     string        `json:"session_id"`
	TriggerItemID string        `json:"trigger_item_id,omitempty"`
	TriggerFound  bool          `json:"trigger_found"`
	Rows          int           `json:"rows"`
	Written       int           `json:"written"`
	Skipped       int           `json:"skipped"`
	Writes        []RowWrite    `json:"writes"`
	Duration      time.Duration `json:"duration_ns"`
}
