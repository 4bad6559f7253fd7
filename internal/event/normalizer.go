// Package event turns inbound webhook bodies into canonical trigger events.
package event

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hyperengineering/boardsync/internal/codec"
	"github.com/hyperengineering/boardsync/internal/types"
)

// ResultKind is the outcome of normalizing one notification.
type ResultKind int

const (
	Discard ResultKind = iota
	Challenge
	Trigger
)

func (k ResultKind) String() string {
	switch k {
	case Challenge:
		return "challenge"
	case Trigger:
		return "trigger"
	default:
		return "discard"
	}
}

// Variant names the envelope shape an event was extracted from.
type Variant string

const (
	// VariantEvent is the current webhook shape: {"event": {...}}.
	VariantEvent Variant = "event"
	// VariantData is the legacy integration shape: {"data": {...}}.
	VariantData Variant = "data"
	// VariantFlat carries the event fields on the envelope itself.
	VariantFlat Variant = "flat"
)

// Discard reasons.
const (
	ReasonMalformed       = "malformed"
	ReasonUnresolvedItem  = "unresolved_item"
	ReasonColumnMismatch  = "column_mismatch"
	ReasonNonNumericValue = "non_numeric_value"
	ReasonMissingValue    = "missing_value"
)

// Result is a tagged union: exactly one of Token (Challenge) or Trigger (Trigger)
// is set; Discard carries a Reason.
type Result struct {
	Kind    ResultKind
	Token   string
	Trigger *types.TriggerEvent
	Variant Variant
	Reason  string
}

// itemIDPaths are probed in order on the variant's event object.
var itemIDPaths = []string{"itemId", "pulseId", "data.id", "id", "pulse.id"}

// Normalizer converts raw envelopes into Results for one configured trigger column.
type Normalizer struct {
	triggerColumn string
	kind          types.Kind
	now           func() time.Time
}

// NewNormalizer creates a normalizer. When triggerColumn is empty every column
// is accepted.
func NewNormalizer(triggerColumn string, kind types.Kind) *Normalizer {
	if !kind.Valid() {
		kind = types.KindNumber
	}
	return &Normalizer{
		triggerColumn: strings.TrimSpace(triggerColumn),
		kind:          kind,
		now:           time.Now,
	}
}

// Normalize classifies body. It never returns an error: anything that cannot
// become a trigger is a Discard with a reason.
func (n *Normalizer) Normalize(body []byte) Result {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return Result{Kind: Discard, Reason: ReasonMalformed}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Result{Kind: Discard, Reason: ReasonMalformed}
	}

	if token := root.Get("challenge"); token.Exists() && token.String() != "" {
		return Result{Kind: Challenge, Token: token.String()}
	}

	variant, obj := classify(root)

	itemID := resolveItemID(obj)
	if itemID == "" {
		return Result{Kind: Discard, Variant: variant, Reason: ReasonUnresolvedItem}
	}

	columnID := obj.Get("columnId").String()
	if n.triggerColumn != "" && columnID != n.triggerColumn {
		return Result{Kind: Discard, Variant: variant, Reason: ReasonColumnMismatch}
	}

	raw := obj.Get("value")
	if !raw.Exists() || raw.Type == gjson.Null {
		return Result{Kind: Discard, Variant: variant, Reason: ReasonMissingValue}
	}
	value, ok := codec.FromJSON(raw, n.kind)
	if !ok {
		reason := ReasonMissingValue
		if n.kind == types.KindNumber {
			reason = ReasonNonNumericValue
		}
		return Result{Kind: Discard, Variant: variant, Reason: reason}
	}

	return Result{
		Kind:    Trigger,
		Variant: variant,
		Trigger: &types.TriggerEvent{
			ItemID:     itemID,
			ColumnID:   columnID,
			Value:      value,
			Variant:    string(variant),
			ReceivedAt: n.now().UTC(),
		},
	}
}

// classify picks the envelope variant and returns the object holding the event fields.
func classify(root gjson.Result) (Variant, gjson.Result) {
	if ev := root.Get("event"); ev.IsObject() {
		return VariantEvent, ev
	}
	if data := root.Get("data"); data.IsObject() {
		return VariantData, data
	}
	return VariantFlat, root
}

func resolveItemID(obj gjson.Result) string {
	for _, path := range itemIDPaths {
		r := obj.Get(path)
		if r.Type != gjson.String && r.Type != gjson.Number {
			continue
		}
		if id := strings.TrimSpace(r.String()); id != "" && id != "0" {
			return id
		}
	}
	return ""
}
