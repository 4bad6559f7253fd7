// Package codec converts board cell payloads to typed values and back.
//
// Board cells arrive with two representations: a structured JSON payload
// (for numeric and status columns, e.g. {"number":10} or {"label":"Done"})
// and a display string. Decoding prefers the structured payload, falls back
// to the display text, and finally to the kind's zero value. It never fails.
package codec

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hyperengineering/boardsync/internal/types"
)

// Decode returns the typed value of a cell. A nil cell decodes to the zero value.
func Decode(cell *types.Cell, kind types.Kind) types.Value {
	if cell == nil {
		return types.Zero(kind)
	}

	if raw := strings.TrimSpace(cell.Value); raw != "" && gjson.Valid(raw) {
		if v, ok := FromJSON(gjson.Parse(raw), kind); ok {
			return v
		}
	}

	if kind == types.KindText {
		return types.Text(cell.Text)
	}
	if n, ok := parseDisplayNumber(cell.Text); ok {
		return types.Number(n)
	}
	return types.Zero(kind)
}

// FromJSON extracts a typed value from a parsed JSON payload. The payload may be
// a bare number or string, a string holding serialized JSON, or an object with a
// "number", "label", "text" or "value" field. A null or absent field is reported
// as not found.
func FromJSON(r gjson.Result, kind types.Kind) (types.Value, bool) {
	if kind == types.KindText {
		return textFromJSON(r, 0)
	}
	return numberFromJSON(r, 0)
}

// maxNesting bounds unwrapping of JSON serialized inside JSON strings.
const maxNesting = 3

func numberFromJSON(r gjson.Result, depth int) (types.Value, bool) {
	if depth > maxNesting {
		return types.Value{}, false
	}
	switch r.Type {
	case gjson.Number:
		return finite(r.Float())
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if s == "" {
			return types.Value{}, false
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return finite(n)
		}
		if gjson.Valid(s) {
			return numberFromJSON(gjson.Parse(s), depth+1)
		}
		return types.Value{}, false
	case gjson.JSON:
		if !r.IsObject() {
			return types.Value{}, false
		}
		// Cells carry {"number":…}; column-change events carry {"value":…}.
		for _, field := range []string{"number", "value"} {
			if n := r.Get(field); n.Exists() && n.Type != gjson.Null {
				return numberFromJSON(n, depth+1)
			}
		}
		return types.Value{}, false
	default:
		return types.Value{}, false
	}
}

func textFromJSON(r gjson.Result, depth int) (types.Value, bool) {
	if depth > maxNesting {
		return types.Value{}, false
	}
	switch r.Type {
	case gjson.String:
		if s := strings.TrimSpace(r.Str); s != "" && (s[0] == '{' || s[0] == '"') && gjson.Valid(s) {
			return textFromJSON(gjson.Parse(s), depth+1)
		}
		return types.Text(r.Str), true
	case gjson.Number:
		return types.Text(Encode(types.Number(r.Float()))), true
	case gjson.JSON:
		if !r.IsObject() {
			return types.Value{}, false
		}
		// Status columns carry {"label":"Done"} or {"label":{"text":"Done"}}.
		if label := r.Get("label"); label.Exists() && label.Type != gjson.Null {
			if label.IsObject() {
				if t := label.Get("text"); t.Exists() && t.Type != gjson.Null {
					return types.Text(t.String()), true
				}
				return types.Value{}, false
			}
			return types.Text(label.String()), true
		}
		for _, field := range []string{"text", "value", "number"} {
			if f := r.Get(field); f.Exists() && f.Type != gjson.Null {
				return textFromJSON(f, depth+1)
			}
		}
		return types.Value{}, false
	default:
		return types.Value{}, false
	}
}

// parseDisplayNumber strips everything but digits, '.' and '-' and parses the rest.
func parseDisplayNumber(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func finite(n float64) (types.Value, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return types.Value{}, false
	}
	return types.Number(n), true
}

// Encode renders a value as the literal string a column mutation expects.
// Numbers use the shortest decimal form without exponent.
func Encode(v types.Value) string {
	if v.Kind == types.KindText {
		return v.Text
	}
	n := v.Number
	if n == 0 {
		// Normalises negative zero.
		n = 0
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}
