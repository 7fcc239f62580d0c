package chart

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant held by a Cell.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindText
	KindBool
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Cell is a single value in a query result.
type Cell struct {
	kind Kind
	num  float64
	text string
	b    bool
	t    time.Time
}

func Null() Cell { return Cell{kind: KindNull} }

func Number(f float64) Cell { return Cell{kind: KindNumber, num: f} }

func Text(s string) Cell { return Cell{kind: KindText, text: s} }

func Bool(b bool) Cell { return Cell{kind: KindBool, b: b} }

func Date(t time.Time) Cell { return Cell{kind: KindDate, t: t} }

func (c Cell) Kind() Kind { return c.kind }

func (c Cell) IsNull() bool { return c.kind == KindNull }

// CellFromValue converts a value scanned from a database/sql driver into a Cell.
func CellFromValue(v any) Cell {
	switch val := v.(type) {
	case nil:
		return Null()
	case Cell:
		return val
	case bool:
		return Bool(val)
	case int:
		return Number(float64(val))
	case int8:
		return Number(float64(val))
	case int16:
		return Number(float64(val))
	case int32:
		return Number(float64(val))
	case int64:
		return Number(float64(val))
	case uint:
		return Number(float64(val))
	case uint8:
		return Number(float64(val))
	case uint16:
		return Number(float64(val))
	case uint32:
		return Number(float64(val))
	case uint64:
		return Number(float64(val))
	case float32:
		return Number(float64(val))
	case float64:
		return Number(val)
	case *big.Int:
		if val == nil {
			return Null()
		}
		f, _ := new(big.Float).SetInt(val).Float64()
		return Number(f)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Text(val.String())
		}
		return Number(f)
	case string:
		return Text(val)
	case []byte:
		return Text(string(val))
	case time.Time:
		return Date(val)
	case *time.Time:
		if val == nil {
			return Null()
		}
		return Date(*val)
	case interface{ Float64() float64 }:
		// Decimal types (e.g. duckdb.Decimal).
		return Number(val.Float64())
	case fmt.Stringer:
		return Text(val.String())
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return Text(fmt.Sprint(val))
		}
		return Text(string(data))
	}
}

// Float coerces the cell to a number. Text is parsed after stripping currency
// symbols, thousands separators and a trailing percent sign; anything that
// does not parse, including NaN and infinities, is 0.
func (c Cell) Float() float64 {
	switch c.kind {
	case KindNumber:
		if !finite(c.num) {
			return 0
		}
		return c.num
	case KindText:
		f, ok := parseNumeric(c.text)
		if !ok {
			return 0
		}
		return f
	case KindBool:
		if c.b {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Numeric reports whether the cell is a number or text that parses as one.
func (c Cell) Numeric() bool {
	switch c.kind {
	case KindNumber:
		return finite(c.num)
	case KindText:
		_, ok := parseNumeric(c.text)
		return ok
	default:
		return false
	}
}

// String renders the cell for display.
func (c Cell) String() string {
	switch c.kind {
	case KindNull:
		return ""
	case KindNumber:
		return formatNumber(c.num)
	case KindText:
		return c.text
	case KindBool:
		return strconv.FormatBool(c.b)
	case KindDate:
		if c.t.Hour() == 0 && c.t.Minute() == 0 && c.t.Second() == 0 && c.t.Nanosecond() == 0 {
			return c.t.Format(time.DateOnly)
		}
		return c.t.Format(time.RFC3339)
	default:
		return ""
	}
}

func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber:
		if !finite(c.num) {
			return []byte("null"), nil
		}
		return json.Marshal(c.num)
	case KindText:
		return json.Marshal(c.text)
	case KindBool:
		return json.Marshal(c.b)
	case KindDate:
		return json.Marshal(c.t.Format(time.RFC3339))
	default:
		return nil, fmt.Errorf("unknown cell kind %d", c.kind)
	}
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch val := v.(type) {
	case nil:
		*c = Null()
	case bool:
		*c = Bool(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", val, err)
		}
		*c = Number(f)
	case string:
		*c = Text(val)
	default:
		*c = Text(string(data))
	}
	return nil
}

var numericReplacer = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", ",", "", " ", "")

func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = numericReplacer.Replace(s)
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) {
		return 0, false
	}
	return f, true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
