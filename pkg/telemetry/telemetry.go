// Package telemetry decodes the device wire format.
//
// Inbound frames are single lines "P,K,PH,HUMIDITY" where P and K are integer
// presence flags and PH / HUMIDITY are decimal floats. Outbound commands are the
// newline terminated tokens PUMP_ON and PUMP_OFF.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// Delimiter separates the fields of an inbound frame.
	Delimiter = ","
	// FieldCount is the exact number of fields of a valid frame.
	FieldCount = 4

	MinPH       = 0.0
	MaxPH       = 14.0
	MinHumidity = 0.0
	MaxHumidity = 100.0
)

// Reading is one validated sensor cycle.
type Reading struct {
	Phosphorus   bool    `json:"phosphorus"`
	Potassium    bool    `json:"potassium"`
	PH           float64 `json:"ph"`
	SoilHumidity float64 `json:"soil_humidity_pct"`
}

// RejectReason classifies why a frame was dropped.
type RejectReason int

const (
	MalformedFrame RejectReason = iota + 1
	UnparsableField
	OutOfRange
)

func (r RejectReason) String() string {
	switch r {
	case MalformedFrame:
		return "malformed_frame"
	case UnparsableField:
		return "unparsable_field"
	case OutOfRange:
		return "out_of_range"
	default:
		return "unknown"
	}
}

// RejectError is returned by Parse for every frame that is not accepted.
// Field is the zero based index of the offending field, -1 for the whole frame.
type RejectError struct {
	Reason RejectReason
	Line   string
	Field  int
	Err    error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (field %d) in %q: %v", e.Reason, e.Field, e.Line, e.Err)
	}
	return fmt.Sprintf("%s in %q", e.Reason, e.Line)
}

func (e *RejectError) Unwrap() error { return e.Err }

// ReasonOf extracts the reject reason from err, 0 if err is not a rejection.
func ReasonOf(err error) RejectReason {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return 0
}

// Parse decodes and validates one frame. It has no side effects.
func Parse(line string) (Reading, error) {
	raw := strings.TrimSpace(line)
	parts := strings.Split(raw, Delimiter)
	if len(parts) != FieldCount {
		return Reading{}, &RejectError{
			Reason: MalformedFrame,
			Line:   raw,
			Field:  -1,
			Err:    fmt.Errorf("expected %d fields, got %d", FieldCount, len(parts)),
		}
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	p, err := strconv.Atoi(parts[0])
	if err != nil {
		return Reading{}, &RejectError{Reason: UnparsableField, Line: raw, Field: 0, Err: err}
	}
	k, err := strconv.Atoi(parts[1])
	if err != nil {
		return Reading{}, &RejectError{Reason: UnparsableField, Line: raw, Field: 1, Err: err}
	}
	ph, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Reading{}, &RejectError{Reason: UnparsableField, Line: raw, Field: 2, Err: err}
	}
	hum, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return Reading{}, &RejectError{Reason: UnparsableField, Line: raw, Field: 3, Err: err}
	}

	// NaN fails every comparison, so check it explicitly.
	if math.IsNaN(ph) || ph < MinPH || ph > MaxPH {
		return Reading{}, &RejectError{
			Reason: OutOfRange, Line: raw, Field: 2,
			Err: fmt.Errorf("ph %v outside [%v,%v]", ph, MinPH, MaxPH),
		}
	}
	if math.IsNaN(hum) || hum < MinHumidity || hum > MaxHumidity {
		return Reading{}, &RejectError{
			Reason: OutOfRange, Line: raw, Field: 3,
			Err: fmt.Errorf("humidity %v outside [%v,%v]", hum, MinHumidity, MaxHumidity),
		}
	}

	return Reading{
		Phosphorus:   p != 0,
		Potassium:    k != 0,
		PH:           ph,
		SoilHumidity: hum,
	}, nil
}

// Format renders r in the inbound wire format (without the newline).
// The device emulator uses it to produce frames.
func Format(r Reading) string {
	return fmt.Sprintf("%d,%d,%.2f,%.1f", boolToInt(r.Phosphorus), boolToInt(r.Potassium), r.PH, r.SoilHumidity)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
