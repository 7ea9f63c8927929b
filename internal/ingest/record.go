// Package ingest implements the record ingestion pipeline: per-field
// validation of raw tabular rows, batch deduplication, and chunked delivery
// to a durable sink with per-row outcome reporting.
package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawRow is a single uploaded row keyed by column name, before validation.
type RawRow map[string]string

// Record is a validated patient observation. It is immutable once built.
type Record struct {
	PatientID string    `json:"patient_id"`
	Age       int       `json:"age"`
	Disease   string    `json:"disease"`
	Timestamp time.Time `json:"timestamp"`
}

// Age bounds for a valid record.
const (
	MinAge = 0
	MaxAge = 120
)

// ErrorKind classifies a field-level validation failure.
type ErrorKind string

const (
	KindMissingField  ErrorKind = "missing-field"
	KindOutOfRange    ErrorKind = "out-of-range"
	KindInvalidFormat ErrorKind = "invalid-format"
)

// FieldError describes a single field-level validation failure.
type FieldError struct {
	Kind  ErrorKind `json:"kind"`
	Field string    `json:"field"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Field)
}

// timestampLayouts are the accepted timestamp formats, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ValidateRow validates one raw row against the record field contract and
// returns either a Record or the list of field errors. It is a pure function
// of its input: no side effects, no partial records.
//
// Field contract:
//   - patient_id: non-empty string
//   - age:        integer in [MinAge, MaxAge], required
//   - disease:    non-empty string
//   - timestamp:  parseable into an absolute instant
func ValidateRow(row RawRow) (*Record, []FieldError) {
	var errs []FieldError

	patientID := strings.TrimSpace(row["patient_id"])
	if patientID == "" {
		errs = append(errs, FieldError{Kind: KindMissingField, Field: "patient_id"})
	}

	var age int
	ageRaw := strings.TrimSpace(row["age"])
	if ageRaw == "" {
		errs = append(errs, FieldError{Kind: KindMissingField, Field: "age"})
	} else {
		v, err := strconv.Atoi(ageRaw)
		if err != nil || v < MinAge || v > MaxAge {
			errs = append(errs, FieldError{Kind: KindOutOfRange, Field: "age"})
		} else {
			age = v
		}
	}

	disease := strings.TrimSpace(row["disease"])
	if disease == "" {
		errs = append(errs, FieldError{Kind: KindMissingField, Field: "disease"})
	}

	var ts time.Time
	tsRaw := strings.TrimSpace(row["timestamp"])
	if parsed, ok := parseTimestamp(tsRaw); ok {
		ts = parsed
	} else {
		errs = append(errs, FieldError{Kind: KindInvalidFormat, Field: "timestamp"})
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return &Record{
		PatientID: patientID,
		Age:       age,
		Disease:   disease,
		Timestamp: ts,
	}, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
