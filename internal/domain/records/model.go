package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelake/analytics/internal/ingest"
)

// PatientRecord maps to the patient_record table. One row per patient_id;
// uploads for an existing patient overwrite the row in place.
type PatientRecord struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  string    `db:"patient_id" json:"patient_id"`
	Age        int       `db:"age" json:"age"`
	Disease    string    `db:"disease" json:"disease"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// FromIngest builds a PatientRecord from a validated pipeline record.
func FromIngest(rec *ingest.Record) *PatientRecord {
	return &PatientRecord{
		PatientID:  rec.PatientID,
		Age:        rec.Age,
		Disease:    rec.Disease,
		RecordedAt: rec.Timestamp,
	}
}

// Features returns the numeric feature vector handed to the anomaly scorer:
// patient age and record age in days relative to now.
func (r *PatientRecord) Features(now time.Time) []float64 {
	ageDays := now.Sub(r.RecordedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return []float64{float64(r.Age), ageDays}
}

// DiseaseTrend is one row of the dashboard aggregation.
type DiseaseTrend struct {
	Disease string `db:"disease" json:"disease"`
	Count   int    `db:"count" json:"count"`
}

// Anomaly pairs a record with its classifier score.
type Anomaly struct {
	Record *PatientRecord `json:"record"`
	Score  float64        `json:"score"`
}
