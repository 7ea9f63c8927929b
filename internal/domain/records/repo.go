package records

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repository reads when no record exists for the
// requested patient.
var ErrNotFound = errors.New("record not found")

// Repository defines the persistence interface for patient records.
type Repository interface {
	Upsert(ctx context.Context, rec *PatientRecord) error
	GetByPatientID(ctx context.Context, patientID string) (*PatientRecord, error)
	List(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error)
	ListSince(ctx context.Context, since time.Time) ([]*PatientRecord, error)
	CountByDisease(ctx context.Context) ([]*DiseaseTrend, error)
}
