package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelake/analytics/internal/ingest"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const recordColumns = `id, patient_id, age, disease, recorded_at, created_at, updated_at`

func (r *repoPG) Upsert(ctx context.Context, rec *PatientRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient_record (id, patient_id, age, disease, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_id) DO UPDATE SET
			age = EXCLUDED.age,
			disease = EXCLUDED.disease,
			recorded_at = EXCLUDED.recorded_at,
			updated_at = NOW()`,
		rec.ID, rec.PatientID, rec.Age, rec.Disease, rec.RecordedAt,
	)
	if err != nil {
		if isUnavailable(err) {
			return fmt.Errorf("%w: %v", ingest.ErrStoreUnavailable, err)
		}
		return err
	}
	return nil
}

func (r *repoPG) GetByPatientID(ctx context.Context, patientID string) (*PatientRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM patient_record WHERE patient_id = $1`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patient_record`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM patient_record ORDER BY recorded_at DESC, patient_id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	recs, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

func (r *repoPG) ListSince(ctx context.Context, since time.Time) ([]*PatientRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM patient_record WHERE recorded_at >= $1 ORDER BY recorded_at DESC`,
		since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *repoPG) CountByDisease(ctx context.Context) ([]*DiseaseTrend, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT disease, COUNT(*) AS count
		FROM patient_record
		GROUP BY disease
		ORDER BY count DESC, disease`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trends []*DiseaseTrend
	for rows.Next() {
		var t DiseaseTrend
		if err := rows.Scan(&t.Disease, &t.Count); err != nil {
			return nil, err
		}
		trends = append(trends, &t)
	}
	return trends, rows.Err()
}

func scanRecord(row pgx.Row) (*PatientRecord, error) {
	var rec PatientRecord
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.Age, &rec.Disease,
		&rec.RecordedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*PatientRecord, error) {
	var recs []*PatientRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// isUnavailable reports whether a write failed because the store itself is
// down rather than because of the individual row. Connection-class and
// shutdown-class Postgres errors abort the batch.
func isUnavailable(err error) bool {
	if pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P")
	}
	return false
}
