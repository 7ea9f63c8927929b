package records

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carelake/analytics/internal/ingest"
	"github.com/carelake/analytics/internal/platform/classifier"
)

// Service owns the ingestion pipeline and the read paths over stored records.
type Service struct {
	repo       Repository
	scorer     classifier.Scorer
	windowDays int
	opts       ingest.Options
	now        func() time.Time
}

func NewService(repo Repository, scorer classifier.Scorer, windowDays int, opts ingest.Options) *Service {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &Service{
		repo:       repo,
		scorer:     scorer,
		windowDays: windowDays,
		opts:       opts,
		now:        time.Now,
	}
}

// IngestCSV parses the upload and runs the full pipeline: validate,
// deduplicate, upsert. The report carries a per-row outcome for every input
// row; a non-nil error means the batch was aborted partway (store down or
// request cancelled) and the report covers what was attempted.
func (s *Service) IngestCSV(ctx context.Context, r io.Reader) (*ingest.Report, error) {
	rows, err := ingest.ParseCSV(r)
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	orch := ingest.NewOrchestrator(ingest.SinkFunc(func(ctx context.Context, rec *ingest.Record) error {
		return s.repo.Upsert(ctx, FromIngest(rec))
	}), s.opts)

	report, err := orch.Ingest(ctx, rows)
	if report != nil {
		log.Info().
			Int("total", report.Total).
			Int("accepted", report.Accepted).
			Int("rejected", report.Rejected).
			Int("failed", report.Failed).
			Int("deduplicated", report.Deduplicated).
			Msg("csv batch ingested")
	}
	return report, err
}

// DiseaseTrends returns per-disease record counts for the dashboard.
func (s *Service) DiseaseTrends(ctx context.Context) ([]*DiseaseTrend, error) {
	return s.repo.CountByDisease(ctx)
}

// RecentAnomalies scores every record from the trailing window and returns
// those the classifier flags. A scoring failure for one record fails the
// whole call; partial anomaly lists would be misleading.
func (s *Service) RecentAnomalies(ctx context.Context) ([]*Anomaly, error) {
	now := s.now()
	since := now.AddDate(0, 0, -s.windowDays)

	recs, err := s.repo.ListSince(ctx, since)
	if err != nil {
		return nil, err
	}

	anomalies := []*Anomaly{}
	for _, rec := range recs {
		score, err := s.scorer.Score(ctx, rec.Features(now))
		if err != nil {
			return nil, fmt.Errorf("score record %s: %w", rec.PatientID, err)
		}
		if classifier.IsAnomaly(score) {
			anomalies = append(anomalies, &Anomaly{Record: rec, Score: score})
		}
	}
	return anomalies, nil
}

// GetRecord returns the stored record for a patient.
func (s *Service) GetRecord(ctx context.Context, patientID string) (*PatientRecord, error) {
	return s.repo.GetByPatientID(ctx, patientID)
}

// ListRecords returns a page of records plus the total count.
func (s *Service) ListRecords(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error) {
	return s.repo.List(ctx, limit, offset)
}
