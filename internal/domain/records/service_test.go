package records

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carelake/analytics/internal/ingest"
)

// -- Mock Repository --

// mockRepo is written to by the orchestrator's concurrent workers, so all
// map access is guarded.
type mockRepo struct {
	mu      sync.Mutex
	records map[string]*PatientRecord
	upserts int
	failAll bool
	getErr  error
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[string]*PatientRecord)}
}

func (m *mockRepo) Upsert(_ context.Context, rec *PatientRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.failAll {
		return fmt.Errorf("%w: connection refused", ingest.ErrStoreUnavailable)
	}
	cp := *rec
	m.records[rec.PatientID] = &cp
	return nil
}

func (m *mockRepo) GetByPatientID(_ context.Context, patientID string) (*PatientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*PatientRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*PatientRecord
	for _, rec := range m.records {
		all = append(all, rec)
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) ListSince(_ context.Context, since time.Time) ([]*PatientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PatientRecord
	for _, rec := range m.records {
		if !rec.RecordedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockRepo) CountByDisease(_ context.Context) ([]*DiseaseTrend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range m.records {
		counts[rec.Disease]++
	}
	var trends []*DiseaseTrend
	for disease, count := range counts {
		trends = append(trends, &DiseaseTrend{Disease: disease, Count: count})
	}
	return trends, nil
}

// -- Mock Scorer --

type mockScorer struct {
	mu     sync.Mutex
	scores map[float64]float64 // keyed by age feature
	err    error
	calls  int
}

func (m *mockScorer) Score(_ context.Context, features []float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	if s, ok := m.scores[features[0]]; ok {
		return s, nil
	}
	return 0.1, nil
}

func newTestService(repo *mockRepo, scorer *mockScorer) *Service {
	svc := NewService(repo, scorer, 7, ingest.Options{})
	svc.now = func() time.Time {
		return time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	}
	return svc
}

// -- IngestCSV --

const validCSV = `patient_id,age,disease,timestamp
p1,45,flu,2026-03-07T10:00:00Z
p2,60,covid,2026-03-07T11:00:00Z
p3,30,flu,2026-03-07T12:00:00Z
`

func TestService_IngestCSV(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockScorer{})

	report, err := svc.IngestCSV(context.Background(), strings.NewReader(validCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Accepted != 3 {
		t.Errorf("expected 3 accepted, got %d", report.Accepted)
	}
	if len(repo.records) != 3 {
		t.Errorf("expected 3 stored records, got %d", len(repo.records))
	}

	rec, err := repo.GetByPatientID(context.Background(), "p2")
	if err != nil {
		t.Fatalf("p2 not stored: %v", err)
	}
	if rec.Age != 60 || rec.Disease != "covid" {
		t.Errorf("unexpected stored record: %+v", rec)
	}
}

func TestService_IngestCSV_LargeBatchConcurrentUpserts(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockScorer{})

	var sb strings.Builder
	sb.WriteString("patient_id,age,disease,timestamp\n")
	for i := 0; i < 250; i++ {
		fmt.Fprintf(&sb, "p%03d,%d,flu,2026-03-07T10:00:00Z\n", i, i%121)
	}

	report, err := svc.IngestCSV(context.Background(), strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Accepted != 250 {
		t.Errorf("expected 250 accepted, got %d", report.Accepted)
	}
	if len(repo.records) != 250 {
		t.Errorf("expected 250 stored records, got %d", len(repo.records))
	}
	if repo.upserts != 250 {
		t.Errorf("expected 250 upserts, got %d", repo.upserts)
	}
}

func TestService_IngestCSV_DuplicateKeepsLatest(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockScorer{})

	csv := `patient_id,age,disease,timestamp
p1,45,flu,2026-03-07T10:00:00Z
p1,46,flu,2026-03-07T12:00:00Z
`
	report, err := svc.IngestCSV(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Deduplicated != 1 {
		t.Errorf("expected 1 deduplicated, got %d", report.Deduplicated)
	}
	if repo.upserts != 1 {
		t.Errorf("expected 1 upsert, got %d", repo.upserts)
	}
	if rec := repo.records["p1"]; rec.Age != 46 {
		t.Errorf("expected later row to win with age 46, got %d", rec.Age)
	}
}

func TestService_IngestCSV_InvalidRowsReported(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockScorer{})

	csv := `patient_id,age,disease,timestamp
p1,45,flu,2026-03-07T10:00:00Z
p2,999,covid,2026-03-07T11:00:00Z
`
	report, err := svc.IngestCSV(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Accepted != 1 || report.Rejected != 1 {
		t.Errorf("expected 1 accepted / 1 rejected, got %d / %d", report.Accepted, report.Rejected)
	}
	if _, ok := repo.records["p2"]; ok {
		t.Error("out-of-range row must not reach the store")
	}
}

func TestService_IngestCSV_UnparseableCSV(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockScorer{})

	if _, err := svc.IngestCSV(context.Background(), strings.NewReader("")); err == nil {
		t.Error("expected error for empty upload")
	}
	if repo.upserts != 0 {
		t.Errorf("expected no upserts, got %d", repo.upserts)
	}
}

func TestService_IngestCSV_StoreUnavailable(t *testing.T) {
	repo := newMockRepo()
	repo.failAll = true
	svc := newTestService(repo, &mockScorer{})

	report, err := svc.IngestCSV(context.Background(), strings.NewReader(validCSV))
	if err == nil {
		t.Fatal("expected abort error when store is down")
	}
	if report == nil {
		t.Fatal("expected partial report alongside the error")
	}
	if report.Failed != 3 {
		t.Errorf("expected all 3 rows failed, got %d", report.Failed)
	}
}

// -- DiseaseTrends --

func TestService_DiseaseTrends(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockScorer{})

	if _, err := svc.IngestCSV(context.Background(), strings.NewReader(validCSV)); err != nil {
		t.Fatalf("seed ingest failed: %v", err)
	}

	trends, err := svc.DiseaseTrends(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counts := make(map[string]int)
	for _, tr := range trends {
		counts[tr.Disease] = tr.Count
	}
	if counts["flu"] != 2 || counts["covid"] != 1 {
		t.Errorf("unexpected trend counts: %v", counts)
	}
}

// -- RecentAnomalies --

func TestService_RecentAnomalies(t *testing.T) {
	repo := newMockRepo()
	scorer := &mockScorer{scores: map[float64]float64{60: 0.9}}
	svc := newTestService(repo, scorer)

	if _, err := svc.IngestCSV(context.Background(), strings.NewReader(validCSV)); err != nil {
		t.Fatalf("seed ingest failed: %v", err)
	}

	anomalies, err := svc.RecentAnomalies(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Record.PatientID != "p2" {
		t.Errorf("expected p2 flagged, got %s", anomalies[0].Record.PatientID)
	}
	if anomalies[0].Score != 0.9 {
		t.Errorf("expected score 0.9, got %v", anomalies[0].Score)
	}
	if scorer.calls != 3 {
		t.Errorf("expected all 3 recent records scored, got %d calls", scorer.calls)
	}
}

func TestService_RecentAnomalies_WindowExcludesOldRecords(t *testing.T) {
	repo := newMockRepo()
	scorer := &mockScorer{scores: map[float64]float64{80: 0.9}}
	svc := newTestService(repo, scorer)

	old := &PatientRecord{PatientID: "old", Age: 80, Disease: "flu",
		RecordedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	repo.Upsert(context.Background(), old)

	anomalies, err := svc.RecentAnomalies(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("expected records outside the window to be skipped, got %d", len(anomalies))
	}
	if scorer.calls != 0 {
		t.Errorf("expected no scorer calls, got %d", scorer.calls)
	}
}

func TestService_RecentAnomalies_ScorerFailure(t *testing.T) {
	repo := newMockRepo()
	scorer := &mockScorer{err: fmt.Errorf("scorer down")}
	svc := newTestService(repo, scorer)

	if _, err := svc.IngestCSV(context.Background(), strings.NewReader(validCSV)); err != nil {
		t.Fatalf("seed ingest failed: %v", err)
	}

	if _, err := svc.RecentAnomalies(context.Background()); err == nil {
		t.Error("expected error when scorer fails")
	}
}
