package ingest

import (
	"context"
	"errors"
	"sync"
)

// RowStatus is the final disposition of one uploaded row.
type RowStatus string

const (
	StatusAccepted RowStatus = "accepted"
	StatusRejected RowStatus = "rejected" // failed validation
	StatusFailed   RowStatus = "failed"   // failed persistence
)

// RowOutcome reports the disposition of a single row by its position in the
// uploaded batch.
type RowOutcome struct {
	Row    int          `json:"row"`
	Status RowStatus    `json:"status"`
	Errors []FieldError `json:"errors,omitempty"`
	Cause  string       `json:"cause,omitempty"`
}

// Report summarizes one batch ingestion. Outcomes has exactly one entry per
// input row, in input order.
type Report struct {
	Total        int          `json:"total"`
	Accepted     int          `json:"accepted"`
	Rejected     int          `json:"rejected"`
	Failed       int          `json:"failed"`
	Deduplicated int          `json:"deduplicated"`
	Outcomes     []RowOutcome `json:"outcomes"`
}

// DefaultErrorCap bounds the number of row errors returned to HTTP callers.
const DefaultErrorCap = 100

// ErrorOutcomes returns the first limit non-accepted outcomes, keeping
// response bodies bounded for large batches.
func (r *Report) ErrorOutcomes(limit int) []RowOutcome {
	var out []RowOutcome
	for _, o := range r.Outcomes {
		if o.Status == StatusAccepted {
			continue
		}
		out = append(out, o)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Options configures an Orchestrator.
type Options struct {
	// ChunkSize is the number of records handed to the sink between
	// cancellation checks. Defaults to 100.
	ChunkSize int
	// Workers bounds the concurrent sink calls within a chunk. Defaults to 8.
	// Concurrent calls are always for distinct patient ids because the batch
	// is deduplicated before the sink stage.
	Workers int
}

// Orchestrator runs the full pipeline for one batch: validate every row,
// deduplicate the survivors, then deliver them to the sink.
type Orchestrator struct {
	sink      Sink
	chunkSize int
	workers   int
}

func NewOrchestrator(sink Sink, opts Options) *Orchestrator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Orchestrator{
		sink:      sink,
		chunkSize: opts.ChunkSize,
		workers:   opts.Workers,
	}
}

// Ingest processes one batch. Row-level failures (validation or persistence)
// never abort the batch; each row's outcome is reported independently and
// successful upserts are never rolled back. The batch aborts early only on
// context cancellation or when the sink signals ErrStoreUnavailable, in which
// case rows not yet delivered are reported as failed and the triggering error
// is returned alongside the partial report.
func (o *Orchestrator) Ingest(ctx context.Context, rows []RawRow) (*Report, error) {
	report := &Report{
		Total:    len(rows),
		Outcomes: make([]RowOutcome, len(rows)),
	}

	// Stage 1: validate. Rows sharing a patient id are tracked together so a
	// later persistence failure for the key is attributed to all of them.
	var valid []*Record
	rowsByKey := make(map[string][]int)
	for i, row := range rows {
		report.Outcomes[i].Row = i
		rec, errs := ValidateRow(row)
		if len(errs) > 0 {
			report.Outcomes[i].Status = StatusRejected
			report.Outcomes[i].Errors = errs
			continue
		}
		report.Outcomes[i].Status = StatusAccepted
		valid = append(valid, rec)
		rowsByKey[rec.PatientID] = append(rowsByKey[rec.PatientID], i)
	}

	// Stage 2: deduplicate.
	deduped := Normalize(valid)
	report.Deduplicated = len(valid) - len(deduped)

	// Stage 3: deliver in chunks with bounded fan-out.
	var abortErr error
	for start := 0; start < len(deduped); start += o.chunkSize {
		if err := ctx.Err(); err != nil {
			o.failFrom(report, deduped[start:], rowsByKey, err.Error())
			abortErr = err
			break
		}

		end := start + o.chunkSize
		if end > len(deduped) {
			end = len(deduped)
		}
		chunk := deduped[start:end]

		if err := o.deliverChunk(ctx, chunk, report, rowsByKey); err != nil {
			o.failFrom(report, deduped[end:], rowsByKey, ErrStoreUnavailable.Error())
			abortErr = err
			break
		}
	}

	for _, outcome := range report.Outcomes {
		switch outcome.Status {
		case StatusAccepted:
			report.Accepted++
		case StatusRejected:
			report.Rejected++
		case StatusFailed:
			report.Failed++
		}
	}

	return report, abortErr
}

// deliverChunk upserts one chunk with at most o.workers concurrent sink
// calls. Per-record failures are recorded on the report; ErrStoreUnavailable
// is returned to abort the batch.
func (o *Orchestrator) deliverChunk(ctx context.Context, chunk []*Record, report *Report, rowsByKey map[string][]int) error {
	type result struct {
		key string
		err error
	}

	jobs := make(chan *Record)
	results := make(chan result, len(chunk))

	workers := o.workers
	if workers > len(chunk) {
		workers = len(chunk)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				results <- result{key: rec.PatientID, err: o.sink.Upsert(ctx, rec)}
			}
		}()
	}

	for _, rec := range chunk {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()
	close(results)

	var unavailable error
	for res := range results {
		if res.err == nil {
			continue
		}
		o.failKey(report, rowsByKey, res.key, res.err.Error())
		if errors.Is(res.err, ErrStoreUnavailable) {
			unavailable = res.err
		}
	}
	return unavailable
}

// failKey marks every row carrying the given patient id as failed.
func (o *Orchestrator) failKey(report *Report, rowsByKey map[string][]int, key, cause string) {
	for _, idx := range rowsByKey[key] {
		report.Outcomes[idx].Status = StatusFailed
		report.Outcomes[idx].Cause = cause
	}
}

// failFrom marks all records not yet delivered as failed with the given cause.
func (o *Orchestrator) failFrom(report *Report, remaining []*Record, rowsByKey map[string][]int, cause string) {
	for _, rec := range remaining {
		o.failKey(report, rowsByKey, rec.PatientID, cause)
	}
}
