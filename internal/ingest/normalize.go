package ingest

// Normalize deduplicates a batch of validated records by patient id.
//
// When two records share a patient id, the one with the later timestamp
// survives; equal timestamps are broken in favor of the later occurrence in
// the batch. Output order preserves the first occurrence of each surviving
// key. Records are selected whole, never merged or mutated.
func Normalize(records []*Record) []*Record {
	if len(records) <= 1 {
		return records
	}

	best := make(map[string]*Record, len(records))
	order := make([]string, 0, len(records))

	for _, r := range records {
		cur, seen := best[r.PatientID]
		if !seen {
			best[r.PatientID] = r
			order = append(order, r.PatientID)
			continue
		}
		// Later timestamp wins; tie goes to the later occurrence.
		if !r.Timestamp.Before(cur.Timestamp) {
			best[r.PatientID] = r
		}
	}

	out := make([]*Record, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}
