package schedule

// Merge combines the current record set with a freshly fetched remote batch.
//
// Authority rules:
//   - records without a RemoteID are purely local and always survive untouched;
//   - records carrying a RemoteID win verbatim over a batch candidate with the
//     same RemoteID, whatever their Origin (a locally edited remote record is a
//     deliberate override);
//   - records whose RemoteID is absent from the batch are retained as-is; a
//     sync pass never deletes, only an explicit user action does;
//   - batch candidates with an unseen RemoteID are appended as new remote
//     records.
//
// Merge is idempotent: merging the same batch into its own output is a no-op.
func Merge(current []Record, remoteBatch []Record) []Record {
	byRemoteID := make(map[string]Record, len(remoteBatch))
	for _, candidate := range remoteBatch {
		if candidate.RemoteID == "" {
			continue
		}
		byRemoteID[candidate.RemoteID] = candidate
	}

	merged := make([]Record, 0, len(current)+len(remoteBatch))
	consumed := make(map[string]bool, len(remoteBatch))
	for _, existing := range current {
		if existing.RemoteID != "" {
			if _, ok := byRemoteID[existing.RemoteID]; ok {
				consumed[existing.RemoteID] = true
			}
		}
		merged = append(merged, existing)
	}

	for _, candidate := range remoteBatch {
		if candidate.RemoteID == "" || consumed[candidate.RemoteID] {
			continue
		}
		// Guard against duplicate remote ids inside the batch itself.
		consumed[candidate.RemoteID] = true
		merged = append(merged, candidate)
	}

	return merged
}
