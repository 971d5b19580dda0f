package event

// MergeByID unions older and newer, deduplicating by id. When both contain the
// same id the record from newer wins and keeps the position it had in older;
// ids only present in newer are appended in their newer order.
func MergeByID(older, newer []Event) []Event {
	index := make(map[string]int, len(older)+len(newer))
	out := make([]Event, 0, len(older)+len(newer))

	for _, ev := range older {
		if i, ok := index[ev.ID]; ok {
			out[i] = ev
			continue
		}
		index[ev.ID] = len(out)
		out = append(out, ev)
	}
	for _, ev := range newer {
		if i, ok := index[ev.ID]; ok {
			out[i] = ev
			continue
		}
		index[ev.ID] = len(out)
		out = append(out, ev)
	}
	return out
}

// IDs returns the ids of events in order.
func IDs(events []Event) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids
}
