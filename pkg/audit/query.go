package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ListEvents returns audit events in chronological order.
// limit: maximum number of events to return, most recent first kept (0 = all)
// since: only return events after this time (zero = no filter)
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.readAll()
	if err != nil {
		return nil, err
	}

	filtered := all
	if !since.IsZero() {
		filtered = nil
		for _, event := range all {
			ts, err := event.Time()
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, event)
			}
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// Export renders events between since and until (zero values mean no bound)
// as "json" or "csv".
func (l *Logger) Export(format string, since, until time.Time) ([]byte, error) {
	l.mu.Lock()
	all, err := l.readAll()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var filtered []Event
	for _, event := range all {
		ts, err := event.Time()
		if err != nil {
			continue
		}
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		filtered = append(filtered, event)
	}

	switch format {
	case "json":
		return json.MarshalIndent(filtered, "", "  ")
	case "csv":
		return formatCSV(filtered)
	default:
		return nil, fmt.Errorf("audit: unsupported format: %s", format)
	}
}

func formatCSV(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"timestamp", "operation", "source", "result", "entry_hash"}); err != nil {
		return nil, err
	}
	for _, event := range events {
		entry := event.Entry
		if len(entry) > 16 {
			entry = entry[:16] + "..."
		}
		row := []string{event.Timestamp, event.Operation, event.Source, event.Result, entry}
		for i := range row {
			row[i] = csvSafe(row[i])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// csvSafe neutralizes spreadsheet formula prefixes.
func csvSafe(field string) string {
	if field == "" {
		return field
	}
	switch field[0] {
	case '=', '+', '-', '@':
		return "'" + field
	}
	return field
}

// Prune deletes events older than olderThan and returns how many were
// removed. The first retained record becomes the new chain anchor, so the
// remaining chain still verifies.
func (l *Logger) Prune(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	files, err := l.logFiles()
	if err != nil {
		return 0, err
	}

	deleted := 0
	anchored := false
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return deleted, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}

		var remaining []Event
		for _, event := range events {
			ts, err := event.Time()
			// Records after the first retained one are kept to preserve the chain
			if anchored || err != nil || ts.After(cutoff) {
				if !anchored {
					l.state.BaseSequence = event.Chain.Sequence
					l.state.BasePrev = event.Chain.PrevHash
					anchored = true
				}
				remaining = append(remaining, event)
				continue
			}
			deleted++
		}

		switch {
		case len(remaining) == len(events):
		case len(remaining) == 0:
			if err := os.Remove(file); err != nil {
				return deleted, fmt.Errorf("audit: failed to delete %s: %w", file, err)
			}
		default:
			if err := writeLogFile(file, remaining); err != nil {
				return deleted, fmt.Errorf("audit: failed to rewrite %s: %w", file, err)
			}
		}
	}

	if deleted == 0 {
		return 0, nil
	}
	if !anchored {
		l.state.BaseSequence = l.state.Sequence + 1
		l.state.BasePrev = l.state.PrevHash
	}
	return deleted, l.saveChainState()
}

// PrunePreview returns the count of entries Prune would delete.
func (l *Logger) PrunePreview(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	all, err := l.readAll()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, event := range all {
		ts, err := event.Time()
		if err != nil || ts.After(cutoff) {
			break
		}
		count++
	}
	return count, nil
}
