package audit

import (
	"crypto/hmac"
	"fmt"
	"path/filepath"
)

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify checks the integrity of the audit log chain
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return nil, ErrNoKey
	}
	return l.verifyLocked(l.key)
}

func (l *Logger) verifyLocked(key []byte) (*VerifyResult, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := l.state.BasePrev
	expectedSeq := l.state.BaseSequence

	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}

		for i := range events {
			event := &events[i]
			result.RecordsTotal++
			ok := true

			if event.Chain.Sequence != expectedSeq {
				ok = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"sequence gap at record %s: expected %d, got %d",
					event.ID, expectedSeq, event.Chain.Sequence))
			}
			if event.Chain.PrevHash != expectedPrev {
				ok = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"chain broken at record %s in %s",
					event.ID, filepath.Base(file)))
			}
			if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.sign(key, event))) {
				ok = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"HMAC mismatch at record %s: possible tampering", event.ID))
			}

			if ok {
				result.RecordsVerified++
			} else {
				result.Valid = false
			}
			expectedPrev = event.Chain.HMAC
			expectedSeq = event.Chain.Sequence + 1
		}
	}

	// Records removed from the tail are only visible through the saved state
	if result.RecordsTotal > 0 && (expectedSeq-1 != l.state.Sequence || expectedPrev != l.state.PrevHash) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(
			"log ends at sequence %d but chain state expects %d", expectedSeq-1, l.state.Sequence))
	}
	if result.RecordsTotal == 0 && l.state.Sequence >= l.state.BaseSequence {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(
			"log is empty but chain state expects %d records", l.state.Sequence-l.state.BaseSequence+1))
	}

	return result, nil
}

// Rekey re-signs the whole chain under the key derived from a new password.
// The existing chain must verify under the current key; a broken
// chain is never re-signed. Entry HMACs are left as they are.
func (l *Logger) Rekey(password string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	newKey, err := deriveKey(password)
	if err != nil {
		return err
	}
	if l.key == nil {
		l.key = newKey
		return nil
	}

	result, err := l.verifyLocked(l.key)
	if err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("%w: %d errors", ErrChainInvalid, len(result.Errors))
	}

	files, err := l.logFiles()
	if err != nil {
		return err
	}
	prev := l.state.BasePrev
	if err := l.rewriteChain(files, newKey, prev); err != nil {
		return err
	}
	l.key = newKey
	return l.saveChainState()
}

// rewriteChain re-links and re-signs every record starting from prev, and
// updates the in-memory chain head.
func (l *Logger) rewriteChain(files []string, key []byte, prev string) error {
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		for i := range events {
			events[i].Chain.PrevHash = prev
			events[i].Chain.HMAC = l.sign(key, &events[i])
			prev = events[i].Chain.HMAC
		}
		if err := writeLogFile(file, events); err != nil {
			return fmt.Errorf("audit: failed to rewrite %s: %w", file, err)
		}
	}
	l.state.PrevHash = prev
	return nil
}
