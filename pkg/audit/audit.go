// Package audit records vault activity in an HMAC-chained JSON-lines log so
// that edits, reordering or truncation of past records can be detected.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/securefolder/internal/fsutil"
	"github.com/forest6511/securefolder/internal/platform"
)

// MinDiskSpace is the free space required before a record is appended.
const MinDiskSpace = 1024 * 1024

// EventVersion is the record schema version.
const EventVersion = 1

// Operation types
const (
	OpVaultSetup        = "vault.setup"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLock         = "vault.lock"

	OpEntryAdd    = "entry.add"
	OpEntryDelete = "entry.delete"
	OpEntryOpen   = "entry.open"

	OpPasswordChange = "password.change"

	OpMigrationStart    = "migration.start"
	OpMigrationComplete = "migration.complete"
	OpMigrationFailed   = "migration.failed"
	OpMigrationDeclined = "migration.declined"
	OpMigrationCleanup  = "migration.cleanup"
)

// Source identifies the interface the operation came from.
const (
	SourceCLI   = "cli"
	SourceShell = "shell"
)

// Result indicates the outcome of an operation.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const (
	genesis      = "genesis"
	metaFileName = "audit.meta"
	spoolName    = "audit.pending"
	logExt       = ".jsonl"
	hkdfInfo     = "securefolder-audit-v1"
)

// Errors
var (
	ErrNoKey        = errors.New("audit: HMAC key not set")
	ErrChainInvalid = errors.New("audit: chain verification failed")
)

// Event is a single audit record.
type Event struct {
	Version   int               `json:"v"`
	ID        string            `json:"id"` // UUIDv7
	Timestamp string            `json:"ts"` // RFC 3339, nanoseconds
	Operation string            `json:"op"`
	Entry     string            `json:"entry,omitempty"` // HMAC of the entry name
	Source    string            `json:"source"`
	SessionID string            `json:"session"`
	Result    string            `json:"result"`
	Error     *ErrorInfo        `json:"error,omitempty"`
	Context   map[string]string `json:"ctx,omitempty"`
	Chain     Chain             `json:"chain"`
}

// Time parses the event timestamp.
func (e *Event) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// chainState is persisted in audit.meta. The base fields anchor the first
// retained record after a prune.
type chainState struct {
	Sequence     int64  `json:"seq"`
	PrevHash     string `json:"prev"`
	BaseSequence int64  `json:"base_seq"`
	BasePrev     string `json:"base_prev"`
}

func newChainState() chainState {
	return chainState{PrevHash: genesis, BaseSequence: 1, BasePrev: genesis}
}

// pendingEvent is an event recorded before the key was known. The entry
// name is kept until it can be HMACed.
type pendingEvent struct {
	event Event
	entry string
}

// Logger appends audit events. A nil *Logger discards everything, which is
// how a disabled audit trail is represented.
type Logger struct {
	dir       string
	logger    *slog.Logger
	mu        sync.Mutex
	key       []byte
	state     chainState
	source    string
	sessionID string
	pending   []pendingEvent
}

// NewLogger creates a logger writing to dir. Records are held back until
// SetKey is called.
func NewLogger(dir string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Logger{
		dir:       dir,
		logger:    logger,
		state:     newChainState(),
		source:    SourceCLI,
		sessionID: uuid.NewString(),
	}
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.dir
}

// SetSource sets the source stamped on subsequent events.
func (l *Logger) SetSource(source string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.source = source
	l.mu.Unlock()
}

// deriveKey derives the HMAC key from the password. The stored digest is
// not secret and must never be the key material.
func deriveKey(password string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(password), nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := r.Read(key); err != nil {
		return nil, fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	return key, nil
}

// SetKey derives the HMAC key from the password, restores the chain
// position and writes the events recorded before the key was known.
func (l *Logger) SetKey(password string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key, err := deriveKey(password)
	if err != nil {
		return err
	}
	l.key = key

	if err := l.loadChainState(); err != nil {
		l.logger.Debug("rebuilding audit chain state", "error", err)
		if err := l.rebuildChainState(); err != nil {
			return err
		}
	}

	spooled, err := l.readSpool()
	if err != nil {
		return err
	}
	for _, event := range spooled {
		if err := l.appendLocked(event, ""); err != nil {
			return err
		}
	}
	if len(spooled) > 0 {
		if err := os.Remove(filepath.Join(l.dir, spoolName)); err != nil {
			return fmt.Errorf("audit: failed to clear pending events: %w", err)
		}
	}

	pending := l.pending
	l.pending = nil
	for _, p := range pending {
		if err := l.appendLocked(p.event, p.entry); err != nil {
			return err
		}
	}
	return nil
}

// deferLocked holds an event until the key is known. Events without an
// entry name are spooled to disk so failed unlocks outlive the process;
// entry names are only ever held in memory.
func (l *Logger) deferLocked(event Event, entry string) error {
	if entry != "" {
		l.pending = append(l.pending, pendingEvent{event: event, entry: entry})
		return nil
	}
	if err := os.MkdirAll(l.dir, fsutil.DirMode); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(l.dir, spoolName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, fsutil.FileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open pending events: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(&event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write pending event: %w", err)
	}
	return nil
}

func (l *Logger) readSpool() ([]Event, error) {
	events, err := readLogFile(filepath.Join(l.dir, spoolName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read pending events: %w", err)
	}
	return events, nil
}

// Log records an audit event. entry is the clear entry name, which is never
// written; only its HMAC is.
func (l *Logger) Log(op, result, entry string, errInfo *ErrorInfo, ctx map[string]string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{
		Version:   EventVersion,
		ID:        newEventID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Source:    l.source,
		SessionID: l.sessionID,
		Result:    result,
		Error:     errInfo,
		Context:   ctx,
	}

	if l.key == nil {
		return l.deferLocked(event, entry)
	}
	return l.appendLocked(event, entry)
}

// LogError is a convenience method for failed operations
func (l *Logger) LogError(op, entry, code string, err error) error {
	info := &ErrorInfo{Code: code}
	if err != nil {
		info.Message = err.Error()
	}
	return l.Log(op, ResultError, entry, info, nil)
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (l *Logger) appendLocked(event Event, entry string) error {
	if err := os.MkdirAll(l.dir, fsutil.DirMode); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := platform.CheckFreeSpace(l.dir, 0, MinDiskSpace); err != nil {
		if errors.Is(err, platform.ErrInsufficientDisk) {
			return fmt.Errorf("audit: %w", err)
		}
		l.logger.Warn("failed to check disk space for audit", "error", err)
	}

	if entry != "" {
		event.Entry = l.mac([]byte(entry))
	}

	event.Chain.Sequence = l.state.Sequence + 1
	event.Chain.PrevHash = l.state.PrevHash
	event.Chain.HMAC = l.sign(l.key, &event)

	if err := l.writeEvent(&event); err != nil {
		return err
	}

	l.state.Sequence = event.Chain.Sequence
	l.state.PrevHash = event.Chain.HMAC
	return l.saveChainState()
}

func (l *Logger) mac(data []byte) string {
	m := hmac.New(sha256.New, l.key)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// sign returns the chain HMAC of event under key.
func (l *Logger) sign(key []byte, event *Event) string {
	m := hmac.New(sha256.New, key)
	m.Write(recordData(event))
	return hex.EncodeToString(m.Sum(nil))
}

// recordData is the canonical byte form covered by the chain HMAC.
func recordData(event *Event) []byte {
	var errData string
	if event.Error != nil {
		errData = event.Error.Code + "|" + event.Error.Message
	}

	keys := make([]string, 0, len(event.Context))
	for k := range event.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var ctx strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&ctx, "%s=%s|", k, event.Context[k])
	}

	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Entry,
		event.Source,
		event.SessionID,
		event.Result,
		errData,
		ctx.String(),
		event.Chain.Sequence,
		event.Chain.PrevHash,
	))
}

// logFileName returns the monthly file an event belongs to.
func logFileName(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		t = time.Now()
	}
	return t.UTC().Format("2006-01") + logExt
}

func (l *Logger) writeEvent(event *Event) error {
	path := filepath.Join(l.dir, logFileName(event.Timestamp))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fsutil.FileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.dir, metaFileName))
	if err != nil {
		return err
	}
	state := newChainState()
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.BaseSequence < 1 || state.BasePrev == "" || state.PrevHash == "" {
		return fmt.Errorf("audit: invalid chain state")
	}
	l.state = state
	return nil
}

// rebuildChainState recovers the chain position from the log files when
// audit.meta is missing or unreadable.
func (l *Logger) rebuildChainState() error {
	state := newChainState()
	events, err := l.readAll()
	if err != nil {
		return err
	}
	if len(events) > 0 {
		first, last := events[0], events[len(events)-1]
		state.BaseSequence = first.Chain.Sequence
		state.BasePrev = first.Chain.PrevHash
		state.Sequence = last.Chain.Sequence
		state.PrevHash = last.Chain.HMAC
	}
	l.state = state
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(l.state)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(l.dir, metaFileName), data, fsutil.FileMode); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// logFiles returns the monthly log files in chronological order.
func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*"+logExt))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}
	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func writeLogFile(path string, events []Event) error {
	var buf []byte
	for i := range events {
		data, err := json.Marshal(&events[i])
		if err != nil {
			return err
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	return fsutil.WriteFileAtomic(path, buf, fsutil.FileMode)
}
