package vault

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision outcomes recorded in audit entries.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
)

// Denial reasons.
const (
	ReasonMatrix    = "matrix"
	ReasonLegalHold = "legal_hold"
)

// AuditEntry is one self-contained JSON line in the daily audit file.
type AuditEntry struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	ActorID       string `json:"actor_id"`
	Action        string `json:"action"`
	ResourceID    string `json:"resource_id"`
	ResourceClass string `json:"resource_class"`
	Decision      string `json:"decision"`
	Reason        string `json:"reason,omitempty"`
	IP            string `json:"ip,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	Details       string `json:"details,omitempty"`
}

// AuditLog appends entries to one JSON-lines file per UTC day
// (audit_YYYY-MM-DD.jsonl). Writes are serialized by a single writer
// goroutine; readers re-open the files independently.
type AuditLog struct {
	dir     string
	entries chan auditMsg
	done    chan struct{}

	mu     sync.RWMutex
	mirror func(AuditEntry)
}

type auditMsg struct {
	entry AuditEntry
	ack   chan struct{} // non-nil for flush markers
}

// NewAuditLog creates the directory and starts the writer.
func NewAuditLog(dir string) (*AuditLog, error) {
	if dir == "" {
		dir = filepath.Join("logs", "audit")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	l := &AuditLog{
		dir:     dir,
		entries: make(chan auditMsg, 1024),
		done:    make(chan struct{}),
	}
	go l.writeLoop()
	return l, nil
}

// Append queues an audit entry. The id and timestamp are filled in when
// absent. Append never blocks the decision path for long: a full queue is
// written synchronously by the caller waiting on the channel.
func (l *AuditLog) Append(entry AuditEntry) {
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	l.entries <- auditMsg{entry: entry}
}

// SetMirror installs a secondary destination invoked by the writer for every
// entry after the file append. The mirror must not block for long.
func (l *AuditLog) SetMirror(fn func(AuditEntry)) {
	l.mu.Lock()
	l.mirror = fn
	l.mu.Unlock()
}

// Flush blocks until every previously appended entry is on disk.
func (l *AuditLog) Flush() {
	ack := make(chan struct{})
	l.entries <- auditMsg{ack: ack}
	<-ack
}

// Close flushes and stops the writer.
func (l *AuditLog) Close() {
	l.Flush()
	close(l.entries)
	<-l.done
}

func (l *AuditLog) writeLoop() {
	defer close(l.done)
	for msg := range l.entries {
		if msg.ack != nil {
			close(msg.ack)
			continue
		}
		if err := l.writeEntry(msg.entry); err != nil {
			slog.Warn("audit write failed", "error", err)
		}
		l.mu.RLock()
		mirror := l.mirror
		l.mu.RUnlock()
		if mirror != nil {
			mirror(msg.entry)
		}
	}
}

func (l *AuditLog) writeEntry(entry AuditEntry) error {
	ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	path := filepath.Join(l.dir, fileForDay(ts))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func fileForDay(ts time.Time) string {
	return "audit_" + ts.UTC().Format("2006-01-02") + ".jsonl"
}

// ReadDay returns the entries for one UTC day in append order. Missing files
// yield an empty slice.
func (l *AuditLog) ReadDay(day time.Time) ([]AuditEntry, error) {
	path := filepath.Join(l.dir, fileForDay(day))
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("corrupt audit line: %w", err)
		}
		out = append(out, entry)
	}
	return out, sc.Err()
}
