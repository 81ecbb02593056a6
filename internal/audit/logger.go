package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one account operation as written to the audit trail. Credentials
// never appear here; Subject is the identity id when one is known.
type Event struct {
	ID        string `json:"id"`
	At        string `json:"at"`
	RequestID string `json:"request_id,omitempty"`
	Client    string `json:"client,omitempty"`
	Operation string `json:"operation"`
	Subject   string `json:"subject,omitempty"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
}

// Logger appends events as JSON lines. A nil Logger or empty path discards.
type Logger struct {
	path    string
	nowFunc func() time.Time
	newID   func() string
	mu      sync.Mutex
}

func NewLogger(path string) *Logger {
	return &Logger{
		path:    path,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

func (l *Logger) Enabled() bool {
	return l != nil && l.path != ""
}

func (l *Logger) Record(e Event) error {
	if !l.Enabled() {
		return nil
	}
	if e.Operation == "" {
		return fmt.Errorf("audit event operation is required")
	}
	e.ID = l.newID()
	e.At = l.nowFunc().UTC().Format(time.RFC3339Nano)
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("mkdir audit log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write audit log entry: %w", err)
	}
	return nil
}
