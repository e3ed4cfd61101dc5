package protocol

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// AuditLog appends one JSON line per protocol run. Appends are serialized
// and each line is written whole, so a crash never leaves a torn record
// followed by more writes.
type AuditLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewAuditLog creates an audit log writing to path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path, now: time.Now}
}

type auditRecord struct {
	TS  string `json:"ts"`
	Run any    `json:"run"`
}

// Append writes one run record. The file is opened per append so the log
// survives external rotation.
func (a *AuditLog) Append(run any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	line, err := json.Marshal(auditRecord{TS: a.now().Format(time.RFC3339), Run: run})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
