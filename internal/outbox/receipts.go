package outbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Receipt records the final outcome of one outbound delivery attempt chain.
type Receipt struct {
	TS      string         `json:"ts"`
	TurnID  string         `json:"turn_id,omitempty"`
	Channel string         `json:"channel"`
	Action  string         `json:"action"`
	OK      bool           `json:"ok"`
	Details map[string]any `json:"details,omitempty"`
}

// ReceiptLog is an append-only JSONL delivery log. Writes are best-effort;
// a failed append never fails the delivery it describes.
type ReceiptLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewReceiptLog creates a receipt log at path.
func NewReceiptLog(path string) *ReceiptLog {
	return &ReceiptLog{path: path, now: time.Now}
}

// Record appends one receipt. It reports whether the write succeeded.
func (r *ReceiptLog) Record(turnID, channel, action string, ok bool, details map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	receipt := Receipt{
		TS:      r.now().Format(time.RFC3339),
		TurnID:  turnID,
		Channel: channel,
		Action:  action,
		OK:      ok,
		Details: details,
	}
	line, err := json.Marshal(receipt)
	if err != nil {
		return false
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return false
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err == nil
}

// Recent returns up to limit receipts, oldest first, from the tail of the
// log. Torn lines are skipped.
func (r *ReceiptLog) Recent(limit int) []Receipt {
	if limit < 1 {
		limit = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil
	}
	var receipts []Receipt
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec Receipt
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		receipts = append(receipts, rec)
	}
	if len(receipts) > limit {
		receipts = receipts[len(receipts)-limit:]
	}
	return receipts
}
