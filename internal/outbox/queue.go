// Package outbox provides the durable outbound delivery queue and its
// receipt log. Outbound messages (sends to external channels) are journaled
// before the first attempt so a crash mid-delivery can be retried later.
package outbox

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Item is one queued outbound delivery. ID is derived from the content so
// re-enqueueing the same message is a no-op.
type Item struct {
	ID       string         `json:"id"`
	TS       string         `json:"ts"`
	Channel  string         `json:"channel"`
	Action   string         `json:"action"`
	Payload  map[string]any `json:"payload"`
	Attempts int            `json:"attempts"`
}

// Queue is a crash-safe JSONL queue. Every mutation rewrites the file
// atomically (temp file, fsync, rename) so the on-disk state is always the
// last complete snapshot.
type Queue struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewQueue creates a queue persisted at path.
func NewQueue(path string) *Queue {
	return &Queue{path: path, now: time.Now}
}

// contentKey hashes channel, action, and payload into a stable dedup id.
func contentKey(channel, action string, payload map[string]any) string {
	raw, err := json.Marshal(map[string]any{"c": channel, "a": action, "p": payload})
	if err != nil {
		raw = []byte(channel + "|" + action)
	}
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// Enqueue journals one delivery. It returns the item id and whether a new
// entry was written; an identical pending item keeps the queue unchanged.
func (q *Queue) Enqueue(channel, action string, payload map[string]any) (string, bool, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	item := Item{
		ID:      contentKey(channel, action, payload),
		TS:      q.now().Format(time.RFC3339),
		Channel: channel,
		Action:  action,
		Payload: payload,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.loadLocked()
	for _, existing := range items {
		if existing.ID == item.ID {
			return item.ID, false, nil
		}
	}
	items = append(items, item)
	if err := q.saveLocked(items); err != nil {
		return item.ID, false, err
	}
	return item.ID, true, nil
}

// Pending returns the queued items in enqueue order.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadLocked()
}

// Remove deletes the item with id, if present.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.loadLocked()
	kept := items[:0]
	for _, item := range items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	return q.saveLocked(kept)
}

// MarkAttempt bumps the attempt counter for id.
func (q *Queue) MarkAttempt(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.loadLocked()
	for i := range items {
		if items[i].ID == id {
			items[i].Attempts++
		}
	}
	return q.saveLocked(items)
}

// loadLocked reads the queue file, skipping blank and torn lines.
func (q *Queue) loadLocked() []Item {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		return nil
	}
	var items []Item
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items
}

// saveLocked rewrites the whole file atomically.
func (q *Queue) saveLocked(items []Item) error {
	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".queue-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc := json.NewEncoder(tmp)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			tmp.Close()
			return fmt.Errorf("encode queue item: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close queue file: %w", err)
	}
	if err := os.Rename(tmpName, q.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
