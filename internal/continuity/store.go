// Package continuity persists cross-restart messaging-channel state: the
// primary chat id and the last seen message id per chat. It lets replies
// and edits keep working after a process restart without re-fetching
// channel history.
package continuity

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

type chatRow struct {
	LastMessageID any `json:"last_message_id,omitempty"`
}

type stateFile struct {
	PrimaryChatID any                `json:"primary_chat_id,omitempty"`
	PerChat       map[string]chatRow `json:"per_chat,omitempty"`
}

// Store is a small JSON-file state store. Ids keep whatever JSON type the
// remote channel reported (number or string). Writes replace the file
// atomically.
type Store struct {
	mu   sync.Mutex
	path string
	// fallbackIDs seeds the primary chat id from the security allowlist
	// when the state file has never been written.
	fallbackIDs []string
}

// Option configures a Store.
type Option func(*Store)

// WithFallbackChatIDs supplies allowlisted user ids used as the primary
// chat fallback before any state has been recorded.
func WithFallbackChatIDs(ids ...string) Option {
	return func(s *Store) { s.fallbackIDs = ids }
}

// NewStore creates a store backed by path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) load() stateFile {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return stateFile{}
	}
	var data stateFile
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return stateFile{}
	}
	return data
}

func (s *Store) save(data stateFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		tmp.Close()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func emptyID(id any) bool {
	if id == nil {
		return true
	}
	if s, ok := id.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func chatKey(id any) string {
	switch v := id.(type) {
	case json.Number:
		return v.String()
	case float64:
		// Decoded ids arrive as float64; large integral ids must not
		// turn into scientific notation keys.
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", id)
}

// PrimaryChatID returns the recorded primary chat, falling back to the
// first allowlisted id when no state exists yet.
func (s *Store) PrimaryChatID() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	if !emptyID(data.PrimaryChatID) {
		return data.PrimaryChatID, true
	}
	for _, raw := range s.fallbackIDs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, true
		}
		return raw, true
	}
	return nil, false
}

// SetPrimaryChatID records the primary chat. Empty ids are ignored.
func (s *Store) SetPrimaryChatID(chatID any) error {
	if emptyID(chatID) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	data.PrimaryChatID = chatID
	return s.save(data)
}

// LastMessageID returns the last recorded message id for chatID. A nil
// chatID means the primary chat.
func (s *Store) LastMessageID(chatID any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	if emptyID(chatID) {
		chatID = data.PrimaryChatID
	}
	if emptyID(chatID) {
		return nil, false
	}
	row, ok := data.PerChat[chatKey(chatID)]
	if !ok || row.LastMessageID == nil {
		return nil, false
	}
	return row.LastMessageID, true
}

// SetLastMessageID records the newest message id for chatID. The primary
// chat is initialized on first write.
func (s *Store) SetLastMessageID(chatID, messageID any) error {
	if emptyID(chatID) || emptyID(messageID) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.load()
	if data.PerChat == nil {
		data.PerChat = map[string]chatRow{}
	}
	data.PerChat[chatKey(chatID)] = chatRow{LastMessageID: messageID}
	if emptyID(data.PrimaryChatID) {
		data.PrimaryChatID = chatID
	}
	return s.save(data)
}

// UpdateFromSendResult extracts {result:{chat:{id},message_id}} from a
// send-message payload and records both ids. Unrecognized shapes are
// ignored.
func (s *Store) UpdateFromSendResult(payload any) bool {
	body, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	result, ok := body["result"].(map[string]any)
	if !ok {
		return false
	}
	chat, ok := result["chat"].(map[string]any)
	if !ok {
		return false
	}
	chatID := chat["id"]
	messageID := result["message_id"]
	err1 := s.SetPrimaryChatID(chatID)
	err2 := s.SetLastMessageID(chatID, messageID)
	return err1 == nil && err2 == nil && !emptyID(chatID)
}

// UpdateFromUpdatesResult scans a get-updates payload ({result:[...]}) for
// the newest private-chat message and records its chat and message ids.
func (s *Store) UpdateFromUpdatesResult(payload any) bool {
	body, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	items, ok := body["result"].([]any)
	if !ok {
		return false
	}
	for i := len(items) - 1; i >= 0; i-- {
		item, ok := items[i].(map[string]any)
		if !ok {
			continue
		}
		msg, ok := item["message"].(map[string]any)
		if !ok {
			continue
		}
		chat, ok := msg["chat"].(map[string]any)
		if !ok {
			continue
		}
		if !strings.EqualFold(fmt.Sprintf("%v", chat["type"]), "private") {
			continue
		}
		chatID := chat["id"]
		if emptyID(chatID) {
			return false
		}
		if err := s.SetLastMessageID(chatID, msg["message_id"]); err != nil {
			return false
		}
		return s.SetPrimaryChatID(chatID) == nil
	}
	return false
}
