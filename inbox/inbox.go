// Package inbox is the append-only operator event log: items a human should
// eventually review, with acknowledgement tracking. Items live in JSONL at
// <data_dir>/inbox/items.jsonl; acknowledgement rewrites the file
// atomically.
package inbox

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/ptops/ptriage/pterrors"
)

// ItemType classifies an inbox item.
type ItemType string

const (
	TypeDormantEscalation   ItemType = "dormant_escalation"
	TypeLockContention      ItemType = "lock_contention"
	TypeRespawnDetected     ItemType = "respawn_detected"
	TypeCalibrationDrift    ItemType = "calibration_drift"
	TypeMaintenanceReminder ItemType = "maintenance_reminder"
	TypeManual              ItemType = "manual"
)

// Item is one inbox entry.
type Item struct {
	ID            string    `json:"id"`
	Type          ItemType  `json:"type"`
	Summary       string    `json:"summary"`
	CreatedAt     time.Time `json:"created_at"`
	SessionID     string    `json:"session_id,omitempty"`
	ReviewCommand string    `json:"review_command,omitempty"`
	Acknowledged  bool      `json:"acknowledged"`
	AckedAt       *time.Time `json:"acked_at,omitempty"`
}

// NewItem builds an item with a fresh id.
func NewItem(t ItemType, summary string) Item {
	return Item{
		ID:        uuid.NewString(),
		Type:      t,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
}

// RespawnDetected builds the standard respawn-loop item.
func RespawnDetected(identityKey, recommendation, sessionID string) Item {
	item := NewItem(TypeRespawnDetected,
		"respawn loop detected for "+identityKey+"; recommended "+recommendation)
	item.SessionID = sessionID
	item.ReviewCommand = "ptriage respawn show " + identityKey
	return item
}

// Store reads and writes the inbox file. Safe for concurrent use within a
// process; cross-process writers rely on the atomic rewrite.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore builds a store rooted at the data directory.
func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, "inbox", "items.jsonl")}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// List returns every item, newest first.
func (s *Store) List() ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.read()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// ListUnread returns unacknowledged items, newest first.
func (s *Store) ListUnread() ([]Item, error) {
	items, err := s.List()
	if err != nil {
		return nil, err
	}
	unread := items[:0]
	for _, item := range items {
		if !item.Acknowledged {
			unread = append(unread, item)
		}
	}
	return unread, nil
}

// Add appends one item.
func (s *Store) Add(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return pterrors.Wrap(pterrors.KindIo, err, "create inbox dir")
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return pterrors.Wrap(pterrors.KindIo, err, "open inbox")
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(item)
}

// Acknowledge marks one item acknowledged and rewrites the file atomically.
func (s *Store) Acknowledge(itemID string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read()
	if err != nil {
		return Item{}, err
	}
	var acked *Item
	now := time.Now().UTC()
	for i := range items {
		if items[i].ID == itemID {
			items[i].Acknowledged = true
			items[i].AckedAt = &now
			acked = &items[i]
			break
		}
	}
	if acked == nil {
		return Item{}, pterrors.New(pterrors.KindSessionNotFound, "inbox item %s not found", itemID)
	}
	if err := s.rewrite(items); err != nil {
		return Item{}, err
	}
	return *acked, nil
}

// ClearAcknowledged removes acknowledged items, returning the count removed.
func (s *Store) ClearAcknowledged() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read()
	if err != nil {
		return 0, err
	}
	kept := items[:0]
	removed := 0
	for _, item := range items {
		if item.Acknowledged {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.rewrite(kept)
}

// ClearAll removes every item, returning the count removed.
func (s *Store) ClearAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read()
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	return len(items), s.rewrite(nil)
}

func (s *Store) read() ([]Item, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pterrors.Wrap(pterrors.KindIo, err, "open inbox")
	}
	defer f.Close()

	var items []Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var item Item
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			continue // skip malformed lines
		}
		items = append(items, item)
	}
	return items, scanner.Err()
}

func (s *Store) rewrite(items []Item) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return pterrors.Wrap(pterrors.KindJson, err, "encode inbox item")
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return pterrors.Wrap(pterrors.KindIo, err, "create inbox dir")
	}
	if err := renameio.WriteFile(s.path, buf.Bytes(), 0o600); err != nil {
		return pterrors.Wrap(pterrors.KindIo, err, "rewrite inbox")
	}
	return nil
}
