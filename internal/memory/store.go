// Package memory keeps a bounded, persisted log of the bot's forum
// activity. The log is shared across chat sessions: any channel can ask
// for a summary or for the history of a single thread, so the agent can
// recall what happened on the forum while chatting elsewhere.
package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Kind string

const (
	KindBrowsed   Kind = "browsed"
	KindMentioned Kind = "mentioned"
	KindReplied   Kind = "replied"
	KindNewThread Kind = "new_thread"
	KindCreated   Kind = "created"
	KindDiary     Kind = "diary"
)

// Item is one recorded forum happening. Fields never change after the
// item is appended; only eviction and Clear mutate the log.
type Item struct {
	Kind      Kind           `json:"memory_type"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// storeFile is the versioned on-disk envelope. Version 0 (a bare JSON
// array of items) is still accepted on load.
type storeFile struct {
	Version int    `json:"version"`
	Items   []Item `json:"items"`
}

const storeFileVersion = 1

// Store is a FIFO-bounded activity log with write-through persistence.
// All mutations hold the lock for the full load-trim-persist sequence,
// so concurrent appends from the connection and browse goroutines stay
// consistent.
type Store struct {
	mu       sync.Mutex
	path     string
	maxItems int
	items    []Item
}

// NewStore loads any persisted log from path. An absent file is an
// empty store; an unreadable or corrupt file is logged and treated the
// same way.
func NewStore(path string, maxItems int) *Store {
	s := &Store{path: path, maxItems: maxItems}
	s.load()
	return s
}

func (s *Store) Add(kind Kind, content string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	item := Item{
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, item)
	if s.maxItems > 0 && len(s.items) > s.maxItems {
		s.items = s.items[len(s.items)-s.maxItems:]
	}
	s.save()
}

// Items returns recorded items newest first, optionally filtered by
// kind (empty kind matches everything) and capped at limit (0 = all).
func (s *Store) Items(kind Kind, limit int) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Item, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		if kind != "" && s.items[i].Kind != kind {
			continue
		}
		out = append(out, s.items[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

const emptySummary = "No recent forum activity."

// Summary renders the most recent limit items, one line per item,
// newest first.
func (s *Store) Summary(limit int) string {
	items := s.Items("", limit)
	if len(items) == 0 {
		return emptySummary
	}

	var buf bytes.Buffer
	for i, item := range items {
		if i > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "%s [%s] %s", kindMarker(item.Kind), item.Timestamp.Format("01-02 15:04"), item.Content)
	}
	return buf.String()
}

const threadContextMax = 5

// ThreadContext returns the up-to-5 most recent items referencing the
// given thread, oldest to newest, as a formatted block.
func (s *Store) ThreadContext(threadID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Item
	for _, item := range s.items {
		if itemThreadID(item) == threadID {
			matched = append(matched, item)
		}
	}
	if len(matched) == 0 {
		return fmt.Sprintf("No recorded activity for thread #%d.", threadID)
	}
	if len(matched) > threadContextMax {
		matched = matched[len(matched)-threadContextMax:]
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Recent activity in thread #%d:", threadID)
	for _, item := range matched {
		fmt.Fprintf(&buf, "\n- [%s] %s", item.Timestamp.Format("01-02 15:04"), item.Content)
	}
	return buf.String()
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.save()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func kindMarker(kind Kind) string {
	switch kind {
	case KindBrowsed:
		return "👀"
	case KindMentioned:
		return "📢"
	case KindReplied:
		return "💬"
	case KindNewThread:
		return "📝"
	case KindCreated:
		return "✍️"
	case KindDiary:
		return "📔"
	default:
		return "📌"
	}
}

// itemThreadID digs the thread id out of item metadata. Numbers arrive
// as int64 when written in-process and as float64 after a JSON reload.
func itemThreadID(item Item) int64 {
	switch v := item.Metadata["thread_id"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[memory] read %s failed: %v", s.path, err)
		}
		return
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		// Legacy layout: bare array of items.
		var items []Item
		if err := json.Unmarshal(trimmed, &items); err != nil {
			log.Printf("[memory] parse %s failed, starting empty: %v", s.path, err)
			return
		}
		s.items = items
		return
	}

	var file storeFile
	if err := json.Unmarshal(trimmed, &file); err != nil {
		log.Printf("[memory] parse %s failed, starting empty: %v", s.path, err)
		return
	}
	s.items = file.Items
}

// save persists the full log. Callers must hold s.mu. Failures are
// logged, never propagated: the in-memory log stays authoritative.
func (s *Store) save() {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		log.Printf("[memory] create dir for %s failed: %v", s.path, err)
		return
	}
	data, err := json.MarshalIndent(storeFile{Version: storeFileVersion, Items: s.items}, "", "  ")
	if err != nil {
		log.Printf("[memory] marshal memory failed: %v", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		log.Printf("[memory] write %s failed: %v", s.path, err)
	}
}
