package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T, maxItems int) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "forum_memory.json"), maxItems)
}

func TestStore_FIFOEviction(t *testing.T) {
	s := newTestStore(t, 3)

	for i := 1; i <= 7; i++ {
		s.Add(KindReplied, fmt.Sprintf("event %d", i), nil)
	}

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}

	items := s.Items("", 0)
	// Newest first: events 7, 6, 5. The oldest four were evicted.
	want := []string{"event 7", "event 6", "event 5"}
	for i, w := range want {
		if items[i].Content != w {
			t.Errorf("items[%d] = %q, want %q", i, items[i].Content, w)
		}
	}
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum_memory.json")

	s := NewStore(path, 10)
	s.Add(KindMentioned, "mentioned by ada in «Hello»: hi", map[string]any{
		"thread_id":    int64(42),
		"thread_title": "Hello",
		"from_user":    "ada",
	})
	s.Add(KindDiary, "wrote about the forum today", nil)

	reloaded := NewStore(path, 10)
	if reloaded.Len() != 2 {
		t.Fatalf("reloaded Len = %d, want 2", reloaded.Len())
	}

	orig := s.Items("", 0)
	got := reloaded.Items("", 0)
	for i := range orig {
		if got[i].Kind != orig[i].Kind {
			t.Errorf("item %d kind = %q, want %q", i, got[i].Kind, orig[i].Kind)
		}
		if got[i].Content != orig[i].Content {
			t.Errorf("item %d content = %q, want %q", i, got[i].Content, orig[i].Content)
		}
		if !got[i].Timestamp.Equal(orig[i].Timestamp) {
			t.Errorf("item %d timestamp = %v, want %v", i, got[i].Timestamp, orig[i].Timestamp)
		}
	}
	if itemThreadID(got[1]) != 42 {
		t.Errorf("reloaded thread_id = %d, want 42", itemThreadID(got[1]))
	}
}

func TestStore_LoadLegacyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum_memory.json")
	legacy := `[{"memory_type":"replied","content":"old entry","timestamp":"2026-01-02T15:04:05Z","metadata":{}}]`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path, 10)
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if got := s.Items("", 0)[0].Content; got != "old entry" {
		t.Errorf("content = %q, want old entry", got)
	}
}

func TestStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum_memory.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path, 10)
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0 for corrupt file", s.Len())
	}

	// The store must still be usable after the bad load.
	s.Add(KindBrowsed, "back in business", nil)
	if s.Len() != 1 {
		t.Fatalf("Len after Add = %d, want 1", s.Len())
	}
}

func TestStore_ItemsKindFilter(t *testing.T) {
	s := newTestStore(t, 20)
	s.Add(KindMentioned, "m1", nil)
	s.Add(KindReplied, "r1", nil)
	s.Add(KindMentioned, "m2", nil)

	mentions := s.Items(KindMentioned, 0)
	if len(mentions) != 2 {
		t.Fatalf("mentions = %d, want 2", len(mentions))
	}
	if mentions[0].Content != "m2" || mentions[1].Content != "m1" {
		t.Errorf("mentions order = %q,%q, want m2,m1", mentions[0].Content, mentions[1].Content)
	}

	limited := s.Items("", 2)
	if len(limited) != 2 {
		t.Fatalf("limited = %d, want 2", len(limited))
	}
	if limited[0].Content != "m2" {
		t.Errorf("newest = %q, want m2", limited[0].Content)
	}
}

func TestStore_SummaryNewestFirst(t *testing.T) {
	s := newTestStore(t, 20)
	for i := 1; i <= 10; i++ {
		s.Add(KindReplied, fmt.Sprintf("event %d", i), nil)
	}

	out := s.Summary(3)
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("summary lines = %d, want 3:\n%s", len(lines), out)
	}
	for i, want := range []string{"event 10", "event 9", "event 8"} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d = %q, want to contain %q", i, lines[i], want)
		}
	}
}

func TestStore_SummaryEmpty(t *testing.T) {
	s := newTestStore(t, 10)
	if got := s.Summary(5); got != emptySummary {
		t.Errorf("Summary on empty store = %q, want %q", got, emptySummary)
	}
}

func TestStore_SummarySingleItem(t *testing.T) {
	s := newTestStore(t, 10)
	s.Add(KindMentioned, "X", nil)

	out := s.Summary(1)
	if out == emptySummary {
		t.Fatal("expected real summary, got empty-store message")
	}
	if !strings.Contains(out, "X") {
		t.Errorf("summary = %q, want to contain X", out)
	}
	if strings.Count(out, "\n") != 0 {
		t.Errorf("summary should be a single line, got %q", out)
	}
}

func TestStore_ThreadContext(t *testing.T) {
	s := newTestStore(t, 20)
	for i := 1; i <= 7; i++ {
		s.Add(KindReplied, fmt.Sprintf("thread event %d", i), map[string]any{"thread_id": int64(42)})
	}
	for i := 1; i <= 3; i++ {
		s.Add(KindReplied, fmt.Sprintf("other event %d", i), map[string]any{"thread_id": int64(99)})
	}

	out := s.ThreadContext(42)
	for _, unwanted := range []string{"other event", "thread event 1", "thread event 2"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("context should not contain %q:\n%s", unwanted, out)
		}
	}
	// The 5 most recent of the 7, oldest to newest.
	idx := -1
	for _, want := range []string{"thread event 3", "thread event 4", "thread event 5", "thread event 6", "thread event 7"} {
		at := strings.Index(out, want)
		if at < 0 {
			t.Fatalf("context missing %q:\n%s", want, out)
		}
		if at < idx {
			t.Errorf("%q out of order:\n%s", want, out)
		}
		idx = at
	}
}

func TestStore_ThreadContextNoMatch(t *testing.T) {
	s := newTestStore(t, 10)
	s.Add(KindReplied, "unrelated", map[string]any{"thread_id": int64(7)})

	out := s.ThreadContext(42)
	if !strings.Contains(out, "No recorded activity") {
		t.Errorf("expected no-activity message, got %q", out)
	}
}

func TestStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum_memory.json")
	s := NewStore(path, 10)
	s.Add(KindBrowsed, "something", nil)

	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", s.Len())
	}

	// Clear persists the empty state.
	reloaded := NewStore(path, 10)
	if reloaded.Len() != 0 {
		t.Fatalf("reloaded Len = %d, want 0", reloaded.Len())
	}
}
