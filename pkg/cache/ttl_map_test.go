package cache

import (
	"sync"
	"testing"
	"time"
)

func TestTTLMapUpdateSeesPreviousEntry(t *testing.T) {
	m := NewTTLMap[string, int]()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := now.Add(time.Minute)

	m.Update("k", func(cur int, _ time.Time, ok bool) (int, time.Time) {
		if ok {
			t.Fatalf("expected no entry on first update, got %d", cur)
		}
		return 1, exp
	})
	m.Update("k", func(cur int, gotExp time.Time, ok bool) (int, time.Time) {
		if !ok || cur != 1 || !gotExp.Equal(exp) {
			t.Fatalf("unexpected entry: cur=%d exp=%v ok=%v", cur, gotExp, ok)
		}
		return cur + 1, gotExp
	})

	v, gotExp, ok := m.Get("k")
	if !ok || v != 2 || !gotExp.Equal(exp) {
		t.Fatalf("Get = (%d, %v, %v), want (2, %v, true)", v, gotExp, ok, exp)
	}
}

func TestTTLMapPruneRemovesOnlyExpired(t *testing.T) {
	m := NewTTLMap[string, int]()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	set := func(key string, exp time.Time) {
		m.Update(key, func(int, time.Time, bool) (int, time.Time) { return 1, exp })
	}
	set("past", now.Add(-time.Second))
	set("exact", now)
	set("future", now.Add(time.Second))
	set("forever", time.Time{})

	if removed := m.Prune(now); removed != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", removed)
	}
	for _, key := range []string{"exact", "future", "forever"} {
		if _, _, ok := m.Get(key); !ok {
			t.Fatalf("expected %q to survive prune", key)
		}
	}
	if _, _, ok := m.Get("past"); ok {
		t.Fatal("expected past entry to be pruned")
	}
}

func TestTTLMapConcurrentUpdates(t *testing.T) {
	m := NewTTLMap[string, int]()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Update("k", func(cur int, exp time.Time, _ bool) (int, time.Time) { return cur + 1, exp })
		}()
	}
	wg.Wait()
	if v, _, _ := m.Get("k"); v != 64 {
		t.Fatalf("expected 64 after concurrent updates, got %d", v)
	}
	if m.Len() != 1 {
		t.Fatalf("expected one entry, got %d", m.Len())
	}
}
