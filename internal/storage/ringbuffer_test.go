package storage

import (
	"fmt"
	"sync"
	"testing"
)

func TestRingBufferOrderAndWrap(t *testing.T) {
	rb := NewRingBuffer[string](3)
	if rb.Size() != 0 || rb.Capacity() != 3 {
		t.Fatalf("unexpected initial state: size=%d cap=%d", rb.Size(), rb.Capacity())
	}

	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		rb.Add(id)
	}

	all := rb.GetAll()
	expected := []string{"t3", "t4", "t5"}
	if len(all) != len(expected) {
		t.Fatalf("expected %d items, got %d", len(expected), len(all))
	}
	for i, val := range all {
		if val != expected[i] {
			t.Errorf("at index %d: expected %q, got %q", i, expected[i], val)
		}
	}
}

func TestRingBufferAddReportsEviction(t *testing.T) {
	rb := NewRingBuffer[string](2)

	if _, evicted := rb.Add("a"); evicted {
		t.Fatal("no eviction expected while filling")
	}
	if _, evicted := rb.Add("b"); evicted {
		t.Fatal("no eviction expected at exactly capacity")
	}

	old, evicted := rb.Add("c")
	if !evicted || old != "a" {
		t.Fatalf("expected eviction of %q, got %q (evicted=%v)", "a", old, evicted)
	}
	old, evicted = rb.Add("d")
	if !evicted || old != "b" {
		t.Fatalf("expected eviction of %q, got %q (evicted=%v)", "b", old, evicted)
	}
}

func TestRingBufferGetRecent(t *testing.T) {
	rb := NewRingBuffer[int](10)
	for i := 0; i < 5; i++ {
		rb.Add(i)
	}

	recent := rb.GetRecent(3)
	expected := []int{2, 3, 4}
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent items, got %d", len(recent))
	}
	for i, val := range recent {
		if val != expected[i] {
			t.Errorf("at index %d: expected %d, got %d", i, expected[i], val)
		}
	}

	if got := rb.GetRecent(10); len(got) != 5 {
		t.Fatalf("expected 5 items when requesting more than available, got %d", len(got))
	}
}

func TestRingBufferClear(t *testing.T) {
	rb := NewRingBuffer[string](2)
	rb.Add("a")
	rb.Add("b")
	rb.Clear()

	if rb.Size() != 0 || rb.GetAll() != nil {
		t.Fatalf("expected empty buffer after clear, got %v", rb.GetAll())
	}
	if _, evicted := rb.Add("c"); evicted {
		t.Fatal("cleared buffer must not report eviction")
	}
	if rb.Size() != 1 {
		t.Fatalf("expected size 1 after adding post-clear, got %d", rb.Size())
	}
}

func TestRingBufferConcurrent(t *testing.T) {
	rb := NewRingBuffer[string](100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	evictions := 0

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, ev := rb.Add(fmt.Sprintf("%d-%d", w, j)); ev {
					mu.Lock()
					evictions++
					mu.Unlock()
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = rb.GetRecent(10)
				_ = rb.Size()
			}
		}()
	}
	wg.Wait()

	if rb.Size() != 100 {
		t.Fatalf("expected full buffer, got %d", rb.Size())
	}
	if evictions != 300 {
		t.Fatalf("expected 300 evictions, got %d", evictions)
	}
}
