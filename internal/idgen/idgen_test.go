package idgen

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNextIsPrefixedAndOrdered(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewWithClock(func() time.Time { return fixed })

	prev := ""
	for i := 0; i < 100; i++ {
		id := a.Next(PrefixTransaction)
		if !strings.HasPrefix(id, PrefixTransaction) {
			t.Fatalf("expected TXN prefix, got %s", id)
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %s <= %s", id, prev)
		}
		prev = id
	}
}

func TestNextUniqueUnderConcurrency(t *testing.T) {
	a := New()
	const workers, per = 8, 250

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*per)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id := a.Next(PrefixMoneyRequest)
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*per {
		t.Fatalf("expected %d unique ids, got %d", workers*per, len(seen))
	}
}
