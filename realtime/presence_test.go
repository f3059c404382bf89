package realtime

import (
	"fmt"
	"sync"
	"testing"
)

func TestPresenceFirstAndLast(t *testing.T) {
	p := NewPresence()
	a := newRecorder("h1", "u1")
	b := newRecorder("h2", "u1")

	if !p.Add(a) {
		t.Fatal("first handle should report first")
	}
	if p.Add(b) {
		t.Fatal("second handle should not report first")
	}
	if p.Add(a) {
		t.Fatal("re-adding a handle should not report first")
	}
	if !p.Online("u1") || len(p.HandlesOf("u1")) != 2 {
		t.Fatal("u1 should hold two handles")
	}
	if p.Remove(a) {
		t.Fatal("removing one of two handles is not last")
	}
	if !p.Remove(b) {
		t.Fatal("removing the final handle should report last")
	}
	if p.Remove(b) {
		t.Fatal("removing twice should not report last again")
	}
	if p.Online("u1") || len(p.HandlesOf("u1")) != 0 || p.Count() != 0 {
		t.Fatal("u1 should be offline")
	}
}

func TestPresenceAllUsersSorted(t *testing.T) {
	p := NewPresence()
	for _, uid := range []string{"c", "a", "b"} {
		p.Add(newRecorder("h-"+uid, uid))
	}
	got := p.AllUsers()
	if fmt.Sprint(got) != "[a b c]" {
		t.Fatalf("AllUsers = %v", got)
	}
}

func TestPresenceConcurrentChurn(t *testing.T) {
	p := NewPresence()
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts, lasts := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := newRecorder(fmt.Sprintf("h%d", i), "u1")
			if p.Add(h) {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
			_ = p.AllUsers()
			if p.Remove(h) {
				mu.Lock()
				lasts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if firsts != lasts {
		t.Fatalf("first/last transitions unbalanced: %d vs %d", firsts, lasts)
	}
	if p.Online("u1") {
		t.Fatal("u1 should be offline after churn")
	}
}
