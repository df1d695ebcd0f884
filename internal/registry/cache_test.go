package registry

import (
	"sync"
	"testing"
	"time"
)

func TestCache_FreshHit(t *testing.T) {
	c := NewSystemCache(30 * time.Second)
	c.Set("sys-1", &System{ID: "sys-1", Model: "gpt-4o"})

	result := c.Get("sys-1")
	if !result.Hit {
		t.Fatal("expected cache hit")
	}
	if result.NeedsRefresh {
		t.Fatal("expected fresh, got needs refresh")
	}
	if result.System.Model != "gpt-4o" {
		t.Fatalf("expected gpt-4o, got %s", result.System.Model)
	}
}

func TestCache_Miss(t *testing.T) {
	c := NewSystemCache(30 * time.Second)
	result := c.Get("nonexistent")
	if result.Hit {
		t.Fatal("expected miss")
	}
	if result.System != nil {
		t.Fatal("expected nil system on miss")
	}
}

func TestCache_NegativeCache(t *testing.T) {
	c := NewSystemCache(30 * time.Second)
	c.Set("unknown", nil)

	result := c.Get("unknown")
	if !result.Hit {
		t.Fatal("expected cache hit for negative cache")
	}
	if result.System != nil {
		t.Fatal("expected nil system for negative cache")
	}
}

func TestCache_StaleHit_OnlyOneRefreshSignal(t *testing.T) {
	c := NewSystemCache(time.Minute)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	c.Set("sys-1", &System{ID: "sys-1"})
	now = now.Add(90 * time.Second)

	var mu sync.Mutex
	refreshCount := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.Get("sys-1")
			if !result.Hit || result.System == nil {
				t.Error("expected stale hit with value")
			}
			if result.NeedsRefresh {
				mu.Lock()
				refreshCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if refreshCount != 1 {
		t.Fatalf("expected exactly 1 refresh signal, got %d", refreshCount)
	}

	// A failed refresh releases the entry for the next caller.
	c.Release("sys-1")
	if !c.Get("sys-1").NeedsRefresh {
		t.Fatal("expected refresh signal after release")
	}
}

func TestCache_SetAfterStale_ResetsFreshness(t *testing.T) {
	c := NewSystemCache(time.Millisecond)
	c.Set("sys-1", &System{ID: "sys-1", ApprovalStatus: StatusPending})
	time.Sleep(5 * time.Millisecond)

	c.Set("sys-1", &System{ID: "sys-1", ApprovalStatus: StatusApproved})
	result := c.Get("sys-1")
	if result.NeedsRefresh {
		t.Fatal("expected fresh after re-set")
	}
	if !result.System.Approved() {
		t.Fatalf("expected approved, got %s", result.System.ApprovalStatus)
	}
}

func TestCache_Delete(t *testing.T) {
	c := NewSystemCache(30 * time.Second)
	c.Set("sys-1", &System{ID: "sys-1"})
	c.Delete("sys-1")

	if c.Get("sys-1").Hit {
		t.Fatal("expected miss after delete")
	}
}

func TestCache_StaleBeyondBoundIsDropped(t *testing.T) {
	c := NewSystemCache(time.Minute)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	c.Set("sys-1", &System{ID: "sys-1", ApprovalStatus: StatusApproved})

	now = now.Add(2 * time.Minute)
	if c.Get("sys-1").Hit {
		t.Fatal("expected miss once the stale window has passed")
	}
	if _, ok := c.entries.Load("sys-1"); ok {
		t.Fatal("expected entry to be dropped")
	}
}

func TestCache_NegativeEntriesExpireSooner(t *testing.T) {
	tests := []struct {
		ttl     time.Duration
		wantNeg time.Duration
	}{
		{time.Minute, 15 * time.Second},
		{2 * time.Second, time.Second},
		{100 * time.Millisecond, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		c := NewSystemCache(tt.ttl)
		if c.negativeTTL != tt.wantNeg {
			t.Errorf("ttl %v: expected negative ttl %v, got %v", tt.ttl, tt.wantNeg, c.negativeTTL)
		}
	}

	c := NewSystemCache(time.Minute)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	c.Set("unknown", nil)
	c.Set("sys-1", &System{ID: "sys-1"})

	now = now.Add(20 * time.Second)
	if r := c.Get("unknown"); !r.NeedsRefresh {
		t.Fatal("expected negative entry to be stale after its shorter ttl")
	}
	if r := c.Get("sys-1"); r.NeedsRefresh {
		t.Fatal("expected positive entry to still be fresh")
	}
}
