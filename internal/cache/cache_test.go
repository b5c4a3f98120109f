package cache

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGetOrCreateSingleCreation(t *testing.T) {
	c := NewMap[string, int](0)
	var creations atomic.Int32

	const callers = 64
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCreate("key", func() (int, error) {
				return int(creations.Add(1)), nil
			})
			if err != nil {
				t.Error(err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if got := creations.Load(); got != 1 {
		t.Fatalf("create ran %d times, want 1", got)
	}
	for i, v := range results {
		if v != results[0] {
			t.Fatalf("caller %d observed %d, caller 0 observed %d", i, v, results[0])
		}
	}
}

func TestCapacityStopsAdmitting(t *testing.T) {
	c := NewMap[int, int](2)
	c.Put(1, 1)
	c.Put(2, 2)
	c.Put(3, 3) // over capacity, dropped
	if _, ok := c.Get(3); ok {
		t.Error("entry admitted past capacity")
	}
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
	// existing keys may still be overwritten
	c.Put(1, 10)
	if v, _ := c.Get(1); v != 10 {
		t.Errorf("overwrite failed, got %d", v)
	}
	// a full cache still computes, it just stops caching
	v, err := c.GetOrCreate(4, func() (int, error) { return 40, nil })
	if err != nil || v != 40 {
		t.Fatalf("GetOrCreate over capacity = %d, %v", v, err)
	}
	if _, ok := c.Get(4); ok {
		t.Error("value cached past capacity")
	}
}

func TestClear(t *testing.T) {
	c := NewMap[int, int](4)
	c.Put(1, 1)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len after clear = %d", c.Len())
	}
	c.Put(1, 2)
	if v, _ := c.Get(1); v != 2 {
		t.Error("cache unusable after clear")
	}
}

func TestInterner(t *testing.T) {
	in := NewInterner(0)
	a := in.Intern("v16@0:8")
	b := in.Intern("v16" + "@0:8")
	if a != b {
		t.Error("interned strings differ")
	}
}
