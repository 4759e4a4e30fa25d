package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStore_PutGet(t *testing.T) {
	st := NewStore()
	s := New("s1", "t1", nil, nil)
	st.Put(s)

	got, ok := st.Get("s1")
	if !ok || got != s {
		t.Fatalf("expected stored session, got %v %v", got, ok)
	}
	if _, ok := st.Get("missing"); ok {
		t.Error("expected missing session to be absent")
	}
}

func TestStore_RemoveIdempotent(t *testing.T) {
	st := NewStore()
	st.Put(New("s1", "", nil, nil))

	st.Remove("s1")
	st.Remove("s1")

	if _, ok := st.Get("s1"); ok {
		t.Error("expected session absent after remove")
	}
	if st.Len() != 0 {
		t.Errorf("expected empty store, got %d", st.Len())
	}
}

func TestStore_Lookup(t *testing.T) {
	st := NewStore()
	if _, err := st.Lookup("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListSorted(t *testing.T) {
	st := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		st.Put(New(id, "", nil, nil))
	}

	ids := st.List()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("unexpected list: %v", ids)
	}

	snap := st.Snapshot()
	if len(snap) != 3 || snap[0].ID != "a" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestStore_Concurrent(t *testing.T) {
	st := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			st.Put(New(id, "", nil, nil))
			st.Get(id)
			st.List()
			st.Remove(id)
		}(i)
	}
	wg.Wait()

	if st.Len() != 0 {
		t.Errorf("expected empty store, got %d", st.Len())
	}
}

func TestStore_CloseAll(t *testing.T) {
	st := NewStore()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("s-%d", i)
		st.Put(New(id, "", nil, nil, WithCloser(func() {
			go st.Remove(id)
		})))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := st.CloseAll(ctx); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if st.Len() != 0 {
		t.Errorf("expected drained store, got %d", st.Len())
	}
}

func TestStore_CloseAll_Timeout(t *testing.T) {
	st := NewStore()
	st.Put(New("stuck", "", nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := st.CloseAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
