package backend_test

import (
	"errors"
	"testing"

	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/backend/native"
	"github.com/ZenLiuCN/incremental/unit"
)

func answer() int { return 42 }

type counting struct {
	backend.Backend
	calls int
}

func (c *counting) Emit(u *unit.Unit) (backend.Object, error) {
	c.calls++
	return c.Backend.Emit(u)
}

func TestCacheIdempotent(t *testing.T) {
	cat := native.NewCatalog()
	cat.DefineFunc("main.answer", answer)
	b := &counting{Backend: cat}
	c := backend.NewCache(b)
	u := unit.New(1, "", 2, "", nil, unit.Decl{Name: "answer"})
	o1, err := c.Emit(u)
	if err != nil {
		t.Fatal(err)
	}
	o2, err := c.Emit(u)
	if err != nil {
		t.Fatal(err)
	}
	if o1 != o2 || b.calls != 1 || !c.Cached(1) {
		t.Fatalf("emission not cached, calls=%d", b.calls)
	}
	c.Evict(1)
	if c.Cached(1) {
		t.Fatal("evicted object still cached")
	}
	if _, err = c.Emit(u); err != nil || b.calls != 2 {
		t.Fatalf("re-emission after evict: %v, calls=%d", err, b.calls)
	}
}

func TestCacheRejects(t *testing.T) {
	c := backend.NewCache(native.NewCatalog())
	_, err := c.Emit(unit.New(1, "", 7, "", nil))
	if !errors.Is(err, backend.ErrOptLevel) {
		t.Fatalf("expected ErrOptLevel, got %v", err)
	}
	_, err = c.Emit(unit.New(2, "", 0, "", nil, unit.Decl{Name: "nothing"}))
	if !errors.Is(err, backend.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if c.Cached(2) {
		t.Fatal("failure cached")
	}
}
