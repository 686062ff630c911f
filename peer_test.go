package incremental

import (
	"errors"
	"slices"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/incremental/unit"
)

func TestPeerLink(t *testing.T) {
	parent := newExecutor(t)
	child := newExecutor(t)
	load(t, parent, "", unit.Decl{Name: "parentFn"}, unit.Decl{Name: "foo"})
	if r, _ := child.ExecuteWrapper("parentFn", nil); r != ExeFunctionNotCompiled {
		t.Fatalf("unlinked child found parent symbol: %s", r)
	}
	link := fn.Panic1(child.RegisterExternalIncrementalExecutor(parent))
	if !link.Active() {
		t.Fatal("fresh link must be active")
	}
	var v Value
	if r, err := child.ExecuteWrapper("parentFn", &v); r != ExeSuccess || err != nil || v.Get() != "parent" {
		t.Fatalf("%s %v %v", r, err, v.Get())
	}
	if addr, fromJIT := child.GetAddressOfGlobal("parentFn"); addr == 0 || !fromJIT {
		t.Fatal("peer symbols are emitted code")
	}
	load(t, child, "", unit.Decl{Name: "bar"})
	v.Clear()
	if r, err := child.ExecuteWrapper("bar", &v); r != ExeSuccess || err != nil || v.Get() != 7 {
		t.Fatalf("link against peer: %s %v %v", r, err, v.Get())
	}
	parent.ShuttingDown()
	if link.Active() {
		t.Fatal("link must go quiet after peer shutdown")
	}
	if r, _ := child.ExecuteWrapper("parentFn", nil); r != ExeFunctionNotCompiled {
		t.Fatalf("shut down peer still consulted: %s", r)
	}
}

func TestPeerUnlink(t *testing.T) {
	parent := newExecutor(t)
	child := newExecutor(t)
	load(t, parent, "", unit.Decl{Name: "parentFn"})
	link := fn.Panic1(child.RegisterExternalIncrementalExecutor(parent))
	link.Unlink()
	if link.Active() {
		t.Fatal("unlinked link reports active")
	}
	if r, _ := child.ExecuteWrapper("parentFn", nil); r != ExeFunctionNotCompiled {
		t.Fatalf("unlinked peer still consulted: %s", r)
	}
	if parent.State(parent.Unit(1)) != unit.Loaded {
		t.Fatal("unlink must not touch the peer")
	}
}

func TestPeerMutual(t *testing.T) {
	a := newExecutor(t)
	b := newExecutor(t)
	fn.Panic1(a.RegisterExternalIncrementalExecutor(b))
	fn.Panic1(b.RegisterExternalIncrementalExecutor(a))
	if r, _ := a.ExecuteWrapper("nowhere", nil); r != ExeFunctionNotCompiled {
		t.Fatalf("mutual peers: %s", r)
	}
	if _, err := a.RegisterExternalIncrementalExecutor(a); !errors.Is(err, ErrSelfLink) {
		t.Fatalf("self link: %v", err)
	}
	if _, err := a.RegisterExternalIncrementalExecutor(nil); !errors.Is(err, ErrSelfLink) {
		t.Fatalf("nil link: %v", err)
	}
}

func TestPeerUnresolvedStaysWithAsker(t *testing.T) {
	parent := newExecutor(t)
	child := newExecutor(t)
	load(t, parent, "", unit.Decl{Name: "bar"})
	fn.Panic1(child.RegisterExternalIncrementalExecutor(parent))
	r, err := child.ExecuteWrapper("bar", nil)
	var ue *UnresolvedError
	if r != ExeUnresolvedSymbols || !errors.As(err, &ue) || !slices.Equal(ue.Symbols, []string{"main.foo"}) {
		t.Fatalf("child: %s %v", r, err)
	}
	if n := parent.Provider().Unresolved().Len(); n != 0 {
		t.Fatalf("parent recorded %d misses of the child", n)
	}
	load(t, parent, "", unit.Decl{Name: "parentFn"})
	var v Value
	if r, err = parent.ExecuteWrapper("parentFn", &v); r != ExeSuccess || err != nil || v.Get() != "parent" {
		t.Fatalf("parent: %s %v", r, err)
	}
	if _, err = child.ExecuteWrapper("foo", nil); err == nil {
		t.Fatal("foo is nowhere")
	}
}
