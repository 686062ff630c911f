package native

import (
	"errors"
	"slices"
	"testing"
	"unsafe"

	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/symbol"
	"github.com/ZenLiuCN/incremental/unit"
)

var (
	greetSlot symbol.Addr
	total     int
)

func greet() string { return "hello" }

func callGreet() string {
	fv := &greetSlot
	return (*(*func() string)(unsafe.Pointer(&fv)))()
}

func TestFuncAddr(t *testing.T) {
	if FuncAddr(greet) == 0 || VarAddr(&total) == 0 {
		t.Fatal("zero address")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non function")
		}
	}()
	FuncAddr(1)
}

func TestLinkPatchesSlots(t *testing.T) {
	c := NewCatalog()
	c.DefineFunc("main.callGreet", callGreet, Reloc{Name: "main.greet", Slot: &greetSlot})
	c.DefineVar("main.total", &total)
	u := unit.New(1, "", 0, "", nil,
		unit.Decl{Name: "callGreet"},
		unit.Decl{Name: "total", Kind: unit.Global},
	)
	o, err := c.Emit(u)
	if err != nil {
		t.Fatal(err)
	}
	if got := o.Defines(); !slices.Equal(got, []string{"main.callGreet", "main.total"}) {
		t.Fatalf("defines %v", got)
	}
	_, err = o.Link(symbol.Map{})
	var le *backend.LinkError
	if !errors.As(err, &le) || !slices.Equal(le.Missing, []string{"main.greet"}) {
		t.Fatalf("expected link error for main.greet, got %v", err)
	}
	img, err := o.Link(symbol.Map{"main.greet": uintptr(FuncAddr(greet))})
	if err != nil {
		t.Fatal(err)
	}
	if greetSlot != FuncAddr(greet) {
		t.Fatal("slot not patched")
	}
	if got := callGreet(); got != "hello" {
		t.Fatalf("call through slot = %q", got)
	}
	if a, ok := img.Lookup("main.total"); !ok || a != VarAddr(&total) {
		t.Fatal("global not addressable")
	}
	if err = img.Unload(); err != nil {
		t.Fatal(err)
	}
	if greetSlot != 0 {
		t.Error("slot not cleared on unload")
	}
	if _, ok := img.Lookup("main.total"); ok {
		t.Error("lookup after unload")
	}
	if !errors.Is(img.Unload(), backend.ErrUnloaded) {
		t.Error("double unload must fail")
	}
}

type Call struct{}

func entry(*Call) {}

func TestEntryShape(t *testing.T) {
	if !IsEntry(entry) || IsEntry(greet) || IsEntry(func(*int) {}) || IsEntry(&total) {
		t.Fatal("entry shape")
	}
	c := NewCatalog()
	c.DefineFunc("main.entry", entry)
	c.DefineFunc("main.greet", greet)
	c.DefineVar("main.total", &total)
	o, err := c.Emit(unit.New(1, "", 0, "", nil,
		unit.Decl{Name: "entry"},
		unit.Decl{Name: "greet"},
		unit.Decl{Name: "total", Kind: unit.Global},
	))
	if err != nil {
		t.Fatal(err)
	}
	es := o.(backend.Entries)
	if ep, ok := es.Entry("main.entry"); !ok || ep.Symbol != "main.entry" || ep.Convention != backend.Direct {
		t.Fatalf("entry %+v %v", ep, ok)
	}
	for _, n := range []string{"main.greet", "main.total", "main.none"} {
		if _, ok := es.Entry(n); ok {
			t.Fatalf("%s is not an entry point", n)
		}
	}
}
