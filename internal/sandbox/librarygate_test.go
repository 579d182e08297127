package sandbox

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestLibraryGateStripsBaseDenylist(t *testing.T) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	gate := newLibraryGate(nil, newErrorTrap())
	if _, err := gate.load(L, gate.libs[""]); err != nil {
		t.Fatalf("load base lib: %v", err)
	}

	for _, name := range baseDenylist {
		if got := L.GetGlobal(name); got != lua.LNil {
			t.Fatalf("global %q survived the base denylist: %v", name, got)
		}
	}
	// A symbol not on the denylist must still be present.
	if got := L.GetGlobal("assert"); got == lua.LNil {
		t.Fatal("expected assert to remain available")
	}
}

func TestLibraryGateStripsOSDenylistAndTags(t *testing.T) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	gate := newLibraryGate(nil, newErrorTrap())
	tbl, ok, err := gate.loadByName(L, "os")
	if !ok || err != nil {
		t.Fatalf("loadByName(os) = (%v, %v, %v)", tbl, ok, err)
	}

	for _, name := range osDenylist {
		if got := tbl.RawGetString(name); got != lua.LNil {
			t.Fatalf("os.%s survived the denylist", name)
		}
	}
	if tbl.Metatable == nil {
		t.Fatal("expected a marker metatable to be attached")
	}
	// time is not denied and must remain callable.
	if got := tbl.RawGetString("time"); got == lua.LNil {
		t.Fatal("expected os.time to remain available")
	}
}

func TestLibraryGateUnknownNameNotFound(t *testing.T) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	gate := newLibraryGate(nil, newErrorTrap())
	_, ok, err := gate.loadByName(L, "nonexistent")
	if ok || err != nil {
		t.Fatalf("loadByName(nonexistent) = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestLibraryGateExtensionsRegisteredWhenPresent(t *testing.T) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	ext := newExtensionRegistry(nil)
	gate := newLibraryGate(ext, newErrorTrap())

	for _, name := range []string{"pb", "circular_buffer", "bloom_filter", "hyperloglog"} {
		if _, ok, err := gate.loadByName(L, name); !ok || err != nil {
			t.Fatalf("loadByName(%s) = (_, %v, %v)", name, ok, err)
		}
	}
}
