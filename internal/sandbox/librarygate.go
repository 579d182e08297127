package sandbox

import (
	lua "github.com/yuin/gopher-lua"
)

// libraryLoader installs a library and returns the table that was left
// on the engine (or nil for the root globals table, name == "").
type libraryLoader func(L *lua.LState) (*lua.LTable, error)

// libraryDescriptor is the (name, loader, denylist) triple the gate
// applies when a library is requested.
type libraryDescriptor struct {
	Name     string
	Loader   libraryLoader
	Denylist []string
}

// baseDenylist strips globals that would let guest code load or run
// code outside the sandbox's own compile/call path, or write to
// unstructured stdout instead of output(): the host supplies
// structured output via output() instead.
var baseDenylist = []string{
	"collectgarbage", "coroutine", "dofile", "load",
	"loadfile", "loadstring", "newproxy", "print",
}

var osDenylist = []string{
	"execute", "exit", "remove", "rename", "setlocale", "tmpname",
}

var cjsonDenylist = []string{
	"encode", "encode_sparse_array", "encode_max_depth",
	"encode_number_precision", "encode_keep_buffer", "encode_invalid_numbers",
}

// builtinLibraries is the full built-in library set, keyed by the
// require()-able name. "" is the root globals table, handled specially
// by the gate (denied entries are cleared directly from globals, and
// it is never itself cached under package.loaded).
func builtinLibraries(ext *extensionRegistry, trap *errorTrap) map[string]libraryDescriptor {
	libs := map[string]libraryDescriptor{
		"": {Name: "", Loader: loadBaseLib, Denylist: baseDenylist},
		"string": {Name: "string", Loader: loadStdlibTable("string", lua.OpenString)},
		"math":   {Name: "math", Loader: loadStdlibTable("math", lua.OpenMath)},
		"table":  {Name: "table", Loader: loadStdlibTable("table", lua.OpenTable)},
		"os":     {Name: "os", Loader: loadStdlibTable("os", lua.OpenOs), Denylist: osDenylist},
		"cjson":  {Name: "cjson", Loader: loadCjson(trap), Denylist: cjsonDenylist},
		"lpeg":   {Name: "lpeg", Loader: loadLpegStub},
	}
	if ext != nil {
		libs["pb"] = libraryDescriptor{Name: "pb", Loader: ext.loadPB}
		libs["circular_buffer"] = libraryDescriptor{Name: "circular_buffer", Loader: ext.loadCircularBuffer}
		libs["bloom_filter"] = libraryDescriptor{Name: "bloom_filter", Loader: ext.loadBloomFilter}
		libs["hyperloglog"] = libraryDescriptor{Name: "hyperloglog", Loader: ext.loadHyperLogLog}
	}
	return libs
}

func loadBaseLib(L *lua.LState) (*lua.LTable, error) {
	lua.OpenBase(L)
	return nil, nil
}

// loadStdlibTable adapts one of gopher-lua's lua.OpenX(L) loaders
// (which set a global table as a side effect rather than returning it)
// into a libraryLoader that hands the table back to the gate.
func loadStdlibTable(name string, open func(*lua.LState) int) libraryLoader {
	return func(L *lua.LState) (*lua.LTable, error) {
		open(L)
		tbl, ok := L.GetGlobal(name).(*lua.LTable)
		if !ok {
			return nil, ErrMissingModulesTable
		}
		return tbl, nil
	}
}

func loadLpegStub(L *lua.LState) (*lua.LTable, error) {
	// lpeg's pattern-matching engine has no Go implementation available
	// here, so only the registration contract is honored — an empty
	// table guest code can require() and hold a reference to, with no
	// denylist to apply.
	return L.NewTable(), nil
}

// libraryGate loads individual libraries into the engine, strips
// denied entries, and marker-tags the resulting tables.
type libraryGate struct {
	libs map[string]libraryDescriptor
}

func newLibraryGate(ext *extensionRegistry, trap *errorTrap) *libraryGate {
	return &libraryGate{libs: builtinLibraries(ext, trap)}
}

// load runs desc.Loader and applies the gate's policy. For the root
// globals table (desc.Name == "") denied entries are cleared directly
// from L's globals; for any other table, denied entries are cleared
// from the returned table and a fresh empty marker metatable is
// attached. The caller is responsible for registering the result under
// package.loaded[name].
func (g *libraryGate) load(L *lua.LState, desc libraryDescriptor) (*lua.LTable, error) {
	tbl, err := desc.Loader(L)
	if err != nil {
		return nil, err
	}

	if desc.Name == "" {
		for _, denied := range desc.Denylist {
			L.SetGlobal(denied, lua.LNil)
		}
		return nil, nil
	}

	for _, denied := range desc.Denylist {
		tbl.RawSetString(denied, lua.LNil)
	}
	tbl.Metatable = L.NewTable()
	return tbl, nil
}

// loadByName looks up and loads a built-in library by name, returning
// ok=false if name does not match a registered built-in.
func (g *libraryGate) loadByName(L *lua.LState, name string) (*lua.LTable, bool, error) {
	desc, ok := g.libs[name]
	if !ok {
		return nil, false, nil
	}
	tbl, err := g.load(L, desc)
	return tbl, true, err
}
