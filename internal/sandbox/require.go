package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	lua "github.com/yuin/gopher-lua"
)

const maxRequirePathLen = 255

// requireResolver implements require(name): look in package.loaded,
// break cycles with a sentinel, dispatch known built-ins through the
// library gate, or fall back to a module root on disk. It is installed
// as the engine's require (replacing gopher-lua's own package.require),
// since the sandbox needs to enforce the allow-list before a single
// file is ever read.
type requireResolver struct {
	gate        *libraryGate
	modulesRoot string // empty = external modules disabled

	mu          sync.Mutex
	invalidated map[string]bool // names to force-reload despite a cache hit

	watcher *fsnotify.Watcher
}

func newRequireResolver(gate *libraryGate, modulesRoot string) (*requireResolver, error) {
	r := &requireResolver{
		gate:        gate,
		modulesRoot: modulesRoot,
		invalidated: make(map[string]bool),
	}
	if modulesRoot == "" {
		return r, nil
	}

	// Watch the module root so an on-disk edit invalidates the cached
	// module the next time it's required, the same hot-reload pattern
	// goop2's Lua engine applies to its script directory. Best-effort:
	// if the watcher can't be created (e.g. root doesn't exist yet),
	// require still works, it just never self-invalidates.
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(modulesRoot); err == nil {
			r.watcher = watcher
			go r.watchLoop()
		} else {
			_ = watcher.Close()
		}
	}
	return r, nil
}

func (r *requireResolver) watchLoop() {
	for event := range r.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
			continue
		}
		name := moduleNameFromPath(event.Name)
		if name == "" {
			continue
		}
		r.mu.Lock()
		r.invalidated[name] = true
		r.mu.Unlock()
	}
}

func moduleNameFromPath(path string) string {
	base := filepath.Base(path)
	const ext = ".lua"
	if len(base) <= len(ext) || base[len(base)-len(ext):] != ext {
		return ""
	}
	return base[:len(base)-len(ext)]
}

func (r *requireResolver) close() {
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
}

func (r *requireResolver) takeInvalidation(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.invalidated[name] {
		delete(r.invalidated, name)
		return true
	}
	return false
}

// packageLoaded returns the package.loaded table, opening the package
// library first if it hasn't been already.
func packageLoaded(L *lua.LState) *lua.LTable {
	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		lua.OpenPackage(L)
		pkg = L.GetGlobal("package").(*lua.LTable)
	}
	loaded, ok := pkg.RawGetString("loaded").(*lua.LTable)
	if !ok {
		loaded = L.NewTable()
		pkg.RawSetString("loaded", loaded)
	}
	return loaded
}

// install replaces the engine's require with the resolver's own
// implementation (which also binds cjson as a global the first time it
// is required). A failed resolution is trapped before RaiseError so
// Init/Invoke can recover the exact sentinel and message on the other
// side of PCall.
func (r *requireResolver) install(L *lua.LState, trap *errorTrap) {
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		v, err := r.require(L, name)
		if err != nil {
			trap.set(err)
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(v)
		return 1
	}))
}

// require looks the name up in package.loaded, dispatches built-ins
// through the gate, and otherwise resolves an external module file.
func (r *requireResolver) require(L *lua.LState, name string) (lua.LValue, error) {
	loaded := packageLoaded(L)

	if cur := loaded.RawGetString(name); cur != lua.LNil && !r.takeInvalidation(name) {
		return cur, nil
	}

	loaded.RawSetString(name, lua.LTrue) // sentinel breaks require cycles

	if tbl, ok, err := r.gate.loadByName(L, name); ok {
		if err != nil {
			loaded.RawSetString(name, lua.LNil)
			return nil, err
		}
		var v lua.LValue = lua.LNil
		if tbl != nil {
			v = tbl
		}
		loaded.RawSetString(name, v)
		if name == "cjson" {
			L.SetGlobal("cjson", v)
		}
		return v, nil
	}

	if r.modulesRoot == "" {
		loaded.RawSetString(name, lua.LNil)
		return nil, ErrModulesDisabled
	}

	if err := validateModuleName(name); err != nil {
		loaded.RawSetString(name, lua.LNil)
		return nil, err
	}

	path := filepath.Join(r.modulesRoot, name+".lua")
	if len(path) > maxRequirePathLen {
		loaded.RawSetString(name, lua.LNil)
		return nil, &requirePathExceededError{limit: maxRequirePathLen}
	}

	v, err := r.loadExternalModule(L, path)
	if err != nil {
		loaded.RawSetString(name, lua.LNil)
		return nil, err
	}
	if tbl, ok := v.(*lua.LTable); ok {
		tbl.Metatable = L.NewTable()
	}
	loaded.RawSetString(name, v)
	return v, nil
}

// validateModuleName requires every character to be an ASCII letter,
// digit, or underscore, so a module name can never encode a path
// traversal sequence.
func validateModuleName(name string) error {
	for _, c := range name {
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !isLetter && !isDigit && c != '_' {
			return &invalidModuleNameError{name: name}
		}
	}
	if name == "" {
		return &invalidModuleNameError{name: name}
	}
	return nil
}

func (r *requireResolver) loadExternalModule(L *lua.LState, path string) (lua.LValue, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("read module file: %w", err)
	}
	fn, err := L.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("execute module: %w", err)
	}
	v := L.Get(-1)
	L.Pop(1)
	return v, nil
}
