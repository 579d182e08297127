package sandbox

import (
	lua "github.com/yuin/gopher-lua"
)

// buildEngine constructs the *lua.LState and wires the library gate,
// require resolver, and output() entry point around it. It does not
// run any guest code.
func buildEngine(cfg Config, out *outputBuffer, trap *errorTrap) (*lua.LState, *libraryGate, *requireResolver, error) {
	protoReg, err := cfg.buildProtoRegistry()
	if err != nil {
		return nil, nil, nil, err
	}
	ext := newExtensionRegistry(protoReg)

	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       256,
		IncludeGoStackTrace: false,
	})

	gate := newLibraryGate(ext, trap)
	if _, err := gate.load(L, gate.libs[""]); err != nil {
		L.Close()
		return nil, nil, nil, err
	}
	lua.OpenPackage(L)

	resolver, err := newRequireResolver(gate, cfg.Path)
	if err != nil {
		L.Close()
		return nil, nil, nil, err
	}
	resolver.install(L, trap)

	installOutputFunction(L, out, trap)
	installWriteStub(L)

	return L, gate, resolver, nil
}

// installOutputFunction registers the guest-visible output(...) function
// as a closure over out: the output buffer is threaded into registered
// functions as an upvalue rather than as global state. A failed
// serialize is trapped before RaiseError so Init/Invoke can recover the
// exact sentinel and message on the other side of PCall.
func installOutputFunction(L *lua.LState, out *outputBuffer, trap *errorTrap) {
	L.SetGlobal("output", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		values := make([]lua.LValue, top)
		for i := 1; i <= top; i++ {
			values[i-1] = L.Get(i)
		}
		if err := serializeOutput(L, out, values); err != nil {
			trap.set(err)
			L.RaiseError("%s", err.Error())
			return 0
		}
		return 0
	}))
}

// installWriteStub registers write() as a host-provided no-op, part of
// the minimal entry-point contract guest code can rely on existing.
func installWriteStub(L *lua.LState) {
	L.SetGlobal("write", L.NewFunction(func(L *lua.LState) int { return 0 }))
}
