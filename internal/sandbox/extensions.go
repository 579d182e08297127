package sandbox

import (
	"github.com/birdsong-labs/luasandbox/internal/extlibs"
	lua "github.com/yuin/gopher-lua"
)

// extensionRegistry adapts the extlibs package's Register* functions to
// the libraryLoader shape the library gate expects, and carries the
// host-configured protobuf descriptor set through to the pb library.
type extensionRegistry struct {
	proto *extlibs.ProtoRegistry
}

func newExtensionRegistry(proto *extlibs.ProtoRegistry) *extensionRegistry {
	return &extensionRegistry{proto: proto}
}

func (e *extensionRegistry) loadCircularBuffer(L *lua.LState) (*lua.LTable, error) {
	return extlibs.RegisterCircularBuffer(L), nil
}

func (e *extensionRegistry) loadBloomFilter(L *lua.LState) (*lua.LTable, error) {
	return extlibs.RegisterBloomFilter(L), nil
}

func (e *extensionRegistry) loadHyperLogLog(L *lua.LState) (*lua.LTable, error) {
	return extlibs.RegisterHyperLogLog(L), nil
}

func (e *extensionRegistry) loadPB(L *lua.LState) (*lua.LTable, error) {
	return extlibs.RegisterPB(L, e.proto), nil
}
