package extlibs

import lua "github.com/yuin/gopher-lua"

// RegisterCircularBuffer installs the circular_buffer module table.
func RegisterCircularBuffer(L *lua.LState) *lua.LTable { return registerCircularBuffer(L) }

// RegisterBloomFilter installs the bloom_filter module table.
func RegisterBloomFilter(L *lua.LState) *lua.LTable { return registerBloomFilter(L) }

// RegisterHyperLogLog installs the hyperloglog module table.
func RegisterHyperLogLog(L *lua.LState) *lua.LTable { return registerHyperLogLog(L) }

// RegisterPB installs the pb (protobuf) module table against registry.
// A nil registry yields a table whose encode/decode always report an
// unknown message type, matching a host that never configured
// ProtoDescriptors.
func RegisterPB(L *lua.LState, registry *ProtoRegistry) *lua.LTable { return registerPB(L, registry) }
