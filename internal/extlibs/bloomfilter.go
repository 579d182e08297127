package extlibs

import (
	"math"

	"github.com/cespare/xxhash/v2"
	lua "github.com/yuin/gopher-lua"
)

// BloomFilter is a fixed-size bit array with k hash probes derived
// from two xxhash.Sum64String values (of the item, and of the item
// with a salt suffix) via double hashing (h1 + i*h2), the standard
// trick for producing the k indices a bloom filter needs without k
// separate hash functions.
type BloomFilter struct {
	bits []uint64
	m    uint64 // number of bits
	k    int
}

const bloomFilterTypeName = "bloom_filter"

// NewBloomFilter sizes itself for n expected items at false-positive
// rate p using the standard m = -(n ln p) / (ln2)^2, k = (m/n) ln2
// formulas.
func NewBloomFilter(n int, p float64) *BloomFilter {
	if n < 1 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := int(math.Round((float64(m) / float64(n)) * math.Ln2))
	if k < 1 {
		k = 1
	}
	words := (m + 63) / 64
	return &BloomFilter{bits: make([]uint64, words), m: m, k: k}
}

func (b *BloomFilter) indices(item string) []uint64 {
	h1 := xxhash.Sum64String(item)
	h2 := xxhash.Sum64String(item + "\x00salt")
	idx := make([]uint64, b.k)
	for i := 0; i < b.k; i++ {
		idx[i] = (h1 + uint64(i)*h2) % b.m
	}
	return idx
}

func (b *BloomFilter) Add(item string) {
	for _, i := range b.indices(item) {
		b.bits[i/64] |= 1 << (i % 64)
	}
}

func (b *BloomFilter) Contains(item string) bool {
	for _, i := range b.indices(item) {
		if b.bits[i/64]&(1<<(i%64)) == 0 {
			return false
		}
	}
	return true
}

func (b *BloomFilter) Clear() {
	for i := range b.bits {
		b.bits[i] = 0
	}
}

func registerBloomFilter(L *lua.LState) *lua.LTable {
	mt := L.NewTypeMetatable(bloomFilterTypeName)
	methods := map[string]lua.LGFunction{
		"add": func(L *lua.LState) int {
			checkBloomFilter(L).Add(L.CheckString(2))
			return 0
		},
		"query": func(L *lua.LState) int {
			L.Push(lua.LBool(checkBloomFilter(L).Contains(L.CheckString(2))))
			return 1
		},
		"clear": func(L *lua.LState) int {
			checkBloomFilter(L).Clear()
			return 0
		},
	}
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), methods))

	tbl := L.NewTable()
	tbl.RawSetString("new", L.NewFunction(func(L *lua.LState) int {
		n := L.OptInt(1, 1000)
		p := float64(L.OptNumber(2, lua.LNumber(0.01)))
		bf := NewBloomFilter(n, p)
		ud := L.NewUserData()
		ud.Value = bf
		L.SetMetatable(ud, mt)
		L.Push(ud)
		return 1
	}))
	return tbl
}

func checkBloomFilter(L *lua.LState) *BloomFilter {
	ud := L.CheckUserData(1)
	bf, ok := ud.Value.(*BloomFilter)
	if !ok {
		L.ArgError(1, "bloom_filter expected")
	}
	return bf
}
