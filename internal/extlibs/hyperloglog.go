package extlibs

import (
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	lua "github.com/yuin/gopher-lua"
)

// HyperLogLog is a fixed-register cardinality sketch: 2^p 6-bit-ish
// registers (stored one per byte for simplicity) each holding the
// largest rank (leading zeros + 1) seen among the hashes that mapped
// to that register. p controls the register count and hence the
// standard error (~1.04/sqrt(2^p)).
type HyperLogLog struct {
	registers []uint8
	p         uint
}

const hyperLogLogTypeName = "hyperloglog"

// NewHyperLogLog builds a sketch with 2^precision registers.
// precision is clamped to [4, 16], matching typical HLL implementations.
func NewHyperLogLog(precision int) *HyperLogLog {
	if precision < 4 {
		precision = 4
	}
	if precision > 16 {
		precision = 16
	}
	return &HyperLogLog{registers: make([]uint8, 1<<uint(precision)), p: uint(precision)}
}

func (h *HyperLogLog) Add(item string) {
	hash := xxhash.Sum64String(item)
	idx := hash >> (64 - h.p)
	rest := (hash << h.p) | (1 << (h.p - 1)) // ensure termination
	rank := uint8(bits.LeadingZeros64(rest) + 1)
	if rank > h.registers[idx] {
		h.registers[idx] = rank
	}
}

// Count returns the estimated cardinality using the standard HLL
// harmonic-mean estimator with the small-range (linear counting)
// correction; no large-range correction is applied.
func (h *HyperLogLog) Count() float64 {
	m := float64(len(h.registers))
	sum := 0.0
	zeros := 0
	for _, r := range h.registers {
		sum += 1.0 / math.Pow(2, float64(r))
		if r == 0 {
			zeros++
		}
	}
	alpha := 0.7213 / (1 + 1.079/m)
	estimate := alpha * m * m / sum

	if estimate <= 2.5*m && zeros > 0 {
		return m * math.Log(m/float64(zeros))
	}
	return estimate
}

func (h *HyperLogLog) Clear() {
	for i := range h.registers {
		h.registers[i] = 0
	}
}

func registerHyperLogLog(L *lua.LState) *lua.LTable {
	mt := L.NewTypeMetatable(hyperLogLogTypeName)
	methods := map[string]lua.LGFunction{
		"add": func(L *lua.LState) int {
			checkHyperLogLog(L).Add(L.CheckString(2))
			return 0
		},
		"count": func(L *lua.LState) int {
			L.Push(lua.LNumber(checkHyperLogLog(L).Count()))
			return 1
		},
		"clear": func(L *lua.LState) int {
			checkHyperLogLog(L).Clear()
			return 0
		},
	}
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), methods))

	tbl := L.NewTable()
	tbl.RawSetString("new", L.NewFunction(func(L *lua.LState) int {
		precision := L.OptInt(1, 12)
		hll := NewHyperLogLog(precision)
		ud := L.NewUserData()
		ud.Value = hll
		L.SetMetatable(ud, mt)
		L.Push(ud)
		return 1
	}))
	return tbl
}

func checkHyperLogLog(L *lua.LState) *HyperLogLog {
	ud := L.CheckUserData(1)
	hll, ok := ud.Value.(*HyperLogLog)
	if !ok {
		L.ArgError(1, "hyperloglog expected")
	}
	return hll
}
