package sandbox

import (
	"encoding/json"
	"strconv"

	"github.com/birdsong-labs/luasandbox/internal/extlibs"
	lua "github.com/yuin/gopher-lua"
)

// extensionDumper is implemented by extension-type userdata that know
// how to serialize themselves into the output buffer; of the extlibs
// types only the circular buffer does. Types that don't implement it
// (bloom filter and hyperloglog included) are silently ignored.
type extensionDumper interface {
	DumpOutput(out extlibs.OutputAppender) error
}

// cycleSet is an identity set of already-visited tables, starting at
// capacity 64 and growing by doubling (here, Go's map growth already
// does the doubling; the initial size hint just avoids a couple of
// early rehashes).
type cycleSet struct {
	seen map[*lua.LTable]bool
}

func newCycleSet() *cycleSet {
	return &cycleSet{seen: make(map[*lua.LTable]bool, 64)}
}

func (c *cycleSet) enter(t *lua.LTable) bool {
	if c.seen[t] {
		return false
	}
	c.seen[t] = true
	return true
}

func (c *cycleSet) leave(t *lua.LTable) {
	delete(c.seen, t)
}

// serializeOutput backs the guest-callable output(...) entry point: it
// dispatches each positional argument by dynamic type and appends its
// encoding to out. Quota counters are updated (via out.commit, called
// from every successful append) even when a later argument in the same
// call fails, so usage reflects whatever was actually appended.
func serializeOutput(L *lua.LState, out *outputBuffer, values []lua.LValue) error {
	for _, v := range values {
		if err := serializeOne(L, out, v); err != nil {
			return err
		}
	}
	return nil
}

func serializeOne(L *lua.LState, out *outputBuffer, v lua.LValue) error {
	switch tv := v.(type) {
	case lua.LNumber:
		return out.appendStr(formatNumber(float64(tv)))
	case lua.LString:
		return out.appendStr(string(tv))
	case *lua.LNilType:
		return out.appendStr("nil")
	case lua.LBool:
		if bool(tv) {
			return out.appendStr("true")
		}
		return out.appendStr("false")
	case *lua.LTable:
		return serializeTable(L, out, tv)
	case *lua.LUserData:
		if dumper, ok := tv.Value.(extensionDumper); ok {
			return dumper.DumpOutput(out)
		}
		return nil // other: silently ignored
	default:
		return nil // other: silently ignored
	}
}

// formatNumber renders a full-precision, round-trippable decimal.
// strconv's 'g' formatter with precision -1 is Go's round-trip
// guarantee for float64.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// serializeTable renders a Lua table as JSON: encoding/json handles
// leaf scalar escaping, wrapped by a cycle-checked table walk (see
// DESIGN.md for why no Lua-table-aware third-party encoder could take
// the whole job). Any encoder error is preserved verbatim.
func serializeTable(L *lua.LState, out *outputBuffer, t *lua.LTable) error {
	cycles := newCycleSet()
	var buf []byte
	var encErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					encErr = err
				}
			}
		}()
		buf, encErr = encodeJSONTable(t, cycles)
	}()

	if encErr != nil {
		return encErr
	}
	if err := out.appendStr(string(buf)); err != nil {
		return err
	}
	return out.appendChar('\n')
}

// encodeJSONTable walks a Lua table and renders it as JSON. gopher-lua
// tables with only sequential integer keys starting at 1 (what
// t.Len() measures) render as JSON arrays; anything else renders as a
// JSON object with string keys, matching cjson's safe-mode behavior.
func encodeJSONTable(t *lua.LTable, cycles *cycleSet) ([]byte, error) {
	if !cycles.enter(t) {
		return nil, errCyclicTable
	}
	defer cycles.leave(t)

	if n := t.Len(); n > 0 && isSequentialArray(t, n) {
		var out []byte
		out = append(out, '[')
		for i := 1; i <= n; i++ {
			if i > 1 {
				out = append(out, ',')
			}
			enc, err := encodeJSONValue(t.RawGetInt(i), cycles)
			if err != nil {
				return nil, err
			}
			out = append(out, enc...)
		}
		out = append(out, ']')
		return out, nil
	}

	var out []byte
	out = append(out, '{')
	first := true
	var walkErr error
	t.ForEach(func(k, v lua.LValue) {
		if walkErr != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			key = lua.LString(k.String())
		}
		keyJSON, err := json.Marshal(string(key))
		if err != nil {
			walkErr = err
			return
		}
		valJSON, err := encodeJSONValue(v, cycles)
		if err != nil {
			walkErr = err
			return
		}
		if !first {
			out = append(out, ',')
		}
		first = false
		out = append(out, keyJSON...)
		out = append(out, ':')
		out = append(out, valJSON...)
	})
	if walkErr != nil {
		return nil, walkErr
	}
	out = append(out, '}')
	return out, nil
}

func isSequentialArray(t *lua.LTable, n int) bool {
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
	})
	return count == n
}

func encodeJSONValue(v lua.LValue, cycles *cycleSet) ([]byte, error) {
	switch tv := v.(type) {
	case lua.LNumber:
		return json.Marshal(float64(tv))
	case lua.LString:
		return json.Marshal(string(tv))
	case lua.LBool:
		return json.Marshal(bool(tv))
	case *lua.LNilType:
		return []byte("null"), nil
	case *lua.LTable:
		return encodeJSONTable(tv, cycles)
	default:
		return nil, errUnsupportedJSONValue
	}
}
