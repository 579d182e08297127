package sandbox

import (
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// loadCjson returns a libraryLoader for a minimal safe-variant cjson
// table, closed over trap so encode/decode failures can be recovered
// verbatim on the other side of PCall. It carries both encode and
// decode so the gate's denylist has something real to strip: the
// "safe" cjson used inside the sandbox blocks direct guest access to
// encode and all of its tuning knobs (encode_max_depth and friends)
// because output()'s own serializer (serializer.go) is the sanctioned
// path for producing JSON from guest tables — cjson inside the sandbox
// exists so guest code can decode() JSON it received as input, not so
// it can hand-roll its own encoding.
func loadCjson(trap *errorTrap) libraryLoader {
	return func(L *lua.LState) (*lua.LTable, error) {
		tbl := L.NewTable()
		tbl.RawSetString("encode", L.NewFunction(cjsonEncode(trap)))
		tbl.RawSetString("decode", L.NewFunction(cjsonDecode(trap)))
		tbl.RawSetString("encode_sparse_array", L.NewFunction(cjsonNoop))
		tbl.RawSetString("encode_max_depth", L.NewFunction(cjsonNoop))
		tbl.RawSetString("encode_number_precision", L.NewFunction(cjsonNoop))
		tbl.RawSetString("encode_keep_buffer", L.NewFunction(cjsonNoop))
		tbl.RawSetString("encode_invalid_numbers", L.NewFunction(cjsonNoop))
		return tbl, nil
	}
}

func cjsonNoop(L *lua.LState) int { return 0 }

func cjsonEncode(trap *errorTrap) lua.LGFunction {
	return func(L *lua.LState) int {
		v := L.CheckAny(1)
		cycles := newCycleSet()
		enc, err := encodeJSONValue(v, cycles)
		if err != nil {
			trap.set(err)
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(lua.LString(enc))
		return 1
	}
}

func cjsonDecode(trap *errorTrap) lua.LGFunction {
	return func(L *lua.LState) int {
		s := L.CheckString(1)
		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			wrapped := fmt.Errorf("invalid JSON: %s", err)
			trap.set(wrapped)
			L.RaiseError("%s", wrapped.Error())
			return 0
		}
		L.Push(goToLua(L, v))
		return 1
	}
}

// goToLua converts a value produced by encoding/json.Unmarshal into a
// gopher-lua value, mapping JSON objects to Lua tables keyed by
// string, JSON arrays to 1-based sequential Lua tables, and numbers to
// lua.LNumber (Go's json package always decodes untyped numbers as
// float64, matching Lua 5.1's single numeric type).
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch tv := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(tv)
	case float64:
		return lua.LNumber(tv)
	case string:
		return lua.LString(tv)
	case []interface{}:
		tbl := L.NewTable()
		for _, item := range tv {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		for k, item := range tv {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}
