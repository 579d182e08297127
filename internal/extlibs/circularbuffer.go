// Package extlibs implements the registration contract for the
// aggregate data-structure extensions (circular_buffer, bloom_filter,
// hyperloglog) plus the pb (protobuf) serializer facade. These are
// intentionally compact rather than feature-complete, sized to
// exercise require(), the library gate's denylist/marker-metatable
// machinery, and (for circular_buffer) the serializer's extension-type
// dump path end to end.
package extlibs

import (
	"encoding/binary"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// OutputAppender is the subset of the sandbox's output buffer that an
// extension type needs in order to dump itself. It mirrors
// sandbox.outputBuffer's AppendBytes so extlibs doesn't need to import
// the sandbox package (which imports extlibs), avoiding a cycle.
type OutputAppender interface {
	AppendBytes(b []byte) error
}

// CircularBuffer is a fixed-size rows x columns time-series matrix,
// the same shape as the circular_buffer extension in the upstream
// sandbox this module is modeled after: each row holds one time tick,
// each column one named metric, and the buffer silently advances
// (overwriting the oldest row) once full rather than growing.
type CircularBuffer struct {
	rows        int
	cols        int
	secondsRow  int64 // width of one row, in seconds
	data        [][]float64
	currentTime int64 // timestamp of the newest row
	oldestTime  int64
}

const circularBufferTypeName = "circular_buffer"

// NewCircularBuffer allocates a buffer with the given shape. rows and
// cols must be positive; secondsPerRow controls how Set/Add bucket a
// given timestamp into a row.
func NewCircularBuffer(rows, cols int, secondsPerRow int64) *CircularBuffer {
	data := make([][]float64, rows)
	for i := range data {
		row := make([]float64, cols)
		for j := range row {
			row[j] = math.NaN()
		}
		data[i] = row
	}
	return &CircularBuffer{rows: rows, cols: cols, secondsRow: secondsPerRow, data: data}
}

func (c *CircularBuffer) rowIndex(t int64) (int, bool) {
	if c.currentTime == 0 {
		c.currentTime = t
		c.oldestTime = t - int64(c.rows-1)*c.secondsRow
	}
	if t < c.oldestTime {
		return 0, false
	}
	if t > c.currentTime {
		advance := (t - c.currentTime) / c.secondsRow
		if advance > 0 {
			c.advance(int(advance))
		}
	}
	offset := (t - c.oldestTime) / c.secondsRow
	if offset < 0 || offset >= int64(c.rows) {
		return 0, false
	}
	return int(offset), true
}

func (c *CircularBuffer) advance(rows int) {
	if rows >= c.rows {
		for i := range c.data {
			for j := range c.data[i] {
				c.data[i][j] = math.NaN()
			}
		}
	} else {
		c.data = append(c.data[rows:], c.data[:rows]...)
		for i := c.rows - rows; i < c.rows; i++ {
			for j := range c.data[i] {
				c.data[i][j] = math.NaN()
			}
		}
	}
	c.currentTime += int64(rows) * c.secondsRow
	c.oldestTime += int64(rows) * c.secondsRow
}

// Set overwrites a cell; Add accumulates into it (NaN treated as 0).
func (c *CircularBuffer) Set(t int64, col int, value float64) bool {
	row, ok := c.rowIndex(t)
	if !ok || col < 0 || col >= c.cols {
		return false
	}
	c.data[row][col] = value
	return true
}

func (c *CircularBuffer) Add(t int64, col int, value float64) (float64, bool) {
	row, ok := c.rowIndex(t)
	if !ok || col < 0 || col >= c.cols {
		return 0, false
	}
	if math.IsNaN(c.data[row][col]) {
		c.data[row][col] = 0
	}
	c.data[row][col] += value
	return c.data[row][col], true
}

func (c *CircularBuffer) Get(t int64, col int) (float64, bool) {
	row, ok := c.rowIndex(t)
	if !ok || col < 0 || col >= c.cols {
		return 0, false
	}
	return c.data[row][col], true
}

// DumpOutput implements the sandbox's extensionDumper interface: a
// type-specific binary dump straight into the output buffer. It writes
// a small header (row count, column count, row width in seconds,
// oldest timestamp) followed by the matrix in row-major float64 order,
// all little-endian.
func (c *CircularBuffer) DumpOutput(out OutputAppender) error {
	buf := make([]byte, 0, 32+8*c.rows*c.cols)
	header := make([]byte, 32)
	binary.LittleEndian.PutUint64(header[0:8], uint64(c.rows))
	binary.LittleEndian.PutUint64(header[8:16], uint64(c.cols))
	binary.LittleEndian.PutUint64(header[16:24], uint64(c.secondsRow))
	binary.LittleEndian.PutUint64(header[24:32], uint64(c.oldestTime))
	buf = append(buf, header...)
	for _, row := range c.data {
		for _, v := range row {
			var cell [8]byte
			binary.LittleEndian.PutUint64(cell[:], math.Float64bits(v))
			buf = append(buf, cell[:]...)
		}
	}
	return out.AppendBytes(buf)
}

// registerCircularBuffer installs the circular_buffer module table:
// new(rows, cols, seconds_per_row) returns a userdata-backed buffer
// object with set/add/get methods.
func registerCircularBuffer(L *lua.LState) *lua.LTable {
	mt := L.NewTypeMetatable(circularBufferTypeName)
	methods := map[string]lua.LGFunction{
		"set": func(L *lua.LState) int {
			cb := checkCircularBuffer(L)
			t := int64(L.CheckNumber(2))
			col := L.CheckInt(3) - 1
			val := float64(L.CheckNumber(4))
			L.Push(lua.LBool(cb.Set(t, col, val)))
			return 1
		},
		"add": func(L *lua.LState) int {
			cb := checkCircularBuffer(L)
			t := int64(L.CheckNumber(2))
			col := L.CheckInt(3) - 1
			val := float64(L.CheckNumber(4))
			sum, ok := cb.Add(t, col, val)
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LNumber(sum))
			return 1
		},
		"get": func(L *lua.LState) int {
			cb := checkCircularBuffer(L)
			t := int64(L.CheckNumber(2))
			col := L.CheckInt(3) - 1
			val, ok := cb.Get(t, col)
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LNumber(val))
			return 1
		},
	}
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), methods))

	tbl := L.NewTable()
	tbl.RawSetString("new", L.NewFunction(func(L *lua.LState) int {
		rows := L.CheckInt(1)
		cols := L.CheckInt(2)
		secs := int64(L.OptInt(3, 1))
		cb := NewCircularBuffer(rows, cols, secs)
		ud := L.NewUserData()
		ud.Value = cb
		L.SetMetatable(ud, mt)
		L.Push(ud)
		return 1
	}))
	return tbl
}

func checkCircularBuffer(L *lua.LState) *CircularBuffer {
	ud := L.CheckUserData(1)
	cb, ok := ud.Value.(*CircularBuffer)
	if !ok {
		L.ArgError(1, "circular_buffer expected")
	}
	return cb
}
