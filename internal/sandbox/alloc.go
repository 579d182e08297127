package sandbox

import "runtime"

// memoryAccountant approximates an allocation interposer for engines,
// like gopher-lua, that expose no realloc-shaped allocator hook to
// charge individual allocations against: it samples process heap usage
// instead of intercepting malloc/free, making the memory limit
// advisory rather than exact.
//
// Samples are taken from the instruction interposer's existing ticker
// (instr.go) rather than a dedicated goroutine; sample() is cheap
// enough to run on every tick (runtime.ReadMemStats is O(1) relative
// to heap size on modern Go runtimes — it reads accumulated counters,
// not a live scan).
type memoryAccountant struct {
	quota    *quotaTable
	limit    uint64
	baseline uint64
}

func newMemoryAccountant(quota *quotaTable, limit uint64) *memoryAccountant {
	m := &memoryAccountant{quota: quota, limit: limit}
	quota.setLimit(ResourceMemory, limit)
	m.baseline = m.heapAlloc()
	return m
}

func (m *memoryAccountant) heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// sample updates CURRENT[MEMORY] from the process heap relative to the
// sandbox's creation-time baseline, and reports whether the limit (if
// any) has been exceeded. It never rejects an in-flight allocation the
// way a true interposer would — it is advisory only.
func (m *memoryAccountant) sample() (exceeded bool) {
	cur := m.heapAlloc()
	var delta uint64
	if cur > m.baseline {
		delta = cur - m.baseline
	}
	m.quota.setCurrent(ResourceMemory, delta)
	return m.limit != 0 && delta > m.limit
}

// zero resets CURRENT[MEMORY] to zero, as required when the sandbox
// terminates: TERMINATED is absorbing, and CURRENT[MEMORY] resets to
// zero while MAXIMUM is preserved.
func (m *memoryAccountant) zero() {
	m.quota.mu.Lock()
	m.quota.cell[ResourceMemory][MetricCurrent] = 0
	m.quota.mu.Unlock()
}
