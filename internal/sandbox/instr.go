package sandbox

import (
	"context"
	"sync/atomic"
	"time"
)

// defaultInstructionsPerTick calibrates the wall-clock ticker that
// stands in for gopher-lua's missing per-opcode debug hook (PUC Lua's
// lua_sethook has no gopher-lua equivalent). Expressed as
// instructions-per-tick rather than instructions-per-opcode-dispatch;
// 1000 balances overhead against how far past the limit a runaway
// script can run before it's caught.
const defaultInstructionsPerTick = 1000

// tickInterval is how often the ticker fires. Smaller intervals give
// tighter bounding on how far a script overruns its limit, at the cost
// of more goroutine wakeups.
const tickInterval = 2 * time.Millisecond

// instructionInterposer fires periodically, and once the approximate
// instruction count crosses the limit it cancels the context
// gopher-lua's LState is watching, unwinding the running call the same
// way a ctx.Done()-driven Interrupt() bounds a runaway script in other
// embedded-interpreter sandboxes.
type instructionInterposer struct {
	quota    *quotaTable
	mem      *memoryAccountant
	perTick  uint64
	cancel   context.CancelFunc
	stopTick chan struct{}
	exceeded int32 // atomic bool
	memHit   int32 // atomic bool; which resource tripped the cancellation
}

// newInstructionInterposer ties the instruction ticker to the memory
// accountant: a nil mem disables the memory check on each tick without
// affecting instruction accounting.
func newInstructionInterposer(quota *quotaTable, limit uint64, mem *memoryAccountant) *instructionInterposer {
	quota.setLimit(ResourceInstructions, limit)
	return &instructionInterposer{
		quota:   quota,
		mem:     mem,
		perTick: defaultInstructionsPerTick,
	}
}

// start resets the instruction counter and begins ticking against ctx.
// It returns a derived context the caller should pass to
// LState.SetContext; cancelling it stops the ticker goroutine.
func (ii *instructionInterposer) start(parent context.Context) context.Context {
	ii.quota.reset(ResourceInstructions)
	atomic.StoreInt32(&ii.exceeded, 0)
	atomic.StoreInt32(&ii.memHit, 0)

	ctx, cancel := context.WithCancel(parent)
	ii.cancel = cancel
	stop := make(chan struct{})
	ii.stopTick = stop

	limit := ii.quota.peek(ResourceInstructions, MetricLimit)

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		var count uint64
		for {
			select {
			case <-ticker.C:
				count += ii.perTick
				ii.quota.setCurrent(ResourceInstructions, count)
				if limit != 0 && count > limit {
					atomic.StoreInt32(&ii.exceeded, 1)
					cancel()
					return
				}
				if ii.mem != nil && ii.mem.sample() {
					atomic.StoreInt32(&ii.memHit, 1)
					cancel()
					return
				}
			case <-stop:
				if ii.mem != nil {
					ii.mem.sample()
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx
}

// stop halts the ticker goroutine and cancels the derived context. It
// is called after every call, whether it finished normally or was
// interrupted.
func (ii *instructionInterposer) stop() {
	if ii.stopTick != nil {
		close(ii.stopTick)
		ii.stopTick = nil
	}
	if ii.cancel != nil {
		ii.cancel()
	}
}

// exceededLimit reports whether the interposer fired because the
// instruction limit, rather than some other cancellation, was hit.
func (ii *instructionInterposer) exceededLimit() bool {
	return atomic.LoadInt32(&ii.exceeded) == 1
}

// exceededMemory reports whether the interposer fired because the
// memory accountant's advisory sample crossed its limit.
func (ii *instructionInterposer) exceededMemory() bool {
	return atomic.LoadInt32(&ii.memHit) == 1
}
