package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/birdsong-labs/luasandbox/internal/logging"
	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// State is one of the three points in a sandbox's lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const maxErrorMessageBytes = 4096

// EntryPoint is the guest-defined global the host invokes on each
// Invoke call.
const EntryPoint = "process"

// Sandbox is the top-level entity: it exclusively owns an engine
// handle, a quota table, an output buffer, and an error slot, and
// walks the UNINITIALIZED -> RUNNING -> TERMINATED state machine.
type Sandbox struct {
	mu sync.Mutex

	id      uuid.UUID
	cfg     Config
	state   State
	L       *lua.LState
	quota   *quotaTable
	out     *outputBuffer
	mem     *memoryAccountant
	instr   *instructionInterposer
	gate    *libraryGate
	require *requireResolver
	errTrap *errorTrap
	logger  *zap.Logger

	errMsg string
}

// New allocates an engine with the interposers attached, but runs no
// guest code yet.
func New(cfg Config) (*Sandbox, error) {
	quota := newQuotaTable()
	out := newOutputBuffer(cfg.OutputLimit, quota)
	quota.setLimit(ResourceOutput, uint64(cfg.OutputLimit))

	trap := newErrorTrap()
	L, gate, resolver, err := buildEngine(cfg, out, trap)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	mem := newMemoryAccountant(quota, cfg.MemoryLimit)
	id := uuid.New()
	sb := &Sandbox{
		id:      id,
		cfg:     cfg,
		state:   StateUninitialized,
		L:       L,
		quota:   quota,
		out:     out,
		mem:     mem,
		instr:   newInstructionInterposer(quota, cfg.InstructionLimit, mem),
		gate:    gate,
		require: resolver,
		errTrap: trap,
		logger:  logging.Tagged(cfg.logger(), logging.CategorySandbox).With(zap.String("sandbox_id", id.String())),
	}
	sb.logger.Debug("sandbox created",
		zap.Uint64("memory_limit", cfg.MemoryLimit),
		zap.Uint64("instruction_limit", cfg.InstructionLimit),
		zap.Int("output_limit", cfg.OutputLimit),
	)
	return sb, nil
}

// Init loads and runs the guest source, transitioning UNINITIALIZED ->
// RUNNING on success, or -> TERMINATED with the error recorded on
// failure.
func (s *Sandbox) Init(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return ErrAlreadyInitialized
	}

	fn, err := s.L.LoadString(source)
	if err != nil {
		return s.fail(fmt.Errorf("compile guest source: %w", err))
	}

	ctx := s.instr.start(context.Background())
	s.L.SetContext(ctx)
	defer s.instr.stop()

	s.L.Push(fn)
	if err := s.L.PCall(0, lua.MultRet, nil); err != nil {
		return s.fail(s.resolveCallErr(err, "run guest source: %w"))
	}

	s.mem.sample()
	s.state = StateRunning
	s.logger.Info("sandbox initialized")
	return nil
}

// Invoke resets the instruction counter, calls the process(arg) entry
// point, collects its integer return, and leaves output in the buffer
// for the caller to drain with Output(). A guest-raised error
// transitions the sandbox to TERMINATED; the return value in that case
// is a nonzero status alongside the error.
func (s *Sandbox) Invoke(arg int) (status int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return -1, ErrNotInitialized
	}

	entry := s.L.GetGlobal(EntryPoint)
	if entry == lua.LNil {
		return -1, s.fail(ErrNoEntryPoint)
	}

	ctx := s.instr.start(context.Background())
	s.L.SetContext(ctx)
	defer s.instr.stop()

	s.errTrap.take() // drop an error a previous call's guest code caught

	callErr := s.L.CallByParam(lua.P{
		Fn:      entry,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(arg))

	s.mem.sample()

	if callErr != nil {
		return -1, s.fail(s.resolveCallErr(callErr, "guest error: %w"))
	}

	ret := s.L.Get(-1)
	s.L.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		return -1, s.fail(fmt.Errorf("process() must return an integer status"))
	}
	return int(n), nil
}

// Terminate closes the engine, zeroes CURRENT[MEMORY], and freezes the
// rest. TERMINATED is absorbing — calling Terminate on an
// already-terminated sandbox is a no-op.
func (s *Sandbox) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminateLocked()
}

func (s *Sandbox) terminateLocked() {
	if s.state == StateTerminated {
		return
	}
	s.instr.stop()
	s.require.close()
	if s.L != nil {
		s.L.Close()
	}
	s.mem.zero()
	s.state = StateTerminated
	s.logger.Info("sandbox terminated", zap.String("last_error", s.errMsg))
}

// resolveCallErr turns a failed PCall/CallByParam's *lua.ApiError into
// the error that should be recorded and returned. gopher-lua's
// ApiError carries only the raised string, not the Go error's identity,
// so the trap set by output()/require()/cjson before they called
// RaiseError takes priority — it recovers the original sentinel and its
// exact message. Instruction/memory exhaustion is checked next since
// those interrupt the call from outside rather than raising from
// within it. Anything else falls back to wrapping callErr with
// wrapFmt, which callers use for guest errors with no Go origin (a
// runtime type error, an explicit error() call, and so on).
func (s *Sandbox) resolveCallErr(callErr error, wrapFmt string) error {
	if trapped := s.errTrap.take(); trapped != nil {
		return trapped
	}
	if s.instr.exceededLimit() {
		return ErrInstructionLimit
	}
	if s.instr.exceededMemory() {
		return ErrMemoryLimit
	}
	return fmt.Errorf(wrapFmt, callErr)
}

// fail records err into the bounded error slot and transitions to
// TERMINATED, the default policy for fatal errors. It returns err
// unchanged so call sites can `return ..., s.fail(err)`.
func (s *Sandbox) fail(err error) error {
	msg := err.Error()
	if len(msg) > maxErrorMessageBytes {
		msg = msg[:maxErrorMessageBytes]
	}
	s.errMsg = msg
	s.terminateLocked()
	return err
}

// LastError returns the bounded error message recorded at the sandbox
// boundary.
func (s *Sandbox) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// ID returns the sandbox instance's generated identifier, used to
// correlate log lines across a process hosting multiple sandboxes and,
// conventionally, to namespace files under PreservationPath.
func (s *Sandbox) ID() string {
	return s.id.String()
}

// State returns the sandbox's current lifecycle state.
func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Usage returns the current value of a (resource, metric) pair for
// external introspection.
func (s *Sandbox) Usage(r Resource, m Metric) uint64 {
	return s.quota.peek(r, m)
}

// Output drains the buffer and returns a copy of its bytes, clearing
// pos and CURRENT[OUTPUT]. The core exposes the primitive; retention
// and forwarding policy belongs to the host.
func (s *Sandbox) Output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.out.len())
	copy(out, s.out.bytes())
	s.out.reset()
	return out
}

// PeekOutput returns the buffer's current bytes without draining it,
// useful for inspecting partial output already committed before a
// failed Invoke.
func (s *Sandbox) PeekOutput() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.out.len())
	copy(out, s.out.bytes())
	return out
}
