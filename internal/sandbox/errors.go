package sandbox

import (
	"errors"
	"strconv"
	"sync"
)

// Fixed, guest-visible error messages. These strings must match
// exactly; callers that wrap them should use fmt.Errorf("...: %w", ...)
// so errors.Is still matches the sentinel.
var (
	ErrInstructionLimit    = errors.New("instruction_limit exceeded")
	ErrMemoryLimit         = errors.New("memory_limit exceeded")
	ErrOutputLimit         = errors.New("output_limit exceeded")
	ErrModulesDisabled     = errors.New("external modules are disabled")
	ErrMissingModulesTable = errors.New("missing modules table")
	ErrSandboxTerminated   = errors.New("sandbox is terminated")
	ErrNotInitialized      = errors.New("sandbox is not initialized")
	ErrAlreadyInitialized  = errors.New("sandbox is already initialized")
	ErrNoEntryPoint        = errors.New("process entry point not defined")

	errCyclicTable          = errors.New("cannot serialise, excessively deep or cyclic value")
	errUnsupportedJSONValue = errors.New("cannot serialise value of unsupported type")
)

// invalidModuleNameError formats "invalid module name '<name>'".
type invalidModuleNameError struct {
	name string
}

func (e *invalidModuleNameError) Error() string {
	return "invalid module name '" + e.name + "'"
}

// requirePathExceededError formats the resolved require path's
// overflow message.
type requirePathExceededError struct {
	limit int
}

func (e *requirePathExceededError) Error() string {
	return "require_path exceeded " + strconv.Itoa(e.limit)
}

// errorTrap lets a Go closure registered into the engine (output(),
// require(), cjson.decode) stash the exact error it is about to raise
// before handing its string to L.RaiseError. gopher-lua's *lua.ApiError
// only carries that string back out through PCall, so without a trap
// the Go error's identity and its %w-wrappable sentinel are lost the
// moment they cross into the VM. The caller on the other side of PCall
// takes the trapped error and uses it verbatim instead of re-deriving
// one from the ApiError's text.
type errorTrap struct {
	mu  sync.Mutex
	err error
}

func newErrorTrap() *errorTrap {
	return &errorTrap{}
}

// set records err, overwriting the previous value. Guest code that
// triggers several Go-side errors in sequence only has the most recent
// one recoverable, matching the single bounded error slot it's headed
// for.
func (t *errorTrap) set(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// take returns and clears the trapped error, so a stale value from a
// prior call can never leak into a later one's error reporting.
func (t *errorTrap) take() error {
	t.mu.Lock()
	err := t.err
	t.err = nil
	t.mu.Unlock()
	return err
}
