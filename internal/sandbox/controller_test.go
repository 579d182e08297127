package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// fsnotify's internal inotify reader goroutine winds down
		// asynchronously after Close(); it is not a leak this package
		// introduces and is benign in short-lived test processes.
		goleak.IgnoreTopFunction("github.com/fsnotify/fsnotify.(*Watcher).readEvents"),
	)
}

func TestSandboxLifecycleHappyPath(t *testing.T) {
	sb, err := New(Config{OutputLimit: 1024})
	require.NoError(t, err)
	defer sb.Terminate()

	err = sb.Init(`function process(arg) output("got " .. arg); return 0 end`)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, sb.State())

	status, err := sb.Invoke(7)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, "got 7", string(sb.Output()))

	sb.Terminate()
	assert.Equal(t, StateTerminated, sb.State())
}

func TestSandboxInvokeBeforeInitFails(t *testing.T) {
	sb, err := New(Config{})
	require.NoError(t, err)
	defer sb.Terminate()

	_, err = sb.Invoke(0)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSandboxDoubleInitFails(t *testing.T) {
	sb, err := New(Config{})
	require.NoError(t, err)
	defer sb.Terminate()

	require.NoError(t, sb.Init(`function process(arg) return 0 end`))
	err = sb.Init(`function process(arg) return 0 end`)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestSandboxMissingEntryPointTerminates(t *testing.T) {
	sb, err := New(Config{})
	require.NoError(t, err)
	defer sb.Terminate()

	require.NoError(t, sb.Init(`x = 1`))
	_, err = sb.Invoke(0)
	assert.ErrorIs(t, err, ErrNoEntryPoint)
	assert.Equal(t, StateTerminated, sb.State())
}

func TestSandboxOutputOverflowRecordsPartialOutput(t *testing.T) {
	sb, err := New(Config{OutputLimit: 4})
	require.NoError(t, err)
	defer sb.Terminate()

	require.NoError(t, sb.Init(`function process(arg) output("abcd"); output("e"); return 0 end`))
	_, err = sb.Invoke(0)
	assert.ErrorIs(t, err, ErrOutputLimit)
	assert.Equal(t, StateTerminated, sb.State())
	assert.Equal(t, "abcd", string(sb.PeekOutput()))
}

func TestSandboxInstructionLimitTerminatesRunawayScript(t *testing.T) {
	sb, err := New(Config{InstructionLimit: 1})
	require.NoError(t, err)
	defer sb.Terminate()

	err = sb.Init(`function process(arg) while true do end end`)
	if err == nil {
		_, err = sb.Invoke(0)
	}
	assert.ErrorIs(t, err, ErrInstructionLimit)
	assert.Equal(t, StateTerminated, sb.State())
}

func TestSandboxUsageReflectsOutputQuota(t *testing.T) {
	sb, err := New(Config{OutputLimit: 1024})
	require.NoError(t, err)
	defer sb.Terminate()

	require.NoError(t, sb.Init(`function process(arg) output("hello"); return 0 end`))
	_, err = sb.Invoke(0)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), sb.Usage(ResourceOutput, MetricCurrent))
	assert.Equal(t, uint64(5), sb.Usage(ResourceOutput, MetricMaximum))
}

func TestSandboxTerminateIsIdempotent(t *testing.T) {
	sb, err := New(Config{})
	require.NoError(t, err)

	sb.Terminate()
	sb.Terminate() // must not panic or double-close the engine
	assert.Equal(t, StateTerminated, sb.State())
}
