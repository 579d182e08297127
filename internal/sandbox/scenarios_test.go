package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenariosDir locates testdata/<sub> at the repository root, two
// directories up from this package (internal/sandbox).
func scenariosDir(t *testing.T, sub string) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("..", "..", "testdata", sub))
	require.NoError(t, err)
	return dir
}

func loadScript(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(scenariosDir(t, "scripts"), name)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestScenarioTypedScalarExtraction(t *testing.T) {
	sb, err := New(Config{OutputLimit: 4096})
	require.NoError(t, err)
	defer sb.Terminate()

	require.NoError(t, sb.Init(loadScript(t, "scalar_extraction.lua")))
	_, err = sb.Invoke(0)
	require.NoError(t, err)

	got := string(sb.Output())
	assert.True(t, strings.HasSuffix(got, "\n"))
	assert.Contains(t, got, `"body_bytes_sent"`)
	assert.Contains(t, got, `"value":23`)
	assert.Contains(t, got, `"representation":"B"`)
}

func TestScenarioMultiValuedField(t *testing.T) {
	sb, err := New(Config{OutputLimit: 4096})
	require.NoError(t, err)
	defer sb.Terminate()

	require.NoError(t, sb.Init(loadScript(t, "multi_valued_field.lua")))
	_, err = sb.Invoke(0)
	require.NoError(t, err)

	got := string(sb.Output())
	assert.Contains(t, got, `"value":[1,2,3,4,5]`)
}

func TestScenarioRequireGate(t *testing.T) {
	sb, err := New(Config{OutputLimit: 4096, Path: scenariosDir(t, "modules")})
	require.NoError(t, err)
	defer sb.Terminate()

	require.NoError(t, sb.Init(loadScript(t, "require_gate.lua")))
	_, err = sb.Invoke(0)
	require.NoError(t, err)

	assert.Equal(t, "hello from an external module", string(sb.Output()))
}

func TestScenarioRequireGateDisabledWithoutPath(t *testing.T) {
	sb, err := New(Config{OutputLimit: 4096})
	require.NoError(t, err)
	defer sb.Terminate()

	require.NoError(t, sb.Init(`function process(arg) require("does_not_matter"); return 0 end`))
	_, err = sb.Invoke(0)
	assert.ErrorIs(t, err, ErrModulesDisabled)
}

func TestScenarioDeniedOSSymbol(t *testing.T) {
	sb, err := New(Config{OutputLimit: 4096})
	require.NoError(t, err)
	defer sb.Terminate()

	require.NoError(t, sb.Init(loadScript(t, "denied_os_symbol.lua")))
	_, err = sb.Invoke(0)
	assert.Error(t, err)
	assert.Equal(t, StateTerminated, sb.State())
}

func TestScenarioOutputOverflowPreservesPartialOutput(t *testing.T) {
	sb, err := New(Config{OutputLimit: 64})
	require.NoError(t, err)
	defer sb.Terminate()

	require.NoError(t, sb.Init(loadScript(t, "output_overflow.lua")))
	_, err = sb.Invoke(0)
	assert.ErrorIs(t, err, ErrOutputLimit)
	assert.Equal(t, ErrOutputLimit.Error(), sb.LastError())

	partial := sb.PeekOutput()
	assert.LessOrEqual(t, len(partial), 64)
	assert.True(t, len(partial) > 0)
	for _, b := range partial {
		assert.Equal(t, byte('x'), b)
	}
}
