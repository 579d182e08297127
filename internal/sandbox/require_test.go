package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func newTestState(t *testing.T, modulesRoot string) (*lua.LState, *requireResolver) {
	t.Helper()
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	t.Cleanup(L.Close)

	gate := newLibraryGate(newExtensionRegistry(nil), newErrorTrap())
	if _, err := gate.load(L, gate.libs[""]); err != nil {
		t.Fatalf("load base lib: %v", err)
	}
	lua.OpenPackage(L)

	resolver, err := newRequireResolver(gate, modulesRoot)
	if err != nil {
		t.Fatalf("newRequireResolver: %v", err)
	}
	t.Cleanup(resolver.close)
	resolver.install(L, newErrorTrap())
	return L, resolver
}

func TestRequireBuiltinLibrary(t *testing.T) {
	L, _ := newTestState(t, "")

	if err := L.DoString(`local t = require("table"); assert(type(t) == "table")`); err != nil {
		t.Fatalf("require(table) failed: %v", err)
	}
}

func TestRequireCachesAcrossCalls(t *testing.T) {
	L, _ := newTestState(t, "")

	err := L.DoString(`
		local a = require("math")
		local b = require("math")
		assert(a == b)
	`)
	if err != nil {
		t.Fatalf("require caching failed: %v", err)
	}
}

func TestRequireExternalModulesDisabledByDefault(t *testing.T) {
	L, _ := newTestState(t, "")

	err := L.DoString(`require("somemodule")`)
	if err == nil {
		t.Fatal("expected an error when the module root is empty")
	}
}

func TestRequireLoadsExternalModule(t *testing.T) {
	dir := t.TempDir()
	modPath := filepath.Join(dir, "greet.lua")
	if err := os.WriteFile(modPath, []byte(`return { hello = function() return "hi" end }`), 0o644); err != nil {
		t.Fatalf("write fixture module: %v", err)
	}

	L, _ := newTestState(t, dir)
	err := L.DoString(`
		local m = require("greet")
		assert(m.hello() == "hi")
	`)
	if err != nil {
		t.Fatalf("require external module failed: %v", err)
	}
}

func TestValidateModuleNameRejectsPathCharacters(t *testing.T) {
	cases := []string{"../escape", "a/b", "a.b", "", "has space"}
	for _, name := range cases {
		if err := validateModuleName(name); err == nil {
			t.Errorf("validateModuleName(%q) = nil, want an error", name)
		}
	}
}

func TestValidateModuleNameAcceptsIdentifierLike(t *testing.T) {
	cases := []string{"module1", "my_module", "ABC_123"}
	for _, name := range cases {
		if err := validateModuleName(name); err != nil {
			t.Errorf("validateModuleName(%q) = %v, want nil", name, err)
		}
	}
}

func TestRequireMissingModuleFileSurfacesError(t *testing.T) {
	dir := t.TempDir()
	L, _ := newTestState(t, dir)

	err := L.DoString(`require("doesnotexist")`)
	if err == nil {
		t.Fatal("expected an error for a missing module file")
	}
}

func TestRequireInvalidModuleNameMessage(t *testing.T) {
	err := validateModuleName("bad/name")
	var invalidErr *invalidModuleNameError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("got %T, want *invalidModuleNameError", err)
	}
	if got := invalidErr.Error(); got != "invalid module name 'bad/name'" {
		t.Fatalf("Error() = %q", got)
	}
}
