package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoModule struct {
	loaded   bool
	unloaded bool
	failLoad bool
}

func (m *echoModule) Execute(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
	return input, nil
}

func (m *echoModule) OnLoad() error {
	m.loaded = true
	if m.failLoad {
		return assertError{}
	}
	return nil
}

func (m *echoModule) OnUnload() error {
	m.unloaded = true
	return nil
}

type assertError struct{}

func (assertError) Error() string { return "load failed" }

func TestRegister_DuplicateFails(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.Register("echo", &echoModule{}, ModuleDescriptor{Description: "echoes input"}))
	err := r.Register("echo", &echoModule{}, ModuleDescriptor{Description: "echoes input"})
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeInvalidInput, aerr.Code)
}

func TestRegister_OnLoadFailureRollsBack(t *testing.T) {
	r := New(Options{})
	m := &echoModule{failLoad: true}
	err := r.Register("broken", m, ModuleDescriptor{Description: "x"})
	require.Error(t, err)
	assert.False(t, r.Has("broken"))
	assert.True(t, m.loaded)
}

func TestUnregister_CallsOnUnload(t *testing.T) {
	r := New(Options{})
	m := &echoModule{}
	require.NoError(t, r.Register("echo", m, ModuleDescriptor{Description: "x"}))
	assert.True(t, r.Unregister("echo"))
	assert.True(t, m.unloaded)
	assert.False(t, r.Unregister("echo"))
}

func TestEvents_RegisterAndUnregisterFire(t *testing.T) {
	r := New(Options{})
	var registeredID, unregisteredID string
	require.NoError(t, r.On("register", func(id string, _ Module) { registeredID = id }))
	require.NoError(t, r.On("unregister", func(id string, _ Module) { unregisteredID = id }))

	require.NoError(t, r.Register("echo", &echoModule{}, ModuleDescriptor{Description: "x"}))
	assert.Equal(t, "echo", registeredID)

	r.Unregister("echo")
	assert.Equal(t, "echo", unregisteredID)
}

func TestEvents_PanicCallbackDoesNotPropagate(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.On("register", func(id string, _ Module) { panic("boom") }))
	assert.NotPanics(t, func() {
		require.NoError(t, r.Register("echo", &echoModule{}, ModuleDescriptor{Description: "x"}))
	})
}

func TestList_FiltersByPrefixAndTags(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.Register("weather.get", &echoModule{}, ModuleDescriptor{Description: "x", Tags: []string{"net"}}))
	require.NoError(t, r.Register("weather.set", &echoModule{}, ModuleDescriptor{Description: "x", Tags: []string{"net", "write"}}))
	require.NoError(t, r.Register("math.add", &echoModule{}, ModuleDescriptor{Description: "x"}))

	assert.Equal(t, []string{"math.add", "weather.get", "weather.set"}, r.List(nil, ""))
	assert.Equal(t, []string{"weather.get", "weather.set"}, r.List(nil, "weather."))
	assert.Equal(t, []string{"weather.set"}, r.List([]string{"write"}, ""))
}

func factoryFor(key string, module Module) {
	RegisterFactory(key, func() Module { return module })
}

func writeDescriptor(t *testing.T, dir, relPath, content string) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
}

func TestDiscover_OrdersByDependency(t *testing.T) {
	dir := t.TempDir()
	factoryFor("test.registry.a", &echoModule{})
	factoryFor("test.registry.b", &echoModule{})

	writeDescriptor(t, dir, "a.module.yaml", "factory: test.registry.a\ndescription: module a\n")
	writeDescriptor(t, dir, "b.module.yaml", "factory: test.registry.b\ndescription: module b\ndependencies:\n  - module_id: a\n")

	r := New(Options{ExtensionRoots: []ExtensionRoot{{Root: dir}}})
	var order []string
	require.NoError(t, r.On("register", func(id string, _ Module) { order = append(order, id) }))
	n, err := r.Discover()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, r.Has("a"))
	assert.True(t, r.Has("b"))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestDiscover_UnknownFactorySkipped(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "ghost.module.yaml", "factory: test.registry.nonexistent\ndescription: x\n")

	r := New(Options{ExtensionRoots: []ExtensionRoot{{Root: dir}}})
	n, err := r.Discover()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, r.Has("ghost"))
}
