package binding

import (
	"testing"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeFunctionModule_DefaultsDescription(t *testing.T) {
	fn := func(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}
	m := MakeFunctionModule(fn, "greet")
	assert.Equal(t, "Module greet", m.Describe().Description)
	assert.Equal(t, "1.0.0", m.Describe().Version)
}

func TestMakeFunctionModule_ExplicitDescriptionWins(t *testing.T) {
	fn := func(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}
	m := MakeFunctionModule(fn, "greet", WithDescription("says hi"))
	assert.Equal(t, "says hi", m.Describe().Description)
}

func TestFunctionModule_Execute_NilResultBecomesEmptyMap(t *testing.T) {
	fn := func(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
		return nil, nil
	}
	m := MakeFunctionModule(fn, "noop")
	out, err := m.Execute(nil, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)
}

func TestAutoModuleID(t *testing.T) {
	assert.Equal(t, "my_pkg.do_thing", AutoModuleID("my_pkg", "do_thing"))
	assert.Equal(t, "my_pkg._2fast", AutoModuleID("my_pkg", "2fast"))
	assert.Equal(t, "my_pkg.do_thing_2", AutoModuleID("my_pkg", "do-thing!2"))
}
