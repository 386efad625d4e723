package main

import (
	"testing"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoModule struct{}

func (echoModule) Execute(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
	return input, nil
}

func TestBuildRuntime_NoModulesDirStillBuildsExecutor(t *testing.T) {
	registry.RegisterFactory("cmd_test.echo", func() registry.Module { return echoModule{} })

	cmd := newCallCmd()
	exec, metrics, err := buildRuntime(cmd, "")
	require.NoError(t, err)
	require.NotNil(t, exec)
	require.NotNil(t, metrics)
}

func TestExecutor_CallsManuallyRegisteredModule(t *testing.T) {
	callCmd := newCallCmd()
	exec, _, err := buildRuntime(callCmd, "")
	require.NoError(t, err)

	require.NoError(t, exec.Registry().Register("manual.echo", echoModule{}, registry.ModuleDescriptor{
		ModuleID: "manual.echo",
		Description: "echoes input",
		Version:     "1.0.0",
	}))

	output, err := exec.Call("manual.echo", map[string]any{"x": 1}, apcore.New(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, output["x"])
}
