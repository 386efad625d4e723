package middleware

import (
	"errors"
	"testing"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMiddleware struct {
	BaseMiddleware
	name    string
	order   *[]string
	onBefore func(inputs map[string]any) (map[string]any, error)
	onAfter  func(output map[string]any) (map[string]any, error)
	onError  func(err error) (map[string]any, error)
}

func (r *recordingMiddleware) Before(moduleID string, inputs map[string]any, ctx *apcore.Context) (map[string]any, error) {
	*r.order = append(*r.order, "before:"+r.name)
	if r.onBefore != nil {
		return r.onBefore(inputs)
	}
	return nil, nil
}

func (r *recordingMiddleware) After(moduleID string, inputs, output map[string]any, ctx *apcore.Context) (map[string]any, error) {
	*r.order = append(*r.order, "after:"+r.name)
	if r.onAfter != nil {
		return r.onAfter(output)
	}
	return nil, nil
}

func (r *recordingMiddleware) OnError(moduleID string, inputs map[string]any, err error, ctx *apcore.Context) (map[string]any, error) {
	*r.order = append(*r.order, "error:"+r.name)
	if r.onError != nil {
		return r.onError(err)
	}
	return nil, nil
}

// P6 onion ordering: before in registration order, after in reverse.
func TestManager_OnionOrdering(t *testing.T) {
	var order []string
	m := New()
	m.Add("a", &recordingMiddleware{name: "a", order: &order})
	m.Add("b", &recordingMiddleware{name: "b", order: &order})

	_, executed, err := m.ExecuteBefore("mod", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, executed)

	_, err = m.ExecuteAfter("mod", map[string]any{}, map[string]any{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, order)
}

func TestManager_BeforeFailureStopsChainAndReportsExecuted(t *testing.T) {
	var order []string
	m := New()
	m.Add("a", &recordingMiddleware{name: "a", order: &order})
	m.Add("b", &recordingMiddleware{name: "b", order: &order, onBefore: func(map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	}})
	m.Add("c", &recordingMiddleware{name: "c", order: &order})

	_, executed, err := m.ExecuteBefore("mod", map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, executed)
	assert.Equal(t, []string{"before:a", "before:b"}, order)

	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeMiddlewareChainError, aerr.Code)
}

func TestManager_OnErrorStopsAtFirstRecovery(t *testing.T) {
	var order []string
	m := New()
	m.Add("a", &recordingMiddleware{name: "a", order: &order, onError: func(error) (map[string]any, error) {
		return map[string]any{"recovered": true}, nil
	}})
	m.Add("b", &recordingMiddleware{name: "b", order: &order})

	recovery := m.ExecuteOnError("mod", map[string]any{}, errors.New("boom"), nil, []string{"a", "b"})
	require.NotNil(t, recovery)
	assert.Equal(t, true, recovery["recovered"])
	// b runs first (reverse order), then a recovers and the loop stops.
	assert.Equal(t, []string{"error:b", "error:a"}, order)
}

func TestManager_OnErrorHandlerErrorIsSkipped(t *testing.T) {
	var order []string
	m := New()
	m.Add("a", &recordingMiddleware{name: "a", order: &order, onError: func(error) (map[string]any, error) {
		return nil, errors.New("handler itself failed")
	}})

	recovery := m.ExecuteOnError("mod", map[string]any{}, errors.New("boom"), nil, []string{"a"})
	assert.Nil(t, recovery)
}

func TestManager_RemoveByName(t *testing.T) {
	m := New()
	m.Add("a", &BaseMiddleware{})
	assert.True(t, m.Remove("a"))
	assert.False(t, m.Remove("a"))
}
