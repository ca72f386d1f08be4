package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/layertheory/pkg/observability"
)

func TestLogger_DefaultIsNoOp(t *testing.T) {
	got := Logger()
	require.NotNil(t, got)
	assert.Same(t, got, got.WithLayer("utils"))
}

func TestLogger_SetLogger(t *testing.T) {
	test := observability.NewTestLogger()
	prev := SetLogger(test)
	t.Cleanup(func() { SetLogger(prev) })

	require.Same(t, test, Logger())
	Logger().WithLayer("utils").Info("declared")
	require.Len(t, test.Entries(), 1)

	require.Same(t, test, SetLogger(nil))
	assert.NotNil(t, Logger())
	assert.NotSame(t, test, Logger())
}
