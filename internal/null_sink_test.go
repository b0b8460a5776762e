package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NullSink_SharedHandle(t *testing.T) {
	f1, err := NullSink()
	require.NoError(t, err)
	require.NotNil(t, f1)

	f2, err := NullSink()
	require.NoError(t, err)
	assert.Same(t, f1, f2)

	_, err = f1.WriteString("discarded")
	assert.NoError(t, err)

	assert.NoError(t, CloseNullSink())
	// second close is a no-op
	assert.NoError(t, CloseNullSink())

	// reopens after teardown
	f3, err := NullSink()
	require.NoError(t, err)
	require.NotNil(t, f3)
	assert.NoError(t, CloseNullSink())
}
