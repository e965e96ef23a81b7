package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	rb := New(8)
	require.NoError(t, rb.Write([]byte("abcd")))
	assert.Equal(t, 4, rb.Used())
	assert.Equal(t, []byte("abcd"), rb.Read(4))
	assert.Equal(t, 0, rb.Used())
}

func TestWriteFailsWhenFull(t *testing.T) {
	rb := New(4)
	require.NoError(t, rb.Write([]byte("abcd")))
	assert.Error(t, rb.Write([]byte("e")))
}

func TestWrapsAroundCapacity(t *testing.T) {
	rb := New(4)
	require.NoError(t, rb.Write([]byte("ab")))
	assert.Equal(t, []byte("ab"), rb.Read(2))
	require.NoError(t, rb.Write([]byte("cdef")))
	assert.Equal(t, []byte("cdef"), rb.Read(4))
}

func TestUnreadRestoresFront(t *testing.T) {
	rb := New(8)
	require.NoError(t, rb.Write([]byte("hello")))
	chunk := rb.Read(5)
	rb.Unread(chunk)
	assert.Equal(t, 5, rb.Used())
	assert.Equal(t, []byte("hello"), rb.Read(5))
}

func TestReadClampsToAvailable(t *testing.T) {
	rb := New(8)
	require.NoError(t, rb.Write([]byte("ab")))
	assert.Equal(t, []byte("ab"), rb.Read(10))
}
