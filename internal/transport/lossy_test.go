package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLossyConnDeliversCleanly(t *testing.T) {
	a, b := NewLossyPair("a", "b")
	defer a.Close()
	defer b.Close()

	_, err := a.WriteTo([]byte("hello"), b.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, from, err := b.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, "a", from.String())
}

func TestLossyConnDropsEverything(t *testing.T) {
	a, b := NewLossyPair("a", "b")
	defer a.Close()
	defer b.Close()
	a.LossPct = 100

	_, err := a.WriteTo([]byte("dropped"), b.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, _, err = b.ReadFrom(buf)
	assert.Error(t, err)
}

func TestLossyConnReordersPairs(t *testing.T) {
	a, b := NewLossyPair("a", "b")
	defer a.Close()
	defer b.Close()
	a.Reorder = true

	_, _ = a.WriteTo([]byte("first"), b.LocalAddr())
	_, _ = a.WriteTo([]byte("second"), b.LocalAddr())

	buf := make([]byte, 16)
	n, _, err := b.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "second", string(buf[:n]))

	n, _, err = b.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf[:n]))
}

func TestLossyConnMutateCorruptsPayload(t *testing.T) {
	a, b := NewLossyPair("a", "b")
	defer a.Close()
	defer b.Close()
	a.Mutate = func(p []byte) []byte {
		p[0] ^= 0xFF
		return p
	}

	_, _ = a.WriteTo([]byte("x"), b.LocalAddr())
	buf := make([]byte, 16)
	n, _, err := b.ReadFrom(buf)
	require.NoError(t, err)
	assert.NotEqual(t, byte('x'), buf[0])
	_ = n
}
