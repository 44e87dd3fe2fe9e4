package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_Hash(t *testing.T) {
	t.Parallel()
	h := New()
	got, err := h.Hash([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)
}

func TestHasher_Revision(t *testing.T) {
	t.Parallel()
	h := New()

	a, err := h.Revision([]byte("meta"), []byte("bfile"))
	require.NoError(t, err)
	b, err := h.Revision([]byte("meta"), []byte("bfile"))
	require.NoError(t, err)
	assert.Equal(t, a, b, "revision must be deterministic")

	c, err := h.Revision([]byte("metab"), []byte("file"))
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "boundary shifts must change the marker")

	d, err := h.Revision([]byte("meta"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}
