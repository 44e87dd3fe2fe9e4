package oeis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeDetector(t *testing.T) {
	t.Parallel()
	d := NewChangeDetector()

	t.Run("no existing record", func(t *testing.T) {
		assert.True(t, d.NeedsUpdate(nil, "abc123"))
	})

	t.Run("same revision", func(t *testing.T) {
		rev := "abc123"
		assert.False(t, d.NeedsUpdate(&rev, "abc123"))
	})

	t.Run("different revision", func(t *testing.T) {
		rev := "abc123"
		assert.True(t, d.NeedsUpdate(&rev, "def456"))
	})

	t.Run("markers are opaque, not ordered", func(t *testing.T) {
		// A "newer looking" stored marker still yields an update when the
		// fresh one differs; no ordering is assumed.
		rev := "zzz999"
		assert.True(t, d.NeedsUpdate(&rev, "aaa111"))
	})
}
