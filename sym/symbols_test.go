package sym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabel(t *testing.T) {
	assert.Equal(t, "pulse", Label(Pulse))
	assert.Equal(t, "secret", Label(Secret))
	assert.Equal(t, "", Label("?"))
}

func TestAllUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, g := range All() {
		assert.False(t, seen[g], "duplicate glyph %s", g)
		seen[g] = true
	}
	assert.Len(t, seen, 8)
}
