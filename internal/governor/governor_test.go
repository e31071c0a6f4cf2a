package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceCutsOffExactlyAtMax(t *testing.T) {
	for _, max := range []int{1, 2, 3, 10, 80} {
		g := New(max)
		for i := 1; i < max; i++ {
			assert.Equal(t, Continue, g.Advance(), "max=%d round=%d", max, i)
			assert.Equal(t, i, g.Turns())
		}
		assert.Equal(t, Cutoff, g.Advance(), "max=%d", max)
		assert.Equal(t, max, g.Turns())
		assert.Equal(t, 0, g.Remaining())
	}
}

func TestAdvancePastMaxStaysCutoff(t *testing.T) {
	g := New(2)
	g.Advance()
	g.Advance()
	assert.Equal(t, Cutoff, g.Advance())
	assert.Equal(t, 3, g.Turns())
}

func TestNewClampsMax(t *testing.T) {
	g := New(0)
	assert.Equal(t, 1, g.Max())
	assert.Equal(t, Cutoff, g.Advance())
}

func TestRemaining(t *testing.T) {
	g := New(3)
	assert.Equal(t, 3, g.Remaining())
	g.Advance()
	assert.Equal(t, 2, g.Remaining())
}

func TestSignalString(t *testing.T) {
	assert.Equal(t, "continue", Continue.String())
	assert.Equal(t, "cutoff", Cutoff.String())
	assert.Equal(t, "signal(7)", Signal(7).String())
}
