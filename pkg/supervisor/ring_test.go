package supervisor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingKeepsMostRecent(t *testing.T) {
	r := newLineRing(3)
	for i := 1; i <= 5; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}

	assert.Equal(t, 5, r.Total())
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.Last(0))
	assert.Equal(t, []string{"line 4", "line 5"}, r.Last(2))
}

func TestRingLastMoreThanStored(t *testing.T) {
	r := newLineRing(10)
	r.Append("only")

	assert.Equal(t, []string{"only"}, r.Last(5))
}

func TestRingEmpty(t *testing.T) {
	r := newLineRing(4)
	assert.Empty(t, r.Last(0))
	assert.Zero(t, r.Total())
}
