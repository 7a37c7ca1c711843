package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSite_OrdersByByte(t *testing.T) {
	assert.Equal(t, -1, Site(1).Compare(Site(2)))
	assert.Equal(t, byte(7), Site(7)[0])
	assert.Equal(t, byte(7), Site(7)[15])
	assert.False(t, Site(1).IsZero())
}

func TestNamedSite_Stable(t *testing.T) {
	assert.Equal(t, NamedSite("a"), NamedSite("a"))
	assert.NotEqual(t, NamedSite("a"), NamedSite("b"))
	assert.False(t, NamedSite("").IsZero())
}

func TestSiteSequence(t *testing.T) {
	seq := NewSiteSequence(Site(3), Site(4))

	for _, want := range []byte{3, 4, 4} {
		got, err := seq.Generate()
		require.NoError(t, err)
		assert.Equal(t, Site(want), got)
	}

	got, err := NewSiteSequence().Generate()
	require.NoError(t, err)
	assert.Equal(t, Site(1), got)
}

func TestSequence(t *testing.T) {
	s := NewSequence()
	assert.Equal(t, int64(0), s.Current())
	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())
	assert.Equal(t, int64(2), s.Current())

	s.Reset()
	assert.Equal(t, int64(1), s.Next())
}

func TestSequence_Concurrent(t *testing.T) {
	s := NewSequence()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Next()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), s.Current())
}
