package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestNew_Defaults(t *testing.T) {
	c := New(0, -1)
	assert.Equal(t, DefaultSize, c.Size())
	assert.Equal(t, 0, c.Overlap())

	c = New(10, 10)
	assert.Equal(t, 5, c.Overlap())
}

func TestSplit_ShortTextHasNoChunks(t *testing.T) {
	c := New(10, 2)
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split(words(10)))
}

func TestSplit_Windows(t *testing.T) {
	c := New(4, 1)

	windows := c.Split(words(10))
	require.Equal(t, []string{
		"w0 w1 w2 w3",
		"w3 w4 w5 w6",
		"w6 w7 w8 w9",
	}, windows)
}

func TestSplit_LastWindowShort(t *testing.T) {
	c := New(4, 2)

	windows := c.Split(words(7))
	require.Equal(t, []string{
		"w0 w1 w2 w3",
		"w2 w3 w4 w5",
		"w4 w5 w6",
	}, windows)
}

func TestSplit_WindowsAreSubstrings(t *testing.T) {
	c := New(3, 1)
	text := "alpha  beta\ngamma\tdelta epsilon\n\nzeta eta"

	windows := c.Split(text)
	require.NotEmpty(t, windows)
	for _, w := range windows {
		assert.Contains(t, text, w)
	}
	assert.Equal(t, "alpha  beta\ngamma", windows[0])
}

func TestSplit_Deterministic(t *testing.T) {
	c := New(8, 3)
	text := words(50)
	assert.Equal(t, c.Split(text), c.Split(text))
}

func TestSplit_CoversEveryToken(t *testing.T) {
	c := New(DefaultSize, DefaultOverlap)
	text := words(1000)

	seen := make(map[string]bool)
	for _, w := range c.Split(text) {
		assert.LessOrEqual(t, CountTokens(w), DefaultSize)
		for _, tok := range strings.Fields(w) {
			seen[tok] = true
		}
	}
	assert.Len(t, seen, 1000)
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens("   "))
	assert.Equal(t, 3, CountTokens(" one two\nthree "))
}
