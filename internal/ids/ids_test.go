package ids

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Shape(t *testing.T) {
	id := New()
	require.Len(t, id, 26)
	assert.True(t, Valid(id))
}

func TestNew_SortsByCreationTime(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)

	var generated []string
	for i := 0; i < 20; i++ {
		generated = append(generated, NewAt(base.Add(time.Duration(i)*time.Millisecond)))
	}

	sorted := append([]string(nil), generated...)
	sort.Strings(sorted)
	assert.Equal(t, generated, sorted)
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestTimestamp(t *testing.T) {
	at := time.UnixMilli(1_712_345_678_901)
	assert.Equal(t, int64(1_712_345_678_901), Timestamp(NewAt(at)))
}

func TestTimestamp_Malformed(t *testing.T) {
	cases := []string{
		"",
		"short",
		"01HZZZZZZZZZZZZZZZZZZZZZZZZZZ", // too long
		"01HXXXXXXXXXXXXXXXXXXXXXX!",    // bad character
		"80000000000000000000000000",    // timestamp overflow
	}
	for _, c := range cases {
		assert.Equal(t, int64(0), Timestamp(c), "input %q", c)
		assert.False(t, Valid(c), "input %q", c)
	}
}
