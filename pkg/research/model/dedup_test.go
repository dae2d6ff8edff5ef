package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupByURL_MonotonicAndUnique(t *testing.T) {
	existing := []RawResult{
		{URL: "https://a.example/1", Title: "a1"},
		{URL: "https://a.example/2", Title: "a2"},
	}
	fresh := []RawResult{
		{URL: "https://a.example/2", Title: "dup"},
		{URL: "https://a.example/3", Title: "a3"},
	}

	merged := DedupByURL(existing, fresh)
	require.Len(t, merged, 3)
	assert.GreaterOrEqual(t, len(merged), len(existing))

	seen := map[string]bool{}
	for _, r := range merged {
		assert.False(t, seen[r.URL], "duplicate URL %s", r.URL)
		seen[r.URL] = true
	}
	// first-seen wins
	assert.Equal(t, "a2", merged[1].Title)
}

func TestDedupByURL_EmptyInputs(t *testing.T) {
	assert.Empty(t, DedupByURL(nil, nil))
	assert.Len(t, DedupByURL(nil, []RawResult{{URL: "x"}}), 1)
}
