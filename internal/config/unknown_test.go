package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_Suggestion(t *testing.T) {
	path := writeTestConfig(t, `
pull_page_sise = 10
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "pull_page_sise"`)
	assert.Contains(t, err.Error(), `did you mean "pull_page_size"`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `
completely_unrelated_key = true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownSectionReportedOnce(t *testing.T) {
	path := writeTestConfig(t, "[transfers]\nparallel_uploads = 4\nchunk_size = \"10MiB\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, 1, countOccurrences(err.Error(), `"transfers"`))
}

func TestLoad_MultipleUnknownKeys(t *testing.T) {
	path := writeTestConfig(t, "servr_url = \"x\"\nlog_levl = \"debug\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"server_url"`)
	assert.Contains(t, err.Error(), `"log_level"`)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"websockt", "websocket", 1},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "db_path", closestMatch("dbpath", knownKeysList))
	assert.Empty(t, closestMatch("zzzzzzzzzzzz", knownKeysList))
}

func countOccurrences(s, sub string) int {
	n := 0

	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}

	return n
}
