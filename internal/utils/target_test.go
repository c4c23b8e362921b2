package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargetFilter(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
		wantErr  bool
	}{
		{"", []string{}, false},
		{"browser", []string{"browser"}, false},
		{"desktop/*, browser", []string{"desktop/*", "browser"}, false},
		{"desktop/*,,", []string{"desktop/*"}, false},
		{"**/renderer", []string{"**/renderer"}, false},
		{"desktop/[", nil, true},
	}

	for _, test := range tests {
		result, err := ParseTargetFilter(test.input)
		if test.wantErr {
			require.Error(t, err, "ParseTargetFilter(%q)", test.input)
			continue
		}

		require.NoError(t, err)
		assert.Equal(t, test.expected, result, "ParseTargetFilter(%q)", test.input)
	}
}

func TestMatchTarget(t *testing.T) {
	tests := []struct {
		patterns []string
		id       string
		expected bool
	}{
		{nil, "desktop/patcher", true},
		{[]string{"desktop/*"}, "desktop/patcher", true},
		{[]string{"desktop/*"}, "equibop/main", false},
		{[]string{"*/renderer"}, "equibop/renderer", true},
		{[]string{"browser"}, "browser", true},
		{[]string{"desktop"}, "desktop/patcher", false},
		{[]string{"equibop/*", "browser"}, "browser", true},
	}

	for _, test := range tests {
		result := MatchTarget(test.patterns, test.id)
		assert.Equal(t, test.expected, result, "MatchTarget(%v, %q)", test.patterns, test.id)
	}
}
