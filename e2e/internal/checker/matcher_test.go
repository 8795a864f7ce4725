package checker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesExpectation(t *testing.T) {
	tests := []struct {
		name     string
		actual   interface{}
		expected interface{}
		want     bool
	}{
		{"equal strings", "on", "on", true},
		{"different strings", "on", "off", false},
		{"regex", "after drop", "~^after", true},
		{"regex mismatch", "before drop", "~^after", false},
		{"regex on number", 42.0, "~^4", true},
		{"greater than", 21.5, ">20", true},
		{"not greater than", 19.0, ">20", false},
		{"less or equal", 20.0, "<=20", true},
		{"comparison on text", "warm", ">20", false},
		{"yaml int against json float", 1.0, 1, true},
		{"bool", true, true, true},
		{"bool mismatch", "true", true, false},
		{"null", nil, nil, true},
		{"object subset", map[string]interface{}{"seq": 1.0, "text": "x"}, map[string]interface{}{"seq": 1}, true},
		{"object missing field", map[string]interface{}{"text": "x"}, map[string]interface{}{"seq": 1}, false},
		{"object against text", "x", map[string]interface{}{"seq": 1}, false},
		{"array", []interface{}{1.0, "a"}, []interface{}{1, "a"}, true},
		{"array length", []interface{}{1.0}, []interface{}{1, "a"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := MatchesExpectation(tt.actual, tt.expected)
			assert.Equal(t, tt.want, got, reason)
			if !tt.want {
				assert.NotEmpty(t, reason)
			}
		})
	}
}
