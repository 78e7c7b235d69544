package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestGenerateConnectionID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := GenerateConnectionID()
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGenerateRequestAndInstanceID(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateRequestID(), "req_"))
	assert.NotEqual(t, GenerateRequestID(), GenerateRequestID())
	assert.NotEqual(t, GenerateInstanceID(), GenerateInstanceID())
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, TruncateString(tt.input, tt.maxLen))
	}
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "eyJh******", MaskSensitive("eyJhbGciOi", 4))
	assert.Equal(t, "***", MaskSensitive("abc", 4))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "500ms", FormatDuration(500*time.Millisecond))
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m5s", FormatDuration(2*time.Minute+5*time.Second))
	assert.Equal(t, "3h15m", FormatDuration(3*time.Hour+15*time.Minute))
}
