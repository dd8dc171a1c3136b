package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"84987654321", "849*****321"},
		{"+84987654321", "+84******321"},
		{"0987654", "098*654"},
		{"12345", "***"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, RedactPhone(tc.in))
		})
	}
}

func TestLog_RedactsPhoneFields(t *testing.T) {
	buf := captureOutput(t)

	Info("sent", "phone", "84987654321", "note", "retry for 84911222333 failed")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "849*****321", entry["phone"])
	assert.Equal(t, "retry for 849*****333 failed", entry["note"])
}

func TestLog_LevelFilter(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(WARN)

	Info("dropped")
	Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"kept"`)
}

func TestLog_NoRedaction(t *testing.T) {
	buf := captureOutput(t)
	SetRedactPII(false)

	Info("sent", "phone", "84987654321")
	assert.Contains(t, buf.String(), "84987654321")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel(" error "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}
