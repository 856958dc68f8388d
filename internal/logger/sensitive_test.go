package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactSensitiveData(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"no sensitive data", "controller reset complete", "controller reset complete"},
		{
			"link key",
			"link_key=00112233445566778899AABBCCDDEEFF from 00:1A:7D:DA:71:13",
			"link_key=[REDACTED] from 00:1A:7D:DA:71:13",
		},
		{"legacy pin", "PIN code: 0000 accepted", "PIN code: [REDACTED] accepted"},
		{"passkey", "passkey=123456", "passkey=[REDACTED]"},
		{"password", "password=SuperSecretPassword123", "password=[REDACTED]"},
		{"csrf token", "csrf-token=abc123def456ghi789", "csrf-token=[REDACTED]"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, RedactSensitiveData(tc.input))
		})
	}
}

func TestRedactSensitiveFields(t *testing.T) {
	t.Parallel()

	in := []Field{String("link_key", "00112233445566778899aabbccddeeff"), Int("handle", 64), Error(nil)}
	out := RedactSensitiveFields(in)

	assert.Equal(t, "[REDACTED]", out[0].Value)
	assert.Equal(t, 64, out[1].Value)
	assert.Nil(t, out[2].Value)
	assert.Equal(t, "00112233445566778899aabbccddeeff", in[0].Value, "input must not change")

	plain := []Field{Int("handle", 64)}
	assert.Equal(t, plain, RedactSensitiveFields(plain))
}
